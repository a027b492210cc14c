package delivery

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/luxundiary/nostrdiary-go/internal/event"
)

// ErrNoFetcher is returned by Start when Config.Fetcher is nil.
var ErrNoFetcher = errors.New("delivery: no fetcher configured")

// ErrAlreadyStarted is returned by Start on a running strategy.
var ErrAlreadyStarted = errors.New("delivery: already started")

// PollingStrategy delivers gift wraps by polling relays with adaptive backoff.
type PollingStrategy struct {
	cfg     Config
	inboxes map[string]*polledInbox // keyed by pubkey
	handler EventHandler
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.RWMutex
	started bool
}

type polledInbox struct {
	pubkey string
	since  int64
	newest int64
	// seen maps gift wrap ids to their created_at for pruning.
	seen     map[string]int64
	interval time.Duration
}

// NewPollingStrategy creates a new polling strategy.
func NewPollingStrategy(cfg Config) *PollingStrategy {
	return &PollingStrategy{
		cfg:     cfg.withDefaults(),
		inboxes: make(map[string]*polledInbox),
	}
}

// Name returns the strategy name.
func (p *PollingStrategy) Name() string {
	return "polling"
}

func (p *PollingStrategy) newInbox(info InboxInfo) *polledInbox {
	return &polledInbox{
		pubkey:   info.PubKey,
		since:    info.Since,
		newest:   info.Since,
		seen:     make(map[string]int64),
		interval: p.cfg.PollingInitialInterval,
	}
}

// Start begins polling the given inboxes. The first poll runs immediately.
func (p *PollingStrategy) Start(ctx context.Context, inboxes []InboxInfo, handler EventHandler) error {
	if p.cfg.Fetcher == nil {
		return ErrNoFetcher
	}

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.handler = handler
	for _, inbox := range inboxes {
		p.inboxes[inbox.PubKey] = p.newInbox(inbox)
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.pollLoop(ctx)
	}()
	return nil
}

// Stop shuts down the strategy and waits for an in-flight poll to finish.
func (p *PollingStrategy) Stop() error {
	p.mu.Lock()
	p.started = false
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// AddInbox adds an inbox to watch.
func (p *PollingStrategy) AddInbox(inbox InboxInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inboxes[inbox.PubKey] = p.newInbox(inbox)
	return nil
}

// RemoveInbox removes an inbox from watching.
func (p *PollingStrategy) RemoveInbox(pubkey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inboxes, pubkey)
	return nil
}

func (p *PollingStrategy) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Wait for the shortest interval across all inboxes.
		minWait := p.pollAll(ctx)

		timer := time.NewTimer(minWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *PollingStrategy) pollAll(ctx context.Context) time.Duration {
	p.mu.RLock()
	inboxList := make([]*polledInbox, 0, len(p.inboxes))
	for _, inbox := range p.inboxes {
		inboxList = append(inboxList, inbox)
	}
	p.mu.RUnlock()

	if len(inboxList) == 0 {
		return p.cfg.PollingInitialInterval
	}

	var minWait time.Duration
	for _, inbox := range inboxList {
		p.pollInbox(ctx, inbox)
		if wait := p.waitDuration(inbox); minWait == 0 || wait < minWait {
			minWait = wait
		}
	}
	return minWait
}

// sinceFor returns the created_at lower bound for the next poll.
func (p *PollingStrategy) sinceFor(inbox *polledInbox) int64 {
	since := inbox.newest - int64(p.cfg.Lookback/time.Second)
	if since < inbox.since {
		since = inbox.since
	}
	if since < 0 {
		since = 0
	}
	return since
}

func (p *PollingStrategy) pollInbox(ctx context.Context, inbox *polledInbox) {
	since := p.sinceFor(inbox)
	events, err := p.cfg.Fetcher(ctx, inbox.pubkey, since)
	if err != nil {
		if ctx.Err() == nil {
			p.cfg.Logger.Warn("inbox poll failed", "error", err, "interval", inbox.interval)
		}
		p.backoff(inbox)
		return
	}

	fresh := make([]*event.Event, 0, len(events))
	for _, ev := range events {
		if _, seen := inbox.seen[ev.ID]; seen {
			continue
		}
		inbox.seen[ev.ID] = ev.CreatedAt
		fresh = append(fresh, ev)
		if ev.CreatedAt > inbox.newest {
			inbox.newest = ev.CreatedAt
		}
	}
	p.prune(inbox)

	if len(fresh) == 0 {
		p.backoff(inbox)
		return
	}
	inbox.interval = p.cfg.PollingInitialInterval

	p.mu.RLock()
	handler := p.handler
	p.mu.RUnlock()
	if handler == nil {
		return
	}

	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].CreatedAt < fresh[j].CreatedAt })
	for _, ev := range fresh {
		if ctx.Err() != nil {
			return
		}
		if err := handler(ctx, inbox.pubkey, ev); err != nil {
			p.cfg.Logger.Warn("inbox handler failed", "id", ev.ID, "error", err)
		}
	}
}

// prune forgets ids that can no longer be returned by the next poll.
func (p *PollingStrategy) prune(inbox *polledInbox) {
	floor := p.sinceFor(inbox)
	for id, createdAt := range inbox.seen {
		if createdAt < floor {
			delete(inbox.seen, id)
		}
	}
}

func (p *PollingStrategy) backoff(inbox *polledInbox) {
	next := time.Duration(float64(inbox.interval) * p.cfg.PollingBackoffMultiplier)
	if next > p.cfg.PollingMaxBackoff {
		next = p.cfg.PollingMaxBackoff
	}
	inbox.interval = next
}

func (p *PollingStrategy) waitDuration(inbox *polledInbox) time.Duration {
	// Jitter keeps many clients from polling in lockstep.
	jitter := time.Duration(rand.Float64() * p.cfg.PollingJitterFactor * float64(inbox.interval))
	return inbox.interval + jitter
}
