package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/luxundiary/nostrdiary-go/internal/event"
)

// Pool keeps one connection per relay URL and fans queries out to several
// relays at once.
type Pool struct {
	opts   []Option
	logger *slog.Logger

	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool
}

// NewPool returns a Pool that dials relays with opts.
func NewPool(opts ...Option) *Pool {
	return &Pool{
		opts:   opts,
		logger: newConfig(opts).logger,
		conns:  make(map[string]*Conn),
	}
}

// Conn returns a live connection to relayURL, dialing if needed.
func (p *Pool) Conn(ctx context.Context, relayURL string) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if c, ok := p.conns[relayURL]; ok && !c.Closed() {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := Dial(ctx, relayURL, p.opts...)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		c.Close()
		return nil, ErrClosed
	}
	if existing, ok := p.conns[relayURL]; ok && !existing.Closed() {
		c.Close()
		return existing, nil
	}
	p.conns[relayURL] = c
	return c, nil
}

// Publish sends ev to one relay.
func (p *Pool) Publish(ctx context.Context, relayURL string, ev *event.Event) (*PublishResult, error) {
	c, err := p.Conn(ctx, relayURL)
	if err != nil {
		return nil, err
	}
	return c.Publish(ctx, ev)
}

// Query runs the filters against every relay concurrently and returns the
// union of verified stored events, de-duplicated by id and newest first.
// Relays that fail are logged and skipped; the call fails only when every
// relay fails or ctx ends, and then returns no events.
func (p *Pool) Query(ctx context.Context, relayURLs []string, filters ...Filter) ([]*event.Event, error) {
	res, err := p.QueryAll(ctx, relayURLs, filters...)
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}

// QueryAll is Query that also reports the events that failed verification.
// An invalid copy is not reported when another relay served the event
// intact.
func (p *Pool) QueryAll(ctx context.Context, relayURLs []string, filters ...Filter) (*QueryResult, error) {
	if len(relayURLs) == 0 {
		return nil, fmt.Errorf("%w: no relays given", ErrAllRelaysFailed)
	}

	var (
		mu      sync.Mutex
		seen    = make(map[string]struct{})
		results []*event.Event
		invalid []*InvalidEvent
		errs    []error
	)

	var g errgroup.Group
	for _, u := range relayURLs {
		g.Go(func() error {
			res, err := p.queryOne(ctx, u, filters)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				p.logger.Warn("relay query failed", "url", u, "error", err)
				return nil
			}
			for _, ev := range res.Events {
				if _, dup := seen[ev.ID]; dup {
					continue
				}
				seen[ev.ID] = struct{}{}
				results = append(results, ev)
			}
			invalid = append(invalid, res.Invalid...)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(errs) == len(relayURLs) {
		return nil, errors.Join(append([]error{ErrAllRelaysFailed}, errs...)...)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAt > results[j].CreatedAt
	})

	out := &QueryResult{Events: results}
	reported := make(map[string]struct{})
	for _, inv := range invalid {
		if inv.ID != "" {
			if _, ok := seen[inv.ID]; ok {
				continue
			}
			if _, ok := reported[inv.ID]; ok {
				continue
			}
			reported[inv.ID] = struct{}{}
		}
		out.Invalid = append(out.Invalid, inv)
	}
	return out, nil
}

func (p *Pool) queryOne(ctx context.Context, relayURL string, filters []Filter) (*QueryResult, error) {
	c, err := p.Conn(ctx, relayURL)
	if err != nil {
		return nil, err
	}
	return c.QueryAll(ctx, filters...)
}

// Close closes every pooled connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for u, c := range p.conns {
		c.Close()
		delete(p.conns, u)
	}
	return nil
}
