package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luxundiary/nostrdiary-go/internal/event"
)

// ErrInvalidURL is returned for relay URLs that are not ws:// or wss://.
var ErrInvalidURL = errors.New("invalid relay URL")

const (
	defaultWriteTimeout   = 10 * time.Second
	defaultMaxMessageSize = 4 << 20
)

type config struct {
	dialer       *websocket.Dialer
	retry        *RetryConfig
	limiter      *rate.Limiter
	logger       *slog.Logger
	writeTimeout time.Duration
}

// Option configures a relay connection.
type Option func(*config)

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *config) {
		c.dialer = d
	}
}

// WithRetry sets the dial retry policy. A nil config disables retries.
func WithRetry(r *RetryConfig) Option {
	return func(c *config) {
		c.retry = r
	}
}

// WithLimiter paces publishes. Every Publish waits for a token first. A pool
// hands the same limiter to each of its connections.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *config) {
		c.limiter = l
	}
}

// WithLogger sets the logger for relay notices and dropped messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithWriteTimeout bounds each websocket write when the context has no deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) {
		c.writeTimeout = d
	}
}

func newConfig(opts []Option) *config {
	cfg := &config{
		dialer:       websocket.DefaultDialer,
		retry:        DefaultRetryConfig(),
		logger:       slog.New(slog.DiscardHandler),
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.retry == nil {
		cfg.retry = &RetryConfig{}
	}
	return cfg
}

// Outcome is the result of a publish as reported by the relay.
type Outcome string

const (
	// OutcomeAccepted means the relay stored the event.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeDuplicate means the relay already had the event.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeRejected means the relay refused the event.
	OutcomeRejected Outcome = "rejected"
	// OutcomeUnknown means the event was sent but no answer arrived.
	OutcomeUnknown Outcome = "unknown"
)

// PublishResult describes one publish attempt.
type PublishResult struct {
	URL     string
	EventID string
	Outcome Outcome
	Message string
}

// Accepted reports whether the relay holds the event.
func (r *PublishResult) Accepted() bool {
	return r.Outcome == OutcomeAccepted || r.Outcome == OutcomeDuplicate
}

// Status returns a human-readable status line.
func (r *PublishResult) Status() string {
	switch r.Outcome {
	case OutcomeAccepted:
		return fmt.Sprintf("event %s accepted by %s", r.EventID, r.URL)
	case OutcomeDuplicate:
		return fmt.Sprintf("event %s already stored by %s", r.EventID, r.URL)
	case OutcomeRejected:
		return fmt.Sprintf("event %s rejected by %s: %s", r.EventID, r.URL, r.Message)
	default:
		return fmt.Sprintf("event %s sent to %s, outcome unknown", r.EventID, r.URL)
	}
}

// Conn is a websocket connection to one relay. It is safe for concurrent use.
type Conn struct {
	url string
	ws  *websocket.Conn
	cfg *config

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string][]chan *envelope
	subs    map[string]*subscription

	nextSub   atomic.Uint64
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// InvalidEvent is an event a relay returned for a query that does not parse
// or whose id or signature does not verify. ID is empty when it could not
// be read.
type InvalidEvent struct {
	URL string
	ID  string
	Err error
}

// QueryResult holds the verified events of a query and the ones that
// failed verification.
type QueryResult struct {
	Events  []*event.Event
	Invalid []*InvalidEvent
}

type subscription struct {
	filters []Filter

	mu      sync.Mutex
	events  []*event.Event
	invalid []*InvalidEvent
	seen   map[string]struct{}
	done   chan struct{}
	once   sync.Once
	reason string
	closed bool
}

func (s *subscription) add(ev *event.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	if _, ok := s.seen[ev.ID]; ok {
		return false
	}
	s.seen[ev.ID] = struct{}{}
	s.events = append(s.events, ev)
	return true
}

func (s *subscription) reject(inv *InvalidEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	if inv.ID != "" {
		key := "invalid:" + inv.ID
		if _, ok := s.seen[key]; ok {
			return
		}
		s.seen[key] = struct{}{}
	}
	s.invalid = append(s.invalid, inv)
}

func (s *subscription) finish(closedByRelay bool, reason string) {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = closedByRelay
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *subscription) matches(ev *event.Event) bool {
	for _, f := range s.filters {
		if f.Matches(ev) {
			return true
		}
	}
	return len(s.filters) == 0
}

// Dial connects to a relay, retrying transient failures per the retry policy.
func Dial(ctx context.Context, relayURL string, opts ...Option) (*Conn, error) {
	if err := ValidateURL(relayURL); err != nil {
		return nil, err
	}
	cfg := newConfig(opts)

	for attempt := 0; ; attempt++ {
		ws, resp, err := cfg.dialer.DialContext(ctx, relayURL, nil)
		if err == nil {
			ws.SetReadLimit(defaultMaxMessageSize)
			c := &Conn{
				url:     relayURL,
				ws:      ws,
				cfg:     cfg,
				pending: make(map[string][]chan *envelope),
				subs:    make(map[string]*subscription),
				closed:  make(chan struct{}),
			}
			go c.readLoop()
			return c, nil
		}

		status := 0
		if resp != nil {
			status = resp.StatusCode
			resp.Body.Close()
		}
		netErr := &NetworkError{Err: err, URL: relayURL, Attempt: attempt + 1, StatusCode: status}
		if ctx.Err() != nil || !cfg.retry.ShouldRetry(attempt, status) {
			return nil, netErr
		}
		cfg.logger.Debug("relay dial failed, retrying", "url", relayURL, "attempt", attempt+1, "error", err)
		if err := cfg.retry.Wait(ctx, attempt); err != nil {
			return nil, netErr
		}
	}
}

// ValidateURL checks that u is an absolute ws:// or wss:// URL.
func ValidateURL(u string) error {
	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("%w: scheme must be ws or wss, got %q", ErrInvalidURL, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}

// URL returns the relay URL.
func (c *Conn) URL() string {
	return c.url
}

// Publish sends ev and waits for the relay's OK. A "duplicate:" rejection
// counts as accepted. If ctx ends after the event was sent, the result has
// OutcomeUnknown and the error matches ErrOutcomeUnknown.
func (c *Conn) Publish(ctx context.Context, ev *event.Event) (*PublishResult, error) {
	if c.cfg.limiter != nil {
		if err := c.cfg.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	msg, err := encodeEvent(ev)
	if err != nil {
		return nil, err
	}

	ch := make(chan *envelope, 1)
	c.mu.Lock()
	c.pending[ev.ID] = append(c.pending[ev.ID], ch)
	c.mu.Unlock()
	defer c.removePending(ev.ID, ch)

	if err := c.write(ctx, msg); err != nil {
		return nil, err
	}

	select {
	case ok := <-ch:
		return c.publishResult(ev.ID, ok)
	case <-ctx.Done():
		return &PublishResult{URL: c.url, EventID: ev.ID, Outcome: OutcomeUnknown},
			fmt.Errorf("%w: %w", ErrOutcomeUnknown, ctx.Err())
	case <-c.closed:
		return &PublishResult{URL: c.url, EventID: ev.ID, Outcome: OutcomeUnknown},
			fmt.Errorf("%w: %w", ErrOutcomeUnknown, c.closeErr)
	}
}

func (c *Conn) publishResult(id string, ok *envelope) (*PublishResult, error) {
	res := &PublishResult{URL: c.url, EventID: id, Message: ok.message}
	switch {
	case ok.accepted:
		res.Outcome = OutcomeAccepted
	case strings.HasPrefix(ok.message, duplicatePrefix):
		res.Outcome = OutcomeDuplicate
	default:
		res.Outcome = OutcomeRejected
		return res, &RejectedError{URL: c.url, EventID: id, Message: ok.message}
	}
	return res, nil
}

func (c *Conn) removePending(id string, ch chan *envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.pending[id]
	for i, p := range list {
		if p == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.pending, id)
	} else {
		c.pending[id] = list
	}
}

// Query sends a REQ and collects the verified stored events until EOSE.
// If ctx ends first no events are returned.
func (c *Conn) Query(ctx context.Context, filters ...Filter) ([]*event.Event, error) {
	res, err := c.QueryAll(ctx, filters...)
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}

// QueryAll is Query that also reports the events the relay sent that do not
// parse or verify. Events outside the filters are dropped.
func (c *Conn) QueryAll(ctx context.Context, filters ...Filter) (*QueryResult, error) {
	subID := fmt.Sprintf("nd%d", c.nextSub.Add(1))
	sub := &subscription{filters: filters, seen: make(map[string]struct{}), done: make(chan struct{})}

	c.mu.Lock()
	c.subs[subID] = sub
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.subs, subID)
		c.mu.Unlock()
	}()

	msg, err := encodeReq(subID, filters...)
	if err != nil {
		return nil, err
	}
	if err := c.write(ctx, msg); err != nil {
		return nil, err
	}

	select {
	case <-sub.done:
	case <-ctx.Done():
		c.closeSubscription(subID)
		return nil, ctx.Err()
	case <-c.closed:
		return nil, c.closeErr
	}

	sub.mu.Lock()
	res := &QueryResult{Events: sub.events}
	for _, inv := range sub.invalid {
		// A valid copy may have arrived after a damaged one.
		if _, ok := sub.seen[inv.ID]; ok && inv.ID != "" {
			continue
		}
		res.Invalid = append(res.Invalid, inv)
	}
	closedByRelay, reason := sub.closed, sub.reason
	sub.mu.Unlock()
	if closedByRelay {
		return nil, &RejectedError{URL: c.url, SubscriptionID: subID, Message: reason}
	}
	c.closeSubscription(subID)
	return res, nil
}

// closeSubscription sends CLOSE without tying it to a caller's context.
func (c *Conn) closeSubscription(subID string) {
	msg, err := encodeClose(subID)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.writeTimeout)
	defer cancel()
	if err := c.write(ctx, msg); err != nil {
		c.cfg.logger.Debug("relay close subscription failed", "url", c.url, "sub", subID, "error", err)
	}
}

func (c *Conn) write(ctx context.Context, msg []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.cfg.writeTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return &NetworkError{Err: err, URL: c.url}
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		return &NetworkError{Err: err, URL: c.url}
	}
	return nil
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(&NetworkError{Err: err, URL: c.url})
			return
		}
		env, err := decodeEnvelope(data)
		if err != nil {
			c.cfg.logger.Debug("relay sent malformed message", "error", &ProtocolError{URL: c.url, Message: err.Error()})
			continue
		}
		c.dispatch(env)
	}
}

func (c *Conn) dispatch(env *envelope) {
	switch env.label {
	case labelOK:
		c.mu.Lock()
		waiters := c.pending[env.eventID]
		c.mu.Unlock()
		for _, ch := range waiters {
			select {
			case ch <- env:
			default:
			}
		}
	case labelEvent:
		c.mu.Lock()
		sub := c.subs[env.subID]
		c.mu.Unlock()
		if sub == nil {
			return
		}
		c.collect(sub, env)
	case labelEOSE:
		c.finishSub(env.subID, false, "")
	case labelClosed:
		c.finishSub(env.subID, true, env.message)
	case labelNotice:
		c.cfg.logger.Info("relay notice", "url", c.url, "message", env.message)
	}
}

// collect files an EVENT under its subscription. Events that do not parse
// are matched against the filters on a best-effort decode.
func (c *Conn) collect(sub *subscription, env *envelope) {
	ev, err := event.Parse(env.raw)
	if err != nil {
		var loose event.Event
		if json.Unmarshal(env.raw, &loose) == nil && !sub.matches(&loose) {
			return
		}
		c.cfg.logger.Debug("relay sent malformed event", "url", c.url, "sub", env.subID, "error", err)
		sub.reject(&InvalidEvent{URL: c.url, ID: loose.ID, Err: err})
		return
	}
	if !sub.matches(ev) {
		c.cfg.logger.Debug("relay sent event outside filter", "url", c.url, "sub", env.subID, "id", ev.ID)
		return
	}
	if err := event.CheckSignature(ev); err != nil {
		c.cfg.logger.Debug("relay sent unverifiable event", "url", c.url, "sub", env.subID, "id", ev.ID, "error", err)
		sub.reject(&InvalidEvent{URL: c.url, ID: ev.ID, Err: err})
		return
	}
	sub.add(ev)
}

func (c *Conn) finishSub(subID string, closedByRelay bool, reason string) {
	c.mu.Lock()
	sub := c.subs[subID]
	c.mu.Unlock()
	if sub != nil {
		sub.finish(closedByRelay, reason)
	}
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)
		c.ws.Close()
	})
}

// Closed reports whether the connection has shut down.
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Close sends a close frame and tears down the connection.
func (c *Conn) Close() error {
	if c.Closed() {
		return nil
	}
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown(ErrClosed)
	return nil
}
