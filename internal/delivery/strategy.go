package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/luxundiary/nostrdiary-go/internal/event"
)

// InboxInfo identifies an inbox to watch for gift wraps.
type InboxInfo struct {
	// PubKey is the hex public key gift wraps are addressed to.
	PubKey string

	// Since is the earliest created_at to ask relays for. Zero means all
	// stored gift wraps.
	Since int64
}

// Fetcher returns gift wraps addressed to pubkey with created_at >= since.
// relay.Pool.Query with relay.GiftWrapsFor is the usual implementation.
type Fetcher func(ctx context.Context, pubkey string, since int64) ([]*event.Event, error)

// EventHandler is invoked once per new gift wrap, oldest first. The handler
// runs on the polling goroutine; a slow handler delays the next poll. A
// returned error is logged and does not stop delivery.
type EventHandler func(ctx context.Context, inbox string, gw *event.Event) error

// Strategy is a gift wrap delivery mechanism.
//
// The typical lifecycle is:
//  1. Create a strategy with NewPollingStrategy(cfg)
//  2. Call Start(ctx, inboxes, handler) to begin receiving events
//  3. Optionally call AddInbox/RemoveInbox to modify watched inboxes
//  4. Call Stop() when done to release resources
//
// All implementations are safe for concurrent use.
type Strategy interface {
	// Start begins watching the given inboxes and returns immediately.
	Start(ctx context.Context, inboxes []InboxInfo, handler EventHandler) error

	// Stop shuts down the strategy. After Stop returns no more events are
	// delivered. Stop is idempotent.
	Stop() error

	// AddInbox adds an inbox to watch from the next poll on.
	AddInbox(inbox InboxInfo) error

	// RemoveInbox stops watching the inbox for pubkey.
	RemoveInbox(pubkey string) error

	// Name returns the strategy name for logging.
	Name() string
}

// Config holds configuration for delivery strategies.
type Config struct {
	// Fetcher queries relays. Required.
	Fetcher Fetcher

	// Logger receives poll failures. Nil discards.
	Logger *slog.Logger

	// PollingInitialInterval is the starting interval between polls.
	// If zero, defaults to DefaultPollingInitialInterval.
	PollingInitialInterval time.Duration

	// PollingMaxBackoff is the maximum interval between polls.
	// If zero, defaults to DefaultPollingMaxBackoff.
	PollingMaxBackoff time.Duration

	// PollingBackoffMultiplier is the factor by which the interval
	// increases after each poll with nothing new.
	// If zero, defaults to DefaultPollingBackoffMultiplier.
	PollingBackoffMultiplier float64

	// PollingJitterFactor is the maximum random jitter added to
	// poll intervals (as a fraction of the interval).
	// If zero, defaults to DefaultPollingJitterFactor.
	PollingJitterFactor float64

	// Lookback is how far before the newest seen gift wrap each poll starts.
	// Gift wrap timestamps are randomized into the past, so a wrap published
	// now can carry an older created_at than one already seen.
	// If zero, defaults to DefaultLookback.
	Lookback time.Duration
}

// Default polling configuration values.
const (
	DefaultPollingInitialInterval   = 2 * time.Second
	DefaultPollingMaxBackoff        = 30 * time.Second
	DefaultPollingBackoffMultiplier = 1.5
	DefaultPollingJitterFactor      = 0.3
	DefaultLookback                 = 48 * time.Hour
)

func (c Config) withDefaults() Config {
	if c.PollingInitialInterval <= 0 {
		c.PollingInitialInterval = DefaultPollingInitialInterval
	}
	if c.PollingMaxBackoff <= 0 {
		c.PollingMaxBackoff = DefaultPollingMaxBackoff
	}
	if c.PollingBackoffMultiplier <= 0 {
		c.PollingBackoffMultiplier = DefaultPollingBackoffMultiplier
	}
	if c.PollingJitterFactor <= 0 {
		c.PollingJitterFactor = DefaultPollingJitterFactor
	}
	if c.Lookback <= 0 {
		c.Lookback = DefaultLookback
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}
