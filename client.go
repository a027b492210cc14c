package nostrdiary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/luxundiary/nostrdiary-go/internal/delivery"
	"github.com/luxundiary/nostrdiary-go/internal/event"
	"github.com/luxundiary/nostrdiary-go/internal/giftwrap"
	"github.com/luxundiary/nostrdiary-go/internal/identity"
	"github.com/luxundiary/nostrdiary-go/internal/logging"
	"github.com/luxundiary/nostrdiary-go/internal/metrics"
	"github.com/luxundiary/nostrdiary-go/internal/nip19"
	"github.com/luxundiary/nostrdiary-go/internal/relay"
	"github.com/luxundiary/nostrdiary-go/internal/store"
)

// Event kinds.
const (
	// KindDiaryEntry is the parameterized replaceable kind of diary entries.
	KindDiaryEntry = event.KindDiaryEntry
	// KindSeal is the NIP-59 seal kind.
	KindSeal = event.KindSeal
	// KindGiftWrap is the NIP-59 gift wrap kind.
	KindGiftWrap = event.KindGiftWrap
)

// DayLayout is the time layout of Entry.Day.
const DayLayout = store.DayLayout

// maxTrackedShares bounds the gift wraps remembered between ShareEntry and Publish.
const maxTrackedShares = 256

// Entry is a diary entry in the local store.
type Entry struct {
	ID        string
	Content   string
	Weather   string
	Day       string // YYYY-MM-DD
	CreatedAt time.Time
	NostrID   string
	// EventJSON is the signed kind 30027 event.
	EventJSON string
}

func entryFromStore(e *store.Entry) *Entry {
	return &Entry{
		ID:        e.ID,
		Content:   e.Content,
		Weather:   e.Weather,
		Day:       e.Day,
		CreatedAt: e.CreatedAt,
		NostrID:   e.NostrID,
		EventJSON: e.NostrEvent,
	}
}

// Client is the main nostrdiary client. It owns one identity key, an
// optional diary store and a pool of relay connections.
type Client struct {
	keys    *identity.KeyManager
	pubkey  string
	store   *store.Store
	pool    *relay.Pool
	wrapper *giftwrap.Wrapper
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     *clientConfig

	mu       sync.RWMutex
	closed   bool
	shares   map[string]*giftwrap.Operation // keyed by gift wrap id
	watchers map[*InboxWatcher]struct{}
}

// loadIdentity builds the key manager from the first configured source:
// secret key, mnemonic, then key file.
func loadIdentity(cfg *clientConfig, logger *slog.Logger) (*identity.KeyManager, error) {
	switch {
	case cfg.secretKeyHex != "":
		return identity.FromSecretHex(cfg.secretKeyHex)
	case cfg.mnemonic != "":
		return identity.FromMnemonic(cfg.mnemonic, cfg.mnemonicPass, cfg.account)
	case cfg.keyFile != "":
		km, written, err := identity.LoadOrCreate(cfg.keyFile, []byte(cfg.passphrase))
		if err != nil {
			return nil, err
		}
		if written {
			logger.Info("key file written", "path", cfg.keyFile)
		}
		return km, nil
	default:
		return nil, identity.ErrKeyUnavailable
	}
}

// buildPool creates the relay pool from the given config.
func buildPool(cfg *clientConfig, logger *slog.Logger) *relay.Pool {
	retry := relay.DefaultRetryConfig()
	retry.MaxRetries = cfg.retries
	if len(cfg.retryOn) > 0 {
		codes := append([]int(nil), cfg.retryOn...)
		retry.RetryableOn = func(status int) bool {
			for _, c := range codes {
				if c == status {
					return true
				}
			}
			return false
		}
	}

	opts := []relay.Option{
		relay.WithRetry(retry),
		relay.WithLogger(logger),
	}
	if cfg.publishRate > 0 {
		burst := int(cfg.publishRate)
		if burst < 1 {
			burst = 1
		}
		opts = append(opts, relay.WithLimiter(rate.NewLimiter(rate.Limit(cfg.publishRate), burst)))
	}
	return relay.NewPool(opts...)
}

// New creates a client. An identity option is required: WithSecretKeyHex,
// WithMnemonic or WithKeyFile.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		timeout:     defaultTimeout,
		retries:     relay.DefaultRetryConfig().MaxRetries,
		concurrency: defaultConcurrency,
		publishRate: defaultPublishRate,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.concurrency < 1 {
		cfg.concurrency = 1
	}

	logger := logging.Discard()
	if cfg.logger != nil {
		logger = slog.New(logging.WrapHandler(cfg.logger.Handler()))
	}

	for _, u := range cfg.relays {
		if err := relay.ValidateURL(u); err != nil {
			return nil, wrapError(err)
		}
	}

	keys, err := loadIdentity(cfg, logger)
	if err != nil {
		return nil, wrapError(err)
	}
	pubkey, err := keys.PublicKey()
	if err != nil {
		keys.Close()
		return nil, wrapError(err) //coverage:ignore
	}

	var st *store.Store
	if cfg.database != "" {
		st, err = store.Open(cfg.database)
		if err != nil {
			keys.Close()
			return nil, fmt.Errorf("open diary store: %w", err)
		}
	}

	var m *metrics.Metrics
	if cfg.metricsActive {
		if m, err = metrics.New(cfg.registry); err != nil {
			keys.Close()
			if st != nil {
				st.Close()
			}
			return nil, err
		}
	}

	c := &Client{
		keys:     keys,
		pubkey:   pubkey,
		store:    st,
		pool:     buildPool(cfg, logger),
		wrapper:  giftwrap.NewWrapper(),
		metrics:  m,
		logger:   logger.With("pubkey", pubkey),
		cfg:      cfg,
		shares:   make(map[string]*giftwrap.Operation),
		watchers: make(map[*InboxWatcher]struct{}),
	}
	return c, nil
}

// checkClosed returns ErrClientClosed if the client has been closed.
func (c *Client) checkClosed() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// withTimeout applies the client timeout to contexts that carry no deadline.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.cfg.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.timeout)
}

// relayList returns urls, or the configured relays when urls is empty.
func (c *Client) relayList(urls []string) ([]string, error) {
	if len(urls) == 0 {
		urls = c.cfg.relays
	}
	if len(urls) == 0 {
		return nil, ErrNoRelays
	}
	return urls, nil
}

func (c *Client) requireStore() error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if c.store == nil {
		return ErrNoStore
	}
	return nil
}

// PublicKey returns the client's hex public key.
func (c *Client) PublicKey() string {
	return c.pubkey
}

// NPub returns the client's public key in NIP-19 npub form.
func (c *Client) NPub() string {
	npub, _ := nip19.EncodePublicKey(c.pubkey)
	return npub
}

// MetricsHandler serves the client's registry in the Prometheus text
// format. Without WithMetrics it responds 404.
func (c *Client) MetricsHandler() http.Handler {
	return c.metrics.Handler()
}

// ValidatePubkey reports whether s is a 64-character lowercase hex x-only
// public key on the secp256k1 curve.
func ValidatePubkey(s string) bool {
	return event.ValidatePubkey(s)
}

// NormalizePubkey accepts a hex or npub public key and returns it as hex.
func NormalizePubkey(s string) (string, error) {
	hex, err := nip19.PublicKeyHex(s)
	if err != nil {
		return "", &InvalidRecipientError{PubKey: s, Err: err}
	}
	return hex, nil
}

// CreateEntry signs a diary entry event for day and stores it. An empty day
// means today's date in the local time zone (time.Local), not UTC, so an
// entry written just after local midnight belongs to the new local day.
// Each day holds at most one entry.
func (c *Client) CreateEntry(ctx context.Context, content, weather, day string) (*Entry, error) {
	if err := c.requireStore(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	if day == "" {
		day = now.Format(DayLayout)
	}
	if !store.ValidDay(day) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDay, day)
	}

	ev := &event.Event{
		CreatedAt: now.Unix(),
		Kind:      event.KindDiaryEntry,
		Tags:      event.Tags{{"d", day}, {"weather", weather}},
		Content:   content,
	}
	if err := c.keys.SignEvent(ev); err != nil {
		return nil, wrapError(err)
	}

	rec := &store.Entry{
		Content:    content,
		Weather:    weather,
		Day:        day,
		CreatedAt:  now,
		NostrID:    ev.ID,
		NostrEvent: ev.String(),
	}
	if err := c.store.SaveEntry(rec); err != nil {
		return nil, wrapError(err)
	}
	c.logger.Debug("entry created", "day", day, "nostr_id", ev.ID)
	return entryFromStore(rec), nil
}

// Entries returns every stored entry, newest first.
func (c *Client) Entries() ([]*Entry, error) {
	if err := c.requireStore(); err != nil {
		return nil, err
	}
	recs, err := c.store.Entries()
	if err != nil {
		return nil, wrapError(err)
	}
	entries := make([]*Entry, len(recs))
	for i, r := range recs {
		entries[i] = entryFromStore(r)
	}
	return entries, nil
}

// Entry returns the entry for day.
func (c *Client) Entry(day string) (*Entry, error) {
	if err := c.requireStore(); err != nil {
		return nil, err
	}
	rec, err := c.store.EntryByDay(day)
	if err != nil {
		return nil, wrapError(err)
	}
	return entryFromStore(rec), nil
}

// HasEntry reports whether day already has an entry.
func (c *Client) HasEntry(day string) (bool, error) {
	if err := c.requireStore(); err != nil {
		return false, err
	}
	ok, err := c.store.HasEntryForDay(day)
	if err != nil {
		return false, wrapError(err)
	}
	return ok, nil
}

// Event returns the signed event JSON stored under nostrID.
func (c *Client) Event(nostrID string) (string, error) {
	if err := c.requireStore(); err != nil {
		return "", err
	}
	raw, err := c.store.EventByNostrID(nostrID)
	if err != nil {
		return "", wrapError(err)
	}
	return raw, nil
}

// VerifySignature looks up the event stored under nostrID and reports
// whether its id and signature are valid. The error is non-nil only when
// the event cannot be found or decoded.
func (c *Client) VerifySignature(ctx context.Context, nostrID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	raw, err := c.Event(nostrID)
	if err != nil {
		return false, err
	}
	ev, err := event.ParseString(raw)
	if err != nil {
		return false, wrapError(err)
	}
	if ev.ID != nostrID {
		return false, nil
	}
	return event.Verify(ev), nil
}

// Close stops every inbox watcher, closes relay connections and the store,
// and wipes the identity key. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	watchers := make([]*InboxWatcher, 0, len(c.watchers))
	for w := range c.watchers {
		watchers = append(watchers, w)
	}
	clear(c.watchers)
	clear(c.shares)
	c.mu.Unlock()

	for _, w := range watchers {
		w.stop()
	}

	var errs []error
	if err := c.pool.Close(); err != nil {
		errs = append(errs, err) //coverage:ignore
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			errs = append(errs, err) //coverage:ignore
		}
	}
	c.keys.Close()
	return errors.Join(errs...)
}

// strategyConfig builds the polling configuration for an inbox watcher.
func (c *Client) strategyConfig(fetch delivery.Fetcher) delivery.Config {
	return delivery.Config{
		Fetcher:                  fetch,
		Logger:                   c.logger,
		PollingInitialInterval:   c.cfg.pollingInitialInterval,
		PollingMaxBackoff:        c.cfg.pollingMaxBackoff,
		PollingBackoffMultiplier: c.cfg.pollingBackoffMultiplier,
		PollingJitterFactor:      c.cfg.pollingJitterFactor,
	}
}
