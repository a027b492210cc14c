package nostrdiary

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/luxundiary/nostrdiary-go/internal/event"
	"github.com/luxundiary/nostrdiary-go/internal/giftwrap"
	"github.com/luxundiary/nostrdiary-go/internal/relay"
)

// ReceivedEntry is a diary entry recovered from a gift wrap.
type ReceivedEntry struct {
	GiftWrapID string
	// SenderPubkey is the seal signer, the authenticated author.
	SenderPubkey string
	// RumorID is the id of the unsigned inner event.
	RumorID   string
	Kind      int
	Content   string
	Weather   string
	Day       string
	CreatedAt time.Time
	Tags      [][]string
}

func receivedFrom(u *giftwrap.Unwrapped) *ReceivedEntry {
	tags := make([][]string, len(u.Rumor.Tags))
	for i, t := range u.Rumor.Tags {
		tags[i] = append([]string(nil), t...)
	}
	return &ReceivedEntry{
		GiftWrapID:   u.GiftWrapID,
		SenderPubkey: u.Sender,
		RumorID:      u.Rumor.ID,
		Kind:         u.Rumor.Kind,
		Content:      u.Rumor.Content,
		Weather:      u.Rumor.Tags.Value("weather"),
		Day:          u.Rumor.Tags.Value("d"),
		CreatedAt:    time.Unix(u.Rumor.CreatedAt, 0),
		Tags:         tags,
	}
}

// BatchFailure is a gift wrap that could not be opened.
type BatchFailure struct {
	GiftWrapID string
	Err        error
}

// BatchResult pairs every processed gift wrap with its outcome.
type BatchResult struct {
	Items    []*ReceivedEntry
	Failures []*BatchFailure
}

// FetchedGiftWrap is a gift wrap addressed to the client together with its
// authenticated sender.
type FetchedGiftWrap struct {
	SenderPubkey string
	EventJSON    string
	GiftWrapID   string
}

// FetchAndUnwrapAll queries relays for gift wraps addressed to the client
// and opens each one on its own. A gift wrap that fails to open is reported
// in Failures and never aborts the others. If ctx ends or every relay fails,
// no results are returned. Empty relayURLs uses the configured relays.
func (c *Client) FetchAndUnwrapAll(ctx context.Context, relayURLs ...string) (*BatchResult, error) {
	fetched, err := c.fetch(ctx, relayURLs)
	if err != nil {
		return nil, err
	}
	res, err := c.unwrapAll(ctx, fetched.Events)
	if err != nil {
		return nil, err
	}
	res.Failures = append(c.invalidFailures(fetched.Invalid), res.Failures...)
	return res, nil
}

// FetchGiftWraps returns the gift wraps addressed to the client that open
// successfully, with their senders. Gift wraps that do not open are logged
// and skipped; use FetchAndUnwrapAll to inspect them.
func (c *Client) FetchGiftWraps(ctx context.Context, relayURLs ...string) ([]FetchedGiftWrap, error) {
	fetched, err := c.fetch(ctx, relayURLs)
	if err != nil {
		return nil, err
	}
	events := fetched.Events
	res, err := c.unwrapAll(ctx, events)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*event.Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}
	out := make([]FetchedGiftWrap, 0, len(res.Items))
	for _, item := range res.Items {
		out = append(out, FetchedGiftWrap{
			SenderPubkey: item.SenderPubkey,
			EventJSON:    byID[item.GiftWrapID].String(),
			GiftWrapID:   item.GiftWrapID,
		})
	}
	return out, nil
}

// Unwrap opens a single gift wrap addressed to the client.
func (c *Client) Unwrap(giftWrapJSON string) (*ReceivedEntry, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	gw, err := event.ParseString(giftWrapJSON)
	if err != nil {
		return nil, &SerializationError{Stage: string(giftwrap.StageGiftWrap), Err: err}
	}
	return c.unwrapOne(gw)
}

// UnwrapAll opens every gift wrap in giftWrapJSONs, skipping repeated ids.
// Failures are paired with the gift wrap id when it could be read.
func (c *Client) UnwrapAll(ctx context.Context, giftWrapJSONs []string) (*BatchResult, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	var (
		events   []*event.Event
		failures []*BatchFailure
		seen     = make(map[string]struct{})
	)
	for _, raw := range giftWrapJSONs {
		gw, err := event.ParseString(raw)
		if err != nil {
			failures = append(failures, &BatchFailure{
				Err: &SerializationError{Stage: string(giftwrap.StageGiftWrap), Err: err},
			})
			continue
		}
		if _, dup := seen[gw.ID]; dup {
			continue
		}
		seen[gw.ID] = struct{}{}
		events = append(events, gw)
	}

	res, err := c.unwrapAll(ctx, events)
	if err != nil {
		return nil, err
	}
	res.Failures = append(failures, res.Failures...)
	return res, nil
}

func (c *Client) fetch(ctx context.Context, relayURLs []string) (*relay.QueryResult, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	relays, err := c.relayList(relayURLs)
	if err != nil {
		return nil, err
	}
	return c.query(ctx, relays, 0)
}

// query fetches gift wraps addressed to the client from relays.
func (c *Client) query(ctx context.Context, relays []string, since int64) (*relay.QueryResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	res, err := c.pool.QueryAll(ctx, relays, relay.GiftWrapsFor(c.pubkey, since))
	c.metrics.ObserveQuery(start, err)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && err == ctxErr {
			return nil, err
		}
		return nil, wrapError(err)
	}
	return res, nil
}

// invalidFailures reports gift wraps a relay served that do not parse or
// whose outer id or signature does not verify.
func (c *Client) invalidFailures(invalid []*relay.InvalidEvent) []*BatchFailure {
	var out []*BatchFailure
	for _, inv := range invalid {
		stage := giftwrap.StageOuterSignature
		if errors.Is(inv.Err, event.ErrMalformed) {
			stage = giftwrap.StageGiftWrap
		}
		uErr := &giftwrap.UnwrapError{Stage: stage, GiftWrapID: inv.ID, Err: inv.Err}
		c.metrics.ObserveUnwrap(uErr)
		c.logger.Warn("gift wrap skipped", "gift_wrap_id", inv.ID, "relay", inv.URL, "error", inv.Err)
		out = append(out, &BatchFailure{GiftWrapID: inv.ID, Err: wrapError(uErr)})
	}
	return out
}

// unwrapAll opens events concurrently. Results keep the input order.
func (c *Client) unwrapAll(ctx context.Context, events []*event.Event) (*BatchResult, error) {
	type outcome struct {
		item *ReceivedEntry
		err  error
	}
	outcomes := make([]outcome, len(events))

	var g errgroup.Group
	g.SetLimit(c.cfg.concurrency)
	for i, gw := range events {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			item, err := c.unwrapOne(gw)
			outcomes[i] = outcome{item: item, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &BatchResult{}
	for i, o := range outcomes {
		if o.err != nil {
			c.logger.Warn("gift wrap skipped", "gift_wrap_id", events[i].ID, "error", o.err)
			res.Failures = append(res.Failures, &BatchFailure{GiftWrapID: events[i].ID, Err: o.err})
			continue
		}
		res.Items = append(res.Items, o.item)
	}
	return res, nil
}

func (c *Client) unwrapOne(gw *event.Event) (*ReceivedEntry, error) {
	u, err := giftwrap.Unwrap(gw, c.keys)
	c.metrics.ObserveUnwrap(err)
	if err != nil {
		return nil, wrapError(err)
	}
	return receivedFrom(u), nil
}
