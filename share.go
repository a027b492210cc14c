package nostrdiary

import (
	"context"
	"errors"
	"time"

	"github.com/luxundiary/nostrdiary-go/internal/event"
	"github.com/luxundiary/nostrdiary-go/internal/giftwrap"
	"github.com/luxundiary/nostrdiary-go/internal/relay"
)

// ShareRequest is a diary entry to send privately to one recipient.
type ShareRequest struct {
	Content string
	Weather string
	// Day is the entry day, YYYY-MM-DD. Optional.
	Day string
	// RecipientPubKey is the recipient's 64-character lowercase hex public key.
	RecipientPubKey string
}

// ShareResult is a finished gift wrap, ready to publish.
type ShareResult struct {
	// GiftWrapEvent is the kind 1059 event JSON.
	GiftWrapEvent string
	// GiftWrapID is the gift wrap's event id.
	GiftWrapID string
}

// ShareEntry seals the entry to the recipient and wraps it under a fresh
// ephemeral key. The gift wrap is not published; pass it to Publish.
func (c *Client) ShareEntry(ctx context.Context, req ShareRequest) (*ShareResult, error) {
	in := giftwrap.DiaryRumor(req.Content, req.Weather, req.Day)
	return c.share(ctx, in, req.RecipientPubKey)
}

// ShareStoredEntry gift wraps the stored entry event nostrID for the
// recipient. The rumor carries the stored event's content, tags and
// timestamp.
func (c *Client) ShareStoredEntry(ctx context.Context, nostrID, recipientPubKey string) (*ShareResult, error) {
	raw, err := c.Event(nostrID)
	if err != nil {
		return nil, err
	}
	ev, err := event.ParseString(raw)
	if err != nil {
		return nil, wrapError(err)
	}
	in := giftwrap.RumorInput{
		Kind:      ev.Kind,
		Content:   ev.Content,
		Tags:      ev.Tags,
		CreatedAt: time.Unix(ev.CreatedAt, 0),
	}
	return c.share(ctx, in, recipientPubKey)
}

func (c *Client) share(ctx context.Context, in giftwrap.RumorInput, recipient string) (*ShareResult, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ValidatePubkey(recipient) {
		return nil, &InvalidRecipientError{PubKey: recipient}
	}

	op, err := c.wrapper.Wrap(in, c.keys, recipient)
	c.metrics.ObserveWrap(err)
	if err != nil {
		c.logger.Error("gift wrap failed", "recipient", recipient, "error", err)
		return nil, wrapError(err)
	}

	gw := op.GiftWrap()
	c.track(gw.ID, op)
	c.logger.Debug("gift wrap built", "recipient", recipient, "gift_wrap_id", gw.ID)
	return &ShareResult{GiftWrapEvent: gw.String(), GiftWrapID: gw.ID}, nil
}

// track remembers op until its gift wrap is published.
func (c *Client) track(id string, op *giftwrap.Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.shares) >= maxTrackedShares {
		for k := range c.shares {
			delete(c.shares, k)
			break
		}
	}
	c.shares[id] = op
}

func (c *Client) untrack(id string) *giftwrap.Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	op := c.shares[id]
	delete(c.shares, id)
	return op
}

// Publish sends a signed event to relayURL and returns the relay's status
// line. An empty relayURL uses the first configured relay. A duplicate
// answer counts as success, so publishing the same event again after an
// ErrOutcomeUnknown is safe.
func (c *Client) Publish(ctx context.Context, eventJSON, relayURL string) (string, error) {
	if err := c.checkClosed(); err != nil {
		return "", err
	}
	if relayURL == "" {
		relays, err := c.relayList(nil)
		if err != nil {
			return "", err
		}
		relayURL = relays[0]
	}
	ev, err := event.ParseString(eventJSON)
	if err != nil {
		return "", wrapError(err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.pool.Publish(ctx, relayURL, ev)
	c.metrics.ObservePublish(res, err)
	if err != nil {
		var rejected *relay.RejectedError
		if errors.As(err, &rejected) {
			if op := c.untrack(ev.ID); op != nil {
				_ = op.Fail(giftwrap.StepPublish, err)
			}
		}
		c.logger.Warn("publish failed", "url", relayURL, "event_id", ev.ID, "error", err)
		return "", wrapError(err)
	}

	if op := c.untrack(ev.ID); op != nil {
		_ = op.MarkPublished()
	}
	c.logger.Info("event published", "url", relayURL, "event_id", ev.ID, "outcome", string(res.Outcome))
	return res.Status(), nil
}
