package nostrdiary

import (
	"context"
	"sync"

	"github.com/luxundiary/nostrdiary-go/internal/delivery"
	"github.com/luxundiary/nostrdiary-go/internal/event"
)

// InboxHandler receives each new diary entry shared with the client. It runs
// on the watcher goroutine; a slow handler delays the next poll. It must not
// call Stop or Client.Close.
type InboxHandler func(entry *ReceivedEntry)

// InboxWatcher polls relays for new gift wraps until stopped.
type InboxWatcher struct {
	client   *Client
	strategy delivery.Strategy
	once     sync.Once
}

// WatchInbox starts polling relays for gift wraps addressed to the client
// and calls handler for each new one that opens. Gift wraps that fail to open
// are logged and skipped. Polling backs off while nothing arrives and stops
// when ctx ends, Stop is called, or the client is closed. Empty relayURLs uses
// the configured relays.
func (c *Client) WatchInbox(ctx context.Context, handler InboxHandler, relayURLs ...string) (*InboxWatcher, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	relays, err := c.relayList(relayURLs)
	if err != nil {
		return nil, err
	}

	fetch := func(ctx context.Context, pubkey string, since int64) ([]*event.Event, error) {
		res, err := c.query(ctx, relays, since)
		if err != nil {
			return nil, err
		}
		for _, inv := range res.Invalid {
			c.logger.Debug("gift wrap skipped", "gift_wrap_id", inv.ID, "relay", inv.URL, "error", inv.Err)
		}
		return res.Events, nil
	}
	w := &InboxWatcher{
		client:   c,
		strategy: delivery.NewPollingStrategy(c.strategyConfig(fetch)),
	}

	deliver := func(ctx context.Context, inbox string, gw *event.Event) error {
		item, err := c.unwrapOne(gw)
		if err != nil {
			return err
		}
		c.metrics.AddInbox(1)
		handler(item)
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.watchers[w] = struct{}{}
	c.mu.Unlock()

	inbox := []delivery.InboxInfo{{PubKey: c.pubkey}}
	if err := w.strategy.Start(ctx, inbox, deliver); err != nil {
		c.forget(w)
		return nil, err //coverage:ignore
	}
	c.logger.Info("watching inbox", "strategy", w.strategy.Name(), "relays", len(relays))
	return w, nil
}

// Stop ends polling and waits for an in-flight poll to finish. No handler
// call starts after Stop returns. Stop is idempotent.
func (w *InboxWatcher) Stop() {
	w.client.forget(w)
	w.stop()
}

func (w *InboxWatcher) stop() {
	w.once.Do(func() {
		_ = w.strategy.Stop()
	})
}

func (c *Client) forget(w *InboxWatcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.watchers, w)
}
