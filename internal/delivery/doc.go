// Package delivery watches relays for gift wraps addressed to an inbox.
//
// Relays are polled rather than subscribed to: each poll is a stored-event
// query that ends at EOSE, so a dropped connection never loses state.
//
// # Usage
//
//	strategy := delivery.NewPollingStrategy(delivery.Config{Fetcher: fetch})
//	strategy.Start(ctx, []delivery.InboxInfo{{PubKey: me}}, func(ctx context.Context, inbox string, gw *event.Event) error {
//	    // Unwrap and store gw
//	    return nil
//	})
//	defer strategy.Stop()
//
// # Backoff
//
// The interval starts at 2s, grows by 1.5x up to 30s while polls return
// nothing new or fail, and resets when a new gift wrap arrives. Up to 30%
// jitter is added to every wait.
//
// # Overlap
//
// Gift wraps carry a created_at randomized up to two days into the past, so
// every poll asks for events since the newest seen created_at minus
// Config.Lookback and drops ids already delivered.
package delivery
