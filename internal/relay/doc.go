// Package relay is a minimal NIP-01 relay client over websockets.
//
// It publishes events and waits for the relay's OK, and runs one-shot
// queries that collect stored events until EOSE. Long-lived subscriptions
// are not supported; callers poll instead.
//
// A publish whose context ends after the event was sent reports
// [OutcomeUnknown]. Events are content addressed, so retrying with the same
// signed event cannot create a second copy.
package relay
