package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned for operations on a closed connection.
	ErrClosed = errors.New("relay connection closed")

	// ErrOutcomeUnknown is returned when a publish was sent but no OK arrived
	// before the context ended. The event may or may not be stored; retrying
	// with the same event is safe.
	ErrOutcomeUnknown = errors.New("publish outcome unknown")

	// ErrRejected matches every *RejectedError.
	ErrRejected = errors.New("rejected by relay")

	// ErrProtocol matches every *ProtocolError.
	ErrProtocol = errors.New("relay protocol error")

	// ErrAllRelaysFailed is returned by pool operations when no relay succeeded.
	ErrAllRelaysFailed = errors.New("all relays failed")
)

// NetworkError is a transport-level failure talking to a relay.
type NetworkError struct {
	Err     error
	URL     string
	Attempt int
	// StatusCode is the handshake HTTP status, or 0 if none was received.
	StatusCode int
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("relay %s: network error (HTTP %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("relay %s: network error: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RejectedError is an OK false or CLOSED message from a relay.
type RejectedError struct {
	URL string
	// EventID is set for rejected publishes.
	EventID string
	// SubscriptionID is set for closed subscriptions.
	SubscriptionID string
	Message        string
}

func (e *RejectedError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("relay %s rejected event %s: %s", e.URL, e.EventID, e.Message)
	}
	return fmt.Sprintf("relay %s closed subscription %s: %s", e.URL, e.SubscriptionID, e.Message)
}

// Is implements errors.Is for ErrRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// ProtocolError is a malformed message from a relay.
type ProtocolError struct {
	URL     string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("relay %s: protocol error: %s", e.URL, e.Message)
}

// Is implements errors.Is for ErrProtocol.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}
