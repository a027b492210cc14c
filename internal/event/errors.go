package event

import "errors"

var (
	// ErrMalformed is returned when event JSON cannot be decoded or has fields
	// of the wrong shape.
	ErrMalformed = errors.New("malformed event")

	// ErrIDMismatch is returned when an event's id does not match its content.
	ErrIDMismatch = errors.New("event id does not match content")

	// ErrInvalidSignature is returned when an event's signature does not verify.
	ErrInvalidSignature = errors.New("invalid event signature")

	// ErrUnsigned is returned when verifying an event with no signature.
	ErrUnsigned = errors.New("event is not signed")
)
