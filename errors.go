package nostrdiary

import (
	"errors"
	"fmt"

	"github.com/luxundiary/nostrdiary-go/internal/crypto"
	"github.com/luxundiary/nostrdiary-go/internal/event"
	"github.com/luxundiary/nostrdiary-go/internal/giftwrap"
	"github.com/luxundiary/nostrdiary-go/internal/identity"
	"github.com/luxundiary/nostrdiary-go/internal/relay"
	"github.com/luxundiary/nostrdiary-go/internal/store"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrInvalidRecipientKey is returned when a recipient public key is not
	// 64 lowercase hex characters encoding a secp256k1 point.
	ErrInvalidRecipientKey = errors.New("invalid recipient public key")

	// ErrKeyUnavailable is returned when no identity key is configured, the key
	// file cannot be opened, or the client key has been wiped.
	ErrKeyUnavailable = errors.New("identity key unavailable")

	// ErrSigning is returned when an event signature cannot be produced.
	ErrSigning = errors.New("signing failed")

	// ErrDecryptionFailed is returned when a NIP-44 payload does not open.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrUnwrapFailed is returned when a gift wrap cannot be opened or fails
	// validation.
	ErrUnwrapFailed = errors.New("gift unwrap failed")

	// ErrSerialization is returned when event JSON is malformed.
	ErrSerialization = errors.New("malformed event JSON")

	// ErrShareFailed is returned when a gift wrap could not be built.
	ErrShareFailed = errors.New("share failed")

	// ErrRelay is returned for every relay transport or protocol failure.
	ErrRelay = errors.New("relay error")

	// ErrOutcomeUnknown is returned when a publish was sent but the relay's
	// answer never arrived. Publishing the same event again is safe.
	ErrOutcomeUnknown = errors.New("publish outcome unknown")

	// ErrEntryNotFound is returned when no stored entry matches.
	ErrEntryNotFound = errors.New("diary entry not found")

	// ErrEntryExists is returned when the day or event already has an entry.
	ErrEntryExists = errors.New("diary entry already exists")

	// ErrInvalidDay is returned for days not in YYYY-MM-DD form.
	ErrInvalidDay = errors.New("day must be YYYY-MM-DD")

	// ErrNoStore is returned by entry operations when no database is configured.
	ErrNoStore = errors.New("no diary store configured")

	// ErrNoRelays is returned by network operations when no relay is given or configured.
	ErrNoRelays = errors.New("no relays configured")

	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = errors.New("client has been closed")
)

// NostrDiaryError is implemented by all SDK errors.
type NostrDiaryError interface {
	error
	NostrDiaryError() // marker method
}

// Outcome is the result of a publish as reported by a relay.
type Outcome = relay.Outcome

// Publish outcomes.
const (
	OutcomeAccepted  = relay.OutcomeAccepted
	OutcomeDuplicate = relay.OutcomeDuplicate
	OutcomeRejected  = relay.OutcomeRejected
	OutcomeUnknown   = relay.OutcomeUnknown
)

// InvalidRecipientError reports a malformed recipient public key.
type InvalidRecipientError struct {
	PubKey string
	Err    error
}

func (e *InvalidRecipientError) Error() string {
	if e.PubKey == "" {
		return ErrInvalidRecipientKey.Error()
	}
	return fmt.Sprintf("%s: %q", ErrInvalidRecipientKey, e.PubKey)
}

// Unwrap returns the underlying error.
func (e *InvalidRecipientError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *InvalidRecipientError) Is(target error) bool {
	return target == ErrInvalidRecipientKey
}

// NostrDiaryError implements the NostrDiaryError interface.
func (e *InvalidRecipientError) NostrDiaryError() {}

// SigningError reports which layer could not be signed.
type SigningError struct {
	Stage string // "entry", "sign seal", "sign gift wrap", "generate ephemeral key"
	Err   error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing failed at %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *SigningError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *SigningError) Is(target error) bool {
	return target == ErrSigning
}

// NostrDiaryError implements the NostrDiaryError interface.
func (e *SigningError) NostrDiaryError() {}

// ShareError reports a gift wrap that could not be built for a reason other
// than the recipient key or signing.
type ShareError struct {
	Step string
	Err  error
}

func (e *ShareError) Error() string {
	return fmt.Sprintf("share failed at %s: %v", e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *ShareError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *ShareError) Is(target error) bool {
	return target == ErrShareFailed
}

// NostrDiaryError implements the NostrDiaryError interface.
func (e *ShareError) NostrDiaryError() {}

// DecryptionError represents a failure to open a NIP-44 payload.
type DecryptionError struct {
	Stage string // "decrypt seal", "decrypt rumor"
	Err   error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decryption failed at %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *DecryptionError) Is(target error) bool {
	return target == ErrDecryptionFailed
}

// NostrDiaryError implements the NostrDiaryError interface.
func (e *DecryptionError) NostrDiaryError() {}

// UnwrapError reports the check a gift wrap failed.
type UnwrapError struct {
	Stage      string
	GiftWrapID string // if the outer event was readable
	Err        error
}

func (e *UnwrapError) Error() string {
	if e.GiftWrapID != "" {
		return fmt.Sprintf("unwrap %s failed at %s: %v", e.GiftWrapID, e.Stage, e.Err)
	}
	return fmt.Sprintf("unwrap failed at %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *UnwrapError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *UnwrapError) Is(target error) bool {
	return target == ErrUnwrapFailed
}

// NostrDiaryError implements the NostrDiaryError interface.
func (e *UnwrapError) NostrDiaryError() {}

// SerializationError reports event JSON that could not be decoded. Raised
// while unwrapping, it also matches ErrUnwrapFailed.
type SerializationError struct {
	Stage      string
	GiftWrapID string
	Err        error
}

func (e *SerializationError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("malformed event JSON at %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("malformed event JSON: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *SerializationError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerialization || (target == ErrUnwrapFailed && e.Stage != "")
}

// NostrDiaryError implements the NostrDiaryError interface.
func (e *SerializationError) NostrDiaryError() {}

// RelayError represents a failure talking to a relay.
type RelayError struct {
	URL     string
	Outcome Outcome // set for publishes
	Message string  // relay-provided reason, if any
	Err     error
}

func (e *RelayError) Error() string {
	switch {
	case e.Message != "" && e.URL != "":
		return fmt.Sprintf("relay %s: %s", e.URL, e.Message)
	case e.URL != "":
		return fmt.Sprintf("relay %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("relay error: %v", e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *RelayError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *RelayError) Is(target error) bool {
	switch target {
	case ErrRelay:
		return true
	case ErrOutcomeUnknown:
		return e.Outcome == OutcomeUnknown
	}
	return false
}

// NostrDiaryError implements the NostrDiaryError interface.
func (e *RelayError) NostrDiaryError() {}

// wrapError converts internal errors to public errors.
// This ensures that errors.Is() checks work with public sentinel errors.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var pub NostrDiaryError
	if errors.As(err, &pub) {
		return err
	}

	var wErr *giftwrap.WrapError
	if errors.As(err, &wErr) {
		switch wErr.Step {
		case giftwrap.StepValidate:
			return &InvalidRecipientError{Err: wErr.Err}
		case giftwrap.StepSealSign, giftwrap.StepWrapSign, giftwrap.StepEphemeral:
			if errors.Is(wErr.Err, identity.ErrKeyUnavailable) {
				return fmt.Errorf("%w: %w", ErrKeyUnavailable, wErr)
			}
			return &SigningError{Stage: string(wErr.Step), Err: wErr.Err}
		case giftwrap.StepPublish:
			return wrapError(wErr.Err)
		default:
			if errors.Is(wErr.Err, identity.ErrKeyUnavailable) {
				return fmt.Errorf("%w: %w", ErrKeyUnavailable, wErr)
			}
			return &ShareError{Step: string(wErr.Step), Err: wErr.Err}
		}
	}

	var uErr *giftwrap.UnwrapError
	if errors.As(err, &uErr) {
		stage := string(uErr.Stage)
		switch uErr.Stage {
		case giftwrap.StageParseSeal, giftwrap.StageParseRumor:
			return &SerializationError{Stage: stage, GiftWrapID: uErr.GiftWrapID, Err: uErr.Err}
		case giftwrap.StageDecryptSeal, giftwrap.StageDecryptRumor:
			return &UnwrapError{
				Stage:      stage,
				GiftWrapID: uErr.GiftWrapID,
				Err:        &DecryptionError{Stage: stage, Err: uErr.Err},
			}
		}
		if errors.Is(uErr.Err, event.ErrMalformed) {
			return &SerializationError{Stage: stage, GiftWrapID: uErr.GiftWrapID, Err: uErr.Err}
		}
		return &UnwrapError{Stage: stage, GiftWrapID: uErr.GiftWrapID, Err: uErr.Err}
	}

	var rejErr *relay.RejectedError
	if errors.As(err, &rejErr) {
		outcome := OutcomeRejected
		if rejErr.EventID == "" {
			outcome = ""
		}
		return &RelayError{URL: rejErr.URL, Outcome: outcome, Message: rejErr.Message, Err: err}
	}

	if errors.Is(err, relay.ErrOutcomeUnknown) {
		return &RelayError{Outcome: OutcomeUnknown, Err: err}
	}

	var netErr *relay.NetworkError
	if errors.As(err, &netErr) {
		return &RelayError{URL: netErr.URL, Err: err}
	}

	switch {
	case errors.Is(err, relay.ErrAllRelaysFailed),
		errors.Is(err, relay.ErrInvalidURL),
		errors.Is(err, relay.ErrProtocol),
		errors.Is(err, relay.ErrClosed):
		return &RelayError{Err: err}
	case errors.Is(err, identity.ErrKeyUnavailable),
		errors.Is(err, identity.ErrInvalidKeyFile),
		errors.Is(err, crypto.ErrWrongPassphrase),
		errors.Is(err, crypto.ErrUnsupportedEnvelope):
		return fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	case errors.Is(err, identity.ErrSigning):
		return &SigningError{Stage: "entry", Err: err}
	case errors.Is(err, store.ErrNotFound):
		return ErrEntryNotFound
	case errors.Is(err, store.ErrEntryExists), errors.Is(err, store.ErrEventExists):
		return fmt.Errorf("%w: %w", ErrEntryExists, err)
	case errors.Is(err, store.ErrInvalidDay):
		return fmt.Errorf("%w: %w", ErrInvalidDay, err)
	case errors.Is(err, event.ErrMalformed):
		return &SerializationError{Err: err}
	}

	return err
}
