package giftwrap

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRecipient is returned when the recipient public key is not
	// 64 lowercase hex characters encoding a curve point.
	ErrInvalidRecipient = errors.New("invalid recipient public key")

	// ErrWrapFailed matches every error returned by Wrap.
	ErrWrapFailed = errors.New("gift wrap failed")

	// ErrUnwrapFailed matches every error returned by Unwrap.
	ErrUnwrapFailed = errors.New("gift unwrap failed")

	// ErrWrongKind is returned when a layer carries an unexpected kind.
	ErrWrongKind = errors.New("unexpected event kind")

	// ErrNotAddressed is returned when a gift wrap's p tag names another recipient.
	ErrNotAddressed = errors.New("gift wrap addressed to another recipient")

	// ErrSenderMismatch is returned when the rumor claims an author other
	// than the seal signer.
	ErrSenderMismatch = errors.New("rumor author does not match seal signer")

	// ErrInvalidTransition is returned when an Operation is moved out of a
	// terminal state or skips a state.
	ErrInvalidTransition = errors.New("invalid operation state transition")
)

// Step names a stage of the wrap pipeline.
type Step string

// Wrap pipeline steps, in order.
const (
	StepValidate    Step = "validate recipient"
	StepCompose     Step = "compose rumor"
	StepSealEncrypt Step = "encrypt rumor"
	StepSealSign    Step = "sign seal"
	StepEphemeral   Step = "generate ephemeral key"
	StepWrapEncrypt Step = "encrypt seal"
	StepWrapSign    Step = "sign gift wrap"
	StepPublish     Step = "publish"
)

// WrapError reports the step at which wrapping failed.
type WrapError struct {
	Step Step
	Err  error
}

func (e *WrapError) Error() string {
	return fmt.Sprintf("gift wrap: %s: %v", e.Step, e.Err)
}

func (e *WrapError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for ErrWrapFailed.
func (e *WrapError) Is(target error) bool {
	return target == ErrWrapFailed
}

// Stage names a check of the unwrap pipeline.
type Stage string

// Unwrap pipeline stages, in order.
const (
	StageGiftWrap        Stage = "gift wrap"
	StageOuterSignature  Stage = "gift wrap signature"
	StageDecryptSeal     Stage = "decrypt seal"
	StageParseSeal       Stage = "parse seal"
	StageSealSignature   Stage = "seal signature"
	StageDecryptRumor    Stage = "decrypt rumor"
	StageParseRumor      Stage = "parse rumor"
	StageRumorValidation Stage = "rumor validation"
)

// UnwrapError reports the stage at which unwrapping failed.
type UnwrapError struct {
	Stage Stage
	// GiftWrapID is the id of the outer event, when it was readable.
	GiftWrapID string
	Err        error
}

func (e *UnwrapError) Error() string {
	return fmt.Sprintf("gift unwrap: %s: %v", e.Stage, e.Err)
}

func (e *UnwrapError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for ErrUnwrapFailed.
func (e *UnwrapError) Is(target error) bool {
	return target == ErrUnwrapFailed
}
