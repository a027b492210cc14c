package giftwrap

import (
	"fmt"

	"github.com/luxundiary/nostrdiary-go/internal/crypto"
	"github.com/luxundiary/nostrdiary-go/internal/event"
)

// Unwrapped is the result of opening a gift wrap.
type Unwrapped struct {
	// Sender is the seal signer's public key. It is never the ephemeral key.
	Sender string
	// Rumor is the recovered inner event. It is unsigned.
	Rumor *event.Event
	// GiftWrapID is the id of the outer event.
	GiftWrapID string
}

// Unwrap opens a gift wrap addressed to recipient. The outer signature only
// proves the event is internally consistent; sender identity comes from the
// seal signature alone.
func Unwrap(gw *event.Event, recipient Identity) (*Unwrapped, error) {
	if gw == nil {
		return nil, &UnwrapError{Stage: StageGiftWrap, Err: event.ErrMalformed}
	}
	fail := func(stage Stage, err error) (*Unwrapped, error) {
		return nil, &UnwrapError{Stage: stage, GiftWrapID: gw.ID, Err: err}
	}

	if gw.Kind != event.KindGiftWrap {
		return fail(StageGiftWrap, fmt.Errorf("%w: %d, want %d", ErrWrongKind, gw.Kind, event.KindGiftWrap))
	}
	me, err := recipient.PublicKey()
	if err != nil {
		return fail(StageGiftWrap, err)
	}
	if p := gw.Tags.Value("p"); p != "" && p != me {
		return fail(StageGiftWrap, ErrNotAddressed)
	}
	if err := event.CheckSignature(gw); err != nil {
		return fail(StageOuterSignature, err)
	}

	sealJSON, err := decryptFrom(recipient, gw.PubKey, gw.Content)
	if err != nil {
		return fail(StageDecryptSeal, err)
	}
	seal, err := event.Parse(sealJSON)
	if err != nil {
		return fail(StageParseSeal, err)
	}
	if seal.Kind != event.KindSeal {
		return fail(StageParseSeal, fmt.Errorf("%w: %d, want %d", ErrWrongKind, seal.Kind, event.KindSeal))
	}
	if err := event.CheckSignature(seal); err != nil {
		return fail(StageSealSignature, err)
	}

	rumorJSON, err := decryptFrom(recipient, seal.PubKey, seal.Content)
	if err != nil {
		return fail(StageDecryptRumor, err)
	}
	rumor, err := event.Parse(rumorJSON)
	if err != nil {
		return fail(StageParseRumor, err)
	}
	if rumor.PubKey != seal.PubKey {
		return fail(StageRumorValidation, ErrSenderMismatch)
	}
	if !rumor.CheckID() {
		return fail(StageRumorValidation, event.ErrIDMismatch)
	}
	rumor.Sig = ""

	return &Unwrapped{Sender: seal.PubKey, Rumor: rumor, GiftWrapID: gw.ID}, nil
}

func decryptFrom(recipient Identity, peerHex, payload string) ([]byte, error) {
	key, err := recipient.ConversationKey(peerHex)
	if err != nil {
		return nil, err
	}
	defer zero(key)
	return crypto.Decrypt(payload, key)
}
