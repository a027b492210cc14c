package event

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/luxundiary/nostrdiary-go/internal/crypto"
)

// Signer holds a secret key and signs 32-byte hashes with it.
type Signer interface {
	PublicKey() (string, error)
	Sign(hash []byte) ([]byte, error)
}

// Sign sets e.PubKey from s, computes e.ID and fills e.Sig.
func Sign(e *Event, s Signer) error {
	pub, err := s.PublicKey()
	if err != nil {
		return fmt.Errorf("signer public key: %w", err)
	}
	e.PubKey = pub
	e.ID = e.ComputeID()

	hash, _ := hex.DecodeString(e.ID)
	sig, err := s.Sign(hash)
	if err != nil {
		e.ID = ""
		return fmt.Errorf("sign event: %w", err)
	}
	e.Sig = hex.EncodeToString(sig)
	return nil
}

// Verify reports whether e has a matching id and a valid signature from
// e.PubKey. It never panics on malformed input.
func Verify(e *Event) bool {
	return CheckSignature(e) == nil
}

// CheckSignature is Verify with an error describing which check failed.
func CheckSignature(e *Event) error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrMalformed)
	}
	if e.Sig == "" {
		return ErrUnsigned
	}
	if err := e.checkShape(); err != nil {
		return err
	}
	if !e.CheckID() {
		return ErrIDMismatch
	}

	pub, _ := hex.DecodeString(e.PubKey)
	hash, _ := hex.DecodeString(e.ID)
	sig, _ := hex.DecodeString(e.Sig)
	if err := crypto.Verify(pub, hash, sig); err != nil {
		if errors.Is(err, crypto.ErrInvalidPublicKey) {
			return fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return nil
}
