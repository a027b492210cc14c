// Package nip19 encodes keys and event ids as bech32 strings (npub, nsec, note).
package nip19

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/luxundiary/nostrdiary-go/internal/crypto"
)

// Human-readable prefixes.
const (
	PrefixPublicKey = "npub"
	PrefixSecretKey = "nsec"
	PrefixNote      = "note"
)

// ErrInvalid is returned for strings that are not valid NIP-19 entities.
var ErrInvalid = errors.New("invalid nip19 string")

// EncodePublicKey encodes a hex x-only public key as npub.
func EncodePublicKey(pubHex string) (string, error) {
	raw, err := crypto.DecodePublicKeyHex(pubHex)
	if err != nil {
		return "", err
	}
	return encode(PrefixPublicKey, raw)
}

// DecodePublicKey decodes an npub into a hex public key.
func DecodePublicKey(npub string) (string, error) {
	raw, err := decode(PrefixPublicKey, npub)
	if err != nil {
		return "", err
	}
	pubHex := hex.EncodeToString(raw)
	if !crypto.ValidatePublicKeyHex(pubHex) {
		return "", fmt.Errorf("%w: npub is not a curve point", ErrInvalid)
	}
	return pubHex, nil
}

// EncodeSecretKey encodes a hex secret key as nsec.
func EncodeSecretKey(secretHex string) (string, error) {
	raw, err := hex.DecodeString(secretHex)
	if err != nil || len(raw) != crypto.SecretKeySize {
		return "", fmt.Errorf("%w: secret key must be %d hex bytes", ErrInvalid, crypto.SecretKeySize)
	}
	defer clear(raw)
	return encode(PrefixSecretKey, raw)
}

// DecodeSecretKey decodes an nsec into a hex secret key.
func DecodeSecretKey(nsec string) (string, error) {
	raw, err := decode(PrefixSecretKey, nsec)
	if err != nil {
		return "", err
	}
	defer clear(raw)
	return hex.EncodeToString(raw), nil
}

// EncodeNote encodes a hex event id as note.
func EncodeNote(idHex string) (string, error) {
	raw, err := hex.DecodeString(idHex)
	if err != nil || len(raw) != 32 {
		return "", fmt.Errorf("%w: event id must be 32 hex bytes", ErrInvalid)
	}
	return encode(PrefixNote, raw)
}

// DecodeNote decodes a note into a hex event id.
func DecodeNote(note string) (string, error) {
	raw, err := decode(PrefixNote, note)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// PublicKeyHex accepts either a hex public key or an npub and returns hex.
func PublicKeyHex(s string) (string, error) {
	if strings.HasPrefix(s, PrefixPublicKey+"1") {
		return DecodePublicKey(s)
	}
	if !crypto.ValidatePublicKeyHex(s) {
		return "", fmt.Errorf("%w: not a hex public key or npub", ErrInvalid)
	}
	return s, nil
}

func encode(prefix string, raw []byte) (string, error) {
	data, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return bech32.Encode(prefix, data)
}

func decode(prefix, s string) ([]byte, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if hrp != prefix {
		return nil, fmt.Errorf("%w: prefix %q, want %q", ErrInvalid, hrp, prefix)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: payload is %d bytes, want 32", ErrInvalid, len(raw))
	}
	return raw, nil
}
