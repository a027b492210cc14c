// Package identity holds the user's Nostr identity key for the lifetime of a
// process.
//
// A KeyManager is constructed once, from a key file, a mnemonic or a fresh
// key, and is read-only afterwards. The secret scalar never leaves it: callers
// get the public key, signatures and NIP-44 conversation keys.
package identity

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luxundiary/nostrdiary-go/internal/crypto"
	"github.com/luxundiary/nostrdiary-go/internal/event"
)

var (
	// ErrKeyUnavailable is returned when no identity is configured or the
	// manager has been closed.
	ErrKeyUnavailable = errors.New("identity key unavailable")

	// ErrSigning is returned when a signature cannot be produced.
	ErrSigning = errors.New("signing failed")

	// ErrInvalidPeerKey is returned when a peer public key is malformed.
	ErrInvalidPeerKey = errors.New("invalid peer public key")
)

// KeyManager owns one secp256k1 identity key.
type KeyManager struct {
	mu sync.RWMutex
	kp *crypto.Keypair
}

// New takes ownership of kp. The caller must not use kp afterwards.
func New(kp *crypto.Keypair) (*KeyManager, error) {
	if kp == nil {
		return nil, ErrKeyUnavailable
	}
	return &KeyManager{kp: kp}, nil
}

// Generate returns a KeyManager holding a fresh random key.
func Generate() (*KeyManager, error) {
	kp, err := crypto.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	return &KeyManager{kp: kp}, nil
}

// FromSecretHex returns a KeyManager for a hex-encoded secret key.
func FromSecretHex(secretHex string) (*KeyManager, error) {
	kp, err := crypto.KeypairFromSecretHex(secretHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}
	return &KeyManager{kp: kp}, nil
}

// FromMnemonic returns a KeyManager for the NIP-06 key of a BIP-39 mnemonic.
func FromMnemonic(mnemonic, passphrase string, account uint32) (*KeyManager, error) {
	kp, err := crypto.KeypairFromMnemonic(mnemonic, passphrase, account)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}
	return &KeyManager{kp: kp}, nil
}

func (m *KeyManager) keypair() (*crypto.Keypair, error) {
	if m == nil {
		return nil, ErrKeyUnavailable
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.kp == nil {
		return nil, ErrKeyUnavailable
	}
	return m.kp, nil
}

// PublicKey returns the lowercase hex x-only public key.
func (m *KeyManager) PublicKey() (string, error) {
	kp, err := m.keypair()
	if err != nil {
		return "", err
	}
	return kp.PublicKeyHex, nil
}

// Sign returns a BIP-340 signature over a 32-byte hash.
func (m *KeyManager) Sign(hash []byte) ([]byte, error) {
	kp, err := m.keypair()
	if err != nil {
		return nil, err
	}
	sig, err := kp.Sign(hash)
	if err != nil {
		if errors.Is(err, crypto.ErrKeyZeroed) {
			return nil, ErrKeyUnavailable
		}
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}
	return sig, nil
}

// ConversationKey derives the NIP-44 conversation key shared with the holder
// of peerHex.
func (m *KeyManager) ConversationKey(peerHex string) ([]byte, error) {
	kp, err := m.keypair()
	if err != nil {
		return nil, err
	}
	key, err := kp.ConversationKeyHex(peerHex)
	switch {
	case err == nil:
		return key, nil
	case errors.Is(err, crypto.ErrInvalidPublicKey):
		return nil, fmt.Errorf("%w: %w", ErrInvalidPeerKey, err)
	case errors.Is(err, crypto.ErrKeyZeroed):
		return nil, ErrKeyUnavailable
	default:
		return nil, err
	}
}

// SignEvent sets ev's pubkey, id and signature.
func (m *KeyManager) SignEvent(ev *event.Event) error {
	return event.Sign(ev, m)
}

// Close wipes the key. Every later call fails with ErrKeyUnavailable.
func (m *KeyManager) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kp != nil {
		m.kp.Zero()
		m.kp = nil
	}
}
