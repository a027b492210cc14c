package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// randReader is the random source used for key generation and nonces.
// It defaults to nil (which uses crypto/rand) but can be overridden for testing.
var randReader io.Reader

// maxKeygenAttempts bounds the rejection sampling in GenerateKeypair. A
// uniformly random 32-byte string is a valid scalar with probability ~1-2^-128.
const maxKeygenAttempts = 8

func entropy() io.Reader {
	if randReader != nil {
		return randReader
	}
	return rand.Reader
}

// Keypair is a secp256k1 key pair used for BIP-340 signatures and NIP-44 ECDH.
// The secret scalar is never exported; callers sign and derive conversation
// keys through methods.
type Keypair struct {
	mu   sync.RWMutex
	priv *btcec.PrivateKey

	// PublicKey is the 32-byte x-only public key.
	PublicKey [PublicKeySize]byte
	// PublicKeyHex is the public key encoded as lowercase hex.
	PublicKeyHex string
}

// GenerateKeypair creates a new random keypair.
func GenerateKeypair() (*Keypair, error) {
	buf := make([]byte, SecretKeySize)
	defer zero(buf)

	for i := 0; i < maxKeygenAttempts; i++ {
		if _, err := io.ReadFull(entropy(), buf); err != nil {
			return nil, fmt.Errorf("read entropy: %w", err)
		}
		kp, err := KeypairFromSecretKey(buf)
		if err == nil {
			return kp, nil
		}
	}
	return nil, ErrKeyGeneration
}

// KeypairFromSecretKey reconstructs a keypair from a 32-byte secret scalar.
// The scalar must be in [1, n-1]; it is not reduced modulo the curve order.
func KeypairFromSecretKey(secretKey []byte) (*Keypair, error) {
	if len(secretKey) != SecretKeySize {
		return nil, ErrInvalidSecretKeySize
	}

	var s btcec.ModNScalar
	overflow := s.SetByteSlice(secretKey)
	valid := !overflow && !s.IsZero()
	s.Zero()
	if !valid {
		return nil, ErrInvalidSecretKey
	}

	priv, pub := btcec.PrivKeyFromBytes(secretKey)

	kp := &Keypair{priv: priv}
	copy(kp.PublicKey[:], schnorr.SerializePubKey(pub))
	kp.PublicKeyHex = hex.EncodeToString(kp.PublicKey[:])
	return kp, nil
}

// KeypairFromSecretHex reconstructs a keypair from a hex-encoded secret key.
func KeypairFromSecretHex(secretHex string) (*Keypair, error) {
	raw, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("%w: not hex", ErrInvalidSecretKey)
	}
	defer zero(raw)
	return KeypairFromSecretKey(raw)
}

// Sign produces a BIP-340 Schnorr signature over a 32-byte hash.
func (k *Keypair) Sign(hash []byte) ([]byte, error) {
	if len(hash) != HashSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidHashSize, len(hash), HashSize)
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.priv == nil {
		return nil, ErrKeyZeroed
	}

	sig, err := schnorr.Sign(k.priv, hash)
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}

// ConversationKey derives the NIP-44 conversation key shared with peer.
func (k *Keypair) ConversationKey(peer []byte) ([]byte, error) {
	pub, err := ParsePublicKey(peer)
	if err != nil {
		return nil, err
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.priv == nil {
		return nil, ErrKeyZeroed
	}
	return conversationKey(k.priv, pub), nil
}

// ConversationKeyHex is ConversationKey for a hex-encoded peer public key.
func (k *Keypair) ConversationKeyHex(peerHex string) ([]byte, error) {
	peer, err := DecodePublicKeyHex(peerHex)
	if err != nil {
		return nil, err
	}
	return k.ConversationKey(peer)
}

// Zero wipes the secret scalar. The keypair is unusable afterwards.
func (k *Keypair) Zero() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.priv != nil {
		k.priv.Zero()
		k.priv = nil
	}
}

// secretBytes returns a copy of the secret scalar for sealing into a key
// envelope. Callers must zero the result.
func (k *Keypair) secretBytes() ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.priv == nil {
		return nil, ErrKeyZeroed
	}
	return k.priv.Serialize(), nil
}

// ParsePublicKey parses a 32-byte x-only public key and checks it lies on the curve.
func ParsePublicKey(raw []byte) (*btcec.PublicKey, error) {
	if len(raw) != PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPublicKey, len(raw), PublicKeySize)
	}
	pub, err := schnorr.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: not on curve", ErrInvalidPublicKey)
	}
	return pub, nil
}

// DecodePublicKeyHex decodes a 64-character lowercase hex public key and
// checks it lies on the curve.
func DecodePublicKeyHex(s string) ([]byte, error) {
	if len(s) != 2*PublicKeySize || !isLowerHex(s) {
		return nil, fmt.Errorf("%w: want %d lowercase hex characters", ErrInvalidPublicKey, 2*PublicKeySize)
	}
	raw, _ := hex.DecodeString(s)
	if _, err := ParsePublicKey(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ValidatePublicKeyHex reports whether s is a well-formed x-only public key.
func ValidatePublicKeyHex(s string) bool {
	_, err := DecodePublicKeyHex(s)
	return err == nil
}

// Verify verifies a BIP-340 signature over hash against an x-only public key.
func Verify(publicKey, hash, signature []byte) error {
	if len(hash) != HashSize {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidHashSize, len(hash), HashSize)
	}
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return err
	}
	if len(signature) != SignatureSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSignature, len(signature), SignatureSize)
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !sig.Verify(hash, pub) {
		return ErrSignatureVerificationFailed
	}
	return nil
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
