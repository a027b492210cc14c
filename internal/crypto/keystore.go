package crypto

import (
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	keyEnvelopeVersion = 1
	kdfArgon2id        = "argon2id"
	saltSize           = 16
)

// KDFParams are the argon2id cost parameters for a key envelope.
type KDFParams struct {
	Time     uint32
	MemoryKB uint32
	Threads  uint8
}

// DefaultKDFParams are used by SealKeypair.
var DefaultKDFParams = KDFParams{Time: 2, MemoryKB: 64 * 1024, Threads: 1}

// KeyEnvelope is a passphrase-encrypted secret key as stored on disk.
// The public key is kept in the clear so an identity can be displayed without
// the passphrase, and is bound to the ciphertext as additional data.
type KeyEnvelope struct {
	Version     int    `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
	PublicKey   string `json:"public_key"`
}

// SealKeypair encrypts the keypair's secret under passphrase.
func SealKeypair(kp *Keypair, passphrase []byte) (*KeyEnvelope, error) {
	return SealKeypairWithParams(kp, passphrase, DefaultKDFParams)
}

// SealKeypairWithParams is SealKeypair with explicit argon2id costs.
func SealKeypairWithParams(kp *Keypair, passphrase []byte, params KDFParams) (*KeyEnvelope, error) {
	secret, err := kp.secretBytes()
	if err != nil {
		return nil, err
	}
	defer zero(secret)

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(entropy(), salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	key := argon2.IDKey(passphrase, salt, params.Time, params.MemoryKB, params.Threads, chacha20poly1305.KeySize)
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(entropy(), nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &KeyEnvelope{
		Version:     keyEnvelopeVersion,
		KDF:         kdfArgon2id,
		KDFTime:     params.Time,
		KDFMemoryKB: params.MemoryKB,
		KDFThreads:  params.Threads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  aead.Seal(nil, nonce, secret, []byte(kp.PublicKeyHex)),
		PublicKey:   kp.PublicKeyHex,
	}, nil
}

// OpenKeypair decrypts an envelope and rebuilds the keypair. It fails if the
// recovered secret does not match the recorded public key.
func OpenKeypair(env *KeyEnvelope, passphrase []byte) (*Keypair, error) {
	if env.Version != keyEnvelopeVersion {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedEnvelope, env.Version)
	}
	if env.KDF != kdfArgon2id {
		return nil, fmt.Errorf("%w: kdf %q", ErrUnsupportedEnvelope, env.KDF)
	}
	if len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: nonce size %d", ErrUnsupportedEnvelope, len(env.Nonce))
	}

	key := argon2.IDKey(passphrase, env.Salt, env.KDFTime, env.KDFMemoryKB, env.KDFThreads, chacha20poly1305.KeySize)
	defer zero(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	secret, err := aead.Open(nil, env.Nonce, env.Ciphertext, []byte(env.PublicKey))
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	defer zero(secret)

	kp, err := KeypairFromSecretKey(secret)
	if err != nil {
		return nil, err
	}
	if kp.PublicKeyHex != env.PublicKey {
		kp.Zero()
		return nil, fmt.Errorf("%w: public key mismatch", ErrWrongPassphrase)
	}
	return kp, nil
}
