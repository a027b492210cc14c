package crypto

import "errors"

var (
	// ErrInvalidSecretKeySize is returned when the secret key size is invalid.
	ErrInvalidSecretKeySize = errors.New("invalid secret key size")

	// ErrInvalidSecretKey is returned when the secret key is zero or not below the curve order.
	ErrInvalidSecretKey = errors.New("invalid secret key")

	// ErrInvalidPublicKey is returned when a public key is malformed or not on the curve.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidHashSize is returned when a message hash is not 32 bytes.
	ErrInvalidHashSize = errors.New("invalid message hash size")

	// ErrInvalidSignature is returned when a signature cannot be parsed.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrSignatureVerificationFailed is returned when signature verification fails.
	ErrSignatureVerificationFailed = errors.New("signature verification failed")

	// ErrKeyGeneration is returned when no valid key could be drawn from the entropy source.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrKeyZeroed is returned when a keypair is used after Zero.
	ErrKeyZeroed = errors.New("keypair has been zeroed")

	// ErrDecryptionFailed is returned when decryption fails.
	// Every error returned by Decrypt matches it.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidKeySize is returned when the conversation key size is invalid.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidNonceSize is returned when the nonce size is invalid.
	ErrInvalidNonceSize = errors.New("invalid nonce size")

	// ErrInvalidPayload is returned when the encrypted payload structure is invalid.
	// This includes bad base64 and out-of-range lengths.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrUnsupportedVersion is returned when the payload version byte is not 2.
	ErrUnsupportedVersion = errors.New("unsupported encryption version")

	// ErrInvalidMAC is returned when the payload authentication tag does not match.
	ErrInvalidMAC = errors.New("invalid MAC")

	// ErrInvalidPadding is returned when the decrypted padding is inconsistent.
	ErrInvalidPadding = errors.New("invalid padding")

	// ErrInvalidPlaintextSize is returned when the plaintext is empty or too large.
	ErrInvalidPlaintextSize = errors.New("invalid plaintext size")

	// ErrInvalidMnemonic is returned when a BIP-39 mnemonic fails validation.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")

	// ErrUnsupportedEnvelope is returned for key envelopes with an unknown version or KDF.
	ErrUnsupportedEnvelope = errors.New("unsupported key envelope")

	// ErrWrongPassphrase is returned when a key envelope fails to open.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted key envelope")
)
