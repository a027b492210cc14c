package crypto

const (
	// SecretKeySize is the size of a secp256k1 secret scalar in bytes.
	SecretKeySize = 32
	// PublicKeySize is the size of an x-only (BIP-340) public key in bytes.
	PublicKeySize = 32
	// SignatureSize is the size of a BIP-340 Schnorr signature in bytes.
	SignatureSize = 64
	// HashSize is the size of the message hash that gets signed.
	HashSize = 32

	// ConversationKeySize is the size of a NIP-44 conversation key in bytes.
	ConversationKeySize = 32
	// NonceSize is the size of the per-message NIP-44 nonce in bytes.
	NonceSize = 32
	// MACSize is the size of the HMAC-SHA256 tag appended to each payload.
	MACSize = 32

	// MinPlaintextSize is the smallest plaintext NIP-44 will encrypt.
	MinPlaintextSize = 1
	// MaxPlaintextSize is the largest plaintext NIP-44 will encrypt.
	MaxPlaintextSize = 65535

	// NIP44Version is the version byte prefixed to every payload.
	NIP44Version byte = 2

	// nip44Salt is the HKDF-extract salt used to derive conversation keys.
	nip44Salt = "nip44-v2"

	// messageKeysSize is chacha key (32) || chacha nonce (12) || hmac key (32).
	messageKeysSize = 76

	// Base64 payload bounds for version 2.
	minPayloadSize = 132
	maxPayloadSize = 87472

	// Decoded payload bounds: version || nonce || ciphertext (>= 34) || mac.
	minDecodedSize = 99
	maxDecodedSize = 65603
)

// AlgsCiphersuite is the canonical string representation of the algorithm suite.
var AlgsCiphersuite = "secp256k1:BIP-340:NIP-44-v2(ChaCha20:HMAC-SHA256:HKDF-SHA256)"
