// Package crypto provides the cryptographic primitives for Nostr diary
// sharing: secp256k1 keys, BIP-340 Schnorr signatures and NIP-44 v2
// encryption.
//
// # Algorithm Suite
//
//   - secp256k1 with x-only public keys (BIP-340). Keys sign event ids and
//     drive the ECDH exchange behind NIP-44.
//
//   - NIP-44 v2: the conversation key is HKDF-Extract(SHA-256, "nip44-v2",
//     ECDH x coordinate). Each message derives ChaCha20 and HMAC-SHA256 keys
//     from the conversation key and a fresh 32-byte nonce.
//
//   - argon2id and XChaCha20-Poly1305 seal secret keys at rest in a
//     [KeyEnvelope].
//
//   - BIP-39 and BIP-32 derive NIP-06 keys from a mnemonic.
//
// # Payload Format
//
// A NIP-44 payload is standard base64 of
//
//	version (0x02) || nonce (32) || ciphertext || mac (32)
//
// The plaintext is prefixed with its big-endian u16 length and zero padded
// to a bucket size before encryption, so ciphertext length reveals only a
// coarse size class. Plaintexts must be 1 to 65535 bytes.
//
// [Decrypt] verifies the MAC in constant time before decrypting and returns
// errors matching [ErrDecryptionFailed]. It never returns unauthenticated
// plaintext.
//
// # Key Management
//
// [Keypair] keeps its secret scalar unexported. Callers sign with
// [Keypair.Sign] and derive shared keys with [Keypair.ConversationKey];
// [Keypair.Zero] wipes the scalar when the key is no longer needed.
package crypto
