package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/chacha20"
)

// messageKeys holds the per-message key material derived from a conversation
// key and nonce.
type messageKeys struct {
	chachaKey   []byte
	chachaNonce []byte
	hmacKey     []byte
}

func (m *messageKeys) zero() {
	zero(m.chachaKey)
	zero(m.chachaNonce)
	zero(m.hmacKey)
}

// ConversationKey derives the NIP-44 v2 conversation key between a secret key
// and a peer's x-only public key. The result is symmetric: both parties derive
// the same value.
func ConversationKey(secretKey, peerPublicKey []byte) ([]byte, error) {
	kp, err := KeypairFromSecretKey(secretKey)
	if err != nil {
		return nil, err
	}
	defer kp.Zero()
	return kp.ConversationKey(peerPublicKey)
}

func conversationKey(priv *btcec.PrivateKey, pub *btcec.PublicKey) []byte {
	shared := btcec.GenerateSharedSecret(priv, pub)
	defer zero(shared)
	return extractKey(shared, []byte(nip44Salt))
}

func deriveMessageKeys(convKey, nonce []byte) (*messageKeys, error) {
	if len(convKey) != ConversationKeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(convKey), ConversationKeySize)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidNonceSize, len(nonce), NonceSize)
	}

	keys, err := expandKey(convKey, nonce, messageKeysSize)
	if err != nil {
		return nil, err
	}
	return &messageKeys{
		chachaKey:   keys[0:32],
		chachaNonce: keys[32:44],
		hmacKey:     keys[44:76],
	}, nil
}

// Encrypt encrypts plaintext under a conversation key and returns the base64
// NIP-44 v2 payload. A fresh random nonce is drawn for every call.
func Encrypt(plaintext, convKey []byte) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(entropy(), nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return encryptWithNonce(plaintext, convKey, nonce)
}

func encryptWithNonce(plaintext, convKey, nonce []byte) (string, error) {
	mk, err := deriveMessageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}
	defer mk.zero()

	padded, err := pad(plaintext)
	if err != nil {
		return "", err
	}

	cipher, err := chacha20.NewUnauthenticatedCipher(mk.chachaKey, mk.chachaNonce)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	ciphertext := make([]byte, len(padded))
	cipher.XORKeyStream(ciphertext, padded)
	zero(padded)

	mac := computeMAC(mk.hmacKey, nonce, ciphertext)

	out := make([]byte, 0, 1+NonceSize+len(ciphertext)+MACSize)
	out = append(out, NIP44Version)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	out = append(out, mac...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt authenticates and decrypts a NIP-44 v2 payload. The MAC is checked
// in constant time before any decryption; no plaintext is returned on failure.
// Every returned error matches ErrDecryptionFailed.
func Decrypt(payload string, convKey []byte) ([]byte, error) {
	plaintext, err := decrypt(payload, convKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

func decrypt(payload string, convKey []byte) ([]byte, error) {
	if len(convKey) != ConversationKeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(convKey), ConversationKeySize)
	}
	if len(payload) > 0 && payload[0] == '#' {
		return nil, ErrUnsupportedVersion
	}
	if len(payload) < minPayloadSize || len(payload) > maxPayloadSize {
		return nil, fmt.Errorf("%w: payload length %d", ErrInvalidPayload, len(payload))
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64", ErrInvalidPayload)
	}
	if len(data) < minDecodedSize || len(data) > maxDecodedSize {
		return nil, fmt.Errorf("%w: decoded length %d", ErrInvalidPayload, len(data))
	}
	if data[0] != NIP44Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, data[0])
	}

	nonce := data[1 : 1+NonceSize]
	ciphertext := data[1+NonceSize : len(data)-MACSize]
	mac := data[len(data)-MACSize:]

	mk, err := deriveMessageKeys(convKey, nonce)
	if err != nil {
		return nil, err
	}
	defer mk.zero()

	expected := computeMAC(mk.hmacKey, nonce, ciphertext)
	if subtle.ConstantTimeCompare(expected, mac) != 1 {
		return nil, ErrInvalidMAC
	}

	cipher, err := chacha20.NewUnauthenticatedCipher(mk.chachaKey, mk.chachaNonce)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	padded := make([]byte, len(ciphertext))
	cipher.XORKeyStream(padded, ciphertext)
	defer zero(padded)

	return unpad(padded)
}

func computeMAC(key, nonce, ciphertext []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(nonce)
	h.Write(ciphertext)
	return h.Sum(nil)
}

// calcPaddedLen returns the padded size for an unpadded plaintext length.
// Lengths up to 32 pad to 32; above that, padding grows in chunks of 32 up to
// 256 bytes and in eighths of the next power of two beyond.
func calcPaddedLen(n int) int {
	if n <= 32 {
		return 32
	}
	nextPower := 1 << bits.Len(uint(n-1))
	chunk := 32
	if nextPower > 256 {
		chunk = nextPower / 8
	}
	return chunk * ((n-1)/chunk + 1)
}

func pad(plaintext []byte) ([]byte, error) {
	n := len(plaintext)
	if n < MinPlaintextSize || n > MaxPlaintextSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidPlaintextSize, n)
	}
	out := make([]byte, 2+calcPaddedLen(n))
	binary.BigEndian.PutUint16(out, uint16(n))
	copy(out[2:], plaintext)
	return out, nil
}

func unpad(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, ErrInvalidPadding
	}
	n := int(binary.BigEndian.Uint16(padded))
	if n < MinPlaintextSize || 2+n > len(padded) || len(padded) != 2+calcPaddedLen(n) {
		return nil, ErrInvalidPadding
	}
	out := make([]byte, n)
	copy(out, padded[2:2+n])
	return out, nil
}
