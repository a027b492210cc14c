package crypto

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

const (
	vectorConversationKey = "c41c775356fd92eadc63ff5a0dc1da211b268cbea22316767095b2871ea1412d"
	vectorPayload         = "AgAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAABee0G5VSK0/9YypIObAtDKfYEAjD35uVkHyB0F4DwrcNaCXlCWZKaArsGrY6M9wnuTMxWfp1RTN9Xga8no+kF5Vsb"
)

func vectorKeys(t *testing.T) (*Keypair, *Keypair) {
	t.Helper()
	kp1, err := KeypairFromSecretKey(secretFromInt(1))
	if err != nil {
		t.Fatalf("KeypairFromSecretKey(1) error = %v", err)
	}
	kp2, err := KeypairFromSecretKey(secretFromInt(2))
	if err != nil {
		t.Fatalf("KeypairFromSecretKey(2) error = %v", err)
	}
	return kp1, kp2
}

func TestConversationKey_Vector(t *testing.T) {
	kp1, kp2 := vectorKeys(t)

	k12, err := kp1.ConversationKey(kp2.PublicKey[:])
	if err != nil {
		t.Fatalf("ConversationKey() error = %v", err)
	}
	if got := hex.EncodeToString(k12); got != vectorConversationKey {
		t.Errorf("conversation key = %s, want %s", got, vectorConversationKey)
	}

	k21, err := ConversationKey(secretFromInt(2), kp1.PublicKey[:])
	if err != nil {
		t.Fatalf("ConversationKey() error = %v", err)
	}
	if !bytes.Equal(k12, k21) {
		t.Error("conversation key is not symmetric")
	}
}

func TestConversationKey_InvalidPeer(t *testing.T) {
	kp1, _ := vectorKeys(t)
	if _, err := kp1.ConversationKey(make([]byte, 31)); !errors.Is(err, ErrInvalidPublicKey) {
		t.Errorf("expected ErrInvalidPublicKey, got %v", err)
	}
	if _, err := kp1.ConversationKeyHex("not-a-key"); !errors.Is(err, ErrInvalidPublicKey) {
		t.Errorf("expected ErrInvalidPublicKey, got %v", err)
	}
}

func TestEncrypt_Vector(t *testing.T) {
	convKey := mustHex(t, vectorConversationKey)
	nonce := secretFromInt(1)

	payload, err := encryptWithNonce([]byte("a"), convKey, nonce)
	if err != nil {
		t.Fatalf("encryptWithNonce() error = %v", err)
	}
	if payload != vectorPayload {
		t.Errorf("payload = %s\nwant      %s", payload, vectorPayload)
	}

	plaintext, err := Decrypt(vectorPayload, convKey)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(plaintext) != "a" {
		t.Errorf("plaintext = %q, want %q", plaintext, "a")
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	kp1, kp2 := vectorKeys(t)
	convKey, _ := kp1.ConversationKey(kp2.PublicKey[:])

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"single byte", []byte("x")},
		{"chinese", []byte("今天天气很好")},
		{"exactly 32", bytes.Repeat([]byte("b"), 32)},
		{"33 bytes", bytes.Repeat([]byte("c"), 33)},
		{"json", []byte(`{"content":"<b>&\"quoted\"</b>\n"}`)},
		{"max size", bytes.Repeat([]byte{0x7a}, MaxPlaintextSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Encrypt(tt.plaintext, convKey)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			got, err := Decrypt(payload, convKey)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(got, tt.plaintext) {
				t.Error("round trip mismatch")
			}
		})
	}
}

func TestEncrypt_FreshNonce(t *testing.T) {
	convKey := mustHex(t, vectorConversationKey)
	a, _ := Encrypt([]byte("same"), convKey)
	b, _ := Encrypt([]byte("same"), convKey)
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical payloads")
	}
}

func TestEncrypt_InvalidInput(t *testing.T) {
	convKey := mustHex(t, vectorConversationKey)

	tests := []struct {
		name      string
		plaintext []byte
		key       []byte
		want      error
	}{
		{"empty plaintext", nil, convKey, ErrInvalidPlaintextSize},
		{"too large", make([]byte, MaxPlaintextSize+1), convKey, ErrInvalidPlaintextSize},
		{"short key", []byte("a"), convKey[:16], ErrInvalidKeySize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encrypt(tt.plaintext, tt.key)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func rewritePayload(t *testing.T, payload string, mutate func([]byte)) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	mutate(raw)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestDecrypt_Failures(t *testing.T) {
	convKey := mustHex(t, vectorConversationKey)
	otherKey := bytes.Repeat([]byte{0x11}, ConversationKeySize)

	tests := []struct {
		name    string
		payload string
		key     []byte
		want    error
	}{
		{"future version marker", "#" + vectorPayload[1:], convKey, ErrUnsupportedVersion},
		{"version byte", rewritePayload(t, vectorPayload, func(b []byte) { b[0] = 1 }), convKey, ErrUnsupportedVersion},
		{"too short", vectorPayload[:100], convKey, ErrInvalidPayload},
		{"too long", strings.Repeat("A", maxPayloadSize+4), convKey, ErrInvalidPayload},
		{"bad base64", "!" + vectorPayload[1:], convKey, ErrInvalidPayload},
		{"flipped ciphertext", rewritePayload(t, vectorPayload, func(b []byte) { b[40] ^= 0x01 }), convKey, ErrInvalidMAC},
		{"flipped mac", rewritePayload(t, vectorPayload, func(b []byte) { b[len(b)-1] ^= 0x80 }), convKey, ErrInvalidMAC},
		{"flipped nonce", rewritePayload(t, vectorPayload, func(b []byte) { b[5] ^= 0x04 }), convKey, ErrInvalidMAC},
		{"wrong key", vectorPayload, otherKey, ErrInvalidMAC},
		{"short key", vectorPayload, convKey[:31], ErrInvalidKeySize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decrypt(tt.payload, tt.key)
			if got != nil {
				t.Errorf("Decrypt() returned %d bytes on failure", len(got))
			}
			if !errors.Is(err, ErrDecryptionFailed) {
				t.Errorf("expected ErrDecryptionFailed, got %v", err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecrypt_CrossKey(t *testing.T) {
	kp1, kp2 := vectorKeys(t)
	kp3, _ := KeypairFromSecretKey(secretFromInt(3))

	k12, _ := kp1.ConversationKey(kp2.PublicKey[:])
	k13, _ := kp1.ConversationKey(kp3.PublicKey[:])

	payload, err := Encrypt([]byte("for two only"), k12)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := Decrypt(payload, k13); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestCalcPaddedLen(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{16, 32}, {32, 32}, {33, 64}, {37, 64}, {45, 64}, {49, 64}, {64, 64},
		{65, 96}, {100, 128}, {111, 128}, {200, 224}, {250, 256}, {320, 320},
		{383, 384}, {384, 384}, {400, 448}, {500, 512}, {512, 512}, {515, 640},
		{700, 768}, {800, 896}, {900, 1024}, {1020, 1024}, {65536, 65536},
	}

	for _, tt := range tests {
		if got := calcPaddedLen(tt.in); got != tt.want {
			t.Errorf("calcPaddedLen(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestUnpad_Invalid(t *testing.T) {
	valid, _ := pad([]byte("hello"))

	zeroLen := append([]byte(nil), valid...)
	binary.BigEndian.PutUint16(zeroLen, 0)

	overLen := append([]byte(nil), valid...)
	binary.BigEndian.PutUint16(overLen, 40)

	tests := []struct {
		name   string
		padded []byte
	}{
		{"empty", nil},
		{"one byte", []byte{0}},
		{"zero length", zeroLen},
		{"length exceeds bucket", overLen},
		{"truncated", valid[:len(valid)-1]},
		{"extended", append(append([]byte(nil), valid...), 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := unpad(tt.padded); !errors.Is(err, ErrInvalidPadding) {
				t.Errorf("expected ErrInvalidPadding, got %v", err)
			}
		})
	}

	got, err := unpad(valid)
	if err != nil || string(got) != "hello" {
		t.Errorf("unpad(valid) = %q, %v", got, err)
	}
}

func BenchmarkEncrypt(b *testing.B) {
	convKey := bytes.Repeat([]byte{0x01}, ConversationKeySize)
	msg := bytes.Repeat([]byte("diary "), 200)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := Encrypt(msg, convKey); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecrypt(b *testing.B) {
	convKey := bytes.Repeat([]byte{0x01}, ConversationKeySize)
	payload, _ := Encrypt(bytes.Repeat([]byte("diary "), 200), convKey)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := Decrypt(payload, convKey); err != nil {
			b.Fatal(err)
		}
	}
}
