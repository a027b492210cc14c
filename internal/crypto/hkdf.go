package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// extractKey runs HKDF-Extract with SHA-256 and returns the pseudorandom key.
func extractKey(secret, salt []byte) []byte {
	return hkdf.Extract(sha256.New, secret, salt)
}

// expandKey runs HKDF-Expand with SHA-256, reading length bytes of output.
func expandKey(prk, info []byte, length int) ([]byte, error) {
	reader := hkdf.Expand(sha256.New, prk, info)
	key := make([]byte, length)

	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to expand key: %w", err)
	}

	return key, nil
}
