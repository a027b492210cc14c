package event

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/luxundiary/nostrdiary-go/internal/crypto"
)

const hexDigits = "0123456789abcdef"

// Serialize returns the canonical NIP-01 form
// [0,pubkey,created_at,kind,tags,content] that is hashed into the event id.
func Serialize(pubkey string, createdAt int64, kind int, tags Tags, content string) []byte {
	buf := make([]byte, 0, 128+len(content))
	buf = append(buf, "[0,"...)
	buf = appendString(buf, pubkey)
	buf = append(buf, ',')
	buf = appendInt(buf, createdAt)
	buf = append(buf, ',')
	buf = appendInt(buf, int64(kind))
	buf = append(buf, ',')
	buf = appendTags(buf, tags)
	buf = append(buf, ',')
	buf = appendString(buf, content)
	buf = append(buf, ']')
	return buf
}

// ComputeID returns the lowercase hex SHA-256 of the canonical serialization.
func ComputeID(pubkey string, createdAt int64, kind int, tags Tags, content string) string {
	sum := sha256.Sum256(Serialize(pubkey, createdAt, kind, tags, content))
	return hex.EncodeToString(sum[:])
}

// Serialize returns the canonical form of e.
func (e *Event) Serialize() []byte {
	return Serialize(e.PubKey, e.CreatedAt, e.Kind, e.Tags, e.Content)
}

// ComputeID returns the id e should carry given its current fields.
func (e *Event) ComputeID() string {
	return ComputeID(e.PubKey, e.CreatedAt, e.Kind, e.Tags, e.Content)
}

// CheckID reports whether e.ID matches its fields.
func (e *Event) CheckID() bool {
	return e.ID == e.ComputeID()
}

// ValidatePubkey reports whether s is exactly 64 lowercase hex characters
// encoding a valid x-only secp256k1 point.
func ValidatePubkey(s string) bool {
	return crypto.ValidatePublicKeyHex(s)
}

func appendInt(buf []byte, n int64) []byte {
	return strconv.AppendInt(buf, n, 10)
}

func appendTags(buf []byte, tags Tags) []byte {
	buf = append(buf, '[')
	for i, tag := range tags {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '[')
		for j, v := range tag {
			if j > 0 {
				buf = append(buf, ',')
			}
			buf = appendString(buf, v)
		}
		buf = append(buf, ']')
	}
	return append(buf, ']')
}

// appendString writes s as a JSON string with NIP-01 escaping: quote,
// backslash and the control characters \n \r \t \b \f get short escapes,
// other bytes below 0x20 become \u00XX, everything else is written raw.
func appendString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c != '"' && c != '\\' {
			continue
		}
		buf = append(buf, s[start:i]...)
		switch c {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		case '\b':
			buf = append(buf, '\\', 'b')
		case '\f':
			buf = append(buf, '\\', 'f')
		default:
			buf = append(buf, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
		}
		start = i + 1
	}
	buf = append(buf, s[start:]...)
	return append(buf, '"')
}
