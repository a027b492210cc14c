package event

import (
	"encoding/json"
	"fmt"
)

// Event kinds used by diary sharing.
const (
	// KindSeal is the NIP-59 seal wrapping an encrypted rumor.
	KindSeal = 13
	// KindGiftWrap is the NIP-59 gift wrap wrapping an encrypted seal.
	KindGiftWrap = 1059
	// KindDiaryEntry is the parameterized replaceable kind for diary entries.
	// The "d" tag carries the entry day.
	KindDiaryEntry = 30027
)

// maxKind is the largest kind number a relay accepts.
const maxKind = 65535

// Event is a Nostr event. Hex fields are lowercase on the wire.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig,omitempty"`
}

// Tag is a single tag: a name followed by values.
type Tag []string

// Name returns the tag name, or "" for an empty tag.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the first value after the name, or "".
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Tags is an ordered tag list. Order is significant: it is part of the
// signed event id.
type Tags []Tag

// Find returns the first tag with the given name, or nil.
func (t Tags) Find(name string) Tag {
	for _, tag := range t {
		if tag.Name() == name {
			return tag
		}
	}
	return nil
}

// Value returns the first value of the first tag with the given name.
func (t Tags) Value(name string) string {
	return t.Find(name).Value()
}

// Clone returns a deep copy of the tags.
func (t Tags) Clone() Tags {
	if t == nil {
		return nil
	}
	out := make(Tags, len(t))
	for i, tag := range t {
		out[i] = append(Tag(nil), tag...)
	}
	return out
}

// MarshalJSON writes the wire form using the same string escaping as the id
// serialization. Sig is omitted when empty, as for rumors.
func (e Event) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 256+len(e.Content))
	buf = append(buf, `{"id":`...)
	buf = appendString(buf, e.ID)
	buf = append(buf, `,"pubkey":`...)
	buf = appendString(buf, e.PubKey)
	buf = append(buf, `,"created_at":`...)
	buf = appendInt(buf, e.CreatedAt)
	buf = append(buf, `,"kind":`...)
	buf = appendInt(buf, int64(e.Kind))
	buf = append(buf, `,"tags":`...)
	buf = appendTags(buf, e.Tags)
	buf = append(buf, `,"content":`...)
	buf = appendString(buf, e.Content)
	if e.Sig != "" {
		buf = append(buf, `,"sig":`...)
		buf = appendString(buf, e.Sig)
	}
	buf = append(buf, '}')
	return buf, nil
}

// String returns the wire JSON.
func (e *Event) String() string {
	b, _ := e.MarshalJSON()
	return string(b)
}

// Parse decodes an event from untrusted JSON and checks its field shapes.
// It does not check the id or signature; use CheckSignature for that.
func Parse(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := ev.checkShape(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// ParseString is Parse for a string.
func ParseString(s string) (*Event, error) {
	return Parse([]byte(s))
}

func (e *Event) checkShape() error {
	if !isHex(e.ID, 64) {
		return fmt.Errorf("%w: id must be 64 lowercase hex characters", ErrMalformed)
	}
	if !isHex(e.PubKey, 64) {
		return fmt.Errorf("%w: pubkey must be 64 lowercase hex characters", ErrMalformed)
	}
	if e.Sig != "" && !isHex(e.Sig, 128) {
		return fmt.Errorf("%w: sig must be 128 lowercase hex characters", ErrMalformed)
	}
	if e.Kind < 0 || e.Kind > maxKind {
		return fmt.Errorf("%w: kind %d out of range", ErrMalformed, e.Kind)
	}
	if e.CreatedAt < 0 {
		return fmt.Errorf("%w: negative created_at", ErrMalformed)
	}
	return nil
}

func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
