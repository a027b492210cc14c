package relay

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/luxundiary/nostrdiary-go/internal/event"
)

// Message labels of the NIP-01 relay protocol.
const (
	labelEvent  = "EVENT"
	labelReq    = "REQ"
	labelClose  = "CLOSE"
	labelOK     = "OK"
	labelEOSE   = "EOSE"
	labelClosed = "CLOSED"
	labelNotice = "NOTICE"
	labelAuth   = "AUTH"
)

// duplicatePrefix marks an OK false for an event the relay already has.
const duplicatePrefix = "duplicate:"

// Filter selects events in a REQ. Tags maps a single-letter tag name to the
// accepted values and is encoded as "#<name>".
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Tags    map[string][]string
	Since   int64
	Until   int64
	Limit   int
}

// GiftWrapsFor returns the filter for gift wraps addressed to pubkey.
func GiftWrapsFor(pubkey string, since int64) Filter {
	return Filter{
		Kinds: []int{event.KindGiftWrap},
		Tags:  map[string][]string{"p": {pubkey}},
		Since: since,
	}
}

// MarshalJSON encodes the filter in wire form, omitting empty fields.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]any)
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	for name, values := range f.Tags {
		m["#"+name] = values
	}
	if f.Since > 0 {
		m["since"] = f.Since
	}
	if f.Until > 0 {
		m["until"] = f.Until
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes a wire filter.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = Filter{}
	for key, value := range raw {
		var err error
		switch {
		case key == "ids":
			err = json.Unmarshal(value, &f.IDs)
		case key == "authors":
			err = json.Unmarshal(value, &f.Authors)
		case key == "kinds":
			err = json.Unmarshal(value, &f.Kinds)
		case key == "since":
			err = json.Unmarshal(value, &f.Since)
		case key == "until":
			err = json.Unmarshal(value, &f.Until)
		case key == "limit":
			err = json.Unmarshal(value, &f.Limit)
		case strings.HasPrefix(key, "#") && len(key) > 1:
			var values []string
			if err = json.Unmarshal(value, &values); err == nil {
				if f.Tags == nil {
					f.Tags = make(map[string][]string)
				}
				f.Tags[key[1:]] = values
			}
		}
		if err != nil {
			return fmt.Errorf("filter field %q: %w", key, err)
		}
	}
	return nil
}

// Matches reports whether ev satisfies every constraint of f.
func (f Filter) Matches(ev *event.Event) bool {
	if len(f.IDs) > 0 && !contains(f.IDs, ev.ID) {
		return false
	}
	if len(f.Authors) > 0 && !contains(f.Authors, ev.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, ev.Kind) {
		return false
	}
	if f.Since > 0 && ev.CreatedAt < f.Since {
		return false
	}
	if f.Until > 0 && ev.CreatedAt > f.Until {
		return false
	}
	for name, values := range f.Tags {
		found := false
		for _, tag := range ev.Tags {
			if tag.Name() == name && contains(values, tag.Value()) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsInt(list []int, n int) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}

// encodeEvent returns ["EVENT",<event>] using the event's canonical escaping.
func encodeEvent(ev *event.Event) ([]byte, error) {
	body, err := ev.MarshalJSON()
	if err != nil {
		return nil, err
	}
	msg := make([]byte, 0, len(body)+10)
	msg = append(msg, `["EVENT",`...)
	msg = append(msg, body...)
	return append(msg, ']'), nil
}

func encodeReq(subID string, filters ...Filter) ([]byte, error) {
	parts := make([]any, 0, 2+len(filters))
	parts = append(parts, labelReq, subID)
	for _, f := range filters {
		parts = append(parts, f)
	}
	return json.Marshal(parts)
}

func encodeClose(subID string) ([]byte, error) {
	return json.Marshal([]string{labelClose, subID})
}

// envelope is a decoded relay-to-client message.
type envelope struct {
	label string
	// subID is the subscription id for EVENT, EOSE and CLOSED.
	subID string
	// eventID and accepted are set for OK.
	eventID  string
	accepted bool
	// message is the OK, CLOSED or NOTICE text.
	message string
	// raw is the event JSON for EVENT.
	raw json.RawMessage
}

func decodeEnvelope(data []byte) (*envelope, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("not a JSON array: %v", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty message")
	}
	env := &envelope{}
	if err := json.Unmarshal(parts[0], &env.label); err != nil {
		return nil, fmt.Errorf("label is not a string")
	}

	str := func(i int, dst *string) error {
		if i >= len(parts) {
			return fmt.Errorf("%s: missing element %d", env.label, i)
		}
		if err := json.Unmarshal(parts[i], dst); err != nil {
			return fmt.Errorf("%s: element %d is not a string", env.label, i)
		}
		return nil
	}

	switch env.label {
	case labelEvent:
		if err := str(1, &env.subID); err != nil {
			return nil, err
		}
		if len(parts) < 3 {
			return nil, fmt.Errorf("EVENT: missing event")
		}
		env.raw = parts[2]
	case labelOK:
		if err := str(1, &env.eventID); err != nil {
			return nil, err
		}
		if len(parts) < 3 || json.Unmarshal(parts[2], &env.accepted) != nil {
			return nil, fmt.Errorf("OK: element 2 is not a boolean")
		}
		if len(parts) > 3 {
			if err := str(3, &env.message); err != nil {
				return nil, err
			}
		}
	case labelEOSE:
		if err := str(1, &env.subID); err != nil {
			return nil, err
		}
	case labelClosed:
		if err := str(1, &env.subID); err != nil {
			return nil, err
		}
		if len(parts) > 2 {
			if err := str(2, &env.message); err != nil {
				return nil, err
			}
		}
	case labelNotice:
		if err := str(1, &env.message); err != nil {
			return nil, err
		}
	case labelAuth:
		// Challenges are ignored; this client never authenticates.
	default:
		return nil, fmt.Errorf("unknown label %q", env.label)
	}
	return env, nil
}
