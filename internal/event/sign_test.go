package event

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/luxundiary/nostrdiary-go/internal/crypto"
)

type keypairSigner struct{ kp *crypto.Keypair }

func (s keypairSigner) PublicKey() (string, error)        { return s.kp.PublicKeyHex, nil }
func (s keypairSigner) Sign(hash []byte) ([]byte, error) { return s.kp.Sign(hash) }

type failingSigner struct{ err error }

func (s failingSigner) PublicKey() (string, error)   { return testPubkey, nil }
func (s failingSigner) Sign([]byte) ([]byte, error) { return nil, s.err }

func newSigner(t testing.TB) keypairSigner {
	t.Helper()
	kp, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}
	return keypairSigner{kp}
}

func signedEntry(t *testing.T) *Event {
	t.Helper()
	ev := &Event{
		CreatedAt: 1700000000,
		Kind:      KindDiaryEntry,
		Tags:      Tags{{"d", "2024-05-01"}, {"weather", "晴"}},
		Content:   "今天天气很好",
	}
	if err := Sign(ev, newSigner(t)); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return ev
}

func TestSignVerify(t *testing.T) {
	ev := signedEntry(t)

	if len(ev.ID) != 64 || len(ev.Sig) != 128 {
		t.Fatalf("Sign() left id=%q sig=%q", ev.ID, ev.Sig)
	}
	if !Verify(ev) {
		t.Errorf("Verify() = false, CheckSignature() = %v", CheckSignature(ev))
	}
}

func TestVerify_Mutations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Event)
		want   error
	}{
		{"content bit", func(e *Event) { b := []byte(e.Content); b[0] ^= 0x01; e.Content = string(b) }, ErrIDMismatch},
		{"created_at bit", func(e *Event) { e.CreatedAt ^= 1 }, ErrIDMismatch},
		{"tag value bit", func(e *Event) { b := []byte(e.Tags[1][1]); b[0] ^= 0x01; e.Tags[1][1] = string(b) }, ErrIDMismatch},
		{"tag added", func(e *Event) { e.Tags = append(e.Tags, Tag{"t", "x"}) }, ErrIDMismatch},
		{"kind", func(e *Event) { e.Kind = 1 }, ErrIDMismatch},
		{"sig bit", func(e *Event) { e.Sig = flipHex(e.Sig, 10) }, ErrInvalidSignature},
		{"id recomputed with foreign sig", func(e *Event) {
			e.Content = "forged"
			e.ID = e.ComputeID()
		}, ErrInvalidSignature},
		{"pubkey swapped", func(e *Event) {
			other, _ := crypto.GenerateKeypair()
			e.PubKey = other.PublicKeyHex
			e.ID = e.ComputeID()
		}, ErrInvalidSignature},
		{"unsigned", func(e *Event) { e.Sig = "" }, ErrUnsigned},
		{"uppercase id", func(e *Event) { e.ID = "A" + e.ID[1:] }, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := signedEntry(t)
			tt.mutate(ev)
			if Verify(ev) {
				t.Fatal("Verify() = true after mutation")
			}
			if err := CheckSignature(ev); !errors.Is(err, tt.want) {
				t.Errorf("CheckSignature() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestVerify_Nil(t *testing.T) {
	if Verify(nil) {
		t.Error("Verify(nil) = true")
	}
}

func TestSign_SignerFailure(t *testing.T) {
	boom := errors.New("boom")
	ev := &Event{Kind: 1, Content: "x"}
	err := Sign(ev, failingSigner{boom})
	if !errors.Is(err, boom) {
		t.Fatalf("Sign() error = %v, want %v", err, boom)
	}
	if ev.ID != "" || ev.Sig != "" {
		t.Error("Sign() left a partial id or signature on failure")
	}
}

func TestMarshalParse_RoundTrip(t *testing.T) {
	ev := signedEntry(t)
	ev.Content = "line\n<b>\"quoted\"</b> &  "
	if err := Sign(ev, newSigner(t)); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !Verify(parsed) {
		t.Errorf("parsed event does not verify: %v", CheckSignature(parsed))
	}
	if parsed.Content != ev.Content {
		t.Errorf("content = %q, want %q", parsed.Content, ev.Content)
	}
}

func TestMarshalJSON_RumorOmitsSig(t *testing.T) {
	ev := Event{ID: "00", PubKey: testPubkey, Kind: 1}
	data, _ := ev.MarshalJSON()
	want := `{"id":"00","pubkey":"` + testPubkey + `","created_at":0,"kind":1,"tags":[],"content":""}`
	if string(data) != want {
		t.Errorf("MarshalJSON() = %s, want %s", data, want)
	}
}

func TestParse_Malformed(t *testing.T) {
	valid := signedEntry(t)

	tests := []struct {
		name string
		data string
	}{
		{"not json", "{"},
		{"array", "[]"},
		{"missing id", `{"pubkey":"` + valid.PubKey + `","kind":1}`},
		{"short pubkey", `{"id":"` + valid.ID + `","pubkey":"abc","kind":1}`},
		{"bad sig", `{"id":"` + valid.ID + `","pubkey":"` + valid.PubKey + `","kind":1,"sig":"zz"}`},
		{"kind range", `{"id":"` + valid.ID + `","pubkey":"` + valid.PubKey + `","kind":70000}`},
		{"numeric tag", `{"id":"` + valid.ID + `","pubkey":"` + valid.PubKey + `","kind":1,"tags":[[1]]}`},
		{"string kind", `{"id":"` + valid.ID + `","pubkey":"` + valid.PubKey + `","kind":"1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseString(tt.data); !errors.Is(err, ErrMalformed) {
				t.Errorf("Parse() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestTags(t *testing.T) {
	tags := Tags{{"d", "2024-05-01"}, {"weather", "晴"}, {"weather", "雨"}, {}}
	if got := tags.Value("weather"); got != "晴" {
		t.Errorf("Value(weather) = %q, want 晴", got)
	}
	if tags.Find("missing") != nil {
		t.Error("Find(missing) != nil")
	}
	if got := tags.Value("missing"); got != "" {
		t.Errorf("Value(missing) = %q", got)
	}

	clone := tags.Clone()
	clone[0][1] = "changed"
	if tags[0][1] != "2024-05-01" {
		t.Error("Clone shares backing arrays")
	}
}

func flipHex(s string, i int) string {
	b := []byte(s)
	if b[i] == '0' {
		b[i] = '1'
	} else {
		b[i] = '0'
	}
	return string(b)
}
