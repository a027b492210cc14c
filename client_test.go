package nostrdiary

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/luxundiary/nostrdiary-go/internal/event"
	"github.com/luxundiary/nostrdiary-go/internal/giftwrap"
	"github.com/luxundiary/nostrdiary-go/internal/identity"
	"github.com/luxundiary/nostrdiary-go/internal/relay/relaytest"
	"github.com/luxundiary/nostrdiary-go/internal/store"
)

const (
	secretA = "0000000000000000000000000000000000000000000000000000000000000001"
	secretB = "0000000000000000000000000000000000000000000000000000000000000002"
	secretC = "0000000000000000000000000000000000000000000000000000000000000003"

	// pubA is the x coordinate of the secp256k1 generator.
	pubA = "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

	// deadRelay is a URL nothing listens on.
	deadRelay = "ws://127.0.0.1:1"
)

func newTestClient(t *testing.T, secret string, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithSecretKeyHex(secret),
		WithDatabase(filepath.Join(t.TempDir(), "diary.db")),
		WithRetries(0),
		WithPublishRate(0),
		WithTimeout(5 * time.Second),
	}
	c, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_RequiresIdentity(t *testing.T) {
	_, err := New()
	if !errors.Is(err, ErrKeyUnavailable) {
		t.Errorf("New() error = %v, want ErrKeyUnavailable", err)
	}
}

func TestNew_InvalidSecretKey(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{"not hex", "zz"},
		{"zero", strings.Repeat("0", 64)},
		{"short", "01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(WithSecretKeyHex(tt.secret))
			if !errors.Is(err, ErrKeyUnavailable) {
				t.Errorf("New() error = %v, want ErrKeyUnavailable", err)
			}
			if err != nil && strings.Contains(err.Error(), tt.secret) {
				t.Errorf("error %q contains the secret key", err)
			}
		})
	}
}

func TestNew_InvalidRelay(t *testing.T) {
	_, err := New(WithSecretKeyHex(secretA), WithRelays("http://relay.example.com"))
	if !errors.Is(err, ErrRelay) {
		t.Errorf("New() error = %v, want ErrRelay", err)
	}
}

func TestNew_KeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")

	first, err := New(WithKeyFile(path, "correct horse"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	pub := first.PublicKey()
	first.Close()

	second, err := New(WithKeyFile(path, "correct horse"))
	if err != nil {
		t.Fatalf("New() reopen error = %v", err)
	}
	defer second.Close()
	if second.PublicKey() != pub {
		t.Errorf("PublicKey() = %s after reopen, want %s", second.PublicKey(), pub)
	}

	if _, err := New(WithKeyFile(path, "wrong")); !errors.Is(err, ErrKeyUnavailable) {
		t.Errorf("New() with wrong passphrase error = %v, want ErrKeyUnavailable", err)
	}
}

func TestClient_PublicKey(t *testing.T) {
	c := newTestClient(t, secretA)
	if got := c.PublicKey(); got != pubA {
		t.Errorf("PublicKey() = %s, want %s", got, pubA)
	}
	if npub := c.NPub(); !strings.HasPrefix(npub, "npub1") {
		t.Errorf("NPub() = %s, want npub1 prefix", npub)
	}
	hex, err := NormalizePubkey(c.NPub())
	if err != nil || hex != pubA {
		t.Errorf("NormalizePubkey(npub) = %s, %v, want %s", hex, err, pubA)
	}
}

func TestValidatePubkey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"valid", pubA, true},
		{"uppercase", strings.ToUpper(pubA), false},
		{"short", pubA[:62], false},
		{"empty", "", false},
		{"not on curve", strings.Repeat("f", 64), false},
		{"npub", "npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidatePubkey(tt.in); got != tt.want {
				t.Errorf("ValidatePubkey(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCreateEntry(t *testing.T) {
	c := newTestClient(t, secretA)
	ctx := context.Background()

	entry, err := c.CreateEntry(ctx, "今天天气很好", "晴", "2024-05-01")
	if err != nil {
		t.Fatalf("CreateEntry() error = %v", err)
	}
	if entry.ID == "" || entry.NostrID == "" {
		t.Fatalf("CreateEntry() = %+v, want ids set", entry)
	}

	ev, err := event.ParseString(entry.EventJSON)
	if err != nil {
		t.Fatalf("stored event does not parse: %v", err)
	}
	if ev.Kind != KindDiaryEntry {
		t.Errorf("Kind = %d, want %d", ev.Kind, KindDiaryEntry)
	}
	if ev.Tags.Value("d") != "2024-05-01" || ev.Tags.Value("weather") != "晴" {
		t.Errorf("Tags = %v, want d and weather", ev.Tags)
	}
	if ev.PubKey != pubA {
		t.Errorf("PubKey = %s, want %s", ev.PubKey, pubA)
	}

	ok, err := c.HasEntry("2024-05-01")
	if err != nil || !ok {
		t.Errorf("HasEntry() = %v, %v, want true", ok, err)
	}
	got, err := c.Entry("2024-05-01")
	if err != nil {
		t.Fatalf("Entry() error = %v", err)
	}
	if got.Content != "今天天气很好" || got.NostrID != entry.NostrID {
		t.Errorf("Entry() = %+v, want %+v", got, entry)
	}

	if _, err := c.CreateEntry(ctx, "again", "雨", "2024-05-01"); !errors.Is(err, ErrEntryExists) {
		t.Errorf("CreateEntry() same day error = %v, want ErrEntryExists", err)
	}
	if _, err := c.CreateEntry(ctx, "x", "y", "May 1st"); !errors.Is(err, ErrInvalidDay) {
		t.Errorf("CreateEntry() bad day error = %v, want ErrInvalidDay", err)
	}

	if _, err := c.CreateEntry(ctx, "later", "阴", "2024-05-02"); err != nil {
		t.Fatalf("CreateEntry() error = %v", err)
	}
	entries, err := c.Entries()
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Entries() returned %d entries, want 2", len(entries))
	}
}

func TestCreateEntry_DefaultsToLocalToday(t *testing.T) {
	c := newTestClient(t, secretA)
	entry, err := c.CreateEntry(context.Background(), "today", "晴", "")
	if err != nil {
		t.Fatalf("CreateEntry() error = %v", err)
	}
	if want := time.Now().In(time.Local).Format(DayLayout); entry.Day != want {
		t.Errorf("Day = %s, want local date %s", entry.Day, want)
	}
}

func TestEntryOperations_NoStore(t *testing.T) {
	c, err := New(WithSecretKeyHex(secretA))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	if _, err := c.CreateEntry(context.Background(), "a", "b", "2024-05-01"); !errors.Is(err, ErrNoStore) {
		t.Errorf("CreateEntry() error = %v, want ErrNoStore", err)
	}
	if _, err := c.Entries(); !errors.Is(err, ErrNoStore) {
		t.Errorf("Entries() error = %v, want ErrNoStore", err)
	}
	if _, err := c.VerifySignature(context.Background(), "abc"); !errors.Is(err, ErrNoStore) {
		t.Errorf("VerifySignature() error = %v, want ErrNoStore", err)
	}
}

func TestVerifySignature(t *testing.T) {
	c := newTestClient(t, secretA)
	ctx := context.Background()

	entry, err := c.CreateEntry(ctx, "signed", "晴", "2024-05-01")
	if err != nil {
		t.Fatalf("CreateEntry() error = %v", err)
	}
	ok, err := c.VerifySignature(ctx, entry.NostrID)
	if err != nil || !ok {
		t.Errorf("VerifySignature() = %v, %v, want true", ok, err)
	}

	_, err = c.VerifySignature(ctx, strings.Repeat("0", 64))
	if !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("VerifySignature() unknown id error = %v, want ErrEntryNotFound", err)
	}

	forged := &event.Event{CreatedAt: 1714521600, Kind: KindDiaryEntry, Tags: event.Tags{{"d", "2024-05-02"}}, Content: "original"}
	if err := c.keys.SignEvent(forged); err != nil {
		t.Fatal(err)
	}
	forged.Content = "edited later"
	if err := c.store.SaveEntry(&store.Entry{
		Content:    forged.Content,
		Day:        "2024-05-02",
		NostrID:    forged.ID,
		NostrEvent: forged.String(),
	}); err != nil {
		t.Fatal(err)
	}
	ok, err = c.VerifySignature(ctx, forged.ID)
	if err != nil || ok {
		t.Errorf("VerifySignature() edited event = %v, %v, want false", ok, err)
	}
}

func TestShareEntry_Scenario(t *testing.T) {
	a := newTestClient(t, secretA)
	b := newTestClient(t, secretB)
	ctx := context.Background()

	res, err := a.ShareEntry(ctx, ShareRequest{
		Content:         "今天天气很好",
		Weather:         "晴",
		RecipientPubKey: b.PublicKey(),
	})
	if err != nil {
		t.Fatalf("ShareEntry() error = %v", err)
	}

	gw, err := event.ParseString(res.GiftWrapEvent)
	if err != nil {
		t.Fatalf("gift wrap does not parse: %v", err)
	}
	if gw.Kind != KindGiftWrap {
		t.Errorf("Kind = %d, want %d", gw.Kind, KindGiftWrap)
	}
	if gw.ID != res.GiftWrapID {
		t.Errorf("GiftWrapID = %s, event id %s", res.GiftWrapID, gw.ID)
	}
	if p := gw.Tags.Value("p"); p != b.PublicKey() {
		t.Errorf("p tag = %s, want %s", p, b.PublicKey())
	}
	if gw.PubKey == a.PublicKey() {
		t.Error("gift wrap is signed by the sender key, want an ephemeral key")
	}
	if strings.Contains(res.GiftWrapEvent, "今天") {
		t.Error("gift wrap leaks plaintext")
	}

	got, err := b.Unwrap(res.GiftWrapEvent)
	if err != nil {
		t.Fatalf("Unwrap() error = %v", err)
	}
	if got.SenderPubkey != a.PublicKey() {
		t.Errorf("SenderPubkey = %s, want %s", got.SenderPubkey, a.PublicKey())
	}
	if got.Content != "今天天气很好" || got.Weather != "晴" {
		t.Errorf("Unwrap() = %q/%q, want 今天天气很好/晴", got.Content, got.Weather)
	}
	if got.GiftWrapID != res.GiftWrapID {
		t.Errorf("GiftWrapID = %s, want %s", got.GiftWrapID, res.GiftWrapID)
	}
}

func TestShareEntry_InvalidRecipient(t *testing.T) {
	a := newTestClient(t, secretA)
	tests := []struct {
		name      string
		recipient string
	}{
		{"empty", ""},
		{"uppercase", strings.ToUpper(pubA)},
		{"short", pubA[:10]},
		{"not on curve", strings.Repeat("f", 64)},
		{"npub", "npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := a.ShareEntry(context.Background(), ShareRequest{Content: "x", RecipientPubKey: tt.recipient})
			if !errors.Is(err, ErrInvalidRecipientKey) {
				t.Fatalf("ShareEntry() error = %v, want ErrInvalidRecipientKey", err)
			}
			var recErr *InvalidRecipientError
			if !errors.As(err, &recErr) || recErr.PubKey != tt.recipient {
				t.Errorf("ShareEntry() error = %#v, want *InvalidRecipientError for %q", err, tt.recipient)
			}
			if res != nil {
				t.Errorf("ShareEntry() = %+v, want nil", res)
			}
		})
	}
}

func TestShareEntry_EphemeralKeysDiffer(t *testing.T) {
	a := newTestClient(t, secretA)
	b := newTestClient(t, secretB)
	req := ShareRequest{Content: "same", Weather: "晴", Day: "2024-05-01", RecipientPubKey: b.PublicKey()}

	first, err := a.ShareEntry(context.Background(), req)
	if err != nil {
		t.Fatalf("ShareEntry() error = %v", err)
	}
	second, err := a.ShareEntry(context.Background(), req)
	if err != nil {
		t.Fatalf("ShareEntry() error = %v", err)
	}
	if first.GiftWrapID == second.GiftWrapID {
		t.Error("two shares produced the same gift wrap id")
	}
	gw1, _ := event.ParseString(first.GiftWrapEvent)
	gw2, _ := event.ParseString(second.GiftWrapEvent)
	if gw1.PubKey == gw2.PubKey {
		t.Error("two shares used the same ephemeral key")
	}
}

func TestShareStoredEntry(t *testing.T) {
	a := newTestClient(t, secretA)
	b := newTestClient(t, secretB)
	ctx := context.Background()

	entry, err := a.CreateEntry(ctx, "stored", "雪", "2024-02-03")
	if err != nil {
		t.Fatalf("CreateEntry() error = %v", err)
	}
	res, err := a.ShareStoredEntry(ctx, entry.NostrID, b.PublicKey())
	if err != nil {
		t.Fatalf("ShareStoredEntry() error = %v", err)
	}
	got, err := b.Unwrap(res.GiftWrapEvent)
	if err != nil {
		t.Fatalf("Unwrap() error = %v", err)
	}
	if got.Content != "stored" || got.Weather != "雪" || got.Day != "2024-02-03" {
		t.Errorf("Unwrap() = %+v, want stored entry", got)
	}
	if got.Kind != KindDiaryEntry {
		t.Errorf("Kind = %d, want %d", got.Kind, KindDiaryEntry)
	}
	if got.CreatedAt.Unix() != entry.CreatedAt.Unix() {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, entry.CreatedAt)
	}

	if _, err := a.ShareStoredEntry(ctx, strings.Repeat("0", 64), b.PublicKey()); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("ShareStoredEntry() unknown id error = %v, want ErrEntryNotFound", err)
	}
}

func TestUnwrap_Failures(t *testing.T) {
	a := newTestClient(t, secretA)
	b := newTestClient(t, secretB)
	c := newTestClient(t, secretC)

	res, err := a.ShareEntry(context.Background(), ShareRequest{Content: "secret diary", RecipientPubKey: b.PublicKey()})
	if err != nil {
		t.Fatalf("ShareEntry() error = %v", err)
	}

	var gw map[string]any
	if err := json.Unmarshal([]byte(res.GiftWrapEvent), &gw); err != nil {
		t.Fatal(err)
	}
	content := gw["content"].(string)
	gw["content"] = content[:40] + "A" + content[41:]
	if content[40] == 'A' {
		gw["content"] = content[:40] + "B" + content[41:]
	}
	tampered, _ := json.Marshal(gw)

	t.Run("tampered ciphertext", func(t *testing.T) {
		got, err := b.Unwrap(string(tampered))
		if !errors.Is(err, ErrUnwrapFailed) {
			t.Fatalf("Unwrap() error = %v, want ErrUnwrapFailed", err)
		}
		if got != nil {
			t.Errorf("Unwrap() = %+v, want nil", got)
		}
	})

	t.Run("other recipient", func(t *testing.T) {
		if _, err := c.Unwrap(res.GiftWrapEvent); !errors.Is(err, ErrUnwrapFailed) {
			t.Errorf("Unwrap() error = %v, want ErrUnwrapFailed", err)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := b.Unwrap(`{"kind":"1059"`)
		if !errors.Is(err, ErrSerialization) {
			t.Errorf("Unwrap() error = %v, want ErrSerialization", err)
		}
		if !errors.Is(err, ErrUnwrapFailed) {
			t.Errorf("Unwrap() error = %v, want it to match ErrUnwrapFailed", err)
		}
	})
}

func TestPublishAndFetch(t *testing.T) {
	r := relaytest.New()
	defer r.Close()
	a := newTestClient(t, secretA, WithRelays(r.URL))
	b := newTestClient(t, secretB, WithRelays(r.URL))
	ctx := context.Background()

	res, err := a.ShareEntry(ctx, ShareRequest{Content: "今天天气很好", Weather: "晴", RecipientPubKey: b.PublicKey()})
	if err != nil {
		t.Fatalf("ShareEntry() error = %v", err)
	}

	a.mu.RLock()
	op := a.shares[res.GiftWrapID]
	a.mu.RUnlock()
	if op == nil {
		t.Fatal("share is not tracked")
	}

	status, err := a.Publish(ctx, res.GiftWrapEvent, "")
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !strings.Contains(status, "accepted") {
		t.Errorf("Publish() = %q, want accepted", status)
	}
	if op.State() != giftwrap.StatePublished {
		t.Errorf("operation state = %s, want %s", op.State(), giftwrap.StatePublished)
	}

	status, err = a.Publish(ctx, res.GiftWrapEvent, r.URL)
	if err != nil {
		t.Fatalf("Publish() again error = %v", err)
	}
	if !strings.Contains(status, "already stored") {
		t.Errorf("Publish() again = %q, want duplicate status", status)
	}

	fetched, err := b.FetchGiftWraps(ctx)
	if err != nil {
		t.Fatalf("FetchGiftWraps() error = %v", err)
	}
	if len(fetched) != 1 {
		t.Fatalf("FetchGiftWraps() returned %d, want 1", len(fetched))
	}
	if fetched[0].SenderPubkey != a.PublicKey() || fetched[0].GiftWrapID != res.GiftWrapID {
		t.Errorf("FetchGiftWraps() = %+v", fetched[0])
	}
	if fetched[0].EventJSON != res.GiftWrapEvent {
		t.Errorf("EventJSON = %s, want %s", fetched[0].EventJSON, res.GiftWrapEvent)
	}

	// The wrap is addressed to b only.
	other, err := a.FetchGiftWraps(ctx)
	if err != nil {
		t.Fatalf("FetchGiftWraps() error = %v", err)
	}
	if len(other) != 0 {
		t.Errorf("sender fetched %d gift wraps, want 0", len(other))
	}
}

// malformedGiftWrap is a correctly signed kind 1059 event whose content is
// not a NIP-44 payload.
func malformedGiftWrap(t *testing.T, recipient string) *event.Event {
	t.Helper()
	km, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	defer km.Close()
	ev := &event.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      event.KindGiftWrap,
		Tags:      event.Tags{{"p", recipient}},
		Content:   "this is not encrypted",
	}
	if err := km.SignEvent(ev); err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestFetchAndUnwrapAll_Resilience(t *testing.T) {
	r := relaytest.New()
	defer r.Close()
	a := newTestClient(t, secretA)
	b := newTestClient(t, secretB, WithConcurrency(2))
	ctx := context.Background()

	for _, content := range []string{"first", "second"} {
		res, err := a.ShareEntry(ctx, ShareRequest{Content: content, RecipientPubKey: b.PublicKey()})
		if err != nil {
			t.Fatalf("ShareEntry() error = %v", err)
		}
		if _, err := a.Publish(ctx, res.GiftWrapEvent, r.URL); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	bad := malformedGiftWrap(t, b.PublicKey())
	r.Add(bad)

	res, err := b.FetchAndUnwrapAll(ctx, r.URL)
	if err != nil {
		t.Fatalf("FetchAndUnwrapAll() error = %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("Items = %d, want 2", len(res.Items))
	}
	if len(res.Failures) != 1 {
		t.Fatalf("Failures = %d, want 1", len(res.Failures))
	}
	if res.Failures[0].GiftWrapID != bad.ID {
		t.Errorf("failure GiftWrapID = %s, want %s", res.Failures[0].GiftWrapID, bad.ID)
	}
	if !errors.Is(res.Failures[0].Err, ErrUnwrapFailed) {
		t.Errorf("failure error = %v, want ErrUnwrapFailed", res.Failures[0].Err)
	}
	contents := map[string]bool{}
	for _, item := range res.Items {
		if item.SenderPubkey != a.PublicKey() {
			t.Errorf("SenderPubkey = %s, want %s", item.SenderPubkey, a.PublicKey())
		}
		contents[item.Content] = true
	}
	if !contents["first"] || !contents["second"] {
		t.Errorf("Items contents = %v, want first and second", contents)
	}
}

func TestFetchAndUnwrapAll_TamperedWrap(t *testing.T) {
	r := relaytest.New()
	defer r.Close()
	a := newTestClient(t, secretA)
	b := newTestClient(t, secretB)
	ctx := context.Background()

	var wraps []*event.Event
	for _, content := range []string{"一", "二", "三"} {
		res, err := a.ShareEntry(ctx, ShareRequest{Content: content, RecipientPubKey: b.PublicKey()})
		if err != nil {
			t.Fatalf("ShareEntry() error = %v", err)
		}
		gw, err := event.ParseString(res.GiftWrapEvent)
		if err != nil {
			t.Fatalf("ParseString() error = %v", err)
		}
		wraps = append(wraps, gw)
	}
	// Flip one bit of the ciphertext after signing; id and sig no longer match.
	tampered := wraps[2]
	c := []byte(tampered.Content)
	c[len(c)/2] ^= 0x01
	tampered.Content = string(c)
	r.Add(wraps...)

	res, err := b.FetchAndUnwrapAll(ctx, r.URL)
	if err != nil {
		t.Fatalf("FetchAndUnwrapAll() error = %v", err)
	}
	if len(res.Items) != 2 {
		t.Errorf("Items = %d, want 2", len(res.Items))
	}
	if len(res.Failures) != 1 {
		t.Fatalf("Failures = %d, want 1", len(res.Failures))
	}
	f := res.Failures[0]
	if f.GiftWrapID != tampered.ID {
		t.Errorf("failure GiftWrapID = %s, want %s", f.GiftWrapID, tampered.ID)
	}
	if !errors.Is(f.Err, ErrUnwrapFailed) {
		t.Errorf("failure error = %v, want ErrUnwrapFailed", f.Err)
	}
	var uErr *UnwrapError
	if !errors.As(f.Err, &uErr) || uErr.Stage != string(giftwrap.StageOuterSignature) {
		t.Errorf("failure = %+v, want an UnwrapError at the outer signature", f.Err)
	}

	// FetchGiftWraps only returns the wraps that open.
	fetched, err := b.FetchGiftWraps(ctx, r.URL)
	if err != nil {
		t.Fatalf("FetchGiftWraps() error = %v", err)
	}
	if len(fetched) != 2 {
		t.Errorf("FetchGiftWraps() = %d, want 2", len(fetched))
	}
}

func TestUnwrapAll(t *testing.T) {
	a := newTestClient(t, secretA)
	b := newTestClient(t, secretB)
	ctx := context.Background()

	res, err := a.ShareEntry(ctx, ShareRequest{Content: "one", RecipientPubKey: b.PublicKey()})
	if err != nil {
		t.Fatalf("ShareEntry() error = %v", err)
	}
	bad := malformedGiftWrap(t, b.PublicKey())

	got, err := b.UnwrapAll(ctx, []string{res.GiftWrapEvent, res.GiftWrapEvent, bad.String(), "not json"})
	if err != nil {
		t.Fatalf("UnwrapAll() error = %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Content != "one" {
		t.Errorf("Items = %+v, want one item", got.Items)
	}
	if len(got.Failures) != 2 {
		t.Fatalf("Failures = %d, want 2", len(got.Failures))
	}
	if !errors.Is(got.Failures[0].Err, ErrSerialization) {
		t.Errorf("Failures[0] = %v, want ErrSerialization", got.Failures[0].Err)
	}
	if got.Failures[1].GiftWrapID != bad.ID {
		t.Errorf("Failures[1].GiftWrapID = %s, want %s", got.Failures[1].GiftWrapID, bad.ID)
	}
}

func TestFetch_Errors(t *testing.T) {
	c := newTestClient(t, secretA)

	t.Run("no relays", func(t *testing.T) {
		if _, err := c.FetchAndUnwrapAll(context.Background()); !errors.Is(err, ErrNoRelays) {
			t.Errorf("FetchAndUnwrapAll() error = %v, want ErrNoRelays", err)
		}
	})

	t.Run("all relays fail", func(t *testing.T) {
		res, err := c.FetchAndUnwrapAll(context.Background(), deadRelay)
		if !errors.Is(err, ErrRelay) {
			t.Errorf("FetchAndUnwrapAll() error = %v, want ErrRelay", err)
		}
		if res != nil {
			t.Errorf("FetchAndUnwrapAll() = %+v, want nil", res)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		r := relaytest.New()
		defer r.Close()
		r.HoldEOSE = true

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		res, err := c.FetchGiftWraps(ctx, r.URL)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("FetchGiftWraps() error = %v, want DeadlineExceeded", err)
		}
		if res != nil {
			t.Errorf("FetchGiftWraps() = %v, want nil", res)
		}
	})
}

func TestPublish_Errors(t *testing.T) {
	r := relaytest.New()
	defer r.Close()
	r.Reject = func(*event.Event) string { return "blocked: not today" }

	a := newTestClient(t, secretA)
	b := newTestClient(t, secretB)
	ctx := context.Background()

	t.Run("no relays", func(t *testing.T) {
		if _, err := a.Publish(ctx, "{}", ""); !errors.Is(err, ErrNoRelays) {
			t.Errorf("Publish() error = %v, want ErrNoRelays", err)
		}
	})

	t.Run("malformed event", func(t *testing.T) {
		if _, err := a.Publish(ctx, `{"id":1}`, r.URL); !errors.Is(err, ErrSerialization) {
			t.Errorf("Publish() error = %v, want ErrSerialization", err)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		res, err := a.ShareEntry(ctx, ShareRequest{Content: "x", RecipientPubKey: b.PublicKey()})
		if err != nil {
			t.Fatalf("ShareEntry() error = %v", err)
		}
		a.mu.RLock()
		op := a.shares[res.GiftWrapID]
		a.mu.RUnlock()

		_, err = a.Publish(ctx, res.GiftWrapEvent, r.URL)
		var relayErr *RelayError
		if !errors.As(err, &relayErr) {
			t.Fatalf("Publish() error = %v, want *RelayError", err)
		}
		if relayErr.Outcome != OutcomeRejected || relayErr.Message != "blocked: not today" {
			t.Errorf("RelayError = %+v", relayErr)
		}
		if errors.Is(err, ErrOutcomeUnknown) {
			t.Error("rejection matches ErrOutcomeUnknown")
		}
		if op.State() != giftwrap.StateFailed {
			t.Errorf("operation state = %s, want %s", op.State(), giftwrap.StateFailed)
		}
	})

	t.Run("unknown outcome", func(t *testing.T) {
		silent := relaytest.New()
		defer silent.Close()
		silent.Silent = func(*event.Event) bool { return true }

		res, err := a.ShareEntry(ctx, ShareRequest{Content: "y", RecipientPubKey: b.PublicKey()})
		if err != nil {
			t.Fatalf("ShareEntry() error = %v", err)
		}
		tctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		_, err = a.Publish(tctx, res.GiftWrapEvent, silent.URL)
		if !errors.Is(err, ErrOutcomeUnknown) || !errors.Is(err, ErrRelay) {
			t.Errorf("Publish() error = %v, want ErrOutcomeUnknown", err)
		}
	})
}

func TestWatchInbox(t *testing.T) {
	r := relaytest.New()
	defer r.Close()
	a := newTestClient(t, secretA)
	b := newTestClient(t, secretB, WithRelays(r.URL),
		WithPollingInitialInterval(10*time.Millisecond),
		WithPollingMaxBackoff(20*time.Millisecond))
	ctx := context.Background()

	got := make(chan *ReceivedEntry, 4)
	w, err := b.WatchInbox(ctx, func(e *ReceivedEntry) { got <- e })
	if err != nil {
		t.Fatalf("WatchInbox() error = %v", err)
	}
	defer w.Stop()

	res, err := a.ShareEntry(ctx, ShareRequest{Content: "watched", Weather: "晴", RecipientPubKey: b.PublicKey()})
	if err != nil {
		t.Fatalf("ShareEntry() error = %v", err)
	}
	if _, err := a.Publish(ctx, res.GiftWrapEvent, r.URL); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case e := <-got:
		if e.Content != "watched" || e.SenderPubkey != a.PublicKey() {
			t.Errorf("watcher got %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the shared entry")
	}

	// The same gift wrap is not delivered twice.
	select {
	case e := <-got:
		t.Errorf("watcher delivered %s again", e.GiftWrapID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatchInbox_NoRelays(t *testing.T) {
	c := newTestClient(t, secretA)
	if _, err := c.WatchInbox(context.Background(), func(*ReceivedEntry) {}); !errors.Is(err, ErrNoRelays) {
		t.Errorf("WatchInbox() error = %v, want ErrNoRelays", err)
	}
}

func TestClient_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := newTestClient(t, secretA, WithMetrics(reg))
	b := newTestClient(t, secretB)

	if _, err := a.ShareEntry(context.Background(), ShareRequest{Content: "m", RecipientPubKey: b.PublicKey()}); err != nil {
		t.Fatalf("ShareEntry() error = %v", err)
	}
	want := `
# HELP nostrdiary_giftwrap_wraps_total Gift wraps built, by failing step (ok on success).
# TYPE nostrdiary_giftwrap_wraps_total counter
nostrdiary_giftwrap_wraps_total{result="ok"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "nostrdiary_giftwrap_wraps_total"); err != nil {
		t.Error(err)
	}

	rec := httptest.NewRecorder()
	a.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `nostrdiary_giftwrap_wraps_total{result="ok"} 1`) {
		t.Errorf("MetricsHandler() output missing wrap counter:\n%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	b.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("MetricsHandler() without WithMetrics status = %d, want 404", rec.Code)
	}
}

func TestClient_MetricsSharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := newTestClient(t, secretA, WithMetrics(reg))
	b := newTestClient(t, secretB, WithMetrics(reg))

	ctx := context.Background()
	if _, err := a.ShareEntry(ctx, ShareRequest{Content: "a", RecipientPubKey: b.PublicKey()}); err != nil {
		t.Fatalf("a.ShareEntry() error = %v", err)
	}
	if _, err := b.ShareEntry(ctx, ShareRequest{Content: "b", RecipientPubKey: a.PublicKey()}); err != nil {
		t.Fatalf("b.ShareEntry() error = %v", err)
	}
	want := `
# HELP nostrdiary_giftwrap_wraps_total Gift wraps built, by failing step (ok on success).
# TYPE nostrdiary_giftwrap_wraps_total counter
nostrdiary_giftwrap_wraps_total{result="ok"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "nostrdiary_giftwrap_wraps_total"); err != nil {
		t.Error(err)
	}
}

func TestClient_Close(t *testing.T) {
	c := newTestClient(t, secretA)
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	ctx := context.Background()
	checks := []struct {
		name string
		err  error
	}{
		{"CreateEntry", func() error { _, err := c.CreateEntry(ctx, "a", "b", "2024-05-01"); return err }()},
		{"Entries", func() error { _, err := c.Entries(); return err }()},
		{"ShareEntry", func() error { _, err := c.ShareEntry(ctx, ShareRequest{RecipientPubKey: pubA}); return err }()},
		{"Publish", func() error { _, err := c.Publish(ctx, "{}", deadRelay); return err }()},
		{"FetchAndUnwrapAll", func() error { _, err := c.FetchAndUnwrapAll(ctx, deadRelay); return err }()},
		{"Unwrap", func() error { _, err := c.Unwrap("{}"); return err }()},
		{"WatchInbox", func() error { _, err := c.WatchInbox(ctx, nil, deadRelay); return err }()},
	}
	for _, tt := range checks {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, ErrClientClosed) {
				t.Errorf("%s() error = %v, want ErrClientClosed", tt.name, tt.err)
			}
		})
	}
}

func BenchmarkShareEntry(b *testing.B) {
	c, err := New(WithSecretKeyHex(secretA))
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()
	req := ShareRequest{Content: "今天天气很好", Weather: "晴", RecipientPubKey: pubA}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.ShareEntry(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}
