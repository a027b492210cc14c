package giftwrap

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/luxundiary/nostrdiary-go/internal/crypto"
	"github.com/luxundiary/nostrdiary-go/internal/event"
	"github.com/luxundiary/nostrdiary-go/internal/identity"
)

// DefaultWindow is how far in the past seal and gift wrap timestamps may be
// placed.
const DefaultWindow = 2 * 24 * time.Hour

// Identity is a key holder able to sign and derive NIP-44 conversation keys.
// *identity.KeyManager implements it.
type Identity interface {
	PublicKey() (string, error)
	Sign(hash []byte) ([]byte, error)
	ConversationKey(peerHex string) ([]byte, error)
}

// RumorInput is the content of the inner, unsigned event.
type RumorInput struct {
	// Kind defaults to event.KindDiaryEntry.
	Kind    int
	Content string
	Tags    event.Tags
	// CreatedAt defaults to the wrapper's clock.
	CreatedAt time.Time
}

// DiaryRumor builds the rumor for a diary entry: the "d" tag carries the day
// and the "weather" tag the weather.
func DiaryRumor(content, weather, day string) RumorInput {
	tags := event.Tags{}
	if day != "" {
		tags = append(tags, event.Tag{"d", day})
	}
	tags = append(tags, event.Tag{"weather", weather})
	return RumorInput{Kind: event.KindDiaryEntry, Content: content, Tags: tags}
}

// Wrapper builds gift wraps. The zero value is not usable; use NewWrapper.
type Wrapper struct {
	now          func() time.Time
	rand         io.Reader
	window       time.Duration
	newEphemeral func() (Ephemeral, error)
}

// Ephemeral is a single-use key pair used to sign one gift wrap.
type Ephemeral interface {
	Identity
	Close()
}

// Option configures a Wrapper.
type Option func(*Wrapper)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Wrapper) {
		w.now = now
	}
}

// WithRandom sets the source of timestamp offsets.
func WithRandom(r io.Reader) Option {
	return func(w *Wrapper) {
		w.rand = r
	}
}

// WithWindow sets the timestamp randomization window.
func WithWindow(d time.Duration) Option {
	return func(w *Wrapper) {
		w.window = d
	}
}

// WithEphemeralSource replaces ephemeral key generation.
func WithEphemeralSource(f func() (Ephemeral, error)) Option {
	return func(w *Wrapper) {
		w.newEphemeral = f
	}
}

// NewWrapper returns a Wrapper with the given options applied.
func NewWrapper(opts ...Option) *Wrapper {
	w := &Wrapper{
		now:    time.Now,
		rand:   rand.Reader,
		window: DefaultWindow,
		newEphemeral: func() (Ephemeral, error) {
			return identity.Generate()
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

var defaultWrapper = NewWrapper()

// Wrap seals a rumor from sender to recipientHex and wraps it under a fresh
// ephemeral key, using the default Wrapper.
func Wrap(in RumorInput, sender Identity, recipientHex string) (*event.Event, error) {
	op, err := defaultWrapper.Wrap(in, sender, recipientHex)
	if err != nil {
		return nil, err
	}
	return op.GiftWrap(), nil
}

// Wrap runs the full pipeline and returns the operation in the Wrapped state.
// On failure the operation is Failed, holds no artifact, and the returned
// error is a *WrapError naming the step.
func (w *Wrapper) Wrap(in RumorInput, sender Identity, recipientHex string) (*Operation, error) {
	if !event.ValidatePubkey(recipientHex) {
		op := newOperation(nil)
		return op, op.Fail(StepValidate, ErrInvalidRecipient)
	}

	rumor, err := w.compose(in, sender)
	if err != nil {
		op := newOperation(nil)
		return op, op.Fail(StepCompose, err)
	}
	op := newOperation(rumor)

	seal, step, err := w.seal(rumor, sender, recipientHex)
	if err != nil {
		return op, op.Fail(step, err)
	}
	op.sealed(seal)

	gw, step, err := w.wrap(seal, recipientHex)
	if err != nil {
		return op, op.Fail(step, err)
	}
	op.wrapped(gw)
	return op, nil
}

func (w *Wrapper) compose(in RumorInput, sender Identity) (*event.Event, error) {
	pub, err := sender.PublicKey()
	if err != nil {
		return nil, err
	}
	kind := in.Kind
	if kind == 0 {
		kind = event.KindDiaryEntry
	}
	created := in.CreatedAt
	if created.IsZero() {
		created = w.now()
	}
	tags := in.Tags.Clone()
	if tags == nil {
		tags = event.Tags{}
	}

	rumor := &event.Event{
		PubKey:    pub,
		CreatedAt: created.Unix(),
		Kind:      kind,
		Tags:      tags,
		Content:   in.Content,
	}
	rumor.ID = rumor.ComputeID()
	return rumor, nil
}

func (w *Wrapper) seal(rumor *event.Event, sender Identity, recipientHex string) (*event.Event, Step, error) {
	content, err := encryptFor(sender, recipientHex, rumor.String())
	if err != nil {
		return nil, StepSealEncrypt, err
	}
	created, err := w.randomTimestamp()
	if err != nil {
		return nil, StepSealSign, err
	}

	seal := &event.Event{
		CreatedAt: created,
		Kind:      event.KindSeal,
		Tags:      event.Tags{},
		Content:   content,
	}
	if err := event.Sign(seal, sender); err != nil {
		return nil, StepSealSign, err
	}
	return seal, "", nil
}

func (w *Wrapper) wrap(seal *event.Event, recipientHex string) (*event.Event, Step, error) {
	eph, err := w.newEphemeral()
	if err != nil {
		return nil, StepEphemeral, err
	}
	defer eph.Close()

	content, err := encryptFor(eph, recipientHex, seal.String())
	if err != nil {
		return nil, StepWrapEncrypt, err
	}
	created, err := w.randomTimestamp()
	if err != nil {
		return nil, StepWrapSign, err
	}

	gw := &event.Event{
		CreatedAt: created,
		Kind:      event.KindGiftWrap,
		Tags:      event.Tags{{"p", recipientHex}},
		Content:   content,
	}
	if err := event.Sign(gw, eph); err != nil {
		return nil, StepWrapSign, err
	}
	return gw, "", nil
}

// randomTimestamp returns now minus a uniform whole-second offset in
// [0, window], both ends included.
func (w *Wrapper) randomTimestamp() (int64, error) {
	now := w.now().Unix()
	span := int64(w.window / time.Second)
	if span <= 0 {
		return now, nil
	}
	n, err := rand.Int(w.rand, big.NewInt(span+1))
	if err != nil {
		return 0, fmt.Errorf("random timestamp offset: %w", err)
	}
	return now - n.Int64(), nil
}

func encryptFor(from Identity, toHex, plaintext string) (string, error) {
	key, err := from.ConversationKey(toHex)
	if err != nil {
		return "", err
	}
	defer zero(key)
	return crypto.Encrypt([]byte(plaintext), key)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
