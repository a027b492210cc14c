package giftwrap

import (
	"fmt"
	"sync"

	"github.com/luxundiary/nostrdiary-go/internal/event"
)

// State is the lifecycle position of one sharing operation.
type State int

const (
	// StateComposed holds a rumor.
	StateComposed State = iota
	// StateSealed holds a signed seal.
	StateSealed
	// StateWrapped holds a finished gift wrap ready to publish.
	StateWrapped
	// StatePublished is terminal: a relay accepted the gift wrap.
	StatePublished
	// StateFailed is terminal: some step failed and no artifact is kept.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateComposed:
		return "composed"
	case StateSealed:
		return "sealed"
	case StateWrapped:
		return "wrapped"
	case StatePublished:
		return "published"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StatePublished || s == StateFailed
}

// Operation tracks one rumor through sealing, wrapping and publishing.
type Operation struct {
	mu       sync.Mutex
	state    State
	rumor    *event.Event
	seal     *event.Event
	giftWrap *event.Event
	err      *WrapError
}

func newOperation(rumor *event.Event) *Operation {
	return &Operation{state: StateComposed, rumor: rumor}
}

// State returns the current state.
func (o *Operation) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// GiftWrap returns the finished gift wrap, or nil unless the operation is
// Wrapped or Published.
func (o *Operation) GiftWrap() *event.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.giftWrap
}

// Err returns the failure, or nil unless the operation is Failed.
func (o *Operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err == nil {
		return nil
	}
	return o.err
}

func (o *Operation) sealed(seal *event.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seal = seal
	o.state = StateSealed
}

func (o *Operation) wrapped(gw *event.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.giftWrap = gw
	o.state = StateWrapped
	// The rumor and seal are owned by the layer above them now.
	o.rumor = nil
	o.seal = nil
}

// MarkPublished moves a Wrapped operation to Published.
func (o *Operation) MarkPublished() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateWrapped {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.state, StatePublished)
	}
	o.state = StatePublished
	return nil
}

// Fail moves a non-terminal operation to Failed, drops every artifact and
// returns the recorded error.
func (o *Operation) Fail(step Step, err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.state, StateFailed)
	}
	o.state = StateFailed
	o.rumor = nil
	o.seal = nil
	o.giftWrap = nil
	o.err = &WrapError{Step: step, Err: err}
	return o.err
}
