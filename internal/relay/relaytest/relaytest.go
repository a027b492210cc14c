// Package relaytest provides an in-process relay for tests.
package relaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/luxundiary/nostrdiary-go/internal/event"
	"github.com/luxundiary/nostrdiary-go/internal/relay"
)

// Relay is a websocket relay that keeps events in memory.
type Relay struct {
	Server *httptest.Server
	// URL is the ws:// address of the relay.
	URL string

	// Reject returns a non-empty reason to refuse an event with OK false.
	Reject func(*event.Event) string
	// Silent returns true for events that get no OK at all.
	Silent func(*event.Event) bool
	// CloseReqs answers every REQ with CLOSED and this reason when non-empty.
	CloseReqs string
	// HoldEOSE stops the relay from ever sending EOSE.
	HoldEOSE bool
	// Noise sends a malformed message and an unsigned event before results.
	Noise bool

	failHandshakes atomic.Int32
	handshakes     atomic.Int32
	publishes      atomic.Int32
	reqs           atomic.Int32

	mu     sync.Mutex
	events []*event.Event
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// New starts a relay. Callers must Close it.
func New() *Relay {
	r := &Relay{}
	r.Server = httptest.NewServer(http.HandlerFunc(r.serve))
	r.URL = "ws" + strings.TrimPrefix(r.Server.URL, "http")
	return r
}

// Close stops the relay.
func (r *Relay) Close() {
	r.Server.CloseClientConnections()
	r.Server.Close()
}

// FailHandshakes makes the next n upgrade requests fail with 503.
func (r *Relay) FailHandshakes(n int) {
	r.failHandshakes.Store(int32(n))
}

// Handshakes returns the number of upgrade requests seen.
func (r *Relay) Handshakes() int { return int(r.handshakes.Load()) }

// Publishes returns the number of EVENT messages received.
func (r *Relay) Publishes() int { return int(r.publishes.Load()) }

// Reqs returns the number of REQ messages received.
func (r *Relay) Reqs() int { return int(r.reqs.Load()) }

// Add stores events as if they had been published.
func (r *Relay) Add(events ...*event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

// Events returns the stored events.
func (r *Relay) Events() []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*event.Event(nil), r.events...)
}

func (r *Relay) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ID == id {
			return true
		}
	}
	return false
}

func (r *Relay) serve(w http.ResponseWriter, req *http.Request) {
	r.handshakes.Add(1)
	if n := r.failHandshakes.Load(); n > 0 {
		r.failHandshakes.Add(-1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var parts []json.RawMessage
		if json.Unmarshal(data, &parts) != nil || len(parts) < 2 {
			send(ws, "NOTICE", "could not parse message")
			continue
		}
		var label string
		_ = json.Unmarshal(parts[0], &label)

		switch label {
		case "EVENT":
			r.handleEvent(ws, parts[1])
		case "REQ":
			r.handleReq(ws, parts)
		case "CLOSE":
		default:
			send(ws, "NOTICE", "unknown message "+label)
		}
	}
}

func (r *Relay) handleEvent(ws *websocket.Conn, raw json.RawMessage) {
	r.publishes.Add(1)
	ev, err := event.Parse(raw)
	if err != nil {
		send(ws, "NOTICE", "invalid: "+err.Error())
		return
	}
	if r.Silent != nil && r.Silent(ev) {
		return
	}
	if err := event.CheckSignature(ev); err != nil {
		send(ws, "OK", ev.ID, false, "invalid: "+err.Error())
		return
	}
	if r.Reject != nil {
		if reason := r.Reject(ev); reason != "" {
			send(ws, "OK", ev.ID, false, reason)
			return
		}
	}
	if r.has(ev.ID) {
		send(ws, "OK", ev.ID, false, "duplicate: already have this event")
		return
	}
	r.Add(ev)
	send(ws, "OK", ev.ID, true, "")
}

func (r *Relay) handleReq(ws *websocket.Conn, parts []json.RawMessage) {
	r.reqs.Add(1)
	var subID string
	_ = json.Unmarshal(parts[1], &subID)
	if r.CloseReqs != "" {
		send(ws, "CLOSED", subID, r.CloseReqs)
		return
	}

	var filters []relay.Filter
	for _, raw := range parts[2:] {
		var f relay.Filter
		if err := json.Unmarshal(raw, &f); err != nil {
			send(ws, "CLOSED", subID, "invalid: bad filter")
			return
		}
		filters = append(filters, f)
	}

	if r.Noise {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`["EVENT"`))
		unsigned := &event.Event{Kind: event.KindGiftWrap, Content: "x"}
		unsigned.PubKey = strings.Repeat("a", 64)
		unsigned.ID = unsigned.ComputeID()
		send(ws, "EVENT", subID, unsigned)
	}

	for _, ev := range r.Events() {
		for _, f := range filters {
			if f.Matches(ev) {
				send(ws, "EVENT", subID, ev)
				break
			}
		}
	}
	if !r.HoldEOSE {
		send(ws, "EOSE", subID)
	}
}

func send(ws *websocket.Conn, parts ...any) {
	data, err := json.Marshal(parts)
	if err != nil {
		return
	}
	_ = ws.WriteMessage(websocket.TextMessage, data)
}
