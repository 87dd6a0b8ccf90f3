// Package hub fans domain events out to SSE listeners. Sends never block:
// a listener that stops draining loses events, the daemon does not.
package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avendeel/sonabridge/internal/source"
)

// Event types published by the daemon.
const (
	TypeState = "state" // full store snapshot
	TypePanel = "panel" // one panel's presentation changed
)

// Event is one hub notification.
type Event struct {
	ID     string      `json:"id"`
	Type   string      `json:"type"`
	Source source.Kind `json:"source,omitempty"`
	TS     time.Time   `json:"ts"`
	Data   any         `json:"data"`
}

// Hub is the in-process event bus between the daemon and its SSE clients.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func New() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Publish delivers an event to every listener, dropping on full buffers.
func (h *Hub) Publish(typ string, src source.Kind, data any) {
	ev := Event{
		ID:     uuid.NewString(),
		Type:   typ,
		Source: src,
		TS:     time.Now(),
		Data:   data,
	}

	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe attaches a listener. cancel is idempotent and closes the
// channel.
func (h *Hub) Subscribe() (ch chan Event, cancel func()) {
	ch = make(chan Event, 64)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel = func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}
