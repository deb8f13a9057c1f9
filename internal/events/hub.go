// Package events fans vault change notifications out to live subscribers
// such as websocket clients. Changes are detected by watching the vault
// directory, so files added or removed outside the server are reported too.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Kind classifies a change.
type Kind string

// Change kinds.
const (
	KindCreated Kind = "created"
	KindRemoved Kind = "removed"
	KindRenamed Kind = "renamed"
)

// Event is one change to the vault's contents.
type Event struct {
	Kind Kind      `json:"kind"`
	Name string    `json:"name"`
	// From is the previous name of a renamed file.
	From string    `json:"from,omitempty"`
	At   time.Time `json:"at"`
}

// Hub delivers published events to every subscriber. Delivery never blocks
// the publisher: a subscriber whose buffer is full misses the event.
type Hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]chan Event
	nextID uint64
}

// NewHub creates a Hub with no subscribers.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger, subs: make(map[uint64]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel func unregisters it and closes the channel; it is safe to call
// more than once.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once

	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()

			close(ch)
		})
	}

	return ch, cancel
}

// Publish sends ev to all current subscribers.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("event dropped for slow subscriber",
				slog.Uint64("subscriber", id),
				slog.String("kind", string(ev.Kind)),
				slog.String("name", ev.Name),
			)
		}
	}
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}
