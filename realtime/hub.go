package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"questline/core"
)

// Filter selects the events a subscriber receives. A nil Filter matches everything.
type Filter func(core.Event) bool

// ForUser matches events about one user.
func ForUser(user core.UserID) Filter {
	return func(ev core.Event) bool { return ev.UserID == user }
}

type subscriber struct {
	ch     chan core.Event
	filter Filter
}

// Hub fans domain events out to buffered subscriber channels. Slow
// subscribers lose events instead of blocking the publisher.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Uint64
}

func NewHub() *Hub { return &Hub{subs: map[int]subscriber{}} }

// Subscribe registers a channel that receives every event.
func (h *Hub) Subscribe(buffer int) (int, <-chan core.Event) {
	return h.SubscribeFiltered(buffer, nil)
}

// SubscribeFiltered registers a channel that receives the events f accepts.
func (h *Hub) SubscribeFiltered(buffer int, f Filter) (int, <-chan core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	ch := make(chan core.Event, buffer)
	h.subs[id] = subscriber{ch: ch, filter: f}
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

// Subscribers reports the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped because a buffer was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Broadcast delivers ev to every matching subscriber. It has the signature of
// an EventBus handler.
func (h *Hub) Broadcast(_ context.Context, ev core.Event) {
	// held across the sends: Unsubscribe closes channels under the write lock
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// MarshalJSON is a helper to convert events to JSON bytes for WebSocket/SSE.
func MarshalJSON(ev core.Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}
