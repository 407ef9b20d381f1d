package decoder

import (
	"context"
	"sync"
	"time"

	"github.com/tamzrod/bms-telemetry/internal/matrix"
	"github.com/tamzrod/bms-telemetry/internal/queue"
)

// Record is one decoded event with its decode time.
type Record struct {
	At    time.Time
	Event matrix.Event
}

// Subscription receives every record published after it was created.
// Its queue is unbounded: a slow subscriber never stalls the decoder.
type Subscription struct {
	id  uint64
	q   *queue.Queue[Record]
	hub *Hub
}

// Next waits for the next record. It returns queue.ErrClosed once the
// subscription is closed and drained.
func (s *Subscription) Next(ctx context.Context) (Record, error) { return s.q.Pop(ctx) }

// TryNext returns the next record without waiting.
func (s *Subscription) TryNext() (Record, bool) { return s.q.TryPop() }

// Pending reports the number of undelivered records.
func (s *Subscription) Pending() int { return s.q.Len() }

// Ready is signalled when records may be pending.
func (s *Subscription) Ready() <-chan struct{} { return s.q.Ready() }

// Close unsubscribes.
func (s *Subscription) Close() { s.hub.Unsubscribe(s) }

// Hub fans decoded records out to subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a new subscriber. After Close the returned
// subscription is already closed.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{q: queue.New[Record](), hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.q.Close()
		return s
	}
	h.nextID++
	s.id = h.nextID
	h.subs[s.id] = s
	return s
}

// Unsubscribe removes s and closes its queue. Idempotent.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s.id)
	h.mu.Unlock()
	s.q.Close()
}

// Publish delivers r to every subscriber. Never blocks.
func (h *Hub) Publish(r Record) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		_ = s.q.Push(r)
	}
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscription. Pending records stay readable.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		s.q.Close()
		delete(h.subs, id)
	}
}
