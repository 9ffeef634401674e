// Package events provides the push channel from the server to live sessions
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Hub fans messages out to the subscribers of each session. A session with
// no subscribers is an inert target: sends to it are dropped.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan *Message]struct{}
	closed      atomic.Bool
	dropped     atomic.Int64
}

// NewHub creates a new push hub
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[chan *Message]struct{}),
	}
}

// Subscribe creates a new subscription channel for one session
func (h *Hub) Subscribe(sessionID string) chan *Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan *Message, 100)
	if h.closed.Load() {
		close(ch)
		return ch
	}
	subs, ok := h.subscribers[sessionID]
	if !ok {
		subs = make(map[chan *Message]struct{})
		h.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription channel
func (h *Hub) Unsubscribe(sessionID string, ch chan *Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[sessionID]
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(h.subscribers, sessionID)
	}
}

// SendTo pushes an event to every subscriber of a session without blocking
// and returns how many subscribers received it
func (h *Hub) SendTo(sessionID, event string, data any) int {
	if h.closed.Load() {
		return 0
	}

	msg := &Message{
		ID:        uuid.New().String(),
		Event:     event,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for ch := range h.subscribers[sessionID] {
		select {
		case ch <- msg:
			delivered++
		default:
			// Slow consumer, skip rather than block the sender
			h.dropped.Add(1)
		}
	}
	return delivered
}

// Close shuts down the hub and closes every subscription
func (h *Hub) Close() error {
	h.closed.Store(true)

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, subs := range h.subscribers {
		for ch := range subs {
			close(ch)
		}
		delete(h.subscribers, id)
	}
	return nil
}

// SubscriberCount returns the number of active subscriptions
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, subs := range h.subscribers {
		n += len(subs)
	}
	return n
}

// Dropped returns how many messages were skipped because a subscriber was full
func (h *Hub) Dropped() int64 { return h.dropped.Load() }
