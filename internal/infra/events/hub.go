package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rewardline/entitle/internal/domain"
)

// ─── Live Feed ──────────────────────────────────────────────────────────────

// Hub broadcasts events to live subscribers (the SSE feed).
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

// NewHub creates a broadcast hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[chan []byte]struct{}),
	}
}

// Emit implements domain.EventSink.
func (h *Hub) Emit(_ context.Context, e domain.Event) {
	h.Broadcast(e)
}

// Broadcast sends an event to all connected clients.
func (h *Hub) Broadcast(e domain.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, drop message
		}
	}
}

// Subscribe registers a new client. Returns the channel and an unsubscribe func.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 32)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
