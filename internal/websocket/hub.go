package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"larder/internal/store"
)

// Message is the wire form of one change notification. Clients filter on
// scope_id; the payload carries the changed document so they can patch their
// local caches without a follow-up fetch.
type Message struct {
	Type       string `json:"type"`
	Collection string `json:"collection"`
	Action     string `json:"action"`
	ScopeID    string `json:"scope_id"`
	Item       any    `json:"item,omitempty"`
	Meal       any    `json:"meal,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// FromEvent converts a store event into its broadcast form.
func FromEvent(ev store.Event) Message {
	msg := Message{
		Type:       string(ev.Collection) + "_" + ev.Action,
		Collection: string(ev.Collection),
		Action:     ev.Action,
		ScopeID:    ev.ScopeID,
	}
	if ev.Item != nil {
		msg.Item = ev.Item
	}
	if ev.Meal != nil {
		msg.Meal = ev.Meal
	}
	return msg
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends a message to every client subscribed to its scope.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.scopeID != "" && msg.ScopeID != "" && c.scopeID != msg.ScopeID {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client buffer full — drop message to avoid blocking
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
