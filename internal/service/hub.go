package service

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Hub indexes this process's registered clients by username. A username
// may have several local connections (tabs), and most usernames have
// none: events for them are handled by another process.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[uuid.UUID]*Client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[uuid.UUID]*Client),
	}
}

func (h *Hub) Register(client *Client) {
	username := client.Username()

	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[username]
	if !ok {
		conns = make(map[uuid.UUID]*Client)
		h.clients[username] = conns
	}
	conns[client.ID] = client
	slog.Info("User connected", "username", username, "conn_id", client.ID, "local_conns", len(conns))
}

// Unregister removes the client and returns how many local connections
// the same username still has.
func (h *Hub) Unregister(client *Client) int {
	username := client.Username()

	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[username]
	if !ok {
		return 0
	}
	delete(conns, client.ID)
	if len(conns) == 0 {
		delete(h.clients, username)
	}
	slog.Info("User disconnected", "username", username, "conn_id", client.ID, "local_conns", len(conns))
	return len(conns)
}

func (h *Hub) Count(username string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[username])
}

// Deliver queues msg on every local connection of username and returns
// how many accepted it.
func (h *Hub) Deliver(username string, msg *OutboundMessage) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[username]))
	for _, c := range h.clients[username] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.Send(msg) {
			delivered++
			continue
		}
		slog.Warn("Dropping frame for slow or closing client", "username", username, "conn_id", c.ID, "type", msg.Type)
	}
	return delivered
}
