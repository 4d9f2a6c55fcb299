package service

import (
	"sync"

	"github.com/ReilBleem13/PalMessenger/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is one live connection. It is owned by the process that accepted
// it and never outlives it.
type Client struct {
	ID       uuid.UUID
	UserID   int64
	authName string

	conn *websocket.Conn
	send chan *OutboundMessage

	mu       sync.RWMutex
	username string
	state    domain.ConnState
	kicked   bool
}

func NewClient(userID int64, authName string, conn *websocket.Conn, buffer int) *Client {
	return &Client{
		ID:       uuid.New(),
		UserID:   userID,
		authName: authName,
		conn:     conn,
		send:     make(chan *OutboundMessage, buffer),
		state:    domain.ConnConnected,
	}
}

func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Client) State() domain.ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// bind moves a connected client to registered. The username never
// changes afterwards.
func (c *Client) bind(username string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.ConnConnected {
		return false
	}
	c.username = username
	c.state = domain.ConnRegistered
	return true
}

// unbind reverts a bind whose registration failed. A client closed in
// the meantime stays closed.
func (c *Client) unbind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.ConnRegistered {
		return
	}
	c.username = ""
	c.state = domain.ConnConnected
}

// close moves the client to closed and reports the username it held if it
// was registered. Only the first call reports anything.
func (c *Client) close() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasRegistered := c.state == domain.ConnRegistered
	c.state = domain.ConnClosed
	return c.username, wasRegistered
}

// Send queues a frame without blocking. It returns false when the client
// is closed or its queue is full.
func (c *Client) Send(msg *OutboundMessage) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == domain.ConnClosed || c.kicked {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Kick sends what is already queued, then closes the connection. Nothing
// queued after Kick is sent. The state change to closed happens in
// Disconnect once the pumps have stopped.
func (c *Client) Kick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == domain.ConnClosed || c.kicked {
		return
	}
	c.kicked = true

	select {
	case c.send <- nil:
	default:
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

func (c *Client) Kicked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kicked
}
