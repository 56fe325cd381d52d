// Package livereload keeps the set of connected preview clients and pushes
// reload notifications to them over Server-Sent Events or WebSocket.
package livereload

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/conneroisu/larrix/internal/logging"
	"github.com/google/uuid"
)

// Reload event name and body sent on every reconciled change.
const (
	ReloadEvent = "reload"
	ReloadBody  = "files changed, reloading..."
)

// clientBuffer is the number of undelivered messages a client may hold
// before it is treated as disconnected.
const clientBuffer = 16

// ErrHubClosed is returned by Register after CloseAll.
var ErrHubClosed = errors.New("livereload: hub closed")

// Message is one push notification.
type Message struct {
	Type      string    `json:"type"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReloadMessage returns the reload notification stamped with the current
// time.
func ReloadMessage() Message {
	return Message{Type: ReloadEvent, Content: ReloadBody, Timestamp: time.Now()}
}

// Client is one registered push connection.
type Client struct {
	ID        string
	Transport string

	send      chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// Messages delivers the notifications broadcast to this client.
func (c *Client) Messages() <-chan Message { return c.send }

// Done is closed once the client has been removed from the hub.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub is the set of connected clients. HTTP handlers run on their own
// goroutines, so membership is guarded by a mutex.
type Hub struct {
	mutex   sync.RWMutex
	clients map[string]*Client
	closed  bool
	logger  logging.Logger
}

// NewHub creates an empty hub.
func NewHub(logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger.WithComponent("livereload"),
	}
}

// Register adds a client for the given transport name.
func (h *Hub) Register(transport string) (*Client, error) {
	client := &Client{
		ID:        uuid.NewString(),
		Transport: transport,
		send:      make(chan Message, clientBuffer),
		done:      make(chan struct{}),
	}

	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		return nil, ErrHubClosed
	}
	h.clients[client.ID] = client
	count := len(h.clients)
	h.mutex.Unlock()

	h.logger.Info(context.Background(), "Client connected",
		"client_id", client.ID, "transport", transport, "total", count)
	return client, nil
}

// Unregister removes c. It reports whether c was still registered, so each
// client is removed exactly once however many paths try.
func (h *Hub) Unregister(c *Client) bool {
	if c == nil {
		return false
	}

	h.mutex.Lock()
	_, ok := h.clients[c.ID]
	if ok {
		delete(h.clients, c.ID)
	}
	count := len(h.clients)
	h.mutex.Unlock()

	c.close()
	if ok {
		h.logger.Info(context.Background(), "Client disconnected",
			"client_id", c.ID, "transport", c.Transport, "total", count)
	}
	return ok
}

// Broadcast queues msg for every registered client without waiting for
// delivery. A client whose buffer is full is removed. It returns the number
// of clients the message was queued for.
func (h *Hub) Broadcast(msg Message) int {
	clients := h.snapshot()

	var failed []*Client
	sent := 0
	for _, c := range clients {
		select {
		case <-c.done:
			continue
		default:
		}
		select {
		case c.send <- msg:
			sent++
		default:
			failed = append(failed, c)
		}
	}

	for _, c := range failed {
		h.logger.Warn(context.Background(), nil, "Dropping unresponsive client", "client_id", c.ID)
		h.Unregister(c)
	}
	return sent
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Has reports whether a client with id is registered.
func (h *Hub) Has(id string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, ok := h.clients[id]
	return ok
}

// CloseAll removes every client and refuses new registrations.
func (h *Hub) CloseAll() {
	h.mutex.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, id)
	}
	h.mutex.Unlock()

	for _, c := range clients {
		c.close()
	}
	if len(clients) > 0 {
		h.logger.Info(context.Background(), "Closed all clients", "count", len(clients))
	}
}

// snapshot copies the client set so broadcasting never iterates the live
// map while clients come and go.
func (h *Hub) snapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}
