// Package registry accepts WebSocket connections, mints client IDs, tracks
// which sessions and event topics each client cares about, and monitors
// liveness with ping/pong (spec.md §4.E). Grounded on
// sallyom-vTeam/components/backend/websocket/hub.go's connection map and
// per-connection write mutex.
package registry

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the subset of *websocket.Conn the registry needs. A real
// *websocket.Conn satisfies it without any adapter; tests substitute a
// fake.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one accepted, registered connection.
type Client struct {
	ID   string
	conn Transport

	writeMu sync.Mutex

	mu               sync.Mutex
	sessionIDs       map[string]struct{}
	subscribedEvents map[string]struct{}
	isAlive          bool
	connectedAt      time.Time
	lastActivity     time.Time
}

// Send writes data as one text WebSocket message, serialized against
// concurrent sends to the same client.
func (c *Client) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Sessions returns the set of session IDs this client is attached to.
func (c *Client) Sessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sessionIDs))
	for id := range c.sessionIDs {
		out = append(out, id)
	}
	return out
}

// IsSubscribed reports whether the client subscribed to the given topic.
func (c *Client) IsSubscribed(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscribedEvents[event]
	return ok
}

// SubscribedEvents returns every topic this client has subscribed to.
func (c *Client) SubscribedEvents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subscribedEvents))
	for e := range c.subscribedEvents {
		out = append(out, e)
	}
	return out
}

// ConnectedAt and LastActivity expose connection bookkeeping read-only.
func (c *Client) ConnectedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedAt
}

func (c *Client) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// EventType names a registry-emitted notification.
type EventType string

const (
	EventClientConnected    EventType = "clientConnected"
	EventClientDisconnected EventType = "clientDisconnected"
)

// Event is one registry notification.
type Event struct {
	Type      EventType
	ClientID  string
	Data      map[string]interface{}
	Timestamp time.Time
}

// Emitter receives registry notifications.
type Emitter interface {
	Emit(ev Event)
}

// SessionClient pairs a client ID with its Client, as returned by
// GetClientsBySession.
type SessionClient struct {
	ClientID string
	Client   *Client
}
