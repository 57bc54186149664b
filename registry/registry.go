package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dock108/aicli-gateway/config"
	"github.com/dock108/aicli-gateway/log"
)

// ErrUnauthorized is returned by Accept when the bearer token doesn't match
// the configured value.
var ErrUnauthorized = errors.New("registry: unauthorized")

// Registry owns every accepted connection. Reachable only through its own
// methods — there is no package-level singleton map (DESIGN NOTE 2).
type Registry struct {
	cfg     *config.Config
	clock   config.Clock
	emitter Emitter

	mu      sync.RWMutex
	clients map[string]*Client

	healthMu   sync.Mutex
	healthStop func()
	healthDone chan struct{}
}

// NewRegistry constructs a Registry. emitter may be nil.
func NewRegistry(cfg *config.Config, emitter Emitter) *Registry {
	return &Registry{
		cfg:     cfg,
		clock:   config.ClockFor(cfg),
		emitter: emitter,
		clients: make(map[string]*Client),
	}
}

// Accept admits a new connection once its bearer token (from "?token=" or
// an Authorization header, extracted by the caller) matches the configured
// token, or no token is configured. On mismatch the transport is closed
// with code 1008 and ErrUnauthorized is returned. On success it mints a
// clientId, installs a pong handler that refreshes liveness, and emits
// clientConnected.
func (r *Registry) Accept(conn Transport, token string) (*Client, error) {
	if r.cfg.AuthToken != "" && token != r.cfg.AuthToken {
		closeWithCode(conn, 1008, "invalid or missing token")
		return nil, ErrUnauthorized
	}

	now := r.clock.Now()
	client := &Client{
		ID:               "client_" + uuid.NewString(),
		conn:             conn,
		sessionIDs:       make(map[string]struct{}),
		subscribedEvents: make(map[string]struct{}),
		isAlive:          true,
		connectedAt:      now,
		lastActivity:     now,
	}

	conn.SetPongHandler(func(string) error {
		client.mu.Lock()
		client.isAlive = true
		client.lastActivity = r.clock.Now()
		client.mu.Unlock()
		return nil
	})

	r.mu.Lock()
	r.clients[client.ID] = client
	r.mu.Unlock()

	r.emit(Event{
		Type:      EventClientConnected,
		ClientID:  client.ID,
		Data:      map[string]interface{}{"connectedAt": now},
		Timestamp: now,
	})

	return client, nil
}

// Disconnect removes clientID from the registry and closes its transport.
// Called by the server's read loop on close, error, or a failed liveness
// check; a no-op for an unknown clientID.
func (r *Registry) Disconnect(clientID, reason string) {
	r.mu.Lock()
	client, ok := r.clients[clientID]
	if ok {
		delete(r.clients, clientID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	_ = client.conn.Close()

	r.emit(Event{
		Type:      EventClientDisconnected,
		ClientID:  clientID,
		Data:      map[string]interface{}{"reason": reason},
		Timestamp: r.clock.Now(),
	})
}

// AddSession attaches sessionID to clientID's fanout set.
func (r *Registry) AddSession(clientID, sessionID string) {
	r.withClient(clientID, func(c *Client) {
		c.mu.Lock()
		c.sessionIDs[sessionID] = struct{}{}
		c.mu.Unlock()
	})
}

// RemoveSession detaches sessionID from clientID.
func (r *Registry) RemoveSession(clientID, sessionID string) {
	r.withClient(clientID, func(c *Client) {
		c.mu.Lock()
		delete(c.sessionIDs, sessionID)
		c.mu.Unlock()
	})
}

// Subscribe adds one or more event topics to clientID's subscription set.
func (r *Registry) Subscribe(clientID string, events ...string) {
	r.withClient(clientID, func(c *Client) {
		c.mu.Lock()
		for _, e := range events {
			c.subscribedEvents[e] = struct{}{}
		}
		c.mu.Unlock()
	})
}

// GetClient looks up a client by ID.
func (r *Registry) GetClient(clientID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[clientID]
	return c, ok
}

// GetAllClients returns every currently-registered client.
func (r *Registry) GetAllClients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// GetClientsBySession returns every client attached to sessionID.
func (r *Registry) GetClientsBySession(sessionID string) []SessionClient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []SessionClient
	for id, c := range r.clients {
		c.mu.Lock()
		_, has := c.sessionIDs[sessionID]
		c.mu.Unlock()
		if has {
			out = append(out, SessionClient{ClientID: id, Client: c})
		}
	}
	return out
}

// UpdateActivity refreshes clientID's lastActivity timestamp.
func (r *Registry) UpdateActivity(clientID string) {
	r.withClient(clientID, func(c *Client) {
		c.mu.Lock()
		c.lastActivity = r.clock.Now()
		c.mu.Unlock()
	})
}

// StartHealthMonitoring begins the ping/pong liveness sweep. Idempotent: a
// second call is a no-op while monitoring is already running.
func (r *Registry) StartHealthMonitoring() {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()
	if r.healthStop != nil {
		return
	}

	ticks, stop := r.clock.NewTicker(r.cfg.HeartbeatInterval)
	done := make(chan struct{})
	r.healthStop = stop
	r.healthDone = done

	go r.healthLoop(ticks, done)
}

// StopHealthMonitoring halts the liveness sweep.
func (r *Registry) StopHealthMonitoring() {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()
	if r.healthStop == nil {
		return
	}
	r.healthStop()
	close(r.healthDone)
	r.healthStop = nil
	r.healthDone = nil
}

func (r *Registry) healthLoop(ticks <-chan time.Time, done <-chan struct{}) {
	for {
		select {
		case <-ticks:
			r.sweep()
		case <-done:
			return
		}
	}
}

// sweep disconnects any client that failed to pong since the last sweep,
// then pings every survivor and marks it not-alive until its next pong.
func (r *Registry) sweep() {
	for _, c := range r.GetAllClients() {
		c.mu.Lock()
		alive := c.isAlive
		c.mu.Unlock()

		if !alive {
			r.Disconnect(c.ID, "Connection lost - no pong received")
			continue
		}

		c.mu.Lock()
		c.isAlive = false
		c.mu.Unlock()

		c.writeMu.Lock()
		err := c.conn.WriteControl(websocket.PingMessage, nil, time.Time{})
		c.writeMu.Unlock()

		if err != nil {
			log.Debug().Str("clientId", c.ID).Err(err).Msg("registry: ping failed")
			r.Disconnect(c.ID, "ping failed")
		}
	}
}

// Shutdown stops health monitoring and closes every connection with code
// 1001, swallowing any error from an already-broken transport.
func (r *Registry) Shutdown() {
	r.StopHealthMonitoring()

	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	for _, c := range clients {
		safeClose(c.conn)
	}
}

func (r *Registry) withClient(clientID string, fn func(*Client)) {
	r.mu.RLock()
	c, ok := r.clients[clientID]
	r.mu.RUnlock()
	if ok {
		fn(c)
	}
}

func (r *Registry) emit(ev Event) {
	if r.emitter != nil {
		r.emitter.Emit(ev)
	}
}

func closeWithCode(conn Transport, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	_ = conn.Close()
}

func safeClose(conn Transport) {
	defer func() { _ = recover() }()
	closeWithCode(conn, 1001, "server shutting down")
}
