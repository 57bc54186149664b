// Package server owns the HTTP router, WebSocket upgrade endpoint, and
// bearer-token authentication for the gateway (spec.md §6). It depends on
// no concrete subsystem beyond the connection registry; everything else it
// needs from the rest of the gateway comes through the Dispatcher
// interface, wired by the gateway composition root. Grounded on
// backend/server/server.go's router setup.
package server

import "context"

// ClientMessage is the wire envelope a client sends: { type, data,
// timestamp } per spec.md §6.
type ClientMessage struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// Dispatcher handles the client-to-server verbs spec.md §6 enumerates, plus
// the device-registry verbs (registerDevice/electPrimary/transferPrimary)
// this build exposes over the same WebSocket connection rather than a
// separate REST surface, since the full REST API is out of scope.
// Implementations are expected to be non-blocking for Prompt (spawn a
// goroutine) since the caller is the connection's read loop.
type Dispatcher interface {
	Subscribe(clientID, sessionID string)
	Unsubscribe(clientID, sessionID string)
	Prompt(ctx context.Context, clientID, sessionID string, data map[string]interface{})
	PermissionResponse(clientID string, data map[string]interface{})
	RegisterDevice(clientID string, data map[string]interface{})
	ElectPrimary(clientID string, data map[string]interface{})
	TransferPrimary(clientID string, data map[string]interface{})
}
