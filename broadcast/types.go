// Package broadcast fans runner events out to the session clients that
// care about them, enqueuing for anyone currently disconnected so a
// reconnect or late join still gets the message (spec.md §4.F).
package broadcast

// Notifier receives the side-channel notifications a broadcast produces,
// distinct from the broadcast payload itself.
type Notifier interface {
	EmitMessageBroadcast(sessionID, messageType string, clientCount int)
	EmitSystemBroadcast(messageType string, clientCount int)
	EmitEventBroadcast(topic string, clientCount int)
}

// Stats is a snapshot of the broadcaster's current fanout.
type Stats struct {
	ConnectedClients   int
	TotalSubscriptions int
	EventSubscriptions map[string]int
	ActiveListeners    int
}

type subscription struct {
	stop chan struct{}
}
