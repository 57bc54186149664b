package gateway

import (
	"github.com/dock108/aicli-gateway/log"
	"github.com/dock108/aicli-gateway/push"
)

// LoggingTransport is a push.Transport that only logs. It's the default
// passed to New when the deployment hasn't wired a real push provider
// (spec.md §6 treats the transport as an abstract external collaborator).
type LoggingTransport struct{}

// NewLoggingTransport constructs a no-op push.Transport.
func NewLoggingTransport() *LoggingTransport {
	return &LoggingTransport{}
}

// Send implements push.Transport by logging the payload and reporting
// success. It never fails, so Notifier's retry/eviction paths are only
// exercised by a real provider's Transport.
func (LoggingTransport) Send(token string, payload push.Payload) error {
	log.Info().Str("token", token).Str("title", payload.Title).Msg("push: send (logging transport, no provider configured)")
	return nil
}
