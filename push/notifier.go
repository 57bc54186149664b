package push

import (
	"sync"

	"github.com/dock108/aicli-gateway/config"
	"github.com/dock108/aicli-gateway/log"
)

// Notifier sends payloads through a Transport, tracking tokens the provider
// has reported as permanently bad so they are never retried.
type Notifier struct {
	cfg       *config.Config
	transport Transport

	mu           sync.Mutex
	badTokens    map[string]struct{}
	deviceTokens map[string]string // clientID -> token
}

// NewNotifier constructs a Notifier over transport.
func NewNotifier(cfg *config.Config, transport Transport) *Notifier {
	return &Notifier{
		cfg:          cfg,
		transport:    transport,
		badTokens:    make(map[string]struct{}),
		deviceTokens: make(map[string]string),
	}
}

// RegisterToken associates clientID with a device token for
// sendToMultipleClients lookups.
func (n *Notifier) RegisterToken(clientID, token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deviceTokens[clientID] = token
}

// TokenForClient implements ClientResolver.
func (n *Notifier) TokenForClient(clientID string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	token, ok := n.deviceTokens[clientID]
	return token, ok
}

// UnregisterToken drops clientID's device token, e.g. on disconnect or
// explicit device unregistration, so a stale client ID is never resolved to
// a token that no longer belongs to it.
func (n *Notifier) UnregisterToken(clientID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.deviceTokens, clientID)
}

func isTerminal(reason string) bool {
	switch reason {
	case ReasonBadDeviceToken, ReasonUnregistered, ReasonExpiredProviderToken:
		return true
	default:
		return false
	}
}

// Send delivers payload to token, retrying transient failures up to
// retries times. A token already in badTokens short-circuits with zero
// transport calls.
func (n *Notifier) Send(token string, payload Payload, retries int) SendResult {
	if retries <= 0 {
		retries = 3
	}

	n.mu.Lock()
	_, bad := n.badTokens[token]
	n.mu.Unlock()
	if bad {
		return SendResult{Success: false, Error: ReasonBadDeviceToken}
	}

	for attempt := 1; attempt <= retries; attempt++ {
		err := n.transport.Send(token, payload)
		if err == nil {
			return SendResult{Success: true}
		}

		reason := reasonFor(err)
		if isTerminal(reason) {
			if reason == ReasonBadDeviceToken || reason == ReasonUnregistered {
				n.handleBadToken(token)
			}
			return SendResult{Success: false, Error: reason}
		}

		log.Warn().Str("token", redactToken(token)).Int("attempt", attempt).Str("reason", reason).Msg("push: transient send failure, retrying")
	}

	return SendResult{Success: false, Error: ReasonMaxRetriesExceeded}
}

func reasonFor(err error) string {
	if te, ok := err.(*TransportError); ok {
		return te.Reason
	}
	return ReasonNetworkError
}

// handleBadToken evicts token: it is added to badTokens and every client
// mapped to it is dropped from deviceTokens.
func (n *Notifier) handleBadToken(token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.badTokens[token] = struct{}{}
	for clientID, t := range n.deviceTokens {
		if t == token {
			delete(n.deviceTokens, clientID)
		}
	}
}

const maxConcurrentSends = 10

// SendToMultipleClients resolves each clientID to a device token via
// resolver and sends payload with bounded concurrency (spec.md §4.I).
func (n *Notifier) SendToMultipleClients(clientIDs []string, payload Payload, resolver ClientResolver) MultiResult {
	sem := make(chan struct{}, maxConcurrentSends)
	var wg sync.WaitGroup
	var mu sync.Mutex
	result := MultiResult{}

	for _, clientID := range clientIDs {
		token, ok := resolver.TokenForClient(clientID)
		if !ok {
			mu.Lock()
			result.Failed++
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res := n.Send(token, payload, n.cfg.PushMaxRetries)

			mu.Lock()
			defer mu.Unlock()
			if res.Success {
				result.Sent++
			} else {
				result.Failed++
			}
		}(token)
	}

	wg.Wait()
	return result
}

// NotifyTaskCompletion backs tasks.Notifier (through the gateway's
// 3-argument adapter) by shaping a completion or
// failure alert and broadcasting it to every client registered for a token.
// clientIDs and resolver are supplied by the composition root, which knows
// which clients belong to sessionID.
func (n *Notifier) NotifyTaskCompletion(clientIDs []string, sessionID, text string, isError bool, resolver ClientResolver) MultiResult {
	title := "Task complete"
	if isError {
		title = "Task failed"
	}
	payload := Payload{
		Title: title,
		Body:  truncate(text, 200),
		Data:  map[string]string{"sessionId": sessionID},
	}
	return n.SendToMultipleClients(clientIDs, payload, resolver)
}

func redactToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "…" + token[len(token)-4:]
}
