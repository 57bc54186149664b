package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dock108/aicli-gateway/config"
	"github.com/dock108/aicli-gateway/log"
	"github.com/dock108/aicli-gateway/queue"
	"github.com/dock108/aicli-gateway/registry"
	"github.com/dock108/aicli-gateway/runner"
)

// routedEventTypes are the runner event types relayed to session clients
// (spec.md §4.F step 3). Anything else (e.g. a future event type the
// runner doesn't yet emit) is silently dropped rather than broadcast.
var routedEventTypes = map[runner.EventType]bool{
	runner.EventPermissionRequired:  true,
	runner.EventProcessStart:       true,
	runner.EventProcessExit:        true,
	runner.EventProcessStderr:      true,
	runner.EventToolUse:            true,
	runner.EventToolResult:         true,
	runner.EventAssistantMessage:   true,
	runner.EventSystemInit:         true,
	runner.EventConversationResult: true,
	runner.EventStreamChunk:        true,
	runner.EventCommandProgress:    true,
	runner.EventStreamError:        true,
}

// Broadcaster subscribes to one or more runner event streams and routes
// each event to the clients attached to its session, via the connection
// registry, while also enqueuing it so a disconnected client receives it
// on reconnect.
type Broadcaster struct {
	clock    config.Clock
	registry *registry.Registry
	queue    *queue.Queue
	notifier Notifier

	mu   sync.Mutex
	subs map[string]*subscription
}

// NewBroadcaster constructs a Broadcaster. notifier may be nil.
func NewBroadcaster(cfg *config.Config, reg *registry.Registry, q *queue.Queue, notifier Notifier) *Broadcaster {
	return &Broadcaster{
		clock:    config.ClockFor(cfg),
		registry: reg,
		queue:    q,
		notifier: notifier,
		subs:     make(map[string]*subscription),
	}
}

// Subscribe consumes events from a runner event stream until it closes or
// RemoveEventListeners(serviceID) is called. serviceID is an opaque handle
// the caller chooses (typically a session ID) to later detach this
// specific subscription.
func (b *Broadcaster) Subscribe(serviceID string, events <-chan runner.Event) {
	stop := make(chan struct{})

	b.mu.Lock()
	b.subs[serviceID] = &subscription{stop: stop}
	b.mu.Unlock()

	go b.consume(serviceID, events, stop)
}

func (b *Broadcaster) consume(serviceID string, events <-chan runner.Event, stop <-chan struct{}) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				b.RemoveEventListeners(serviceID)
				return
			}
			b.route(ev)
		case <-stop:
			return
		}
	}
}

// route implements spec.md §4.F steps 1-4 for a single event.
func (b *Broadcaster) route(ev runner.Event) {
	if ev.SessionID == "" {
		return
	}
	if !routedEventTypes[ev.Type] {
		return
	}

	message := map[string]interface{}{
		"type":      string(ev.Type),
		"data":      ev.Data,
		"timestamp": b.clock.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(message)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", ev.SessionID).Msg("broadcast: failed to marshal event")
		return
	}

	sentTo := b.sendToSessionClients(ev.SessionID, payload)

	if b.notifier != nil {
		b.notifier.EmitMessageBroadcast(ev.SessionID, string(ev.Type), len(sentTo))
	}

	b.enqueueForLateJoiners(ev.SessionID, message, sentTo)
}

func (b *Broadcaster) sendToSessionClients(sessionID string, payload []byte) map[string]struct{} {
	sentTo := make(map[string]struct{})
	for _, sc := range b.registry.GetClientsBySession(sessionID) {
		if err := sc.Client.Send(payload); err != nil {
			log.Debug().Err(err).Str("clientId", sc.ClientID).Msg("broadcast: send failed")
			continue
		}
		sentTo[sc.ClientID] = struct{}{}
	}
	return sentTo
}

// enqueueForLateJoiners keeps spec.md §4.F step 4: every routed message is
// also queued (§4.D), but clients who already received it live are marked
// delivered immediately so a later reconnect doesn't replay it to them.
func (b *Broadcaster) enqueueForLateJoiners(sessionID string, message map[string]interface{}, sentTo map[string]struct{}) {
	if b.queue == nil {
		return
	}
	id, queued := b.queue.Queue(sessionID, message, queue.Options{})
	if !queued {
		return
	}
	for clientID := range sentTo {
		b.queue.MarkDelivered(sessionID, []string{id}, clientID)
	}
}

// BroadcastToAll sends messageType/data to every connected client,
// regardless of session or subscription.
func (b *Broadcaster) BroadcastToAll(messageType string, data interface{}) int {
	count := b.sendToAll(messageType, data, func(*registry.Client) bool { return true })
	if b.notifier != nil {
		b.notifier.EmitSystemBroadcast(messageType, count)
	}
	return count
}

// PublishTopic sends data to every client subscribed to topic.
func (b *Broadcaster) PublishTopic(topic string, data interface{}) int {
	count := b.sendToAll(topic, data, func(c *registry.Client) bool { return c.IsSubscribed(topic) })
	if b.notifier != nil {
		b.notifier.EmitEventBroadcast(topic, count)
	}
	return count
}

func (b *Broadcaster) sendToAll(messageType string, data interface{}, include func(*registry.Client) bool) int {
	payload, err := json.Marshal(map[string]interface{}{
		"type":      messageType,
		"data":      data,
		"timestamp": b.clock.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Warn().Err(err).Str("messageType", messageType).Msg("broadcast: failed to marshal message")
		return 0
	}

	count := 0
	for _, c := range b.registry.GetAllClients() {
		if !include(c) {
			continue
		}
		if c.Send(payload) == nil {
			count++
		}
	}
	return count
}

// RemoveEventListeners detaches the subscription registered under
// serviceID, if any.
func (b *Broadcaster) RemoveEventListeners(serviceID string) {
	b.mu.Lock()
	sub, ok := b.subs[serviceID]
	if ok {
		delete(b.subs, serviceID)
	}
	b.mu.Unlock()

	if ok {
		close(sub.stop)
	}
}

// Shutdown detaches every active subscription.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*subscription)
	b.mu.Unlock()

	for _, s := range subs {
		close(s.stop)
	}
}

// Stats reports the broadcaster's current fanout.
func (b *Broadcaster) Stats() Stats {
	clients := b.registry.GetAllClients()

	eventCounts := make(map[string]int)
	total := 0
	for _, c := range clients {
		for _, e := range c.SubscribedEvents() {
			eventCounts[e]++
			total++
		}
	}

	b.mu.Lock()
	active := len(b.subs)
	b.mu.Unlock()

	return Stats{
		ConnectedClients:   len(clients),
		TotalSubscriptions: total,
		EventSubscriptions: eventCounts,
		ActiveListeners:    active,
	}
}
