package gateway

import (
	"fmt"
	"sync"

	"github.com/dock108/aicli-gateway/broadcast"
	"github.com/dock108/aicli-gateway/devices"
	"github.com/dock108/aicli-gateway/log"
	"github.com/dock108/aicli-gateway/permission"
	"github.com/dock108/aicli-gateway/push"
	"github.com/dock108/aicli-gateway/registry"
	"github.com/dock108/aicli-gateway/runner"
	"github.com/dock108/aicli-gateway/tasks"
)

// registryEmitterAdapter forwards connection lifecycle events to the log
// and to any client subscribed to the matching topic.
type registryEmitterAdapter struct{ g *Gateway }

func (a *registryEmitterAdapter) Emit(ev registry.Event) {
	log.Debug().Str("type", string(ev.Type)).Str("clientId", ev.ClientID).Msg("registry event")
	if ev.Type == registry.EventClientDisconnected {
		a.g.Push.UnregisterToken(ev.ClientID)
	}
	a.g.Broadcaster.PublishTopic(string(ev.Type), ev.Data)
}

// devicesEmitterAdapter forwards device/primary-election events the same
// way: logged, and published to whichever clients subscribed to that topic.
type devicesEmitterAdapter struct{ g *Gateway }

func (a *devicesEmitterAdapter) Emit(ev devices.Event) {
	log.Debug().Str("type", string(ev.Type)).Str("sessionId", ev.SessionID).Str("deviceId", ev.DeviceID).Msg("devices event")
	a.g.Broadcaster.PublishTopic(string(ev.Type), map[string]interface{}{
		"userId":    ev.UserID,
		"sessionId": ev.SessionID,
		"deviceId":  ev.DeviceID,
		"data":      ev.Data,
	})
}

// permissionEmitterAdapter forwards approval/denial events the same way.
type permissionEmitterAdapter struct{ g *Gateway }

func (a *permissionEmitterAdapter) Emit(ev permission.Event) {
	log.Debug().Str("type", string(ev.Type)).Str("requestId", ev.Request.ID).Msg("permission event")
	a.g.Broadcaster.PublishTopic(string(ev.Type), map[string]interface{}{
		"requestId": ev.Request.ID,
		"operation": ev.Request.Operation,
		"status":    string(ev.Request.Status),
	})
}

// broadcastNotifierAdapter logs the broadcaster's own fanout counters,
// since spec.md names these as side-channel notifications distinct from the
// broadcast payload itself; nothing downstream currently needs them as
// structured events.
type broadcastNotifierAdapter struct{}

func (broadcastNotifierAdapter) EmitMessageBroadcast(sessionID, messageType string, clientCount int) {
	log.Debug().Str("sessionId", sessionID).Str("messageType", messageType).Int("clients", clientCount).Msg("broadcast: message")
}

func (broadcastNotifierAdapter) EmitSystemBroadcast(messageType string, clientCount int) {
	log.Debug().Str("messageType", messageType).Int("clients", clientCount).Msg("broadcast: system")
}

func (broadcastNotifierAdapter) EmitEventBroadcast(topic string, clientCount int) {
	log.Debug().Str("topic", topic).Int("clients", clientCount).Msg("broadcast: topic")
}

// permissionAppNotifierAdapter fans a pending permission request out to
// every client attached to its session as a push notification, resolving
// recipients through the connection registry the same way broadcast does.
type permissionAppNotifierAdapter struct{ g *Gateway }

func (a *permissionAppNotifierAdapter) NotifyApps(req permission.Request) error {
	sessionID, _ := req.Context["sessionId"].(string)
	clientIDs := sessionClientIDs(a.g.Registry, sessionID)
	if len(clientIDs) == 0 {
		return nil
	}

	payload := push.Payload{
		Title: "Permission requested",
		Body:  req.Operation,
		Data:  map[string]string{"requestId": req.ID, "sessionId": sessionID},
	}
	result := a.g.Push.SendToMultipleClients(clientIDs, payload, a.g.Push)
	if result.Sent == 0 && result.Failed > 0 {
		a.g.enqueuePushRetry(clientIDs, payload)
		return fmt.Errorf("permission: failed to notify any app for request %s", req.ID)
	}
	return nil
}

// pushTaskNotifierAdapter bridges tasks.Notifier's 3-argument completion
// callback to push.Notifier's multi-client send, which additionally needs
// the session's current client IDs and a token resolver — looked up here
// through the registry rather than threaded through tasks.Manager, since
// tasks has no reason to know about clients or device tokens. The title
// is labeled with tasks.ProjectName(sessionID) rather than the raw session
// ID, the same human-readable name the teacher's claude.Session.Title
// convenience derives.
type pushTaskNotifierAdapter struct{ g *Gateway }

func (a *pushTaskNotifierAdapter) NotifyTaskCompletion(sessionID, text string, isError bool) {
	clientIDs := sessionClientIDs(a.g.Registry, sessionID)
	if len(clientIDs) == 0 {
		return
	}

	status := "Task complete"
	if isError {
		status = "Task failed"
	}
	payload := push.Payload{
		Title: fmt.Sprintf("%s: %s", tasks.ProjectName(sessionID), status),
		Body:  text,
		Data:  map[string]string{"sessionId": sessionID},
	}

	result := a.g.Push.SendToMultipleClients(clientIDs, payload, a.g.Push)
	if result.Sent == 0 && result.Failed > 0 {
		a.g.enqueuePushRetry(clientIDs, payload)
	}
}

// gatewayTaskEmitter relays tasks.Manager's synthetic events (progress
// heartbeats, completion/failure assistant messages) through the same
// broadcaster.Subscribe/consume pipeline runner process events use, under a
// "task:"-prefixed serviceID per session so it never collides with that
// session's live process subscription.
type gatewayTaskEmitter struct {
	broadcaster *broadcast.Broadcaster

	mu   sync.Mutex
	subs map[string]chan runner.Event
}

func newGatewayTaskEmitter(b *broadcast.Broadcaster) *gatewayTaskEmitter {
	return &gatewayTaskEmitter{broadcaster: b, subs: make(map[string]chan runner.Event)}
}

func (e *gatewayTaskEmitter) Emit(ev runner.Event) {
	ch := e.channelFor(ev.SessionID)
	select {
	case ch <- ev:
	default:
		log.Warn().Str("sessionId", ev.SessionID).Msg("gateway: dropping task event, emitter channel full")
	}
}

func (e *gatewayTaskEmitter) channelFor(sessionID string) chan runner.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ch, ok := e.subs[sessionID]; ok {
		return ch
	}
	ch := make(chan runner.Event, 8)
	e.subs[sessionID] = ch
	e.broadcaster.Subscribe("task:"+sessionID, ch)
	return ch
}

// sessionClientIDs resolves every client currently attached to sessionID,
// the shared lookup the permission and task-completion notifiers both need
// before they can hand off to the push notifier.
func sessionClientIDs(reg *registry.Registry, sessionID string) []string {
	if sessionID == "" {
		return nil
	}
	sessionClients := reg.GetClientsBySession(sessionID)
	clientIDs := make([]string, 0, len(sessionClients))
	for _, sc := range sessionClients {
		clientIDs = append(clientIDs, sc.ClientID)
	}
	return clientIDs
}
