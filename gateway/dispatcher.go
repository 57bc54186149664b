package gateway

import (
	"context"
	"encoding/json"

	"github.com/dock108/aicli-gateway/devices"
	"github.com/dock108/aicli-gateway/log"
	"github.com/dock108/aicli-gateway/runner"
)

// Subscribe implements server.Dispatcher: it attaches clientID to sessionID's
// fanout set and immediately delivers anything the queue is still holding
// for that pair, the same handoff spec.md §4.D describes for a client that
// reconnects mid-conversation.
func (g *Gateway) Subscribe(clientID, sessionID string) {
	g.Registry.AddSession(clientID, sessionID)
	g.Queue.TrackClient(sessionID, clientID)

	client, ok := g.Registry.GetClient(clientID)
	if !ok {
		return
	}

	g.Queue.Deliver(sessionID, clientID, func(message map[string]interface{}) error {
		data, err := json.Marshal(message)
		if err != nil {
			return err
		}
		return client.Send(data)
	})
}

// Unsubscribe implements server.Dispatcher.
func (g *Gateway) Unsubscribe(clientID, sessionID string) {
	g.Registry.RemoveSession(clientID, sessionID)
}

// Prompt implements server.Dispatcher: it resolves or creates the
// interactive session backing sessionID, then hands the prompt to the task
// manager so short prompts answer inline and long ones background
// themselves with a heartbeat (tasks.Manager.Handle, spec.md §4.C). The
// executor re-publishes every response SendToInteractiveSession collects
// through the task-event pipeline so subscribed clients still see them,
// without a second goroutine reading the session's event channel.
func (g *Gateway) Prompt(ctx context.Context, clientID, sessionID string, data map[string]interface{}) {
	text, _ := data["text"].(string)
	if text == "" {
		log.Warn().Str("clientId", clientID).Str("sessionId", sessionID).Msg("gateway: prompt with no text, ignoring")
		return
	}

	session, err := g.sessionFor(ctx, sessionID, data)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("gateway: failed to resolve session")
		g.taskEmitter.Emit(runner.Event{
			Type:      runner.EventStreamError,
			SessionID: sessionID,
			Err:       err,
			Timestamp: g.clock.Now(),
		})
		return
	}

	executor := func(ctx context.Context) (interface{}, error) {
		responses, err := g.Runner.SendToInteractiveSession(ctx, session, text)
		for _, r := range responses {
			g.taskEmitter.Emit(runner.Event{
				Type:      runner.EventAssistantMessage,
				SessionID: sessionID,
				Data:      r,
				Timestamp: g.clock.Now(),
			})
		}
		if err != nil {
			return nil, err
		}
		return responses, nil
	}

	if _, err := g.Tasks.Handle(ctx, sessionID, text, executor); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("gateway: prompt execution failed")
	}
}

// PermissionResponse implements server.Dispatcher, resolving a pending
// permission request from the client's approve/deny decision.
func (g *Gateway) PermissionResponse(clientID string, data map[string]interface{}) {
	requestID, _ := data["requestId"].(string)
	if requestID == "" {
		return
	}
	approved, _ := data["approved"].(bool)

	if approved {
		approver, _ := data["approver"].(string)
		if approver == "" {
			approver = clientID
		}
		g.Permission.Approve(requestID, approver)
		return
	}

	reason, _ := data["reason"].(string)
	denier, _ := data["denier"].(string)
	if denier == "" {
		denier = clientID
	}
	g.Permission.Deny(requestID, reason, denier)
}

// RegisterDevice implements server.Dispatcher. A registerDevice message
// doubles as Component I's (spec.md §4.I) token registration: when the
// payload carries a pushToken, it is associated with clientID so later
// task/permission notifications can resolve it (push.Notifier.RegisterToken).
func (g *Gateway) RegisterDevice(clientID string, data map[string]interface{}) {
	userID, _ := data["userId"].(string)
	deviceID, _ := data["deviceId"].(string)
	if userID == "" || deviceID == "" {
		log.Warn().Str("clientId", clientID).Msg("gateway: registerDevice missing userId/deviceId")
		return
	}
	platform, _ := data["platform"].(string)
	appVersion, _ := data["appVersion"].(string)
	extra, _ := data["extra"].(map[string]interface{})

	g.Devices.Register(userID, deviceID, devices.RegisterInfo{
		Platform:   platform,
		AppVersion: appVersion,
		Extra:      extra,
	})

	if pushToken, _ := data["pushToken"].(string); pushToken != "" {
		g.Push.RegisterToken(clientID, pushToken)
	}
}

// ElectPrimary implements server.Dispatcher.
func (g *Gateway) ElectPrimary(clientID string, data map[string]interface{}) {
	userID, _ := data["userId"].(string)
	sessionID, _ := data["sessionId"].(string)
	deviceID, _ := data["deviceId"].(string)
	if sessionID == "" || deviceID == "" {
		log.Warn().Str("clientId", clientID).Msg("gateway: electPrimary missing sessionId/deviceId")
		return
	}
	g.Devices.ElectPrimary(userID, sessionID, deviceID)
}

// TransferPrimary implements server.Dispatcher.
func (g *Gateway) TransferPrimary(clientID string, data map[string]interface{}) {
	sessionID, _ := data["sessionId"].(string)
	fromDeviceID, _ := data["fromDeviceId"].(string)
	toDeviceID, _ := data["toDeviceId"].(string)
	if sessionID == "" || fromDeviceID == "" || toDeviceID == "" {
		log.Warn().Str("clientId", clientID).Msg("gateway: transferPrimary missing session/device ids")
		return
	}
	g.Devices.TransferPrimary(sessionID, fromDeviceID, toDeviceID)
}
