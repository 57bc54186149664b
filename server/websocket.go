package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dock108/aicli-gateway/log"
	"github.com/dock108/aicli-gateway/registry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler returns the gin.HandlerFunc for the /ws route: it upgrades the
// connection, authenticates it through reg.Accept, then loops reading
// ClientMessage frames and dispatching them until the connection closes or
// shutdownCtx is cancelled.
func WSHandler(reg *registry.Registry, dispatcher Dispatcher, shutdownCtx context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		log.MarkHijacked(c)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Msg("websocket upgrade failed")
			return
		}

		token := extractToken(c.Request)
		client, err := reg.Accept(conn, token)
		if err != nil {
			conn.Close()
			return
		}

		readLoop(c.Request.Context(), shutdownCtx, reg, client, dispatcher, conn)
	}
}

func readLoop(reqCtx, shutdownCtx context.Context, reg *registry.Registry, client *registry.Client, dispatcher Dispatcher, conn *websocket.Conn) {
	closed := make(chan struct{})
	defer close(closed)

	go func() {
		select {
		case <-shutdownCtx.Done():
			conn.Close()
		case <-closed:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			reg.Disconnect(client.ID, "read error or close")
			return
		}

		reg.UpdateActivity(client.ID)

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Warn().Err(err).Str("clientId", client.ID).Msg("dropping malformed client message")
			continue
		}

		dispatch(reqCtx, dispatcher, client.ID, msg)
	}
}

func dispatch(ctx context.Context, dispatcher Dispatcher, clientID string, msg ClientMessage) {
	sessionID, _ := msg.Data["sessionId"].(string)

	switch msg.Type {
	case "ping":
		// liveness is handled by pong frames at the transport level; a
		// text-level ping just needs no response beyond UpdateActivity,
		// already recorded by the caller.
	case "subscribe":
		dispatcher.Subscribe(clientID, sessionID)
	case "unsubscribe":
		dispatcher.Unsubscribe(clientID, sessionID)
	case "prompt":
		go dispatcher.Prompt(ctx, clientID, sessionID, msg.Data)
	case "permissionResponse":
		dispatcher.PermissionResponse(clientID, msg.Data)
	case "registerDevice":
		dispatcher.RegisterDevice(clientID, msg.Data)
	case "electPrimary":
		dispatcher.ElectPrimary(clientID, msg.Data)
	case "transferPrimary":
		dispatcher.TransferPrimary(clientID, msg.Data)
	default:
		log.Warn().Str("type", msg.Type).Str("clientId", clientID).Msg("unknown client message type")
	}
}
