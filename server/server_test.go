package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dock108/aicli-gateway/config"
	"github.com/dock108/aicli-gateway/registry"
)

type fakeDispatcher struct {
	mu            sync.Mutex
	subscribed    []string
	unsubscribed  []string
	prompted      []string
	permResponses []string
}

func (f *fakeDispatcher) Subscribe(clientID, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, clientID+":"+sessionID)
}

func (f *fakeDispatcher) Unsubscribe(clientID, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, clientID+":"+sessionID)
}

func (f *fakeDispatcher) Prompt(ctx context.Context, clientID, sessionID string, data map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompted = append(f.prompted, clientID+":"+sessionID)
}

func (f *fakeDispatcher) PermissionResponse(clientID string, data map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permResponses = append(f.permResponses, clientID)
}

func (f *fakeDispatcher) RegisterDevice(clientID string, data map[string]interface{})  {}
func (f *fakeDispatcher) ElectPrimary(clientID string, data map[string]interface{})    {}
func (f *fakeDispatcher) TransferPrimary(clientID string, data map[string]interface{}) {}

func (f *fakeDispatcher) countSubscribed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribed)
}

func (f *fakeDispatcher) countPrompted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompted)
}

func testConfig() *config.Config {
	return &config.Config{
		Env:       "test",
		AuthToken: "secret-token",
	}
}

func newTestServer(t *testing.T, cfg *config.Config, dispatcher Dispatcher, shutdownCtx context.Context) (*httptest.Server, *registry.Registry) {
	t.Helper()
	reg := registry.NewRegistry(cfg, nil)
	router := NewRouter(cfg, WSHandler(reg, dispatcher, shutdownCtx))
	return httptest.NewServer(router), reg
}

func dialWS(t *testing.T, wsURL, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func TestHealthzReturnsOK(t *testing.T) {
	cfg := testConfig()
	srv, _ := newTestServer(t, cfg, &fakeDispatcher{}, context.Background())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestWSRejectsBadToken(t *testing.T) {
	cfg := testConfig()
	srv, _ := newTestServer(t, cfg, &fakeDispatcher{}, context.Background())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=wrong", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected close code 1008 on bad token, got %v", err)
	}
}

func TestWSAcceptsGoodTokenAndDispatchesSubscribe(t *testing.T) {
	cfg := testConfig()
	dispatcher := &fakeDispatcher{}
	srv, _ := newTestServer(t, cfg, dispatcher, context.Background())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn := dialWS(t, wsURL, "secret-token")
	defer conn.Close()

	err := conn.WriteJSON(ClientMessage{
		Type: "subscribe",
		Data: map[string]interface{}{"sessionId": "sess_1"},
	})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for dispatcher.countSubscribed() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if dispatcher.countSubscribed() != 1 {
		t.Fatalf("expected 1 subscribe call, got %d", dispatcher.countSubscribed())
	}
}

func TestWSDispatchesPromptAsynchronously(t *testing.T) {
	cfg := testConfig()
	dispatcher := &fakeDispatcher{}
	srv, _ := newTestServer(t, cfg, dispatcher, context.Background())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn := dialWS(t, wsURL, "secret-token")
	defer conn.Close()

	err := conn.WriteJSON(ClientMessage{
		Type: "prompt",
		Data: map[string]interface{}{"sessionId": "sess_2", "text": "hello"},
	})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for dispatcher.countPrompted() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if dispatcher.countPrompted() != 1 {
		t.Fatalf("expected 1 prompt call, got %d", dispatcher.countPrompted())
	}
}

func TestWSMalformedMessageDoesNotCloseConnection(t *testing.T) {
	cfg := testConfig()
	dispatcher := &fakeDispatcher{}
	srv, _ := newTestServer(t, cfg, dispatcher, context.Background())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn := dialWS(t, wsURL, "secret-token")
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	err := conn.WriteJSON(ClientMessage{
		Type: "subscribe",
		Data: map[string]interface{}{"sessionId": "sess_3"},
	})
	if err != nil {
		t.Fatalf("write failed after malformed message: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for dispatcher.countSubscribed() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if dispatcher.countSubscribed() != 1 {
		t.Fatalf("expected the connection to survive a malformed frame, got %d subscribes", dispatcher.countSubscribed())
	}
}

func TestWSShutdownContextClosesConnection(t *testing.T) {
	cfg := testConfig()
	shutdownCtx, cancel := context.WithCancel(context.Background())
	srv, _ := newTestServer(t, cfg, &fakeDispatcher{}, shutdownCtx)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn := dialWS(t, wsURL, "secret-token")
	defer conn.Close()

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected read to fail after shutdown context cancellation")
	}
}
