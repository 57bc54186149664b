package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dock108/aicli-gateway/config"
	"github.com/dock108/aicli-gateway/push"
	"github.com/dock108/aicli-gateway/queue"
)

type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data)
	return nil
}
func (f *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeConn) SetPongHandler(func(string) error)         {}
func (f *fakeConn) Close() error                              { return nil }

func (f *fakeConn) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

type fakeTransport struct {
	mu      sync.Mutex
	calls   int
	payload push.Payload
}

func (f *fakeTransport) Send(token string, payload push.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.payload = payload
	return nil
}

func (f *fakeTransport) lastPayload() push.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payload
}

func testConfig() *config.Config {
	return &config.Config{
		Env:                      "test",
		QueueStorage:             config.QueueStorageMemory,
		QueueTTL:                 time.Hour,
		QueueMaxRetries:          2,
		QueueRetryBase:           time.Millisecond,
		QueueCleanupTick:         time.Hour,
		DeviceTimeout:            time.Minute,
		HeartbeatInterval:        time.Minute,
		PermissionRequestTimeout: time.Minute,
		PermissionDefaultAction:  "deny",
		PushMaxRetries:           1,
		PushMaxConcurrent:        4,
	}
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	gw, _ := newTestGatewayWithTransport(t)
	return gw
}

func newTestGatewayWithTransport(t *testing.T) (*Gateway, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	gw, err := New(testConfig(), ft)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return gw, ft
}

func TestNewWiresEveryComponent(t *testing.T) {
	gw := newTestGateway(t)
	if gw.Registry == nil || gw.Queue == nil || gw.JobQueue == nil || gw.Runner == nil ||
		gw.Tasks == nil || gw.Broadcaster == nil || gw.Devices == nil || gw.Permission == nil || gw.Push == nil {
		t.Fatal("expected every component to be constructed")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.QueueStorage = "redis"
	if _, err := New(cfg, &fakeTransport{}); err == nil {
		t.Fatal("expected validation error for unimplemented queue storage")
	}
}

func TestSubscribeDeliversQueuedMessages(t *testing.T) {
	gw := newTestGateway(t)
	conn := &fakeConn{}
	client, err := gw.Registry.Accept(conn, "")
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	gw.Queue.Queue("s1", map[string]interface{}{"type": "assistantMessage", "text": "hi"}, queue.Options{})

	gw.Subscribe(client.ID, "s1")

	if len(conn.messages()) == 0 {
		t.Error("expected Subscribe to deliver queued messages")
	}
}

func TestUnsubscribeRemovesSession(t *testing.T) {
	gw := newTestGateway(t)
	conn := &fakeConn{}
	client, _ := gw.Registry.Accept(conn, "")

	gw.Subscribe(client.ID, "s1")
	gw.Unsubscribe(client.ID, "s1")

	sessions := client.Sessions()
	for _, s := range sessions {
		if s == "s1" {
			t.Error("expected s1 to be removed from client's sessions")
		}
	}
}

func TestPromptIgnoresEmptyText(t *testing.T) {
	gw := newTestGateway(t)
	gw.Prompt(context.Background(), "client1", "s1", map[string]interface{}{})

	gw.sessMu.Lock()
	defer gw.sessMu.Unlock()
	if len(gw.sessions) != 0 {
		t.Error("expected no session to be created for an empty prompt")
	}
}

func TestPermissionResponseApproves(t *testing.T) {
	gw, ft := newTestGatewayWithTransport(t)

	conn := &fakeConn{}
	client, _ := gw.Registry.Accept(conn, "")
	gw.Subscribe(client.ID, "s1")
	gw.Push.RegisterToken(client.ID, "device-token")

	result := make(chan bool, 1)
	go func() {
		r := gw.Permission.RequestPermission(context.Background(), "Bash(rm -rf /)", map[string]interface{}{"sessionId": "s1"})
		result <- r.Approved
	}()

	var requestID string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p := ft.lastPayload(); p.Data["requestId"] != "" {
			requestID = p.Data["requestId"]
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if requestID == "" {
		t.Fatal("timed out waiting for permission request to notify the app")
	}

	gw.PermissionResponse(client.ID, map[string]interface{}{
		"requestId": requestID,
		"approved":  true,
		"approver":  "u1",
	})

	select {
	case approved := <-result:
		if !approved {
			t.Error("expected the request to resolve approved")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for permission result")
	}
}

func TestRegisterDeviceAndElectPrimary(t *testing.T) {
	gw := newTestGateway(t)

	gw.RegisterDevice("client1", map[string]interface{}{
		"userId":   "u1",
		"deviceId": "d1",
		"platform": "ios",
	})

	if !gw.Devices.IsActive("d1") {
		t.Fatal("expected d1 to be registered and active")
	}

	gw.ElectPrimary("client1", map[string]interface{}{
		"userId":    "u1",
		"sessionId": "s1",
		"deviceId":  "d1",
	})

	primary, ok := gw.Devices.GetPrimaryDevice("s1")
	if !ok || primary != "d1" {
		t.Fatalf("expected d1 to be primary for s1, got %q ok=%v", primary, ok)
	}
}

func TestRegisterDeviceRegistersPushToken(t *testing.T) {
	gw := newTestGateway(t)

	gw.RegisterDevice("client1", map[string]interface{}{
		"userId":    "u1",
		"deviceId":  "d1",
		"pushToken": "tok-1",
	})

	token, ok := gw.Push.TokenForClient("client1")
	if !ok || token != "tok-1" {
		t.Fatalf("expected client1 to resolve to tok-1, got %q ok=%v", token, ok)
	}
}

func TestClientDisconnectDropsPushToken(t *testing.T) {
	gw := newTestGateway(t)
	conn := &fakeConn{}
	client, err := gw.Registry.Accept(conn, "")
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	gw.RegisterDevice(client.ID, map[string]interface{}{
		"userId":    "u1",
		"deviceId":  "d1",
		"pushToken": "tok-1",
	})
	if _, ok := gw.Push.TokenForClient(client.ID); !ok {
		t.Fatal("expected token to be registered before disconnect")
	}

	gw.Registry.Disconnect(client.ID, "test")

	if _, ok := gw.Push.TokenForClient(client.ID); ok {
		t.Error("expected disconnect to drop the client's push token")
	}
}

func TestTransferPrimary(t *testing.T) {
	gw := newTestGateway(t)
	gw.RegisterDevice("c1", map[string]interface{}{"userId": "u1", "deviceId": "d1"})
	gw.RegisterDevice("c1", map[string]interface{}{"userId": "u1", "deviceId": "d2"})
	gw.ElectPrimary("c1", map[string]interface{}{"userId": "u1", "sessionId": "s1", "deviceId": "d1"})

	gw.TransferPrimary("c1", map[string]interface{}{
		"sessionId":    "s1",
		"fromDeviceId": "d1",
		"toDeviceId":   "d2",
	})

	primary, ok := gw.Devices.GetPrimaryDevice("s1")
	if !ok || primary != "d2" {
		t.Fatalf("expected d2 to be primary after transfer, got %q ok=%v", primary, ok)
	}
}

func TestShutdownWithoutStartIsSafe(t *testing.T) {
	gw := newTestGateway(t)
	if err := gw.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
