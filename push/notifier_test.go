package push

import (
	"sync"
	"testing"

	"github.com/dock108/aicli-gateway/config"
)

type fakeTransport struct {
	mu       sync.Mutex
	calls    int
	scripted map[string][]error // token -> queue of results (nil = success)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{scripted: make(map[string][]error)}
}

func (f *fakeTransport) script(token string, results ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripted[token] = results
}

func (f *fakeTransport) Send(token string, payload Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	queue := f.scripted[token]
	if len(queue) == 0 {
		return nil
	}
	next := queue[0]
	f.scripted[token] = queue[1:]
	return next
}

func testPushConfig() *config.Config {
	return &config.Config{Env: "test", PushMaxRetries: 3, PushMaxConcurrent: 10}
}

func TestSendSucceedsFirstTry(t *testing.T) {
	transport := newFakeTransport()
	n := NewNotifier(testPushConfig(), transport)

	result := n.Send("tok1", Payload{Title: "hi"}, 3)
	if !result.Success {
		t.Errorf("got %+v, want success", result)
	}
	if transport.calls != 1 {
		t.Errorf("got %d transport calls, want 1", transport.calls)
	}
}

// TestSendBadTokenShortCircuits implements S4.
func TestSendBadTokenShortCircuits(t *testing.T) {
	transport := newFakeTransport()
	transport.script("bad", &TransportError{Reason: ReasonBadDeviceToken})
	n := NewNotifier(testPushConfig(), transport)
	n.RegisterToken("c1", "bad")
	n.RegisterToken("c2", "good")

	first := n.Send("bad", Payload{}, 3)
	if first.Success || first.Error != ReasonBadDeviceToken {
		t.Fatalf("got %+v, want BadDeviceToken", first)
	}

	second := n.Send("bad", Payload{}, 3)
	if second.Success || second.Error != ReasonBadDeviceToken {
		t.Fatalf("got %+v, want BadDeviceToken", second)
	}
	if transport.calls != 1 {
		t.Errorf("got %d transport calls, want exactly 1 (second send must short-circuit)", transport.calls)
	}

	if _, ok := n.TokenForClient("c1"); ok {
		t.Error("expected c1's bad token mapping to be evicted")
	}
	if _, ok := n.TokenForClient("c2"); !ok {
		t.Error("expected c2's token mapping to be unaffected")
	}
}

func TestSendRetriesTransientFailures(t *testing.T) {
	transport := newFakeTransport()
	transport.script("tok", &TransportError{Reason: ReasonNetworkError}, &TransportError{Reason: ReasonNetworkError}, nil)
	n := NewNotifier(testPushConfig(), transport)

	result := n.Send("tok", Payload{}, 3)
	if !result.Success {
		t.Errorf("got %+v, want eventual success", result)
	}
	if transport.calls != 3 {
		t.Errorf("got %d calls, want 3", transport.calls)
	}
}

func TestSendExhaustsRetries(t *testing.T) {
	transport := newFakeTransport()
	transport.script("tok",
		&TransportError{Reason: ReasonNetworkError},
		&TransportError{Reason: ReasonNetworkError},
		&TransportError{Reason: ReasonNetworkError},
	)
	n := NewNotifier(testPushConfig(), transport)

	result := n.Send("tok", Payload{}, 3)
	if result.Success || result.Error != ReasonMaxRetriesExceeded {
		t.Errorf("got %+v, want MaxRetriesExceeded", result)
	}
	if transport.calls != 3 {
		t.Errorf("got %d calls, want 3", transport.calls)
	}
}

func TestSendTerminalFailureStopsWithoutEviction(t *testing.T) {
	transport := newFakeTransport()
	transport.script("tok", &TransportError{Reason: ReasonExpiredProviderToken})
	n := NewNotifier(testPushConfig(), transport)
	n.RegisterToken("c1", "tok")

	result := n.Send("tok", Payload{}, 3)
	if result.Success || result.Error != ReasonExpiredProviderToken {
		t.Errorf("got %+v, want ExpiredProviderToken", result)
	}
	if transport.calls != 1 {
		t.Errorf("got %d calls, want 1 (no retry on a terminal reason)", transport.calls)
	}
	if _, ok := n.TokenForClient("c1"); !ok {
		t.Error("expected ExpiredProviderToken not to evict the token")
	}
}

type mapResolver map[string]string

func (m mapResolver) TokenForClient(clientID string) (string, bool) {
	tok, ok := m[clientID]
	return tok, ok
}

func TestSendToMultipleClientsAggregates(t *testing.T) {
	transport := newFakeTransport()
	transport.script("bad-tok", &TransportError{Reason: ReasonBadDeviceToken})
	n := NewNotifier(testPushConfig(), transport)

	resolver := mapResolver{
		"c1": "good-1",
		"c2": "good-2",
		"c3": "bad-tok",
	}

	result := n.SendToMultipleClients([]string{"c1", "c2", "c3", "c4"}, Payload{Title: "x"}, resolver)
	if result.Sent != 2 {
		t.Errorf("got %d sent, want 2", result.Sent)
	}
	if result.Failed != 2 {
		t.Errorf("got %d failed, want 2 (one bad token, one unresolved client)", result.Failed)
	}
}

func TestStripMarkdownRules(t *testing.T) {
	cases := map[string]string{
		"```go\nfmt.Println(1)\n```":      "[code block]",
		"use `foo()` here":                "use foo() here",
		"# Heading":                       "Heading",
		"## Sub":                          "Sub",
		"**bold** and *italic*":           "bold and italic",
		"[link](http://x)":                "link",
		"![alt](http://x.png)":            "[image: alt]",
		"- item one\n- item two":          "item one\nitem two",
		"1. first\n2. second":             "first\nsecond",
		"> quoted line":                   "quoted line",
	}
	for input, want := range cases {
		if got := stripMarkdown(input); got != want {
			t.Errorf("stripMarkdown(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestStripMarkdownIsIdempotent(t *testing.T) {
	input := "# Title\n\n**bold** [a](b) ![c](d) `e`\n- f\n> g"
	once := stripMarkdown(input)
	twice := stripMarkdown(once)
	if once != twice {
		t.Errorf("stripMarkdown is not idempotent: once=%q twice=%q", once, twice)
	}
}

func TestTruncateCutsAtWordBoundaryAndAppendsEllipsis(t *testing.T) {
	got := truncate("the quick brown fox jumps", 15)
	if got != "the quick brown…" {
		t.Errorf("got %q, want %q", got, "the quick brown…")
	}
}

func TestTruncateBacksOffWhenCutLandsMidWord(t *testing.T) {
	got := truncate("the quick brown fox jumps", 13)
	if got != "the quick…" {
		t.Errorf("got %q, want %q", got, "the quick…")
	}
}

func TestTruncateNoOpWhenUnderMax(t *testing.T) {
	got := truncate("short", 100)
	if got != "short" {
		t.Errorf("got %q, want %q (no truncation, no ellipsis)", got, "short")
	}
}

func TestTruncateStripsMarkdownFirst(t *testing.T) {
	got := truncate("**bold text**", 100)
	if got != "bold text" {
		t.Errorf("got %q, want %q", got, "bold text")
	}
}

func TestTruncateEmptyInput(t *testing.T) {
	if got := truncate("", 10); got != "" {
		t.Errorf("got %q, want empty string", got)
	}
}
