// Package tasks wraps a runner invocation with immediate acknowledgement,
// background heartbeats, and completion notification for prompts whose
// estimated cost crosses the long-running threshold (spec.md §4.C).
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/dock108/aicli-gateway/config"
	"github.com/dock108/aicli-gateway/runner"
)

// Executor runs the underlying AI CLI invocation and returns its final
// result, the same shape runner.Manager.Run or SendToInteractiveSession
// would produce.
type Executor func(ctx context.Context) (interface{}, error)

// Emitter delivers a runner.Event to whatever is forwarding a session's
// stream to its clients. The gateway composition root wires this to the
// event broadcaster.
type Emitter interface {
	Emit(ev runner.Event)
}

// Notifier pushes a completion or failure alert for a task that finished in
// the background, after its owning client may have disconnected.
type Notifier interface {
	NotifyTaskCompletion(sessionID, text string, isError bool)
}

// Manager runs Handle calls; it holds no per-session state of its own.
type Manager struct {
	clock               config.Clock
	longTaskThresholdMs int64
	emitter             Emitter
	notifier            Notifier
}

// NewManager constructs a task Manager. emitter and notifier may be nil in
// tests that don't care about side channels. longTaskThresholdMs is
// typically cfg.LongTaskThresholdMs; zero falls back to
// DefaultLongTaskThresholdMs.
func NewManager(clock config.Clock, longTaskThresholdMs int64, emitter Emitter, notifier Notifier) *Manager {
	return &Manager{clock: clock, longTaskThresholdMs: longTaskThresholdMs, emitter: emitter, notifier: notifier}
}

// Handle classifies prompt's estimated cost. Short prompts are awaited and
// returned as-is. Long prompts get a synchronous status acknowledgement, an
// immediate "Processing Complex Request…" assistant message, and finish in
// a detached background goroutine with periodic heartbeats.
func (m *Manager) Handle(ctx context.Context, sessionID, prompt string, execute Executor) (interface{}, error) {
	estimate := EstimateTimeoutMs(prompt)
	if !IsLong(estimate, m.longTaskThresholdMs) {
		return execute(ctx)
	}

	m.emitAssistant(sessionID, false, "Processing Complex Request…")

	go m.runInBackground(sessionID, estimate, execute)

	return map[string]interface{}{
		"type":                  "status",
		"subtype":               "long_running_started",
		"sessionId":             sessionID,
		"status":                "processing",
		"estimated_duration_ms": estimate,
	}, nil
}

func (m *Manager) runInBackground(sessionID string, estimateMs int64, execute Executor) {
	ticks, stop := m.clock.NewTicker(30 * time.Second)
	defer stop()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticks:
				m.emitAssistant(sessionID, false, "Still working…")
			case <-done:
				return
			}
		}
	}()

	// A generous ceiling on background work: twice the estimate, so a
	// misclassified prompt doesn't run forever, without cutting off a task
	// that simply ran a bit longer than predicted.
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(estimateMs)*2*time.Millisecond)
	defer cancel()

	result, err := execute(ctx)
	close(done)

	if err != nil {
		text := fmt.Sprintf("Complex Request Failed: %s", err.Error())
		m.emitAssistant(sessionID, true, text)
		m.emit(runner.Event{
			Type:      runner.EventStreamError,
			SessionID: sessionID,
			Err:       err,
			Data:      map[string]interface{}{"error": err.Error()},
			Timestamp: m.clock.Now(),
		})
		if m.notifier != nil {
			m.notifier.NotifyTaskCompletion(sessionID, text, true)
		}
		return
	}

	text := resultText(result)
	m.emitAssistant(sessionID, true, text)
	if m.notifier != nil {
		m.notifier.NotifyTaskCompletion(sessionID, text, false)
	}
}

func (m *Manager) emitAssistant(sessionID string, isComplete bool, text string) {
	m.emit(runner.Event{
		Type:      runner.EventAssistantMessage,
		SessionID: sessionID,
		Data: map[string]interface{}{
			"isComplete": isComplete,
			"content":    []map[string]interface{}{{"text": text}},
		},
		Timestamp: m.clock.Now(),
	})
}

func (m *Manager) emit(ev runner.Event) {
	if m.emitter != nil {
		m.emitter.Emit(ev)
	}
}

// resultText extracts a display string from an execute() result: a "result"
// field if present, the value itself if it's already a string, or its
// default formatting otherwise.
func resultText(result interface{}) string {
	switch v := result.(type) {
	case string:
		return v
	case map[string]interface{}:
		if r, ok := v["result"]; ok {
			return fmt.Sprint(r)
		}
	}
	return fmt.Sprint(result)
}
