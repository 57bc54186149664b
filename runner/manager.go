package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/dock108/aicli-gateway/config"
	"github.com/dock108/aicli-gateway/log"
	"github.com/dock108/aicli-gateway/validation"
)

// InteractiveSession is a live, resumable AI CLI child process created by
// CreateInteractiveSession.
type InteractiveSession struct {
	SessionID string
	PID       int

	process *Process
}

// Manager owns every active Process, reachable only through its serialized
// API (DESIGN NOTE 2/3 — no package-level singleton map).
type Manager struct {
	cfg *config.Config

	mu       sync.RWMutex
	sessions map[string]*Process
}

// NewManager constructs a runner Manager.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Process),
	}
}

// CreateInteractiveSession spawns the AI CLI in streaming (stream-json)
// mode and waits for the first {"type":"system","subtype":"init"} line,
// resolving with the session ID it reports. It rejects if stderr produces
// non-empty output, if the child exits, or if spawn fails before init
// arrives (spec.md §4.B).
func (m *Manager) CreateInteractiveSession(ctx context.Context, workingDir string, opts LaunchOptions) (*InteractiveSession, error) {
	command := DiscoverCommand(ctx, m.cfg)
	args := buildArgs(opts)

	proc, err := spawn(ctx, m.cfg, command, args, workingDir)
	if err != nil {
		return nil, err
	}

	for ev := range proc.Events() {
		switch ev.Type {
		case EventSystemInit:
			sessionID, _ := ev.Data["session_id"].(string)
			proc.SessionID = sessionID

			m.mu.Lock()
			m.sessions[sessionID] = proc
			m.mu.Unlock()

			return &InteractiveSession{SessionID: sessionID, PID: proc.PID, process: proc}, nil

		case EventProcessStderr:
			line, _ := ev.Data["line"].(string)
			proc.Terminate()
			return nil, fmt.Errorf("%w: %s", errStderrDuringInit, line)

		case EventProcessExit:
			code, _ := ev.Data["code"].(int)
			return nil, &ExitError{Code: code}
		}
	}

	return nil, fmt.Errorf("runner: process exited before init arrived")
}

// SendToInteractiveSession writes a user request to the session's stdin and
// collects responses until a "result" object or a fatal error arrives.
func (m *Manager) SendToInteractiveSession(ctx context.Context, session *InteractiveSession, text string) ([]map[string]interface{}, error) {
	sanitized, err := validation.SanitizePrompt(text)
	if err != nil {
		return nil, err
	}

	requestID := newRequestID()
	msg := fmt.Sprintf(`{"type":"user","message":{"role":"user","content":%q},"request_id":%q}`, sanitized, requestID)
	if err := session.process.Write([]byte(msg)); err != nil {
		return nil, fmt.Errorf("runner: failed to write to session: %w", err)
	}

	var responses []map[string]interface{}
	for {
		select {
		case ev, ok := <-session.process.events:
			if !ok {
				return responses, fmt.Errorf("runner: session stream closed before result")
			}
			switch ev.Type {
			case EventConversationResult:
				responses = append(responses, ev.Data)
				return responses, nil
			case EventStreamError:
				return responses, ev.Err
			case EventProcessExit:
				code, _ := ev.Data["code"].(int)
				if code != 0 {
					return responses, &ExitError{Code: code}
				}
				return responses, nil
			default:
				if ev.Type != EventStreamChunk {
					responses = append(responses, ev.Data)
				}
			}
		case <-ctx.Done():
			return responses, ctx.Err()
		}
	}
}

// KillSession terminates an active session's child process (SIGINT, then
// SIGKILL on timeout), releasing its health monitor on every exit path.
func (m *Manager) KillSession(sessionID string) error {
	m.mu.Lock()
	proc, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	proc.Terminate()
	return nil
}

// Run executes a single, non-interactive prompt: spawn, feed the prompt via
// stdin, wait for exit, and extract the final result (spec.md §4.B,
// "Final-result extraction"). Used by the long-running task manager (§4.C)
// for both short (awaited) and long (backgrounded) executions.
func (m *Manager) Run(ctx context.Context, workingDir, prompt string, opts LaunchOptions) (interface{}, error) {
	sanitized, err := validation.SanitizePrompt(prompt)
	if err != nil {
		return nil, err
	}

	command := DiscoverCommand(ctx, m.cfg)
	args := buildArgs(opts)

	proc, err := spawn(ctx, m.cfg, command, args, workingDir)
	if err != nil {
		return nil, err
	}

	if err := proc.Write([]byte(fmt.Sprintf(`{"type":"user","message":{"role":"user","content":%q}}`, sanitized))); err != nil {
		proc.Terminate()
		return nil, fmt.Errorf("runner: failed to write prompt: %w", err)
	}
	if err := proc.CloseStdin(); err != nil {
		log.Debug().Err(err).Msg("runner: stdin already closed")
	}

	// Drain events so readers don't block; we only need the final capture.
	go func() {
		for range proc.Events() {
		}
	}()

	code, waitErr := proc.Wait()
	if waitErr != nil {
		if code == 0 {
			return nil, waitErr
		}
	}

	stdout := proc.CapturedStdout()

	if code != 0 {
		return nil, &ExitError{Code: code, StderrTail: stderrTail(proc.CapturedStderr(), 20)}
	}

	return extractFinalResult(stdout)
}

// extractFinalResult implements spec.md §4.B's final-result extraction:
// empty output fails with "empty output"; no recovered objects fails with
// "no valid JSON objects"; a parse error mentioning "Unterminated string"
// or "Unexpected end" fails with the corresponding specific message;
// otherwise the last object carrying a "result" field wins, or the
// concatenation of "content" fields, per validation.ExtractFinalResult.
func extractFinalResult(stdout string) (interface{}, error) {
	if strings.TrimSpace(stdout) == "" {
		return nil, errEmptyOutput
	}

	objects := validation.ParseStreamJsonOutput(stdout)
	if len(objects) == 0 {
		return nil, classifyParseFailure(lastParseErrorMessage(stdout))
	}

	return validation.ExtractFinalResult(objects), nil
}

// lastParseErrorMessage re-parses stdout line by line to recover the
// json.Unmarshal error text for the last line that failed outright, which
// classifyParseFailure inspects for "unterminated string"/"unexpected end".
func lastParseErrorMessage(stdout string) string {
	var lastErr string
	for _, line := range strings.Split(stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		var v map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
			lastErr = err.Error()
		}
	}
	return lastErr
}
