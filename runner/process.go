package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dock108/aicli-gateway/config"
	"github.com/dock108/aicli-gateway/log"
	"github.com/dock108/aicli-gateway/validation"
)

const gracefulTerminateTimeout = 5 * time.Second

// Process supervises one spawned AI CLI child: its stdin writer, its
// stdout/stderr reader goroutines, and its health monitor. The only way to
// reach it is through Manager's serialized API (DESIGN NOTE 2).
type Process struct {
	SessionID string
	PID       int

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	health *HealthMonitor

	events chan Event
	wg     sync.WaitGroup

	mu         sync.Mutex
	stderrBuf  bytes.Buffer
	stdoutBuf  bytes.Buffer // accumulated raw stdout, for final-result extraction
	exited     bool
	exitCode   int
	exitErr    error
	exitSignal chan struct{}
}

// spawn starts the AI CLI as a child process with the given arguments and
// working directory, and begins its reader goroutines. It does not wait for
// any particular output; callers decide what to wait for (init line, exit,
// etc).
func spawn(ctx context.Context, cfg *config.Config, command string, args []string, workingDir string) (*Process, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = workingDir
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("runner: failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("runner: failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("runner: failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %v", errCLINotFound, err)
		}
		return nil, fmt.Errorf("runner: failed to start CLI process: %w", err)
	}

	p := &Process{
		cmd:        cmd,
		stdin:      stdin,
		PID:        cmd.Process.Pid,
		events:     make(chan Event, 256),
		exitSignal: make(chan struct{}),
		health:     NewHealthMonitor("", config.ClockFor(cfg), cfg.HeartbeatInterval),
	}

	log.Info().Int("pid", p.PID).Str("cwd", workingDir).Msg("runner: AI CLI subprocess started")

	p.wg.Add(2)
	go p.readStdout(stdout)
	go p.readStderr(stderr)
	go p.monitor()

	return p, nil
}

// Events returns the channel of parsed/derived events for this process.
// Closed once the process has exited and all output has been drained.
func (p *Process) Events() <-chan Event {
	return p.events
}

// Write sends a raw line (already newline-terminated or not) to the child's
// stdin.
func (p *Process) Write(line []byte) error {
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}
	_, err := p.stdin.Write(line)
	return err
}

// CloseStdin closes the child's standard input, signalling end of input for
// non-streaming (print-mode) invocations.
func (p *Process) CloseStdin() error {
	return p.stdin.Close()
}

// Wait blocks until the child process exits, returning its exit code and any
// process-level error (ENOENT is surfaced earlier, at spawn time).
func (p *Process) Wait() (int, error) {
	<-p.exitSignal
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exitErr
}

// CapturedStdout returns everything captured from stdout so far.
func (p *Process) CapturedStdout() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdoutBuf.String()
}

// CapturedStderr returns everything captured from stderr so far.
func (p *Process) CapturedStderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stderrBuf.String()
}

// Terminate gracefully stops the child: SIGINT, then SIGKILL after a
// timeout (spec.md §5 cancellation model).
func (p *Process) Terminate() {
	gracefulTerminate(p.cmd, p.exitSignal, gracefulTerminateTimeout)
	p.health.Cleanup()
}

func (p *Process) readStdout(stdout io.ReadCloser) {
	defer p.wg.Done()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var batch []map[string]interface{}

	flush := func() {
		for i, obj := range batch {
			p.emitForObject(obj, i == len(batch)-1)
		}
		batch = nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		p.mu.Lock()
		p.stdoutBuf.WriteString(line)
		p.stdoutBuf.WriteByte('\n')
		p.mu.Unlock()

		p.health.RecordActivity()

		if line == "" {
			continue
		}

		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			batch = append(batch, obj)
		} else {
			batch = append(batch, validation.ExtractCompleteObjectsFromLine(line)...)
		}
		flush()
	}
	flush()
}

func (p *Process) readStderr(stderr io.ReadCloser) {
	defer p.wg.Done()

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		p.mu.Lock()
		p.stderrBuf.WriteString(line)
		p.stderrBuf.WriteByte('\n')
		p.mu.Unlock()

		p.events <- Event{
			Type:      EventProcessStderr,
			SessionID: p.SessionID,
			Data:      map[string]interface{}{"line": line},
			Timestamp: time.Now(),
		}
	}
}

func (p *Process) monitor() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exited = true
	if exitErr, ok := err.(*exec.ExitError); ok {
		p.exitCode = exitErr.ExitCode()
	} else if err == nil {
		p.exitCode = 0
	}
	p.exitErr = err
	stderr := p.stderrBuf.String()
	p.mu.Unlock()

	p.health.Cleanup()

	// cmd.Wait() closes the stdout/stderr pipes and returns without waiting
	// for readStdout/readStderr to drain them, so their final sends must be
	// allowed to land before events closes underneath them.
	p.wg.Wait()

	p.events <- Event{
		Type:      EventProcessExit,
		SessionID: p.SessionID,
		Data: map[string]interface{}{
			"code":   p.exitCode,
			"stderr": stderrTail(stderr, 20),
		},
		Timestamp: time.Now(),
	}

	close(p.exitSignal)
	close(p.events)
}

// emitForObject classifies a parsed stream-JSON object by its "type" field
// and emits the matching typed event, plus a streamChunk for every object
// (spec.md §4.B: "Emit streamChunk for every raw parsed object, and the last
// one of a batch is flagged isLast=true").
func (p *Process) emitForObject(obj map[string]interface{}, isLast bool) {
	sessionID := p.SessionID
	if sid, ok := obj["session_id"].(string); ok && sid != "" {
		sessionID = sid
	}

	requestID, _ := obj["request_id"].(string)

	base := Event{
		SessionID: sessionID,
		RequestID: requestID,
		Data:      obj,
		Timestamp: time.Now(),
	}

	typ, _ := obj["type"].(string)
	switch typ {
	case "system":
		subtype, _ := obj["subtype"].(string)
		if subtype == "init" {
			base.Type = EventSystemInit
		} else {
			base.Type = EventCommandProgress
		}
	case "assistant":
		base.Type = EventAssistantMessage
	case "tool_use":
		base.Type = EventToolUse
	case "tool_result":
		base.Type = EventToolResult
	case "result":
		base.Type = EventConversationResult
	case "control_request", "permission_required":
		base.Type = EventPermissionRequired
	case "error":
		base.Type = EventStreamError
		if msg, ok := obj["error"].(string); ok {
			base.Err = fmt.Errorf("%s", msg)
		}
	default:
		base.Type = EventCommandProgress
	}

	p.events <- base

	chunkEvent := Event{
		Type:      EventStreamChunk,
		SessionID: sessionID,
		RequestID: requestID,
		Data:      obj,
		IsLast:    isLast,
		Timestamp: time.Now(),
	}
	p.events <- chunkEvent
}

// newRequestID mints an opaque request correlation ID for control messages.
func newRequestID() string {
	return "req_" + uuid.NewString()
}
