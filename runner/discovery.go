package runner

import (
	"context"
	"os/exec"
	"syscall"
	"time"

	"github.com/dock108/aicli-gateway/config"
	"github.com/dock108/aicli-gateway/log"
)

// candidateCommands are probed, in order, when discovering the AI CLI
// binary name (spec.md §4.B).
var candidateCommands = []string{"claude", "aicli"}

// DiscoverCommand returns the AI CLI binary name to invoke. In a test
// environment it always returns "claude" without probing, so tests don't
// depend on what happens to be on PATH. Otherwise it probes each candidate
// with a version invocation; the first one that succeeds wins, falling back
// to "claude" if none do.
func DiscoverCommand(ctx context.Context, cfg *config.Config) string {
	if cfg.IsTest() {
		return "claude"
	}

	for _, name := range candidateCommands {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := exec.CommandContext(probeCtx, name, "--version").Run()
		cancel()
		if err == nil {
			return name
		}
	}
	return "claude"
}

// gracefulTerminate sends SIGINT (the AI CLI is a Node.js process that
// handles SIGINT but ignores SIGTERM), waits up to timeout for exited to
// close, and falls back to SIGKILL. exited must be a channel the caller
// closes once its own cmd.Wait() returns — exec.Cmd.Wait must only ever be
// called once, so this never calls it itself. Grounded on
// claude/process_utils.go's gracefulTerminate.
func gracefulTerminate(cmd *exec.Cmd, exited <-chan struct{}, timeout time.Duration) {
	if cmd == nil || cmd.Process == nil {
		return
	}

	if err := cmd.Process.Signal(syscall.SIGINT); err != nil {
		_ = cmd.Process.Kill()
		return
	}

	select {
	case <-exited:
		return
	case <-time.After(timeout):
		log.Warn().Int("pid", cmd.Process.Pid).Msg("runner: process didn't exit gracefully, sending SIGKILL")
		_ = cmd.Process.Kill()
	}
}
