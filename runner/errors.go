package runner

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSessionNotFound mirrors the teacher's claude.ErrSessionNotFound.
	ErrSessionNotFound = errors.New("runner: session not found")

	errEmptyOutput       = errors.New("runner: empty output")
	errNoValidJSON       = errors.New("runner: no valid JSON objects")
	errTruncatedOutput   = errors.New("runner: output truncated (unterminated string)")
	errEndedUnexpectedly = errors.New("runner: output ended unexpectedly")
	errCLINotFound       = errors.New("runner: AICLI CLI not found")
	errStderrDuringInit  = errors.New("runner: stderr produced output during session init")
)

// ExitError reports a non-zero exit code, including a tail of stderr.
type ExitError struct {
	Code      int
	StderrTail string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("runner: exited with code %d", e.Code)
	if e.StderrTail != "" {
		msg += ": " + e.StderrTail
	}
	return msg
}

// classifyParseFailure maps a low-level JSON parse error message to one of
// the specific failure reasons spec.md §4.B names.
func classifyParseFailure(parseErr string) error {
	if strings.Contains(parseErr, "unterminated string") || strings.Contains(parseErr, "Unterminated string") {
		return errTruncatedOutput
	}
	if strings.Contains(parseErr, "unexpected end") || strings.Contains(parseErr, "Unexpected end") {
		return errEndedUnexpectedly
	}
	return errNoValidJSON
}

func stderrTail(stderr string, maxLines int) string {
	lines := strings.Split(strings.TrimRight(stderr, "\n"), "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n")
}
