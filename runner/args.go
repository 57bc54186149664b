package runner

import "strings"

// PermissionMode selects how the AI CLI handles tool permission prompts.
type PermissionMode string

const (
	PermissionModeDefault     PermissionMode = "default"
	PermissionModePlan        PermissionMode = "plan"
	PermissionModeAcceptEdits PermissionMode = "acceptEdits"
)

// parsePermissionMode resets any unrecognized mode to the default, per
// spec.md §4.B ("invalid modes silently reset to default").
func parsePermissionMode(s string) PermissionMode {
	switch PermissionMode(s) {
	case PermissionModePlan:
		return PermissionModePlan
	case PermissionModeAcceptEdits:
		return PermissionModeAcceptEdits
	default:
		return PermissionModeDefault
	}
}

// LaunchOptions configures a single AI CLI invocation.
type LaunchOptions struct {
	WorkingDir      string
	PermissionMode  string
	AllowedTools    []string
	DisallowedTools []string
	SkipPermissions bool

	// Resume, when set, resumes an existing session instead of starting a
	// fresh one.
	Resume string
}

// buildArgs assembles CLI flags per spec.md §4.B: stream-JSON mode, the
// working directory, and the permission flags. When SkipPermissions is set,
// only --dangerously-skip-permissions is emitted and the other three
// permission flags are suppressed.
func buildArgs(opts LaunchOptions) []string {
	args := []string{
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
	}

	if opts.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	} else {
		mode := parsePermissionMode(opts.PermissionMode)
		args = append(args, "--permission-mode", string(mode))

		if len(opts.AllowedTools) > 0 {
			args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
		}
		if len(opts.DisallowedTools) > 0 {
			args = append(args, "--disallowedTools", strings.Join(opts.DisallowedTools, ","))
		}
	}

	if opts.Resume != "" {
		args = append(args, "--resume", opts.Resume)
	}

	return args
}

// matchBashPattern checks whether command matches a pattern of the form
// "Bash(git *)" — used by the permission manager (spec.md §4.H) and
// available here so the runner's AllowedTools/DisallowedTools lists can
// express the same glob-style rules the AI CLI itself understands.
//
// Grounded verbatim on claude/process_utils.go's matchBashPattern: known
// limitation, commands with pipes or reordered flags will not match.
func matchBashPattern(pattern, command string) bool {
	if !strings.HasPrefix(pattern, "Bash(") || !strings.HasSuffix(pattern, ")") {
		return false
	}

	cmdPattern := pattern[5 : len(pattern)-1]

	if !strings.Contains(cmdPattern, "*") {
		return command == cmdPattern
	}

	if strings.HasSuffix(cmdPattern, " *") {
		prefix := cmdPattern[:len(cmdPattern)-2]
		return command == prefix || strings.HasPrefix(command, prefix+" ")
	}
	if strings.HasSuffix(cmdPattern, "*") {
		prefix := cmdPattern[:len(cmdPattern)-1]
		return strings.HasPrefix(command, prefix)
	}

	parts := strings.SplitN(cmdPattern, "*", 2)
	if len(parts) == 2 {
		return strings.HasPrefix(command, parts[0]) && strings.HasSuffix(command, parts[1])
	}
	return false
}

// IsToolAllowed reports whether toolName (with the given input, for Bash
// commands) is auto-approved by allowedTools, honoring disallowedTools as a
// higher-precedence deny list.
func IsToolAllowed(toolName string, input map[string]interface{}, allowedTools, disallowedTools []string) bool {
	if toolName == "Bash" {
		command, _ := input["command"].(string)
		if command == "" {
			return false
		}
		for _, pattern := range disallowedTools {
			if matchBashPattern(pattern, command) {
				return false
			}
		}
		for _, pattern := range allowedTools {
			if matchBashPattern(pattern, command) {
				return true
			}
		}
		return false
	}

	for _, allowed := range allowedTools {
		if strings.HasPrefix(allowed, "Bash(") {
			continue
		}
		if allowed == toolName {
			return true
		}
	}
	return false
}
