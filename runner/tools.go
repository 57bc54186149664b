package runner

// DefaultAllowedTools are tools the gateway auto-approves without prompting,
// grounded on claude/process_utils.go's allowedTools list.
var DefaultAllowedTools = []string{
	"Read",
	"Glob",
	"Grep",
	"TodoWrite",
	"Edit",
	"Write",
	"WebFetch",
	"WebSearch",

	"Bash(ls *)",
	"Bash(cat *)",
	"Bash(head *)",
	"Bash(tail *)",
	"Bash(pwd)",
	"Bash(git *)",
}

// DefaultDisallowedTools are never auto-approved regardless of
// DefaultAllowedTools, grounded on claude/process_utils.go's disallowedTools.
var DefaultDisallowedTools = []string{
	"Bash(rm -rf *)",
	"Bash(sudo *)",
}
