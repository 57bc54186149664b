package gateway

import (
	"context"
	"fmt"

	"github.com/dock108/aicli-gateway/runner"
)

// sessionFor returns the interactive session backing sessionID, creating
// one on first use. workingDir and permission options come from the
// prompt's data payload so a client can target a project directory per
// session.
func (g *Gateway) sessionFor(ctx context.Context, sessionID string, data map[string]interface{}) (*runner.InteractiveSession, error) {
	g.sessMu.Lock()
	session, ok := g.sessions[sessionID]
	g.sessMu.Unlock()
	if ok {
		return session, nil
	}

	opts := launchOptionsFrom(data)
	created, err := g.Runner.CreateInteractiveSession(ctx, opts.WorkingDir, opts)
	if err != nil {
		return nil, fmt.Errorf("gateway: create session: %w", err)
	}

	g.sessMu.Lock()
	g.sessions[sessionID] = created
	g.sessMu.Unlock()

	return created, nil
}

func launchOptionsFrom(data map[string]interface{}) runner.LaunchOptions {
	opts := runner.LaunchOptions{WorkingDir: "."}

	if wd, ok := data["workingDir"].(string); ok && wd != "" {
		opts.WorkingDir = wd
	}
	if mode, ok := data["permissionMode"].(string); ok {
		opts.PermissionMode = mode
	}
	if skip, ok := data["skipPermissions"].(bool); ok {
		opts.SkipPermissions = skip
	}
	opts.AllowedTools = stringSlice(data["allowedTools"])
	opts.DisallowedTools = stringSlice(data["disallowedTools"])
	if len(opts.AllowedTools) == 0 {
		opts.AllowedTools = runner.DefaultAllowedTools
	}
	if len(opts.DisallowedTools) == 0 {
		opts.DisallowedTools = runner.DefaultDisallowedTools
	}

	return opts
}

func stringSlice(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
