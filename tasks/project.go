package tasks

import (
	"strings"

	"github.com/google/uuid"
)

// ProjectName derives a human-readable project name from a session ID by
// dropping a trailing UUID-shaped token (spec.md §4.C). Session IDs that
// don't end in one are returned unchanged.
func ProjectName(sessionID string) string {
	parts := strings.Split(sessionID, "_")
	if len(parts) > 1 {
		if _, err := uuid.Parse(parts[len(parts)-1]); err == nil {
			parts = parts[:len(parts)-1]
		}
	}
	return strings.Join(parts, "_")
}
