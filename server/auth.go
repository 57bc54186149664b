package server

import (
	"net/http"
	"strings"
)

// extractToken pulls the bearer token from the "?token=" query parameter or
// an "Authorization: Bearer …" header, preferring the query parameter
// (mobile WebSocket clients can't set custom headers during the upgrade
// handshake on every platform).
func extractToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(auth, prefix) {
		return strings.TrimPrefix(auth, prefix)
	}
	return ""
}
