package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyHeader carries the shared secret on every protected request.
const APIKeyHeader = "X-API-Key"

// publicPaths never require a key. Probes and scrapers cannot be configured
// with one.
var publicPaths = map[string]bool{
	"/":           true,
	"/healthz":    true,
	"/readyz":     true,
	"/api/health": true,
	"/metrics":    true,
}

// RequireAPIKey rejects requests that lack the configured key with 403.
// An empty key disables the check.
//
// Websocket clients that cannot set headers may pass the key as the api_key
// query parameter on /ws/ paths.
func RequireAPIKey(key string, next http.Handler) http.Handler {
	if key == "" {
		return next
	}
	want := []byte(key)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get(APIKeyHeader)
		if got == "" && strings.HasPrefix(r.URL.Path, "/ws/") {
			got = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			writeJSON(w, http.StatusForbidden, problem{Error: problemBody{
				Code:    "forbidden",
				Message: "invalid or missing API key",
			}})
			return
		}
		next.ServeHTTP(w, r)
	})
}
