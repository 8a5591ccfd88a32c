// Package auth gates the API behind a static key when enabled. There is
// no session or login flow; clients present the key on every request.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Gate validates the configured API key on incoming requests.
type Gate struct {
	enabled bool
	apiKey  string
}

// NewGate creates a gate. With enabled=false every request passes.
func NewGate(enabled bool, apiKey string) *Gate {
	return &Gate{enabled: enabled, apiKey: apiKey}
}

// Enabled reports whether requests must carry an API key.
func (g *Gate) Enabled() bool { return g.enabled }

// Middleware checks the API key from the Authorization header or the
// X-API-Key header. If the gate is disabled, it passes all requests
// through.
func (g *Gate) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.enabled {
			next.ServeHTTP(w, r)
			return
		}

		var key string
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
			key = strings.TrimPrefix(authHeader, "Bearer ")
		} else {
			key = r.Header.Get("X-API-Key")
		}

		if key == "" {
			http.Error(w, "API key required", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(g.apiKey)) != 1 {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	}
}
