package rpc

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"lnsim/observability/metrics"
)

// requireToken rejects requests whose Authorization header does not carry
// secret, either bare or as "Bearer <secret>". An empty secret disables the
// check.
func (h *handlers) requireToken(secret string) func(http.Handler) http.Handler {
	trimmed := strings.TrimSpace(secret)
	return func(next http.Handler) http.Handler {
		if trimmed == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenMatches(r.Header.Values("Authorization"), trimmed) {
				next.ServeHTTP(w, r)
				return
			}
			metrics.RPC().RecordThrottle("unauthenticated")
			w.Header().Set("WWW-Authenticate", "Bearer")
			h.writeError(w, http.StatusUnauthorized, "invalid or missing token")
		})
	}
}

func tokenMatches(values []string, secret string) bool {
	for _, value := range values {
		token := strings.TrimSpace(value)
		if constantTimeEqual(token, secret) {
			return true
		}
		if len(token) >= len("bearer ") && strings.EqualFold(token[:len("bearer ")], "bearer ") {
			if constantTimeEqual(strings.TrimSpace(token[len("bearer "):]), secret) {
				return true
			}
		}
	}
	return false
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
