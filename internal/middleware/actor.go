package middleware

import (
	"net/http"
	"strings"

	"github.com/fieldops/opsimport/internal/auth"
)

// Actor propagates the X-Actor identity header into the request context so
// every pipeline stage attributes audit entries to the same identity.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := strings.TrimSpace(r.Header.Get("X-Actor")); actor != "" {
			r = r.WithContext(auth.ContextWithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
