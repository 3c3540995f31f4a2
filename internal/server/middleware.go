package server

import (
	"net/http"
)

// RequireUser rejects requests without the verified caller identity header.
// Verification itself happens upstream; this layer only enforces presence.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-User-ID") == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Missing X-User-ID header"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
