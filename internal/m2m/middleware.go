package m2m

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HeaderAPIKey carries the machine client's key.
const HeaderAPIKey = "X-API-Key"

// Middleware rejects requests without a valid key (401) or over the rate
// limit (429) before they reach next.
func Middleware(g *Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderAPIKey)
			if !g.Validate(key) {
				slog.Warn("M2M request with invalid API key", "path", r.URL.Path, "remote", r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			if !g.CheckRateLimit(key) {
				slog.Warn("M2M rate limit exceeded", "path", r.URL.Path)
				w.Header().Set("Retry-After", "60")
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
