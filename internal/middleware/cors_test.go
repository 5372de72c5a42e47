package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name        string
		origins     []string
		origin      string
		method      string
		wantStatus  int
		wantAllow   string
		wantCreds   string
		wantHeaders bool
	}{
		{name: "explicit origin", origins: []string{"https://app.example"}, origin: "https://app.example", method: http.MethodGet, wantStatus: http.StatusNoContent, wantAllow: "https://app.example", wantCreds: "true", wantHeaders: true},
		{name: "wildcard", origins: []string{"*"}, origin: "https://other.example", method: http.MethodGet, wantStatus: http.StatusNoContent, wantAllow: "https://other.example", wantHeaders: true},
		{name: "disallowed", origins: []string{"https://app.example"}, origin: "https://evil.example", method: http.MethodGet, wantStatus: http.StatusNoContent},
		{name: "preflight", origins: []string{"*"}, origin: "https://app.example", method: http.MethodOptions, wantStatus: http.StatusOK, wantAllow: "https://app.example", wantHeaders: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/relay/comment", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()

			CORS(tt.origins)(next).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Expected Allow-Origin %q, got %q", tt.wantAllow, got)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("Expected Allow-Credentials %q, got %q", tt.wantCreds, got)
			}
			if got := w.Header().Get("Access-Control-Allow-Headers"); (got != "") != tt.wantHeaders {
				t.Errorf("Unexpected Allow-Headers %q", got)
			}
		})
	}
}
