package api

import (
	"net/http"
	"testing"

	"github.com/ashureev/gasless-relay/internal/content"
	"github.com/ashureev/gasless-relay/internal/identity"
)

func TestContent_CommitAndResolve(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/content", `{"body":"hello world"}`, map[string]string{
		identity.WalletHeaderName: "0x70997970c51812dc3a010c7d01b50e0d17dc79c8",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	hash, _ := decodeBody(t, w)["hash"].(string)
	if hash != content.Digest("hello world").Hex() {
		t.Fatalf("Expected digest hash, got %q", hash)
	}

	// Committing again is idempotent.
	w = s.do(t, http.MethodPost, "/api/content", `{"body":"hello world"}`, nil)
	if again, _ := decodeBody(t, w)["hash"].(string); again != hash {
		t.Errorf("Expected same hash on recommit, got %q", again)
	}

	w = s.do(t, http.MethodGet, "/api/content/"+hash, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if body := decodeBody(t, w)["body"]; body != "hello world" {
		t.Errorf("Expected resolved body, got %v", body)
	}
}

func TestContent_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantError  string
	}{
		{name: "empty body", method: http.MethodPost, path: "/api/content", body: `{"body":""}`, wantStatus: http.StatusBadRequest, wantError: "Missing content body"},
		{name: "bad json", method: http.MethodPost, path: "/api/content", body: `nope`, wantStatus: http.StatusBadRequest, wantError: "Invalid request body"},
		{name: "bad hash", method: http.MethodGet, path: "/api/content/0x1234", wantStatus: http.StatusBadRequest, wantError: "Invalid content hash"},
		{name: "unknown hash", method: http.MethodGet, path: "/api/content/" + content.Digest("never committed").Hex(), wantStatus: http.StatusNotFound, wantError: "Content not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, tt.body, nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if got := decodeBody(t, w)["error"]; got != tt.wantError {
				t.Errorf("Expected error %q, got %v", tt.wantError, got)
			}
		})
	}
}
