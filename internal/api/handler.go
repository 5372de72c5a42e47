// Package api provides HTTP handlers for the relay API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ashureev/gasless-relay/internal/relay"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// relayError translates a relay failure into its response. The upstream
// message rides along in "message" when there is one.
func relayError(w http.ResponseWriter, err error) {
	var rerr *relay.Error
	if !errors.As(err, &rerr) {
		slog.Error("Unexpected relay failure", "error", err)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	body := map[string]string{"error": rerr.Message}
	if detail := rerr.Detail(); detail != "" {
		body["message"] = detail
	}
	JSON(w, rerr.Status(), body)
}
