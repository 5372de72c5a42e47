package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/gasless-relay/internal/content"
	"github.com/ashureev/gasless-relay/internal/delegation"
	"github.com/ashureev/gasless-relay/internal/identity"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
)

// ContentStore commits and resolves content bodies by hash.
type ContentStore interface {
	Commit(ctx context.Context, body string) (common.Hash, error)
	Resolve(ctx context.Context, hash common.Hash) (string, error)
}

type contentRequest struct {
	Body string `json:"body"`
}

type contentResponse struct {
	Hash string `json:"hash"`
	Body string `json:"body,omitempty"`
}

// ContentHandler serves content commitment endpoints.
type ContentHandler struct {
	store ContentStore
}

// NewContentHandler creates a content handler.
func NewContentHandler(store ContentStore) *ContentHandler {
	return &ContentHandler{store: store}
}

// RegisterRoutes registers content routes.
func (h *ContentHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/content", h.Create)
	r.Get("/api/content/{hash}", h.Get)
}

// Create commits a body and returns its hash.
func (h *ContentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Body == "" {
		Error(w, http.StatusBadRequest, "Missing content body")
		return
	}

	hash, err := h.store.Commit(r.Context(), req.Body)
	if err != nil {
		slog.Error("Failed to commit content", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to store content")
		return
	}

	author := "anonymous"
	if addr, ok := identity.WalletFromContext(r.Context()); ok {
		author = addr.Hex()
	}
	slog.Info("Content committed", "hash", hash.Hex(), "author", author)

	JSON(w, http.StatusOK, contentResponse{Hash: hash.Hex()})
}

// Get resolves a committed body.
func (h *ContentHandler) Get(w http.ResponseWriter, r *http.Request) {
	hash, err := delegation.ParseHash(chi.URLParam(r, "hash"))
	if err != nil {
		Error(w, http.StatusBadRequest, "Invalid content hash")
		return
	}

	body, err := h.store.Resolve(r.Context(), hash)
	if errors.Is(err, content.ErrNotFound) {
		Error(w, http.StatusNotFound, "Content not found")
		return
	}
	if err != nil {
		slog.Error("Failed to resolve content", "hash", hash.Hex(), "error", err)
		Error(w, http.StatusInternalServerError, "Failed to resolve content")
		return
	}

	JSON(w, http.StatusOK, contentResponse{Hash: hash.Hex(), Body: body})
}
