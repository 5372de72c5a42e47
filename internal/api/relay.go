package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ashureev/gasless-relay/internal/domain"
	"github.com/ashureev/gasless-relay/internal/relay"
	"github.com/go-chi/chi/v5"
)

// Relayer is the relay pipeline as seen by HTTP handlers.
type Relayer interface {
	RelayComment(ctx context.Context, req *domain.RelayRequest) (*domain.RelayResult, error)
	PublishSubject(ctx context.Context, subjectID, contentHash string) (*domain.RelayResult, error)
	Health() relay.Health
}

// relayCommentRequest is the wire form of a relay request. Older clients send
// postId and parentCommentId.
type relayCommentRequest struct {
	SubjectID        flexString `json:"subjectId"`
	PostID           flexString `json:"postId"`
	ContentHash      string     `json:"contentHash"`
	ParentID         flexString `json:"parentId"`
	ParentCommentID  flexString `json:"parentCommentId"`
	SessionPublicKey string     `json:"sessionPublicKey"`
	UserAddress      string     `json:"userAddress"`
	Signature        string     `json:"signature"`
	Nonce            flexUint   `json:"nonce"`
}

func (b *relayCommentRequest) toDomain() *domain.RelayRequest {
	return &domain.RelayRequest{
		SubjectID:        pick(b.SubjectID, b.PostID),
		ContentHash:      b.ContentHash,
		ParentID:         pick(b.ParentID, b.ParentCommentID),
		SessionPublicKey: b.SessionPublicKey,
		UserAddress:      b.UserAddress,
		Signature:        b.Signature,
		Nonce:            uint64(b.Nonce),
	}
}

type relayResponse struct {
	Success         bool   `json:"success"`
	TransactionHash string `json:"transactionHash"`
	ContentHash     string `json:"contentHash,omitempty"`
	Message         string `json:"message"`
}

// RelayHandler serves the relay endpoints.
type RelayHandler struct {
	relayer Relayer
}

// NewRelayHandler creates a relay handler.
func NewRelayHandler(r Relayer) *RelayHandler {
	return &RelayHandler{relayer: r}
}

// RegisterRoutes registers relay routes.
func (h *RelayHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/relay/comment", h.Comment)
	r.Get("/api/relay/health", h.Health)
}

// Comment relays a session-key signed comment.
func (h *RelayHandler) Comment(w http.ResponseWriter, r *http.Request) {
	var body relayCommentRequest
	if err := decodeJSON(w, r, &body); err != nil {
		slog.Debug("Rejected relay body", "error", err)
		Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.relayer.RelayComment(r.Context(), body.toDomain())
	if err != nil {
		relayError(w, err)
		return
	}

	JSON(w, http.StatusOK, relayResponse{
		Success:         res.Success,
		TransactionHash: res.TransactionHash,
		Message:         relay.MsgCommentRelayed,
	})
}

// Health reports relay identity with masked addresses.
func (h *RelayHandler) Health(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.relayer.Health())
}
