package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/gasless-relay/internal/m2m"
	"github.com/ashureev/gasless-relay/internal/relay"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type publishRequest struct {
	SubjectID flexString `json:"subjectId" validate:"required,numeric"`
	Body      string     `json:"body" validate:"required"`
}

// PublishHandler serves the machine-to-machine publish path.
type PublishHandler struct {
	gate     *m2m.Gate
	content  ContentStore
	relayer  Relayer
	validate *validator.Validate
}

// NewPublishHandler creates a publish handler guarded by gate.
func NewPublishHandler(gate *m2m.Gate, content ContentStore, relayer Relayer) *PublishHandler {
	return &PublishHandler{
		gate:     gate,
		content:  content,
		relayer:  relayer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes registers the publish route behind the M2M gate. Nothing is
// registered when the gate has no key.
func (h *PublishHandler) RegisterRoutes(r chi.Router) {
	if !h.gate.Enabled() {
		slog.Info("M2M publishing disabled (M2M_API_KEY not set)")
		return
	}
	r.With(m2m.Middleware(h.gate)).Post("/api/m2m/publish", h.Publish)
}

// Publish commits the body and publishes the subject with the relayer's
// authority.
func (h *PublishHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		Error(w, http.StatusBadRequest, relay.MsgMissingFields)
		return
	}

	hash, err := h.content.Commit(r.Context(), req.Body)
	if err != nil {
		slog.Error("Failed to commit content for publish", "subject_id", string(req.SubjectID), "error", err)
		Error(w, http.StatusInternalServerError, "Failed to store content")
		return
	}

	res, err := h.relayer.PublishSubject(r.Context(), string(req.SubjectID), hash.Hex())
	if err != nil {
		relayError(w, err)
		return
	}

	JSON(w, http.StatusOK, relayResponse{
		Success:         res.Success,
		TransactionHash: res.TransactionHash,
		ContentHash:     hash.Hex(),
		Message:         relay.MsgSubjectPublished,
	})
}
