package vectorizer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"incredoc/internal/apperr"
	"incredoc/internal/middleware"
)

type Handler struct {
	service *Service
	pub     EventPublisher
}

// NewHandler builds the vectorizer endpoint. With a non-nil pub, requests
// carrying ?async=true are queued instead of run inline.
func NewHandler(s *Service, pub EventPublisher) *Handler {
	return &Handler{service: s, pub: pub}
}

type runResponse struct {
	Status string `json:"status"`
	*Result
}

func (h *Handler) Vectorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	if h.pub != nil && r.URL.Query().Get("async") == "true" {
		if err := PublishTask(ctx, h.pub, "api"); err != nil {
			slog.ErrorContext(ctx, "failed to queue vectorization", "error", err, "correlationId", correlationID)
			writeError(ctx, w, apperr.Backend("", "", err))
			return
		}
		slog.InfoContext(ctx, "vectorization queued", "correlationId", correlationID)
		writeJSON(ctx, w, http.StatusAccepted, map[string]string{"status": "Vectorization queued."})
		return
	}

	slog.InfoContext(ctx, "vectorization requested", "dir", h.service.SourceDir(), "correlationId", correlationID)

	res, err := h.service.Vectorize(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "vectorization failed", "error", err, "correlationId", correlationID)
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, runResponse{Status: "Vectorization complete.", Result: res})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	writeJSON(ctx, w, apperr.HTTPStatus(apperr.KindOf(err)), apperr.Payload(err, middleware.GetCorrelationID(ctx)))
}
