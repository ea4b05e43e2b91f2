// Package chat serves question answering over HTTP.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"incredoc/internal/apperr"
	"incredoc/internal/middleware"
	"incredoc/internal/retrieval"
)

// maxBodyBytes caps request bodies; questions are short.
const maxBodyBytes = 1 << 20

type Answerer interface {
	Answer(ctx context.Context, question, scope string) (*retrieval.Answer, error)
}

type Request struct {
	Question string `json:"question"`
	Filename string `json:"filename,omitempty"`
}

type Handler struct {
	service Answerer
}

func NewHandler(s Answerer) *Handler {
	return &Handler{service: s}
}

func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var req Request
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		msg := "Request body must be JSON with a question field."
		if errors.Is(err, io.EOF) {
			msg = "Request body is empty."
		}
		writeError(ctx, w, apperr.Validation(msg))
		return
	}

	slog.InfoContext(ctx, "question received", "scope", req.Filename, "correlationId", correlationID)

	ans, err := h.service.Answer(ctx, req.Question, req.Filename)
	if err != nil {
		slog.ErrorContext(ctx, "question failed", "error", err, "correlationId", correlationID)
		writeError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ans); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(apperr.KindOf(err)))
	if encErr := json.NewEncoder(w).Encode(apperr.Payload(err, middleware.GetCorrelationID(ctx))); encErr != nil {
		slog.Error("failed to encode error response", "error", encErr)
	}
}
