package intake

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"incredoc/internal/apperr"
	"incredoc/internal/manifest"
	"incredoc/internal/middleware"
)

type Handler struct {
	service *Service
	store   *manifest.Store
}

func NewHandler(s *Service, store *manifest.Store) *Handler {
	return &Handler{service: s, store: store}
}

type scanResponse struct {
	Status string `json:"status"`
	*Result
}

func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "intake scan requested", "dir", h.service.SourceDir(), "correlationId", correlationID)

	res, err := h.service.Scan(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "intake scan failed", "error", err, "correlationId", correlationID)
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, scanResponse{Status: "Intake scan complete.", Result: res})
}

// DocumentView is one row of the document listing.
type DocumentView struct {
	Filename    string `json:"filename"`
	UUID        string `json:"uuid"`
	Vectorized  bool   `json:"vectorized"`
	ChunkCount  int    `json:"no_of_chunks"`
	LastUpdated string `json:"last_updated"`
}

// Documents lists the manifest sorted by filename.
func (h *Handler) Documents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	docs, err := ListDocuments(ctx, h.store)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list documents", "error", err, "correlationId", middleware.GetCorrelationID(ctx))
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func ListDocuments(ctx context.Context, store *manifest.Store) ([]DocumentView, error) {
	m, _, err := store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	docs := make([]DocumentView, 0, len(m))
	for _, name := range m.Filenames() {
		rec := m[name]
		docs = append(docs, DocumentView{
			Filename:    name,
			UUID:        rec.ID,
			Vectorized:  rec.Vectorized,
			ChunkCount:  rec.ChunkCount,
			LastUpdated: rec.LastUpdated.UTC().Format(time.RFC3339Nano),
		})
	}
	return docs, nil
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
