package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"incredoc/internal/apperr"
	"incredoc/internal/manifest"
	"incredoc/internal/middleware"
)

type ManifestReader interface {
	Snapshot(ctx context.Context) (manifest.Manifest, bool, error)
}

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

type ChunkCounter interface {
	CountChunks(ctx context.Context) (int, error)
}

type Handler struct {
	manifest ManifestReader
	jobRepo  JobRepo
	chunks   ChunkCounter
}

// NewHandler builds the stats endpoint. j and c may be nil when the journal
// or the index count is not available.
func NewHandler(m ManifestReader, j JobRepo, c ChunkCounter) *Handler {
	return &Handler{manifest: m, jobRepo: j, chunks: c}
}

type StatsResponse struct {
	manifest.Summary
	FailedJobs    int  `json:"failed_jobs"`
	IndexedChunks *int `json:"indexed_chunks,omitempty"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	m, _, err := h.manifest.Snapshot(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read manifest", "error", err, "correlationId", correlationID)
		writeError(ctx, w, apperr.Backend(apperr.StageManifest, "", err))
		return
	}
	resp := StatsResponse{Summary: m.Summary()}

	if h.jobRepo != nil {
		resp.FailedJobs, err = h.jobRepo.Count(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count jobs", "error", err, "correlationId", correlationID)
			writeError(ctx, w, apperr.Backend("", "", err))
			return
		}
	}

	if h.chunks != nil {
		n, err := h.chunks.CountChunks(ctx)
		if err != nil {
			// The index may be down while the manifest is fine.
			slog.WarnContext(ctx, "failed to count indexed chunks", "error", err, "correlationId", correlationID)
		} else {
			resp.IndexedChunks = &n
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(apperr.KindOf(err)))
	if err := json.NewEncoder(w).Encode(apperr.Payload(err, middleware.GetCorrelationID(ctx))); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
