// Package vectorizer turns pending manifest entries into indexed chunks.
//
// A run is all or nothing: the manifest is only saved when every pending
// document has been extracted, split, embedded and upserted.
package vectorizer

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"incredoc/internal/apperr"
	"incredoc/internal/backend"
	"incredoc/internal/manifest"
	"incredoc/internal/metrics"
	"incredoc/internal/text"
)

const HandlerName = "vectorizer"

// ErrNoChunks is the cause reported when a document yields no text.
var ErrNoChunks = errors.New("document produced no text chunks")

type Result struct {
	Vectorized     []string `json:"vectorized"`
	TotalProcessed int      `json:"total_processed"`
}

// FailureRecorder journals failed runs for later retry.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, handler string, err error) error
}

type Service struct {
	store     *manifest.Store
	dir       string
	extractor backend.Extractor
	splitter  *text.Splitter
	embedder  backend.Embedder
	index     backend.VectorIndex
	metrics   *metrics.Metrics
	failures  FailureRecorder
	now       func() time.Time
}

func NewService(store *manifest.Store, dir string, ext backend.Extractor, emb backend.Embedder, idx backend.VectorIndex, m *metrics.Metrics) *Service {
	return &Service{
		store:     store,
		dir:       dir,
		extractor: ext,
		splitter:  text.NewDefaultSplitter(),
		embedder:  emb,
		index:     idx,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetFailureRecorder enables the failed-run journal.
func (s *Service) SetFailureRecorder(r FailureRecorder) { s.failures = r }

func (s *Service) SourceDir() string { return s.dir }

func (s *Service) Vectorize(ctx context.Context) (*Result, error) {
	return s.VectorizeDir(ctx, s.dir)
}

// Rerun satisfies job.Runner.
func (s *Service) Rerun(ctx context.Context) error {
	_, err := s.Vectorize(ctx)
	return err
}

func (s *Service) VectorizeDir(ctx context.Context, dir string) (*Result, error) {
	start := time.Now()
	res := &Result{Vectorized: []string{}}
	chunks := 0

	err := s.store.Update(ctx, func(m manifest.Manifest, found bool) error {
		if !found || len(m) == 0 {
			return apperr.Configuration("Manifest file not found or is empty. Run intake first.")
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return apperr.Configurationf("Source directory %s not found.", dir)
		}

		pending := m.Pending()
		slog.InfoContext(ctx, "vectorization started", "dir", dir, "pending", len(pending))

		for _, name := range pending {
			if err := ctx.Err(); err != nil {
				return apperr.Backend("", name, err)
			}

			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				slog.WarnContext(ctx, "source file missing, skipping", "filename", name)
				continue
			}

			rec := m[name]
			n, err := s.vectorizeOne(ctx, name, rec.ID, path)
			if err != nil {
				return err
			}

			rec.Vectorized = true
			rec.ChunkCount = n
			rec.LastUpdated = s.now()
			m[name] = rec
			res.Vectorized = append(res.Vectorized, name)
			chunks += n
		}
		return nil
	})

	elapsed := time.Since(start).Seconds()
	if err != nil {
		s.fail(ctx, err, elapsed)
		return nil, err
	}

	res.TotalProcessed = len(res.Vectorized)
	s.metrics.RecordVectorized(res.TotalProcessed, chunks, elapsed)
	slog.InfoContext(ctx, "vectorization complete", "vectorized", res.TotalProcessed, "chunks", chunks)
	return res, nil
}

func (s *Service) vectorizeOne(ctx context.Context, name, docID, path string) (int, error) {
	content, err := s.extractor.Extract(ctx, path)
	if err != nil {
		return 0, apperr.Backend(apperr.StageExtract, name, err)
	}

	chunks := s.splitter.Split(content)
	if len(chunks) == 0 {
		return 0, apperr.Backend(apperr.StageSplit, name, ErrNoChunks)
	}

	vecs, err := backend.EmbedAll(ctx, s.embedder, chunks)
	if err != nil {
		return 0, apperr.Backend(apperr.StageEmbed, name, err)
	}

	records := make([]backend.VectorRecord, len(chunks))
	for i, c := range chunks {
		records[i] = backend.VectorRecord{
			VectorID:   backend.VectorID(docID, i),
			DocumentID: docID,
			Source:     name,
			Text:       c,
			ChunkIndex: i,
			Vector:     vecs[i],
		}
	}
	if err := s.index.Upsert(ctx, records); err != nil {
		return 0, apperr.Backend(apperr.StageUpsert, name, err)
	}

	slog.DebugContext(ctx, "document vectorized", "filename", name, "chunks", len(chunks))
	return len(chunks), nil
}

func (s *Service) fail(ctx context.Context, err error, elapsed float64) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindConfiguration || kind == apperr.KindValidation {
		return
	}

	var ae *apperr.Error
	stage := ""
	if errors.As(err, &ae) {
		stage = ae.Stage
	}
	s.metrics.RecordVectorizeFailure(stage, elapsed)
	slog.ErrorContext(ctx, "vectorization failed", "stage", stage, "error", err)

	if s.failures == nil {
		return
	}
	// The run's own deadline may be what failed it.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if rerr := s.failures.RecordFailure(recCtx, HandlerName, err); rerr != nil {
		slog.ErrorContext(ctx, "failed to record vectorization failure", "error", rerr)
	}
}
