// Package intake registers newly arrived PDF documents in the manifest.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"incredoc/internal/apperr"
	"incredoc/internal/config"
	"incredoc/internal/manifest"
	"incredoc/internal/metrics"
	"incredoc/internal/middleware"
)

// Result lists filenames in directory order. Both slices are never nil so
// they encode as [] rather than null.
type Result struct {
	Processed []string `json:"processed"`
	Skipped   []string `json:"skipped"`
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// CompletedEvent is published on config.TopicIntakeCompleted.
type CompletedEvent struct {
	Processed     []string `json:"processed"`
	CorrelationID string   `json:"correlation_id"`
}

type Service struct {
	store   *manifest.Store
	dir     string
	pub     EventPublisher
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService builds a scanner over dir. pub and m may be nil.
func NewService(store *manifest.Store, dir string, pub EventPublisher, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		dir:     dir,
		pub:     pub,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SourceDir() string { return s.dir }

// Scan registers the configured source directory.
func (s *Service) Scan(ctx context.Context) (*Result, error) {
	return s.ScanDir(ctx, s.dir)
}

// ScanDir registers every new .pdf file in dir. Listing and registration run
// inside one manifest transaction, so concurrent scans never both claim a file.
func (s *Service) ScanDir(ctx context.Context, dir string) (*Result, error) {
	res := &Result{Processed: []string{}, Skipped: []string{}}

	err := s.store.Update(ctx, func(m manifest.Manifest, _ bool) error {
		names, err := listPDFs(dir)
		if err != nil {
			return err
		}
		for _, name := range names {
			if _, ok := m[name]; ok {
				res.Skipped = append(res.Skipped, name)
				continue
			}
			m[name] = manifest.Record{
				ID:          uuid.New().String(),
				LastUpdated: s.now(),
			}
			res.Processed = append(res.Processed, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "intake scan complete", "dir", dir, "processed", len(res.Processed), "skipped", len(res.Skipped))
	s.metrics.RecordRegistered(len(res.Processed))
	s.publishCompleted(ctx, res.Processed)
	return res, nil
}

func (s *Service) publishCompleted(ctx context.Context, processed []string) {
	if s.pub == nil || len(processed) == 0 {
		return
	}
	payload, err := json.Marshal(CompletedEvent{
		Processed:     processed,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal intake event", "error", err)
		return
	}
	if err := s.pub.Publish(config.TopicIntakeCompleted, payload); err != nil {
		slog.ErrorContext(ctx, "failed to publish intake event", "topic", config.TopicIntakeCompleted, "error", err)
	}
}

// listPDFs returns the names of regular .pdf files in dir, sorted. Symlinks
// are followed; directories and other files are ignored.
func listPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.Configurationf("Source directory %s not found.", dir)
		}
		return nil, apperr.Backend(apperr.StageScan, "", err)
	}

	var names []string
	for _, e := range entries {
		if !IsPDF(e.Name()) {
			continue
		}
		info, err := os.Stat(filepath.Join(dir, e.Name()))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// IsPDF reports whether name has a .pdf extension, ignoring case.
func IsPDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}
