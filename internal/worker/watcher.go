package worker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"incredoc/features/intake"
	"incredoc/internal/middleware"
)

// DefaultDebounce collapses the burst of events a single copy produces.
const DefaultDebounce = 500 * time.Millisecond

// Watcher scans the source directory when PDFs appear in it and, optionally,
// vectorizes whatever the scan registered.
type Watcher struct {
	dir        string
	scanner    Scanner
	vectorizer Vectorizer
	timeout    time.Duration
	debounce   time.Duration

	mu    sync.Mutex
	timer *time.Timer
	runs  chan struct{}
}

// NewWatcher builds a watcher over dir. v may be nil to only run intake.
func NewWatcher(dir string, s Scanner, v Vectorizer, timeout time.Duration) *Watcher {
	return &Watcher{
		dir:        dir,
		scanner:    s,
		vectorizer: v,
		timeout:    timeout,
		debounce:   DefaultDebounce,
		runs:       make(chan struct{}, 1),
	}
}

// SetDebounce overrides DefaultDebounce.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounce = d }

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	slog.InfoContext(ctx, "watching source directory", "dir", w.dir)

	go w.loop(ctx)

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(ev) {
				w.schedule()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "watcher error", "error", err)
		}
	}
}

// handleEvent reports whether ev should trigger a scan.
func (w *Watcher) handleEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Write) {
		return false
	}
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return intake.IsPDF(name)
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case w.runs <- struct{}{}:
		default: // a run is already pending
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.runs:
			w.trigger(ctx)
		}
	}
}

func (w *Watcher) trigger(parent context.Context) {
	ctx := middleware.NewBackgroundContext(parent, "")
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	res, err := w.scanner.Scan(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "watcher intake failed", "error", err)
		return
	}
	if len(res.Processed) == 0 || w.vectorizer == nil {
		return
	}

	vres, err := w.vectorizer.Vectorize(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "watcher vectorization failed", "error", err)
		return
	}
	slog.InfoContext(ctx, "watcher vectorization complete", "vectorized", vres.TotalProcessed)
}
