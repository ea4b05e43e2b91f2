package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 50 * time.Millisecond

var _ Locker = (*FileBackend)(nil)

// FileBackend stores the manifest as one indented JSON document. Transactions
// hold an OS lock on a sibling "<path>.lock" file, so the server and the CLI
// can share one manifest.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: filepath.Clean(path)}
}

func (b *FileBackend) Path() string { return b.path }

func (b *FileBackend) LockPath() string { return b.path + ".lock" }

// WithLock runs fn while holding the exclusive file lock. Waiting honours ctx.
func (b *FileBackend) WithLock(ctx context.Context, fn func(ctx context.Context, tx Backend) error) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o750); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}

	fl := flock.New(b.LockPath())
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock manifest: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock manifest: %s is held", b.LockPath())
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			slog.WarnContext(ctx, "failed to unlock manifest", "path", b.LockPath(), "error", err)
		}
	}()

	return fn(ctx, b)
}

func (b *FileBackend) Load(ctx context.Context) (Manifest, error) {
	data, err := os.ReadFile(b.path) // #nosec G304 -- path is from application config
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, ErrNoManifest
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Manifest{}, ErrNoManifest
	}

	m := Manifest{}
	if err := json.Unmarshal(data, &m); err != nil {
		slog.WarnContext(ctx, "manifest is corrupt, treating as empty", "path", b.path, "error", err)
		return Manifest{}, ErrNoManifest
	}
	return m, nil
}

// Save writes to a temp file in the same directory and renames it over the
// target, so readers never observe a partial manifest.
func (b *FileBackend) Save(ctx context.Context, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp manifest: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	slog.DebugContext(ctx, "manifest saved", "path", b.path, "documents", len(m))
	return nil
}
