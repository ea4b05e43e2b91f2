package manifest

import (
	"context"
	"errors"

	"incredoc/internal/apperr"
)

// Backend loads and saves the whole manifest document.
type Backend interface {
	Load(ctx context.Context) (Manifest, error)
	Save(ctx context.Context, m Manifest) error
}

// Locker is implemented by backends that can hold a lock across processes.
type Locker interface {
	WithLock(ctx context.Context, fn func(ctx context.Context, tx Backend) error) error
}

// Store serializes manifest transactions within the process and, when the
// backend is a Locker, across processes.
type Store struct {
	backend Backend
	sem     chan struct{}
}

func NewStore(b Backend) *Store {
	return &Store{backend: b, sem: make(chan struct{}, 1)}
}

// Update loads the manifest, runs fn and saves the result only if fn returns
// nil. found is false when nothing was persisted before. fn may mutate m in
// place; on error the mutation is discarded.
func (s *Store) Update(ctx context.Context, fn func(m Manifest, found bool) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	run := func(ctx context.Context, b Backend) error {
		m, found, err := loadOrEmpty(ctx, b)
		if err != nil {
			return err
		}
		if err := fn(m, found); err != nil {
			return err
		}
		if err := b.Save(ctx, m); err != nil {
			return apperr.Backend(apperr.StageManifest, "", err)
		}
		return nil
	}

	if l, ok := s.backend.(Locker); ok {
		err := l.WithLock(ctx, run)
		var ae *apperr.Error
		if err != nil && !errors.As(err, &ae) {
			return apperr.Backend(apperr.StageManifest, "", err)
		}
		return err
	}
	return run(ctx, s.backend)
}

// Snapshot returns a copy of the current manifest without taking the lock.
// Saves are atomic, so the copy is always a complete document.
func (s *Store) Snapshot(ctx context.Context) (Manifest, bool, error) {
	m, found, err := loadOrEmpty(ctx, s.backend)
	if err != nil {
		return nil, false, err
	}
	return m.Clone(), found, nil
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return apperr.Backend(apperr.StageManifest, "", ctx.Err())
	}
}

func (s *Store) release() { <-s.sem }

func loadOrEmpty(ctx context.Context, b Backend) (Manifest, bool, error) {
	m, err := b.Load(ctx)
	if errors.Is(err, ErrNoManifest) {
		return Manifest{}, false, nil
	}
	if err != nil {
		return nil, false, apperr.Backend(apperr.StageManifest, "", err)
	}
	if m == nil {
		m = Manifest{}
	}
	return m, true, nil
}
