package backend

import (
	"context"
	"fmt"

	"incredoc/internal/apperr"
)

// Unavailable stands in for a backend that failed to construct. Every call
// fails with a backend error naming the capability.
type Unavailable struct {
	Capability string
	Err        error
}

func NewUnavailable(capability string, err error) *Unavailable {
	return &Unavailable{Capability: capability, Err: err}
}

func (u *Unavailable) fail() error {
	return apperr.Backend(apperr.StageUnavailable, "", fmt.Errorf("%s backend unavailable: %w", u.Capability, u.Err))
}

func (u *Unavailable) Error() string {
	return fmt.Sprintf("%s unavailable: %v", u.Capability, u.Err)
}

func (u *Unavailable) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, u.fail()
}

func (u *Unavailable) Answer(ctx context.Context, question, passages string) (string, error) {
	return "", u.fail()
}

func (u *Unavailable) Upsert(ctx context.Context, records []VectorRecord) error {
	return u.fail()
}

func (u *Unavailable) Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Match, error) {
	return nil, u.fail()
}

func (u *Unavailable) CountChunks(ctx context.Context) (int, error) {
	return 0, u.fail()
}

func (u *Unavailable) Extract(ctx context.Context, path string) (string, error) {
	return "", u.fail()
}

var (
	_ Embedder     = (*Unavailable)(nil)
	_ Synthesizer  = (*Unavailable)(nil)
	_ VectorIndex  = (*Unavailable)(nil)
	_ ChunkCounter = (*Unavailable)(nil)
	_ Extractor    = (*Unavailable)(nil)
)

// IsUnavailable reports whether v is an Unavailable placeholder.
func IsUnavailable(v any) (*Unavailable, bool) {
	u, ok := v.(*Unavailable)
	return u, ok
}
