// Package backend holds the narrow capability interfaces the core depends on.
// Concrete implementations live under internal/adapter and are selected once
// at startup.
package backend

import (
	"context"
	"fmt"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is implemented by embedders with a native batch call.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Synthesizer interface {
	Answer(ctx context.Context, question, passages string) (string, error)
}

// VectorRecord is keyed by VectorID; upserting an existing key overwrites it.
type VectorRecord struct {
	VectorID   string
	DocumentID string
	Source     string
	Text       string
	ChunkIndex int
	Vector     []float32
}

// Filter restricts a query. An empty Source means no restriction.
type Filter struct {
	Source string
}

type Match struct {
	VectorID   string
	DocumentID string
	Source     string
	Text       string
	ChunkIndex int
	Score      float32
}

type VectorIndex interface {
	Upsert(ctx context.Context, records []VectorRecord) error
	Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Match, error)
}

// ChunkCounter is an optional VectorIndex extension used by stats.
type ChunkCounter interface {
	CountChunks(ctx context.Context) (int, error)
}

// Extractor returns the plain text of a document on disk.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// VectorID derives the upsert key of a chunk.
func VectorID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s-%d", documentID, ordinal)
}

// EmbedAll embeds texts in order, in one call when the embedder supports it.
func EmbedAll(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if b, ok := e.(BatchEmbedder); ok {
		vecs, err := b.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
		}
		return vecs, nil
	}

	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed chunk %d: %w", i, err)
		}
		vecs[i] = v
	}
	return vecs, nil
}
