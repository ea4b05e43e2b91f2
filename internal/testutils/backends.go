package testutils

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"incredoc/internal/backend"
)

// Extractor returns canned text keyed by file base name.
type Extractor struct {
	Texts map[string]string
	Errs  map[string]error
}

func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := filepath.Base(path)
	if err, ok := e.Errs[name]; ok {
		return "", err
	}
	t, ok := e.Texts[name]
	if !ok {
		return "", errors.New("no text for " + name)
	}
	return t, nil
}

// Embedder maps text to a letter-frequency vector, so similar texts land
// close to each other. FailOn makes any text containing it fail.
type Embedder struct {
	mu     sync.Mutex
	Calls  int
	FailOn string
	Err    error
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.Calls++
	e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Err != nil {
		return nil, e.Err
	}
	if e.FailOn != "" && strings.Contains(text, e.FailOn) {
		return nil, errors.New("embedding rejected")
	}
	return LetterVector(text), nil
}

// BatchEmbedder counts batch calls separately.
type BatchEmbedder struct {
	Embedder
	BatchCalls int
}

func (e *BatchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.BatchCalls++
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if e.Err != nil {
			return nil, e.Err
		}
		out[i] = LetterVector(t)
	}
	return out, nil
}

func LetterVector(text string) []float32 {
	v := make([]float32, 27)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	v[26] = 1
	return v
}

// Index is an in-memory VectorIndex ranked by cosine similarity.
type Index struct {
	mu        sync.Mutex
	records   map[string]backend.VectorRecord
	UpsertErr error
	QueryErr  error
	Upserts   int
	// FailSource makes Upsert fail for batches from that source.
	FailSource string
}

func NewIndex() *Index {
	return &Index{records: map[string]backend.VectorRecord{}}
}

func (x *Index) Upsert(ctx context.Context, records []backend.VectorRecord) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	x.Upserts++
	if x.UpsertErr != nil {
		return x.UpsertErr
	}
	for _, r := range records {
		if x.FailSource != "" && r.Source == x.FailSource {
			return errors.New("index rejected batch")
		}
	}
	for _, r := range records {
		x.records[r.VectorID] = r
	}
	return nil
}

func (x *Index) Query(ctx context.Context, vec []float32, k int, filter backend.Filter) ([]backend.Match, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.QueryErr != nil {
		return nil, x.QueryErr
	}
	var out []backend.Match
	for _, r := range x.records {
		if filter.Source != "" && r.Source != filter.Source {
			continue
		}
		out = append(out, backend.Match{
			VectorID:   r.VectorID,
			DocumentID: r.DocumentID,
			Source:     r.Source,
			Text:       r.Text,
			ChunkIndex: r.ChunkIndex,
			Score:      cosine(vec, r.Vector),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].VectorID < out[j].VectorID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (x *Index) CountChunks(ctx context.Context) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.records), nil
}

// BySource returns the records of one source ordered by chunk index.
func (x *Index) BySource(source string) []backend.VectorRecord {
	x.mu.Lock()
	defer x.mu.Unlock()
	var out []backend.VectorRecord
	for _, r := range x.records {
		if r.Source == source {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// Synthesizer echoes its inputs. Set Reply to override the answer.
type Synthesizer struct {
	mu           sync.Mutex
	Reply        string
	Err          error
	LastQuestion string
	LastPassages string
	Calls        int
}

func (s *Synthesizer) Answer(ctx context.Context, question, passages string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	s.LastQuestion = question
	s.LastPassages = passages
	if s.Err != nil {
		return "", s.Err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Reply, nil
}

var (
	_ backend.Extractor     = (*Extractor)(nil)
	_ backend.Embedder      = (*Embedder)(nil)
	_ backend.BatchEmbedder = (*BatchEmbedder)(nil)
	_ backend.VectorIndex   = (*Index)(nil)
	_ backend.ChunkCounter  = (*Index)(nil)
	_ backend.Synthesizer   = (*Synthesizer)(nil)
)
