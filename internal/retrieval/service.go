// Package retrieval answers questions from the indexed documents.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"

	"incredoc/internal/apperr"
	"incredoc/internal/backend"
	"incredoc/internal/metrics"
	"incredoc/internal/middleware"
)

const (
	// TopK is the number of passages retrieved per question.
	TopK = 5

	// AllDocuments is the scope value clients send for "no filter".
	AllDocuments = "All Documents"

	NoAnswer = "No answer could be generated."
)

type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) ([]int, error)
}

type Answer struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

type Service struct {
	embedder    backend.Embedder
	index       backend.VectorIndex
	synthesizer backend.Synthesizer
	reranker    Reranker
	logger      *QueryLogger
	metrics     *metrics.Metrics
}

// NewService wires the engine. r, l and m may be nil.
func NewService(e backend.Embedder, idx backend.VectorIndex, syn backend.Synthesizer, r Reranker, l *QueryLogger, m *metrics.Metrics) *Service {
	return &Service{embedder: e, index: idx, synthesizer: syn, reranker: r, logger: l, metrics: m}
}

// FilterFor maps a client scope to an index filter. Any scope other than ""
// and AllDocuments is matched exactly, whitespace included.
func FilterFor(scope string) backend.Filter {
	if scope == "" || scope == AllDocuments {
		return backend.Filter{}
	}
	return backend.Filter{Source: scope}
}

func (s *Service) Answer(ctx context.Context, question, scope string) (ans *Answer, err error) {
	start := time.Now()
	var matches []backend.Match

	defer func() {
		status := "ok"
		if err != nil {
			status = string(apperr.KindOf(err))
		}
		s.metrics.RecordQuery(status, time.Since(start).Seconds())
		if s.logger != nil && err == nil {
			s.logger.Log(QueryLogEntry{
				Question:      question,
				Scope:         scope,
				NumResults:    len(matches),
				Sources:       ans.Sources,
				Duration:      time.Since(start),
				CorrelationID: middleware.GetCorrelationID(ctx),
			})
		}
	}()

	if strings.TrimSpace(question) == "" {
		return nil, apperr.Validation("Question is required.")
	}

	vec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, apperr.Backend(apperr.StageEmbed, "", err)
	}

	matches, err = s.index.Query(ctx, vec, TopK, FilterFor(scope))
	if err != nil {
		return nil, apperr.Backend(apperr.StageRetrieve, "", err)
	}

	ordered, err := s.rerank(ctx, question, matches)
	if err != nil {
		return nil, apperr.Backend(apperr.StageRerank, "", err)
	}

	texts := make([]string, len(ordered))
	for i, m := range ordered {
		texts[i] = m.Text
	}

	text, err := s.synthesizer.Answer(ctx, question, strings.Join(texts, "\n\n"))
	if err != nil {
		return nil, apperr.Backend(apperr.StageSynthesize, "", err)
	}
	if strings.TrimSpace(text) == "" {
		text = NoAnswer
	}

	return &Answer{Answer: text, Sources: Sources(matches)}, nil
}

// rerank reorders passages. Indices a reranker omits are appended in their
// original order so the retrieved set never shrinks.
func (s *Service) rerank(ctx context.Context, question string, matches []backend.Match) ([]backend.Match, error) {
	if s.reranker == nil || len(matches) < 2 {
		return matches, nil
	}

	contents := make([]string, len(matches))
	for i, m := range matches {
		contents[i] = m.Text
	}
	indices, err := s.reranker.Rerank(ctx, question, contents)
	if err != nil {
		return nil, err
	}

	used := make([]bool, len(matches))
	out := make([]backend.Match, 0, len(matches))
	for _, idx := range indices {
		if idx >= 0 && idx < len(matches) && !used[idx] {
			used[idx] = true
			out = append(out, matches[idx])
		}
	}
	for i, m := range matches {
		if !used[i] {
			out = append(out, m)
		}
	}
	return out, nil
}

// Sources returns the distinct, non-empty source names of matches, sorted.
func Sources(matches []backend.Match) []string {
	seen := make(map[string]bool, len(matches))
	out := []string{}
	for _, m := range matches {
		if m.Source == "" || seen[m.Source] {
			continue
		}
		seen[m.Source] = true
		out = append(out, m.Source)
	}
	sort.Strings(out)
	return out
}
