package retrieval_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"incredoc/internal/apperr"
	"incredoc/internal/backend"
	"incredoc/internal/middleware"
	"incredoc/internal/retrieval"
	"incredoc/internal/testutils"
)

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockIndex struct{ mock.Mock }

func (m *MockIndex) Upsert(ctx context.Context, records []backend.VectorRecord) error {
	return m.Called(ctx, records).Error(0)
}

func (m *MockIndex) Query(ctx context.Context, vector []float32, k int, filter backend.Filter) ([]backend.Match, error) {
	args := m.Called(ctx, vector, k, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]backend.Match), args.Error(1)
}

type MockReranker struct{ mock.Mock }

func (m *MockReranker) Rerank(ctx context.Context, query string, docs []string) ([]int, error) {
	args := m.Called(ctx, query, docs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int), args.Error(1)
}

func TestFilterFor(t *testing.T) {
	assert.Equal(t, backend.Filter{}, retrieval.FilterFor(""))
	assert.Equal(t, backend.Filter{}, retrieval.FilterFor("All Documents"))
	assert.Equal(t, backend.Filter{Source: "a.pdf"}, retrieval.FilterFor("a.pdf"))
	assert.Equal(t, backend.Filter{Source: " a.pdf"}, retrieval.FilterFor(" a.pdf"))
	assert.Equal(t, backend.Filter{Source: "  "}, retrieval.FilterFor("  "))
}

func TestAnswer_BuildsContextAndDedupesSources(t *testing.T) {
	ctx := context.Background()
	emb := new(MockEmbedder)
	idx := new(MockIndex)
	syn := &testutils.Synthesizer{Reply: "Forty two."}

	vec := []float32{0.1, 0.2}
	emb.On("Embed", ctx, "What is it?").Return(vec, nil)
	idx.On("Query", ctx, vec, retrieval.TopK, backend.Filter{}).Return([]backend.Match{
		{Source: "b.pdf", Text: "first"},
		{Source: "a.pdf", Text: "second"},
		{Source: "b.pdf", Text: "third"},
	}, nil)

	svc := retrieval.NewService(emb, idx, syn, nil, nil, nil)
	ans, err := svc.Answer(ctx, "What is it?", "All Documents")
	require.NoError(t, err)

	assert.Equal(t, "Forty two.", ans.Answer)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, ans.Sources)
	assert.Equal(t, "What is it?", syn.LastQuestion)
	assert.Equal(t, "first\n\nsecond\n\nthird", syn.LastPassages)
	emb.AssertExpectations(t)
	idx.AssertExpectations(t)
}

func TestAnswer_ScopedQuery(t *testing.T) {
	ctx := context.Background()
	emb := new(MockEmbedder)
	idx := new(MockIndex)

	emb.On("Embed", ctx, "q").Return([]float32{1}, nil)
	idx.On("Query", ctx, []float32{1}, 5, backend.Filter{Source: "a.pdf"}).Return([]backend.Match{{Source: "a.pdf", Text: "x"}}, nil)

	svc := retrieval.NewService(emb, idx, &testutils.Synthesizer{Reply: "ok"}, nil, nil, nil)
	ans, err := svc.Answer(ctx, "q", "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf"}, ans.Sources)
	idx.AssertExpectations(t)
}

func TestAnswer_NoMatchesStillSynthesizes(t *testing.T) {
	ctx := context.Background()
	emb := new(MockEmbedder)
	idx := new(MockIndex)
	syn := &testutils.Synthesizer{}

	emb.On("Embed", ctx, "q").Return([]float32{1}, nil)
	idx.On("Query", ctx, []float32{1}, 5, backend.Filter{}).Return([]backend.Match{}, nil)

	ans, err := retrieval.NewService(emb, idx, syn, nil, nil, nil).Answer(ctx, "q", "")
	require.NoError(t, err)
	assert.Equal(t, 1, syn.Calls)
	assert.Equal(t, "", syn.LastPassages)
	assert.Equal(t, retrieval.NoAnswer, ans.Answer)
	assert.Equal(t, []string{}, ans.Sources)
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	svc := retrieval.NewService(new(MockEmbedder), new(MockIndex), &testutils.Synthesizer{}, nil, nil, nil)
	_, err := svc.Answer(context.Background(), "   ", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestAnswer_StageErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	t.Run("embed", func(t *testing.T) {
		emb := new(MockEmbedder)
		emb.On("Embed", ctx, "q").Return(nil, boom)
		_, err := retrieval.NewService(emb, new(MockIndex), &testutils.Synthesizer{}, nil, nil, nil).Answer(ctx, "q", "")
		assertStage(t, err, apperr.StageEmbed)
	})

	t.Run("retrieve", func(t *testing.T) {
		emb := new(MockEmbedder)
		idx := new(MockIndex)
		emb.On("Embed", ctx, "q").Return([]float32{1}, nil)
		idx.On("Query", ctx, []float32{1}, 5, backend.Filter{}).Return(nil, boom)
		_, err := retrieval.NewService(emb, idx, &testutils.Synthesizer{}, nil, nil, nil).Answer(ctx, "q", "")
		assertStage(t, err, apperr.StageRetrieve)
	})

	t.Run("synthesize", func(t *testing.T) {
		emb := new(MockEmbedder)
		idx := new(MockIndex)
		emb.On("Embed", ctx, "q").Return([]float32{1}, nil)
		idx.On("Query", ctx, []float32{1}, 5, backend.Filter{}).Return([]backend.Match{{Source: "a.pdf", Text: "t"}}, nil)
		_, err := retrieval.NewService(emb, idx, &testutils.Synthesizer{Err: boom}, nil, nil, nil).Answer(ctx, "q", "")
		assertStage(t, err, apperr.StageSynthesize)
	})

	t.Run("timeout", func(t *testing.T) {
		emb := new(MockEmbedder)
		emb.On("Embed", ctx, "q").Return(nil, context.DeadlineExceeded)
		_, err := retrieval.NewService(emb, new(MockIndex), &testutils.Synthesizer{}, nil, nil, nil).Answer(ctx, "q", "")
		assert.ErrorIs(t, err, apperr.ErrTimeout)
	})
}

func assertStage(t *testing.T, err error, stage string) {
	t.Helper()
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.KindBackend, ae.Kind)
	assert.Equal(t, stage, ae.Stage)
}

func TestAnswer_Rerank(t *testing.T) {
	ctx := context.Background()
	emb := new(MockEmbedder)
	idx := new(MockIndex)
	rr := new(MockReranker)
	syn := &testutils.Synthesizer{Reply: "ok"}

	emb.On("Embed", ctx, "q").Return([]float32{1}, nil)
	idx.On("Query", ctx, []float32{1}, 5, backend.Filter{}).Return([]backend.Match{
		{Source: "a.pdf", Text: "A"},
		{Source: "b.pdf", Text: "B"},
		{Source: "c.pdf", Text: "C"},
	}, nil)
	// The reranker drops index 1; it must still reach the context.
	rr.On("Rerank", ctx, "q", []string{"A", "B", "C"}).Return([]int{2, 0}, nil)

	ans, err := retrieval.NewService(emb, idx, syn, rr, nil, nil).Answer(ctx, "q", "")
	require.NoError(t, err)
	assert.Equal(t, "C\n\nA\n\nB", syn.LastPassages)
	assert.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf"}, ans.Sources)
}

func TestAnswer_RerankError(t *testing.T) {
	ctx := context.Background()
	emb := new(MockEmbedder)
	idx := new(MockIndex)
	rr := new(MockReranker)

	emb.On("Embed", ctx, "q").Return([]float32{1}, nil)
	idx.On("Query", ctx, []float32{1}, 5, backend.Filter{}).Return([]backend.Match{{Text: "A"}, {Text: "B"}}, nil)
	rr.On("Rerank", ctx, "q", []string{"A", "B"}).Return(nil, errors.New("quota"))

	_, err := retrieval.NewService(emb, idx, &testutils.Synthesizer{}, rr, nil, nil).Answer(ctx, "q", "")
	assertStage(t, err, apperr.StageRerank)
}

func TestAnswer_WritesQueryLog(t *testing.T) {
	var buf bytes.Buffer
	ctx := middleware.WithCorrelationID(context.Background(), "corr-7")
	emb := new(MockEmbedder)
	idx := new(MockIndex)

	emb.On("Embed", ctx, "q").Return([]float32{1}, nil)
	idx.On("Query", ctx, []float32{1}, 5, backend.Filter{Source: "a.pdf"}).Return([]backend.Match{{Source: "a.pdf", Text: "t"}}, nil)

	svc := retrieval.NewService(emb, idx, &testutils.Synthesizer{Reply: "ok"}, nil, retrieval.NewQueryLogger(&buf), nil)
	_, err := svc.Answer(ctx, "q", "a.pdf")
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "q", entry["question"])
	assert.Equal(t, "a.pdf", entry["scope"])
	assert.Equal(t, float64(1), entry["num_results"])
	assert.Equal(t, []interface{}{"a.pdf"}, entry["sources"])
	assert.Equal(t, "corr-7", entry["correlation_id"])
}

func TestAnswer_EndToEndWithMemoryIndex(t *testing.T) {
	ctx := context.Background()
	emb := &testutils.Embedder{}
	idx := testutils.NewIndex()

	records := []backend.VectorRecord{}
	for i, doc := range []struct{ source, text string }{
		{"fruit.pdf", "apples and bananas"},
		{"fruit.pdf", "oranges grow on trees"},
		{"cars.pdf", "engines and wheels"},
	} {
		v, _ := emb.Embed(ctx, doc.text)
		records = append(records, backend.VectorRecord{VectorID: backend.VectorID(doc.source, i), Source: doc.source, Text: doc.text, Vector: v})
	}
	require.NoError(t, idx.Upsert(ctx, records))

	syn := &testutils.Synthesizer{Reply: "answer"}
	ans, err := retrieval.NewService(emb, idx, syn, nil, nil, nil).Answer(ctx, "wheels", "cars.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"cars.pdf"}, ans.Sources)
	assert.Equal(t, "engines and wheels", syn.LastPassages)
}
