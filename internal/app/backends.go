package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/generative-ai-go/genai"

	"incredoc/internal/adapter/gemini"
	"incredoc/internal/adapter/ollama"
	"incredoc/internal/adapter/reranker"
	"incredoc/internal/backend"
	"incredoc/internal/config"
	"incredoc/internal/extract"
	"incredoc/internal/retrieval"
)

// Backends is built once at startup and handed to every component. A
// capability that failed to construct holds a *backend.Unavailable.
type Backends struct {
	Embedder    backend.Embedder
	Synthesizer backend.Synthesizer
	Index       backend.VectorIndex
	Extractor   backend.Extractor
	Reranker    retrieval.Reranker
}

// Check maps each unavailable capability to its construction error.
func (b *Backends) Check() map[string]string {
	down := map[string]string{}
	for name, v := range map[string]any{
		"embedder":    b.Embedder,
		"synthesizer": b.Synthesizer,
		"index":       b.Index,
		"extractor":   b.Extractor,
	} {
		if u, ok := backend.IsUnavailable(v); ok {
			down[name] = u.Err.Error()
		}
	}
	return down
}

// Down lists unavailable capabilities, sorted.
func (b *Backends) Down() []string {
	var names []string
	for name := range b.Check() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewModelBackends selects the embedder, synthesizer, extractor and
// reranker. The vector index is chosen in Bootstrap because it may need the
// database. Construction failures degrade to Unavailable instead of failing
// startup.
func NewModelBackends(ctx context.Context, cfg *config.Config) *Backends {
	b := &Backends{}

	var gclient *genai.Client
	var gerr error
	if cfg.EmbedderProvider == config.ProviderGemini || cfg.SynthesizerProvider == config.ProviderGemini {
		gclient, gerr = gemini.NewClient(ctx, cfg.GeminiAPIKey)
		if gerr != nil {
			slog.WarnContext(ctx, "gemini client unavailable", "error", gerr)
		}
	}

	switch cfg.EmbedderProvider {
	case config.ProviderGemini:
		if gerr != nil {
			b.Embedder = backend.NewUnavailable("embedder", gerr)
		} else {
			b.Embedder = gemini.NewEmbedder(gclient, cfg.GeminiEmbedModel)
		}
	default:
		b.Embedder = ollama.NewEmbedder(ollama.Config{BaseURL: cfg.OllamaURL, Model: cfg.OllamaEmbedModel})
	}

	switch cfg.SynthesizerProvider {
	case config.ProviderGemini:
		if gerr != nil {
			b.Synthesizer = backend.NewUnavailable("synthesizer", gerr)
		} else {
			b.Synthesizer = gemini.NewSynthesizer(gclient, cfg.GeminiLLMModel)
		}
	default:
		b.Synthesizer = ollama.NewSynthesizer(ollama.Config{BaseURL: cfg.OllamaURL, Model: cfg.OllamaLLMModel})
	}

	if err := extract.CheckAvailable(); err != nil {
		slog.WarnContext(ctx, "pdf extractor unavailable", "error", err)
		b.Extractor = backend.NewUnavailable("extractor", err)
	} else {
		b.Extractor = extract.NewPDFToText()
	}

	if rr := reranker.NewClient(cfg.RerankProvider, cfg.RerankAPIKey); rr.Enabled() {
		b.Reranker = rr
	}
	return b
}

// validateProviders rejects unknown names before anything is constructed.
func validateProviders(cfg *config.Config) error {
	if !reranker.Supported(cfg.RerankProvider) {
		return fmt.Errorf("%w: RERANK_PROVIDER=%q", config.ErrInvalidValue, cfg.RerankProvider)
	}
	return nil
}
