package ollama

import (
	"context"
	"fmt"
	"log/slog"
)

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

type Embedder struct {
	client
	model string
}

func NewEmbedder(cfg Config) *Embedder {
	if cfg.Model == "" {
		cfg.Model = DefaultEmbedModel
	}
	return &Embedder{client: newClient(cfg), model: cfg.Model}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))

	var res embedResponse
	if err := e.post(ctx, "/api/embeddings", embedRequest{Model: e.model, Prompt: text}, &res); err != nil {
		return nil, err
	}
	if len(res.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding received")
	}

	vec := make([]float32, len(res.Embedding))
	for i, v := range res.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
