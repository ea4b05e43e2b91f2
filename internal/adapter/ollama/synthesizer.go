package ollama

import (
	"context"
	"log/slog"
	"strings"

	"incredoc/internal/backend"
)

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type Synthesizer struct {
	client
	model string
}

func NewSynthesizer(cfg Config) *Synthesizer {
	if cfg.Model == "" {
		cfg.Model = DefaultLLMModel
	}
	return &Synthesizer{client: newClient(cfg), model: cfg.Model}
}

func (s *Synthesizer) Answer(ctx context.Context, question, passages string) (string, error) {
	slog.DebugContext(ctx, "generating answer", "model", s.model)

	req := generateRequest{
		Model:  s.model,
		Prompt: backend.BuildPrompt(question, passages),
	}
	var res generateResponse
	if err := s.post(ctx, "/api/generate", req, &res); err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Response), nil
}
