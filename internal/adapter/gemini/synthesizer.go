package gemini

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"incredoc/internal/backend"
)

type Synthesizer struct {
	client *genai.Client
	model  string
}

func NewSynthesizer(client *genai.Client, model string) *Synthesizer {
	if model == "" {
		model = DefaultLLMModel
	}
	return &Synthesizer{client: client, model: model}
}

func (s *Synthesizer) Answer(ctx context.Context, question, passages string) (string, error) {
	gm := s.client.GenerativeModel(s.model)
	var temp float32 = 0
	gm.Temperature = &temp

	slog.DebugContext(ctx, "generating answer", "model", s.model)
	res, err := gm.GenerateContent(ctx, genai.Text(backend.BuildPrompt(question, passages)))
	if err != nil {
		slog.ErrorContext(ctx, "generation failed", "error", err)
		return "", err
	}

	var sb strings.Builder
	if len(res.Candidates) > 0 && res.Candidates[0].Content != nil {
		for _, part := range res.Candidates[0].Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
