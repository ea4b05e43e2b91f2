package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"incredoc/features/intake"
	"incredoc/features/vectorizer"
	"incredoc/internal/middleware"
)

// IntakeConsumer turns intake.completed events into vectorize.task messages
// when auto-vectorization is on.
type IntakeConsumer struct {
	pub Publisher
}

func NewIntakeConsumer(pub Publisher) *IntakeConsumer {
	return &IntakeConsumer{pub: pub}
}

func (c *IntakeConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var ev intake.CompletedEvent
	if err := json.Unmarshal(m.Body, &ev); err != nil {
		slog.Error("poison pill: invalid intake event", "error", err)
		return nil
	}
	if len(ev.Processed) == 0 {
		return nil
	}

	ctx := middleware.NewBackgroundContext(context.Background(), ev.CorrelationID)
	if err := vectorizer.PublishTask(ctx, c.pub, "intake"); err != nil {
		slog.ErrorContext(ctx, "failed to queue vectorization after intake", "error", err)
		return err // Retry
	}

	slog.InfoContext(ctx, "vectorization queued after intake", "documents", len(ev.Processed))
	return nil
}
