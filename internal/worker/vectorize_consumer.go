package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"incredoc/features/vectorizer"
	"incredoc/internal/apperr"
	"incredoc/internal/middleware"
)

// VectorizeConsumer runs the pipeline for each vectorize.task message.
//
// Every outcome is acked. Failed runs are journaled by the pipeline itself and
// retried by hand, so requeueing here would only repeat the same failure.
type VectorizeConsumer struct {
	vectorizer Vectorizer
	timeout    time.Duration
}

func NewVectorizeConsumer(v Vectorizer, timeout time.Duration) *VectorizeConsumer {
	return &VectorizeConsumer{vectorizer: v, timeout: timeout}
}

func (c *VectorizeConsumer) HandleMessage(m *nsq.Message) error {
	var task vectorizer.Task
	if len(m.Body) > 0 {
		if err := json.Unmarshal(m.Body, &task); err != nil {
			// Poison pill: invalid JSON, don't retry
			slog.Error("poison pill: invalid vectorize task", "error", err)
			return nil
		}
	}

	ctx := middleware.NewBackgroundContext(context.Background(), task.CorrelationID)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	slog.InfoContext(ctx, "vectorize task received", "reason", task.Reason, "attempts", m.Attempts)

	res, err := c.vectorizer.Vectorize(ctx)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindConfiguration {
			slog.WarnContext(ctx, "vectorize task skipped", "error", err)
			return nil
		}
		slog.ErrorContext(ctx, "vectorize task failed", "error", err)
		return nil
	}

	slog.InfoContext(ctx, "vectorize task complete", "vectorized", res.TotalProcessed)
	return nil
}
