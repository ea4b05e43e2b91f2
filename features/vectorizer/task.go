package vectorizer

import (
	"context"
	"encoding/json"

	"incredoc/internal/config"
	"incredoc/internal/middleware"
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Task is the body of a config.TopicVectorizeTask message.
type Task struct {
	CorrelationID string `json:"correlation_id"`
	Reason        string `json:"reason"`
}

// PublishTask queues a vectorization run carrying the caller's correlation id.
func PublishTask(ctx context.Context, pub EventPublisher, reason string) error {
	body, err := json.Marshal(Task{CorrelationID: middleware.GetCorrelationID(ctx), Reason: reason})
	if err != nil {
		return err
	}
	return pub.Publish(config.TopicVectorizeTask, body)
}
