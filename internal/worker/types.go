package worker

import (
	"context"

	"incredoc/features/intake"
	"incredoc/features/vectorizer"
)

type Vectorizer interface {
	Vectorize(ctx context.Context) (*vectorizer.Result, error)
}

type Scanner interface {
	Scan(ctx context.Context) (*intake.Result, error)
}

type Publisher interface {
	Publish(topic string, body []byte) error
}
