package worker_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"incredoc/features/intake"
	"incredoc/features/vectorizer"
)

type MockVectorizer struct{ mock.Mock }

func (m *MockVectorizer) Vectorize(ctx context.Context) (*vectorizer.Result, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vectorizer.Result), args.Error(1)
}

type MockScanner struct{ mock.Mock }

func (m *MockScanner) Scan(ctx context.Context) (*intake.Result, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*intake.Result), args.Error(1)
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}
