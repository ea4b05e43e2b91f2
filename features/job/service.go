package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"incredoc/features/vectorizer"
	"incredoc/internal/apperr"
	"incredoc/internal/config"
	"incredoc/internal/middleware"
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Runner re-executes the failed handler inline when no queue is configured.
type Runner interface {
	Rerun(ctx context.Context) error
}

var ErrPublishTimeout = errors.New("timeout waiting for NSQ publish")

type Service struct {
	repo           Repository
	pub            EventPublisher
	runner         Runner
	logger         *slog.Logger
	publishTimeout time.Duration
}

// NewService builds the failed-run journal. Retries are queued on pub when it
// is non-nil, otherwise run inline through runner.
func NewService(repo Repository, pub EventPublisher, runner Runner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, runner: runner, logger: logger, publishTimeout: 5 * time.Second}
}

// RecordFailure journals err as a failed run of handler.
func (s *Service) RecordFailure(ctx context.Context, handler string, err error) error {
	correlationID := middleware.GetCorrelationID(ctx)
	payload, mErr := json.Marshal(vectorizer.Task{CorrelationID: correlationID, Reason: "retry"})
	if mErr != nil {
		return mErr
	}

	j := &Job{
		Handler: handler,
		Kind:    string(apperr.KindOf(err)),
		Payload: payload,
		Error:   err.Error(),
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		j.Stage = ae.Stage
		j.Filename = ae.Filename
	}

	if err := s.repo.Save(ctx, j); err != nil {
		return fmt.Errorf("save failed run: %w", err)
	}
	s.logger.InfoContext(ctx, "failed run recorded", "id", j.ID, "handler", handler, "stage", j.Stage, "correlationId", correlationID)
	return nil
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

// Retry re-runs a journaled failure and removes it from the journal. A retry
// that fails again is journaled as a new entry by the run itself.
func (s *Service) Retry(ctx context.Context, id string) error {
	// Journal ids are uuids; anything else cannot name an entry.
	if _, err := uuid.Parse(id); err != nil {
		return apperr.NotFound("Job not found")
	}

	job, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("Job not found")
		}
		return err
	}

	var task vectorizer.Task
	if err := json.Unmarshal(job.Payload, &task); err != nil {
		return apperr.Validation("Job payload is not a valid task: " + err.Error())
	}

	if s.pub != nil {
		if err := s.publish(ctx, job.Payload); err != nil {
			return err
		}
	} else {
		if s.runner == nil {
			return apperr.Configuration("No queue or runner configured for retries.")
		}
		runErr := s.runner.Rerun(middleware.WithCorrelationID(ctx, task.CorrelationID))
		if runErr != nil {
			s.logger.WarnContext(ctx, "retry failed", "id", id, "error", runErr)
		}
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		return runErr
	}

	return s.repo.Delete(ctx, id)
}

func (s *Service) publish(ctx context.Context, body []byte) error {
	timer := time.NewTimer(s.publishTimeout)
	defer timer.Stop()

	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(config.TopicVectorizeTask, body)
	}()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
