package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"incredoc/features/intake"
	"incredoc/internal/app"
	"incredoc/internal/cli"
	"incredoc/internal/config"
	"incredoc/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Logs go to stderr so stdout stays pure JSON.
	slog.SetDefault(logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli.SetFactory(func(ctx context.Context) (*cli.Services, func(), error) {
		deps, err := app.Bootstrap(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		a, err := app.New(cfg, deps, slog.Default())
		if err != nil {
			deps.Close()
			return nil, nil, err
		}
		return &cli.Services{
			Intake:     a.Intake,
			Vectorizer: a.Vectorizer,
			Answerer:   a.Retrieval,
			Documents: func(ctx context.Context) ([]intake.DocumentView, error) {
				return intake.ListDocuments(ctx, deps.Manifest)
			},
		}, deps.Close, nil
	})

	err = cli.ExecuteContext(ctx)
	cli.Close()
	if err != nil {
		stop()
		os.Exit(1)
	}
}
