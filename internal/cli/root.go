// Package cli is the operator command line. Each command runs one pipeline
// stage in-process against the same manifest and backends as the server.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"incredoc/features/intake"
	"incredoc/features/vectorizer"
	"incredoc/internal/apperr"
	"incredoc/internal/middleware"
	"incredoc/internal/retrieval"
)

type Intaker interface {
	Scan(ctx context.Context) (*intake.Result, error)
}

type Vectorizer interface {
	Vectorize(ctx context.Context) (*vectorizer.Result, error)
}

type Answerer interface {
	Answer(ctx context.Context, question, scope string) (*retrieval.Answer, error)
}

// Services are the stages the commands drive.
type Services struct {
	Intake     Intaker
	Vectorizer Vectorizer
	Answerer   Answerer
	Documents  func(ctx context.Context) ([]intake.DocumentView, error)
}

// Factory builds Services on first use and returns a cleanup func.
type Factory func(ctx context.Context) (*Services, func(), error)

var (
	factory  Factory
	services *Services
	cleanup  func()

	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "incredoc",
	Short: "Ingest PDFs and ask questions about them",
	Long: `incredoc registers PDF documents, embeds them into a vector index and
answers questions from the indexed passages.

Typical flow: incredoc intake, then incredoc vectorize, then incredoc ask.`,
	SilenceUsage:      true,
	PersistentPreRunE: initServices,
	PersistentPostRun: func(cmd *cobra.Command, args []string) { Close() },
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "deadline for the whole command")
}

// SetFactory installs the Services constructor used by every command.
func SetFactory(f Factory) { factory = f }

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// Close releases whatever the factory opened. Safe to call more than once.
func Close() {
	if cleanup != nil {
		cleanup()
		cleanup = nil
	}
}

func initServices(cmd *cobra.Command, args []string) error {
	if services != nil {
		return nil
	}
	if factory == nil {
		return errors.New("services not configured")
	}
	s, c, err := factory(cmd.Context())
	if err != nil {
		return err
	}
	services, cleanup = s, c
	return nil
}

// commandContext carries a fresh correlation id and the --timeout deadline.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx := middleware.NewBackgroundContext(parent, "")
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// fail prints the structured error payload and returns err for the exit code.
func fail(ctx context.Context, cmd *cobra.Command, err error) error {
	data, mErr := json.MarshalIndent(apperr.Payload(err, middleware.GetCorrelationID(ctx)), "", "  ")
	if mErr == nil {
		cmd.PrintErrln(string(data))
	}
	return err
}
