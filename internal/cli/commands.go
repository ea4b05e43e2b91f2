package cli

import (
	"github.com/spf13/cobra"

	"incredoc/internal/apperr"
)

var askDocument string

var intakeCmd = &cobra.Command{
	Use:   "intake",
	Short: "Register new PDFs from the source directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		res, err := services.Intake.Scan(ctx)
		if err != nil {
			return fail(ctx, cmd, err)
		}
		return printJSON(cmd, map[string]interface{}{
			"status":    "Intake scan complete.",
			"processed": res.Processed,
			"skipped":   res.Skipped,
		})
	},
}

var vectorizeCmd = &cobra.Command{
	Use:   "vectorize",
	Short: "Embed every registered document not yet vectorized",
	Long: `Extracts, splits, embeds and indexes each pending document. The run is
all or nothing: on any failure no document is marked vectorized.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		res, err := services.Vectorizer.Vectorize(ctx)
		if err != nil {
			return fail(ctx, cmd, err)
		}
		return printJSON(cmd, map[string]interface{}{
			"status":          "Vectorization complete.",
			"vectorized":      res.Vectorized,
			"total_processed": res.TotalProcessed,
		})
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the indexed documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		ans, err := services.Answerer.Answer(ctx, args[0], askDocument)
		if err != nil {
			return fail(ctx, cmd, err)
		}
		return printJSON(cmd, ans)
	},
}

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List registered documents and their state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		if services.Documents == nil {
			return fail(ctx, cmd, apperr.Configuration("document listing is not configured"))
		}
		docs, err := services.Documents(ctx)
		if err != nil {
			return fail(ctx, cmd, err)
		}
		return printJSON(cmd, map[string]interface{}{"documents": docs})
	},
}

func init() {
	askCmd.Flags().StringVarP(&askDocument, "doc", "d", "", "restrict retrieval to one document filename")
	rootCmd.AddCommand(intakeCmd, vectorizeCmd, askCmd, documentsCmd)
}
