package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-reconciler/internal/app"
)

func newBackfillCmd() *cobra.Command {
	var opts app.BackfillOptions
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Fetches and persists missing documents",
		Long: `Runs the fetch, build and insert pipeline for every id in a
reconciliation artifact and writes fetch_missing_docs_results_{timestamp}.json.
Documents that cannot be persisted are appended to the retry ledger.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, logger, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			out, err := a.Backfill(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("backfill: %w", err)
			}
			renderBackfill(cmd.OutOrStdout(), out)
			logger.Info("Backfill command finished.",
				zap.String("artifact", out.Artifact.Name),
				zap.Int("failed", out.Summary.TotalFailed),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.MissingFile, "missing-file", "", "reconciliation artifact (local path or artifact name)")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category for inputs that do not name one")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "concurrent documents (default from config)")
	return cmd
}
