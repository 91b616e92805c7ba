package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-reconciler/internal/app"
)

func newReconcileCmd() *cobra.Command {
	var opts app.ReconcileOptions
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Diffs an enumeration against the corpus store",
		Long: `Reads every persisted identifier of the category and writes
missing_doc_ids_{timestamp}.json listing what the enumeration found but the
store lacks. Without --api-file the newest enumeration artifact of --category
is used.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.APIFile == "" && opts.Category == "" {
				return fmt.Errorf("reconcile: --api-file or --category is required")
			}
			a, logger, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			out, err := a.Reconcile(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			renderReconcile(cmd.OutOrStdout(), out)
			logger.Info("Reconcile command finished.", zap.String("artifact", out.Artifact.Name))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.APIFile, "api-file", "", "enumeration artifact (local path or artifact name)")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category id (default from the enumeration artifact)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "ids per ranged read (default from config)")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "concurrent ranged reads (default from config)")
	return cmd
}
