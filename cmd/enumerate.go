package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-reconciler/internal/app"
)

func newEnumerateCmd() *cobra.Command {
	var opts app.EnumerateOptions
	cmd := &cobra.Command{
		Use:   "enumerate",
		Short: "Lists every document id of a category",
		Long: `Fetches listing pages 1..max-pages of a category concurrently and writes
{category}_doc_ids_{timestamp}.json with a quality report and the sorted
unique identifiers.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, logger, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			out, err := a.Enumerate(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("enumerate: %w", err)
			}
			renderEnumeration(cmd.OutOrStdout(), out)
			logger.Info("Enumerate command finished.", zap.String("artifact", out.Artifact.Name))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Category, "category", "", "category id to enumerate")
	cmd.Flags().IntVar(&opts.MaxPages, "max-pages", 0, "last page to fetch (default from config)")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "concurrent page fetches (default from config)")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}
