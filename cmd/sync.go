package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Runs enumerate, reconcile and backfill for a category",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			out, err := a.Sync(cmd.Context(), category)
			w := cmd.OutOrStdout()
			if out.Enumerate.Artifact.Name != "" {
				renderEnumeration(w, out.Enumerate)
			}
			if out.Reconcile.Artifact.Name != "" {
				renderReconcile(w, out.Reconcile)
			}
			if out.Backfill.Artifact.Name != "" {
				renderBackfill(w, out.Backfill)
			}
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category id to sync")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}
