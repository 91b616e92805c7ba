package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRetryLedgerCmd() *cobra.Command {
	var replay bool
	cmd := &cobra.Command{
		Use:   "retry-ledger",
		Short: "Shows or replays the retry ledger",
		Long: `Without flags, prints the ledger entries. With --replay, re-drives every
entry into the corpus store. The command exits 0 only when every entry
succeeded, in which case the ledger is archived; otherwise it exits 1 and
the ledger is kept.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, logger, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if !replay {
				entries, err := a.Ledger().Entries(cmd.Context())
				if err != nil {
					return fmt.Errorf("read ledger: %w", err)
				}
				renderLedger(cmd.OutOrStdout(), a.Ledger().Name(), entries)
				return nil
			}

			res, err := a.Replay(cmd.Context())
			if err != nil {
				return err
			}
			renderReplay(cmd.OutOrStdout(), res)
			if !res.Succeeded() {
				logger.Warn("ledger replay incomplete", zap.Int("failed", res.Failed))
				return &exitError{code: 1, msg: fmt.Sprintf("%d ledger entries still failing", res.Failed)}
			}
			logger.Info("Ledger replay finished.", zap.String("archive", res.ArchiveName))
			return nil
		},
	}
	cmd.Flags().BoolVar(&replay, "replay", false, "replay every entry into the corpus store")
	return cmd
}
