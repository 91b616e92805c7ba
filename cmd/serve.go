package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the status HTTP server",
		Long: `Serves health, readiness, Prometheus metrics, run history and the retry
ledger over HTTP until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, logger, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			s, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			if addr == "" {
				addr = s.cfg.Server.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := a.StatusServer().ListenAndServe(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("serve: %w", err)
			}
			logger.Info("status server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
