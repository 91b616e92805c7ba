package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-reconciler/internal/config"
	"github.com/JakeFAU/corpus-reconciler/internal/storage/postgres"
)

// migrator is the subset of *postgres.Migrator the command drives.
type migrator interface {
	Up() error
	Down(steps int) error
	Version() (uint, bool, error)
	Close() error
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "migrate",
		Short:       "Manages the Postgres corpus schema",
		Annotations: map[string]string{skipAppAnnotation: "true"},
	}
	var steps int
	up := &cobra.Command{
		Use:   "up",
		Short: "Applies every pending migration",
		RunE: withMigrator(func(_ *cobra.Command, m migrator) error {
			return m.Up()
		}),
	}
	down := &cobra.Command{
		Use:   "down",
		Short: "Rolls back migrations",
		RunE: withMigrator(func(_ *cobra.Command, m migrator) error {
			return m.Down(steps)
		}),
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	version := &cobra.Command{
		Use:   "version",
		Short: "Prints the current schema version",
		RunE: withMigrator(func(cmd *cobra.Command, m migrator) error {
			v, dirty, err := m.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", v, dirty)
			return nil
		}),
	}
	for _, sub := range []*cobra.Command{up, down, version} {
		sub.Annotations = map[string]string{skipAppAnnotation: "true"}
		cmd.AddCommand(sub)
	}
	return cmd
}

// newMigrator is swapped in tests.
var newMigrator = func(cfg config.Config, s *session) (migrator, error) {
	if cfg.Storage.Backend != config.BackendPostgres {
		return nil, fmt.Errorf("migrate requires storage.backend=%s, got %q", config.BackendPostgres, cfg.Storage.Backend)
	}
	return postgres.NewMigrator(cfg.Storage.Postgres.DSN, s.logger.Named("migrate"))
}

func withMigrator(fn func(cmd *cobra.Command, m migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		s, err := resolveSession(cmd.Context())
		if err != nil {
			return err
		}
		m, err := newMigrator(s.cfg, s)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		defer func() {
			if cerr := m.Close(); cerr != nil {
				s.logger.Warn("close migrator", zap.Error(cerr))
			}
		}()
		return fn(cmd, m)
	}
}
