// Package cmd defines and implements the CLI commands for the reconciler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-reconciler/internal/api"
	"github.com/JakeFAU/corpus-reconciler/internal/app"
	"github.com/JakeFAU/corpus-reconciler/internal/config"
	"github.com/JakeFAU/corpus-reconciler/internal/ledger"
	"github.com/JakeFAU/corpus-reconciler/internal/logging"
)

// sessionKeyType is the key for storing the session in the context.
type sessionKeyType string

const sessionKey sessionKeyType = "session"

// skipAppAnnotation marks commands that only need configuration.
const skipAppAnnotation = "reconciler/skip-app"

// App is what the commands need from the application. It lets tests inject a
// fake in place of *app.App.
type App interface {
	Enumerate(ctx context.Context, opts app.EnumerateOptions) (app.EnumerateOutcome, error)
	Reconcile(ctx context.Context, opts app.ReconcileOptions) (app.ReconcileOutcome, error)
	Backfill(ctx context.Context, opts app.BackfillOptions) (app.BackfillOutcome, error)
	Replay(ctx context.Context) (ledger.ReplayResult, error)
	Sync(ctx context.Context, category string) (app.SyncOutcome, error)
	Ledger() ledger.Ledger
	StatusServer() *api.Server
	Close(ctx context.Context) error
}

// AppFactory builds the application from loaded configuration.
type AppFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error)

func defaultAppFactory(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.Build(ctx, cfg, logger)
}

// session is the per-invocation state shared by the root hooks and commands.
type session struct {
	cfg    config.Config
	logger *zap.Logger
	app    App
	cancel context.CancelFunc
}

// exitError carries a process exit code without printing a second message.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// newRootCmd creates and configures the root command.
func newRootCmd(factory AppFactory) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Reconciles a document corpus against its upstream listing.",
		Long: `reconciler enumerates every identifier a source lists for a category,
compares that with what the corpus store holds, and backfills the gap.
Documents that cannot be persisted are kept in a retry ledger for replay.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Loads config and builds the app before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			ctx, cancel := cmd.Context(), context.CancelFunc(func() {})
			if cfg.Run.Timeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, cfg.Run.Timeout)
			}
			s := &session{cfg: cfg, logger: logger, cancel: cancel}
			if cmd.Annotations[skipAppAnnotation] == "" {
				s.app, err = factory(ctx, cfg, logger)
				if err != nil {
					cancel()
					return fmt.Errorf("failed to initialize application services: %w", err)
				}
			}
			cmd.SetContext(context.WithValue(ctx, sessionKey, s))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(
		newEnumerateCmd(),
		newReconcileCmd(),
		newBackfillCmd(),
		newRetryLedgerCmd(),
		newSyncCmd(),
		newMigrateCmd(),
		newServeCmd(),
	)
	return cmd
}

func closeSession(ctx context.Context) error {
	s, ok := ctx.Value(sessionKey).(*session)
	if !ok || s == nil {
		return nil
	}
	defer s.cancel()
	var err error
	if s.app != nil {
		err = s.app.Close(context.WithoutCancel(ctx))
	}
	// Sync fails on stderr/stdout sinks; nothing useful to report.
	_ = s.logger.Sync()
	return err
}

func resolveSession(ctx context.Context) (*session, error) {
	s, ok := ctx.Value(sessionKey).(*session)
	if !ok || s == nil {
		return nil, errors.New("application services not initialized")
	}
	return s, nil
}

func resolveApp(ctx context.Context) (App, *zap.Logger, error) {
	s, err := resolveSession(ctx)
	if err != nil {
		return nil, nil, err
	}
	if s.app == nil {
		return nil, nil, errors.New("application services not initialized")
	}
	return s.app, s.logger, nil
}

// run executes the root command with args and returns the process exit code.
// The session is closed here rather than in a post-run hook, which cobra skips
// when a command fails.
func run(ctx context.Context, factory AppFactory, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(factory)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	executed, err := root.ExecuteContextC(ctx)
	if executed != nil {
		if cerr := closeSession(executed.Context()); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return 1
}

// Execute is the main entry point.
func Execute() {
	os.Exit(run(context.Background(), defaultAppFactory, os.Args[1:], os.Stdout, os.Stderr))
}
