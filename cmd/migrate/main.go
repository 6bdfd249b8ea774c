package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/referral-service/internal/config"
	"github.com/spec-kit/referral-service/internal/observability"
	"github.com/spec-kit/referral-service/internal/persistence"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the referral routing database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		gooseCmd("up", "Apply all pending migrations"),
		gooseCmd("down", "Roll back the most recent migration"),
		gooseCmd("status", "Print the status of every migration"),
		gooseCmd("version", "Print the current schema version"),
	)
	return root
}

func gooseCmd(command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   command,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), command)
		},
	}
}

func run(ctx context.Context, command string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if ctx == nil {
		ctx = context.Background()
	}
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	db, err := pg.SQLDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := persistence.Migrate(ctx, db, command); err != nil {
		return err
	}
	logger.Info("migrate command finished", zap.String("command", command))
	return nil
}
