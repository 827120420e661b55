package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/socialtoolkit/lawharvest/internal/app"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one harvest pass over every registered location",
		Long: `Enqueues every location in the database and processes each through the
full pipeline: query generation, search, archival, retrieval, extraction,
and change detection. Locations whose data is already current for the
present time bucket are skipped cheaply.`,
		RunE: runHarvest,
	}
}

func runHarvest(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadEnvironment()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if _, err := a.Run(ctx); err != nil {
		return err
	}
	if ctx.Err() != nil {
		logger.Warn("run interrupted", zap.Error(ctx.Err()))
	}
	return nil
}
