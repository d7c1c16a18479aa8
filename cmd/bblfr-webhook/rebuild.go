package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/brownbaglunch/webhook/internal/rebuild"
	"github.com/brownbaglunch/webhook/pkg/config"
)

func newRebuildCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Run one rebuild in the foreground",
		Long: `Reindexes the dataset into a new generation and swaps the alias, without
starting the server. Exits non-zero when the run fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.orchestrator.Run(ctx, rebuild.Trigger{ID: uuid.NewString(), Source: rebuild.SourceCLI})
			if err != nil {
				return fmt.Errorf("rebuild failed in %s: %w", run.FailedIn, err)
			}
			slog.Info("rebuild finished",
				"run_id", run.ID,
				"generation", run.Generation,
				"cities", run.Cities,
				"baggers", run.Baggers,
				"deleted", run.Deleted,
				"duration", run.Duration(),
			)
			return nil
		},
	}
}
