package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brownbaglunch/webhook/pkg/config"
	"github.com/brownbaglunch/webhook/pkg/logger"
)

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "bblfr-webhook",
		Short:         "Reindex the bblfr dataset and swap the search alias",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults and BBL_* variables otherwise)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
		return cfg, nil
	}

	root.AddCommand(newServeCmd(load), newRebuildCmd(load))
	return root
}
