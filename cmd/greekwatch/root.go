package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/greekwatch/internal/config"
	"github.com/rewired-gh/greekwatch/internal/logger"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "greekwatch",
		Short:         "Option greeks and underlying threshold monitor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to configuration file")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		logger.Init(cfg.Logging.Level, cfg.Logging.Format)
		logger.Info("Configuration loaded from %s", configPath)
		return cfg, nil
	}

	root.AddCommand(newRunCmd(load), newReplayCmd(load))
	return root
}
