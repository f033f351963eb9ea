package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"mproxy/pkg/config"
	"mproxy/pkg/logger"
	"mproxy/pkg/worker"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "mproxy",
	Short:         "Relay messages to configured channels",
	Long:          "mproxy accepts messages addressed to named channels and delivers each one through the worker configured for that channel.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: $MPROXY_CONFIG, ./config.{yaml,yml,json})")
}

// bootstrap loads config, installs the process logger, and builds every channel worker.
func bootstrap(component string) (*config.Config, *worker.Collection, *slog.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)
	log := appLogger.With("component", component)

	collection, err := worker.Build(cfg.ChannelSpecs(), worker.DefaultRegistry(), appLogger)
	if err != nil {
		return nil, nil, nil, err
	}

	return cfg, collection, log, nil
}
