package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/config"
	"github.com/address-normalizer/app/providers"
)

type rootOptions struct {
	ConfigPath string
	Env        string
}

var rootOpts rootOptions

var rootCmd = &cobra.Command{
	Use:   "addrnorm",
	Short: "normalize multilingual Armenian addresses",
	Long: `
addrnorm resolves free-text listing addresses against the Armenian
administrative taxonomy. It runs batches from CSV, XLSX or NDJSON files,
maintains the cache and search index, and serves the asynq batch queue.
`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootOpts.ConfigPath, "config", "c", "config/pipeline.yaml", "pipeline config file")
	rootCmd.PersistentFlags().StringVar(&rootOpts.Env, "env", "", "override app.env (production logs JSON)")
}

// loadConfig reads the config named on the command line.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(rootOpts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if rootOpts.Env != "" {
		cfg.App.Env = rootOpts.Env
	}
	return cfg, nil
}

// withApp loads the config, wires the application and hands it to fn.
// mutate, when non-nil, adjusts the config before wiring.
func withApp(ctx context.Context, mutate func(*config.Config), fn func(*providers.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if mutate != nil {
		mutate(cfg)
	}
	logger, err := providers.NewLogger(cfg.App.Env)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	app, err := providers.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("Error releasing resources", zap.Error(err))
		}
	}()
	return fn(app)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
