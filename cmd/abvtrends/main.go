package main

import (
	"fmt"
	"os"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Stewart-Y/ABVTrends-sub000/config"
)

var rootCmd = &cobra.Command{
	Use:   "abvtrends",
	Short: "Beverage trend pipeline: ingest, match, score and forecast",
	Long: `abvtrends ingests distributor, retailer and media signals, resolves them to
canonical products, scores each product's momentum and forecasts where it is heading.

Examples:
  abvtrends serve
  abvtrends run-cycle --source media-feed --source distributor-prices
  abvtrends migrate`,
	SilenceUsage: true,
}

var envFile string

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional env file loaded before the environment")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and builds the process logger.
func loadConfig() (*config.Config, ectologger.Logger, func(), error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, nil, err
	}

	zcfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = level

	zapLogger, err := zcfg.Build(zap.Fields(zap.String("service", cfg.AppName)))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	flush := func() { _ = zapLogger.Sync() }
	return cfg, zapadapter.NewZapEctoLogger(zapLogger, nil), flush, nil
}
