package main

import (
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lingvolabs/optilayer/internal/config"
)

var (
	// Global flags.
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "optilayer",
	Short: "Adaptive cache and load-balancing layer for translation workloads",
	Long: `Optilayer combines a three-tier cache, a multi-strategy load balancer,
and a short-horizon load predictor behind one coordinator.

Examples:
  # Run a synthetic translation workload and print tier statistics
  optilayer demo --servers 3 --documents 5

  # Same, against a custom configuration
  optilayer demo --config optilayer.yaml`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// loadConfig layers defaults, the optional file, and environment overrides.
func loadConfig() (*config.Configuration, error) {
	cfg := config.NewDefault()
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, err
		}
	}
	cfg.LoadFromEnv()
	if verbose {
		cfg.Global.LogLevel = "DEBUG"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
