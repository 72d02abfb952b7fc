// Package cli implements the entitled command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rewardline/entitle/internal/daemon"
	"github.com/rewardline/entitle/internal/infra/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "entitled",
	Short: "Entitlement lifecycle engine for physical rewards",
	Long: `entitled allocates physical rewards to qualifying members, re-checks
their qualification every maintenance period, warns and forfeits on repeated
violations, and transfers ownership when the period completes.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to config.toml (default $ENTITLE_HOME/config.toml)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads --config, or the default path under the home directory.
func loadConfig() (daemon.Config, error) {
	return daemon.LoadConfig(configPath)
}

// openDaemon loads configuration and wires the engine for one command.
// The returned close func syncs the logger and releases the database.
func openDaemon() (*daemon.Daemon, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.LogSettings())
	if err != nil {
		return nil, nil, err
	}
	d, err := daemon.New(cfg, logger)
	if err != nil {
		logger.Sync()
		return nil, nil, fmt.Errorf("start engine: %w", err)
	}
	return d, func() {
		if err := d.Close(); err != nil {
			logger.Warn("close database", zap.Error(err))
		}
		logger.Sync()
	}, nil
}
