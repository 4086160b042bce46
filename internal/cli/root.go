package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perchlabs-io/balance-bot/internal/app"
	"github.com/perchlabs-io/balance-bot/internal/config"
	"github.com/perchlabs-io/balance-bot/internal/logging"
	"github.com/perchlabs-io/balance-bot/internal/version"
)

// configEnv names a config file when --config is not given.
const configEnv = "BALANCEBOT_CONFIG"

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:          "balancebot",
	Short:        "Watch a stake pool's data store and report changes to a chat room",
	SilenceUsage: true,
	Version:      version.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		path := cfgFile
		if path == "" {
			path = os.Getenv(configEnv)
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
