package main

import (
	"os"

	"github.com/spf13/cobra"

	"hogflow/internal/config"
	"hogflow/internal/logger"
	"hogflow/pkg/logging"
)

var (
	configFile string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "hogctl",
		Short:         "Develop and debug hog destination templates",
		Long:          "hogctl validates template files and runs templates against sample events without the pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a service config file for hog and fetch limits")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level")

	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(templatesCmd())

	if err := rootCmd.Execute(); err != nil {
		logging.NewEarlyLog().Error("%v", err)
		os.Exit(1)
	}
}

// loadConfig returns the config file when one is given; without it every limit
// falls back to its default.
func loadConfig() (*config.Config, error) {
	if configFile == "" {
		return &config.Config{}, nil
	}
	return config.Load(configFile)
}

func newLogger() (logger.Logger, error) {
	return logger.New(logLevel, logger.FormatConsole)
}
