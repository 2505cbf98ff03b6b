package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hogflow/internal/config"
	"hogflow/internal/logger"
	"hogflow/pkg/logging"
)

// ConfigEnv names the environment variable read when --config is not given.
const ConfigEnv = "CONFIG_FILE"

// RunFunc is the body of a service command. ctx is cancelled on SIGINT and
// SIGTERM.
type RunFunc func(ctx context.Context, cfg *config.Config, log logger.Logger) error

// Command returns a cobra command that loads the config named by *configFile
// (or $CONFIG_FILE), builds the logger from it and calls run. Cancellation of
// ctx is not reported as an error.
func Command(use, short string, configFile *string, run RunFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog()
			defer earlyLog.Sync()

			path := *configFile
			if path == "" {
				path = os.Getenv(ConfigEnv)
			}
			if path == "" {
				earlyLog.Error("Config file is required. Use --config flag or %s environment variable", ConfigEnv)
				return fmt.Errorf("config file is required")
			}

			cfg, err := config.Load(path)
			if err != nil {
				earlyLog.Error("Failed to load config: %v", err)
				return err
			}

			log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				earlyLog.Error("Failed to init logger: %v", err)
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
				log.ErrorwCtx(ctx, "Command failed", "command", use, "error", err)
				return err
			}
			return nil
		},
	}
}
