package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"hogflow/internal/config"
	"hogflow/internal/logger"
	"hogflow/pkg/bootstrap"
)

var configFile string

func main() {
	serveCmd := bootstrap.Command("serve", "Start the destination service", &configFile, serve)

	rootCmd := &cobra.Command{
		Use:   "destination-service",
		Short: "Destination Service for CDP outbound delivery",
		Long:  "Destination Service consumes events and runs every matching hog function against them",
		RunE:  serveCmd.RunE,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	log.InfowCtx(ctx, "Starting Destination Service")

	app := NewApp(cfg, log)
	if err := app.Initialize(ctx); err != nil {
		// Resources opened before the failure still need closing.
		_ = app.Shutdown(context.WithoutCancel(ctx))
		return err
	}

	runErr := app.Run(ctx)
	if err := app.Shutdown(context.WithoutCancel(ctx)); err != nil {
		log.ErrorwCtx(ctx, "Shutdown failed", "error", err)
	}
	if runErr == nil || runErr == context.Canceled {
		log.InfowCtx(ctx, "Service shutdown complete")
	}
	return runErr
}
