package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "hogflow/cmd/management-service/docs"
	"hogflow/internal/config"
	"hogflow/internal/logger"
	"hogflow/pkg/bootstrap"
	"hogflow/pkg/migrations"
)

var configFile string

// @title           Hogflow Management Service API
// @version         1.0
// @description     REST API for managing hog functions, templates and actions, and for testing functions against sample events

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /api/v1

// @schemes   http https

// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization

func main() {
	serveCmd := bootstrap.Command("serve", "Start the management service", &configFile, serve)

	rootCmd := &cobra.Command{
		Use:   "management-service",
		Short: "Management Service for hog destinations",
		Long:  "Management Service provides a REST API for hog functions, templates and actions",
		RunE:  serveCmd.RunE,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(bootstrap.Command("migrate", "Apply PostgreSQL migrations and exit", &configFile, migrate))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	log.InfowCtx(ctx, "Starting Management Service")

	app := NewApp(cfg, log)
	if err := app.Initialize(ctx); err != nil {
		_ = app.Shutdown(context.WithoutCancel(ctx))
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}

func migrate(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	base := bootstrap.NewBase(cfg, log)
	defer base.Shutdown(context.WithoutCancel(ctx))

	db, err := bootstrap.NewDatabaseConnector(base).InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	if db == nil {
		return fmt.Errorf("database.postgres.host is not set")
	}
	if err := migrations.RunPostgres(db); err != nil {
		return err
	}
	log.InfowCtx(ctx, "Migrations applied")
	return nil
}
