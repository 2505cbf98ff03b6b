package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	"hogflow/internal/config"
	"hogflow/internal/constants"
	"hogflow/internal/destinations"
	"hogflow/internal/fetch"
	"hogflow/internal/logger"
	"hogflow/internal/management"
	"hogflow/internal/templates"
	"hogflow/pkg/bootstrap"
	"hogflow/pkg/health"
	"hogflow/pkg/hog"
	"hogflow/pkg/metrics"
	"hogflow/pkg/middleware"
	"hogflow/pkg/migrations"
	"hogflow/pkg/ratelimit"
	"hogflow/pkg/tracing"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const serviceName = "management-service"

type App struct {
	*bootstrap.Base
	config      *config.Config
	logger      logger.Logger
	dbConnector *bootstrap.DatabaseConnector
	db          *sql.DB
	mongoClient *mongo.Client
	mongoDB     *mongo.Database
	registry    *templates.Registry
	watcher     *templates.Watcher
	purger      *destinations.Purger
	limiter     *ratelimit.Limiter
	server      *http.Server
	router      *gin.Engine
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(serviceName)
	}
	base := bootstrap.NewBase(cfg, log)
	return &App{
		Base:        base,
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(base),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := a.initMongoDB(ctx); err != nil {
		return fmt.Errorf("failed to initialize mongodb: %w", err)
	}

	if err := a.initTemplates(); err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}

	if err := a.initRouter(ctx); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	a.initServer()

	tp, err := tracing.Init(a.config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.OnShutdown("tracing", tp.Shutdown)

	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if a.config.Database.RunMigrations {
		if err := migrations.RunPostgres(db); err != nil {
			return err
		}
		a.logger.InfowCtx(ctx, "Database migrations applied")
	}
	return nil
}

// MongoDB holds the invocation log; without it the log endpoints return
// nothing and no purge runs.
func (a *App) initMongoDB(ctx context.Context) error {
	if a.config.Database.MongoDB.URI == "" {
		return nil
	}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	mongoClient, mongoDB, err := a.dbConnector.InitMongoDB(initCtx)
	if err != nil {
		a.logger.WarnwCtx(initCtx, "MongoDB connection failed, continuing without invocation logs", "error", err)
		return nil
	}
	a.mongoClient, a.mongoDB = mongoClient, mongoDB
	return nil
}

func (a *App) initTemplates() error {
	a.registry = templates.NewRegistry()
	if err := templates.LoadBuiltins(a.registry); err != nil {
		return err
	}

	dir := a.config.Templates.Directory
	if dir == "" {
		return nil
	}
	a.watcher = templates.NewWatcher(dir, a.registry, a.logger, templates.WithReloadHook(func(ts []templates.Template) {
		a.logger.Infow("Template directory reloaded", "directory", dir, "count", len(ts))
	}))
	if a.config.Templates.Watch {
		// Run loads the directory itself.
		return nil
	}
	return a.watcher.Reload()
}

func (a *App) initRouter(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(serviceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())

	if cfg := a.config.Management.RateLimit; cfg.Enabled {
		a.limiter = ratelimit.New(cfg)
		router.Use(a.limiter.Middleware())
		a.logger.InfowCtx(ctx, "Rate limiting enabled", "rps", cfg.RPS, "burst", cfg.Burst)
	}

	validator, err := management.NewValidator()
	if err != nil {
		return err
	}

	opts := []management.ServiceOption{
		management.WithHistory(management.NewHistoryRepository(a.db)),
		management.WithTemplateStore(management.NewTemplateRepository(a.db)),
		management.WithLogger(a.logger),
	}

	var live hog.Fetcher
	if a.config.Management.LiveTestFetches {
		bridge, err := fetch.NewBridge(a.config.Fetch, a.logger)
		if err != nil {
			return fmt.Errorf("failed to create fetch bridge: %w", err)
		}
		live = bridge
	}
	executor := destinations.NewExecutor(a.config.Hog, a.logger)
	opts = append(opts, management.WithTestInvocations(executor, live, a.config.Destinations.SiteURL))

	if a.mongoDB != nil {
		store := destinations.NewMongoInvocationStore(a.mongoDB, a.config.Invocations.Collection)
		opts = append(opts, management.WithInvocationLog(store))
		a.purger = destinations.NewPurger(store, a.config.Invocations, a.logger)
	}

	if a.config.Broker.Type == "kafka" {
		topic := a.config.Broker.Kafka.ConfigUpdateTopic
		if topic == "" {
			topic = constants.DefaultConfigUpdateTopic
		}
		if err := a.InitProducer(serviceName); err != nil {
			a.logger.WarnwCtx(ctx, "Failed to create config event producer, config events will be disabled", "error", err)
		} else {
			opts = append(opts, management.WithConfigEvents(management.NewConfigEventProducer(a.Producer, topic)))
			a.logger.InfowCtx(ctx, "Config event producer initialized", "topic", topic)
		}
	}

	svc := management.NewService(management.NewRepository(a.db), a.registry, validator, opts...)

	var auth gin.HandlerFunc
	if a.config.Auth.Enabled {
		auth = management.AuthMiddleware(management.NewTokenValidator(a.config.Auth))
	} else {
		auth = management.AuthMiddleware(nil)
	}
	management.NewHandler(svc, a.logger).RegisterRoutes(router, auth)

	metrics.RegisterManagementMetrics()
	metrics.RegisterCircuitBreakerMetrics()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.Optional(health.NewMongoDBChecker(a.mongoClient)))

	router.GET("/health", gin.WrapH(health.Handler(healthRegistry, func() map[string]interface{} {
		return map[string]interface{}{"templates": len(a.registry.List())}
	})))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.router = router
	return nil
}

func (a *App) initServer() {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.config.Server.ReadTimeoutSeconds * time.Second,
		WriteTimeout: a.config.Server.WriteTimeoutSeconds * time.Second,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfowCtx(ctx, "Server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if a.watcher != nil && a.config.Templates.Watch {
		g.Go(func() error {
			return a.watcher.Run(gCtx)
		})
	}

	if a.purger != nil {
		g.Go(func() error {
			return a.purger.Run(gCtx)
		})
	}

	if a.limiter != nil {
		g.Go(func() error {
			return a.limiter.Run(gCtx)
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.WithoutCancel(gCtx))
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down server")

	var errs []error
	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}
	errs = append(errs, a.Base.Shutdown(ctx))
	return errors.Join(errs...)
}
