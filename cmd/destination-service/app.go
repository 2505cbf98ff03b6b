package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"hogflow/internal/broker"
	"hogflow/internal/config"
	"hogflow/internal/config_handler"
	"hogflow/internal/constants"
	"hogflow/internal/deduplication"
	"hogflow/internal/destinations"
	"hogflow/internal/fetch"
	"hogflow/internal/filters"
	"hogflow/internal/logger"
	"hogflow/internal/persons"
	"hogflow/pkg/bootstrap"
	"hogflow/pkg/cel"
	"hogflow/pkg/health"
	"hogflow/pkg/logging"
	"hogflow/pkg/metrics"
	"hogflow/pkg/migrations"
	"hogflow/pkg/models"
	"hogflow/pkg/tracing"
)

const serviceName = "destination-service"

type App struct {
	*bootstrap.Base
	db          *sql.DB
	redisClient *redis.Client
	mongoClient *mongo.Client
	mongoDB     *mongo.Database
	service     *destinations.Service
	server      *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(serviceName)
	}
	return &App{Base: bootstrap.NewBase(cfg, log)}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitBroker(serviceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initService(ctx); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.OnShutdown("tracing", tp.Shutdown)

	metrics.RegisterDestinationMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled || a.Config.Fetch.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initHTTPServer()
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	dbConnector := bootstrap.NewDatabaseConnector(a.Base)

	db, err := dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if a.Config.Database.RunMigrations {
		if err := migrations.RunPostgres(db); err != nil {
			return err
		}
	}

	if a.Config.Deduplication.Enabled || a.Config.Persons.CacheTTLSeconds > 0 {
		redisClient, err := dbConnector.InitRedis(ctx)
		if err != nil {
			if a.Config.Deduplication.Enabled {
				return err
			}
			a.Logger.WarnwCtx(ctx, "Redis unavailable, person cache disabled", "error", err)
		} else {
			a.redisClient = redisClient
		}
	}

	if a.Config.Database.MongoDB.URI != "" {
		mongoClient, mongoDB, err := dbConnector.InitMongoDB(ctx)
		if err != nil {
			return err
		}
		a.mongoClient, a.mongoDB = mongoClient, mongoDB
		if err := migrations.EnsureMongoIndexes(ctx, mongoDB, a.Config.Persons.Collection, a.Config.Invocations.Collection); err != nil {
			a.Logger.WarnwCtx(ctx, "Failed to ensure MongoDB indexes", "error", err)
		}
	}
	return nil
}

func (a *App) initService(ctx context.Context) error {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create CEL evaluator: %w", err)
	}
	matcher, err := filters.NewMatcher(evaluator, a.Config.Destinations.TestAccountFilters, a.Logger)
	if err != nil {
		return err
	}

	bridge, err := fetch.NewBridge(a.Config.Fetch, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create fetch bridge: %w", err)
	}

	deps := destinations.Dependencies{
		Repository: destinations.NewRepository(a.db),
		Executor:   destinations.NewExecutor(a.Config.Hog, a.Logger),
		Matcher:    matcher,
		Fetcher:    bridge,
		SiteURL:    a.Config.Destinations.SiteURL,
	}

	if a.Config.Deduplication.Enabled && a.redisClient != nil {
		store := deduplication.WithCircuitBreaker(deduplication.NewRedisClaimStore(a.redisClient), a.Config.CircuitBreaker)
		deps.Guard = deduplication.NewGuard(store, a.Config.Deduplication, a.Logger)
	}

	if a.mongoDB != nil {
		mongoDB := a.mongoDB
		var store persons.Store = persons.NewMongoStore(mongoDB, a.Config.Persons.Collection)
		if a.redisClient != nil && a.Config.Persons.CacheTTLSeconds > 0 {
			ttl := time.Duration(a.Config.Persons.CacheTTLSeconds) * time.Second
			store = persons.NewCachedStore(store, a.redisClient, ttl, a.Logger)
		}
		if a.Config.CircuitBreaker.Enabled {
			store = persons.WithCircuitBreaker(store, a.Config.CircuitBreaker)
		}
		deps.Persons = store
		deps.Store = destinations.NewMongoInvocationStore(mongoDB, a.Config.Invocations.Collection)
	}

	if a.Config.Destinations.PublishResults {
		deps.Publisher = a.Producer
		deps.ResultsTopic = a.Config.Broker.Kafka.OutputTopic
		if deps.ResultsTopic == "" {
			deps.ResultsTopic = constants.DefaultOutputTopic
		}
	}

	svc := destinations.NewService(deps, a.Config.Destinations, a.Logger)
	if err := svc.ReloadFunctions(ctx, true); err != nil {
		a.Logger.WarnwCtx(logging.WithServiceName(ctx, serviceName), "Failed to load initial functions",
			"error", err,
		)
	}

	a.service = svc
	return nil
}

func (a *App) initHTTPServer() {
	reloadInterval := time.Duration(a.Config.Destinations.Reload.IntervalSeconds) * time.Second
	if reloadInterval <= 0 {
		reloadInterval = time.Minute
	}

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	if a.Config.Deduplication.Enabled {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	} else {
		healthRegistry.Register(health.Optional(health.NewRedisChecker(a.redisClient)))
	}
	healthRegistry.Register(health.Optional(health.NewMongoDBChecker(a.mongoClient)))
	healthRegistry.Register(health.CheckerFunc("functions", func(context.Context) error {
		last := a.service.LastReload()
		if last.IsZero() {
			return fmt.Errorf("functions not loaded yet")
		}
		if age := time.Since(last); age > 3*reloadInterval {
			return health.Degraded(fmt.Errorf("functions last reloaded %s ago", age.Round(time.Second)))
		}
		return nil
	}))

	mux := http.NewServeMux()
	mux.Handle("/health", health.Handler(healthRegistry, func() map[string]interface{} {
		return map[string]interface{}{"functions": len(a.service.ActiveFunctions())}
	}))
	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	configTopic := a.Config.Broker.Kafka.ConfigUpdateTopic
	if configTopic == "" {
		configTopic = constants.DefaultConfigUpdateTopic
	}
	// Every instance must see every update, so each process reads config
	// events in its own group starting at the newest offset.
	configConsumer, err := broker.NewConsumer(a.Config.Broker, a.Logger,
		broker.WithGroupID(fmt.Sprintf("%s-config-%s", a.Config.Broker.Kafka.GroupID, uuid.NewString())),
		broker.WithStartOffset(kafka.LastOffset),
	)
	if err != nil {
		configCtx := logging.WithServiceName(ctx, serviceName)
		a.Logger.WarnwCtx(configCtx, "Failed to create config event consumer, event-driven reload disabled",
			"error", err,
		)
	} else {
		configConsumer.SetServiceName(serviceName)
		defer configConsumer.Close()

		reload := config_handler.ReloaderFunc(a.service.Reload)
		configEventHandler := config_handler.NewHandler(models.ServiceTypeDestinations, a.Logger).
			On(models.EventTypeHogFunctionUpdated, reload).
			On(models.EventTypeActionUpdated, reload).
			On(models.EventTypeTemplateUpdated, reload)

		g.Go(func() error {
			configCtx := logging.WithServiceName(gCtx, serviceName)
			a.Logger.InfowCtx(configCtx, "Starting config update event consumer",
				"topic", configTopic,
			)
			return configConsumer.Consume(gCtx, configTopic, configEventHandler.HandleConfigUpdateEvent)
		})
	}

	g.Go(func() error {
		return a.service.StartReloader(gCtx)
	})

	inputTopic := a.Config.Broker.Kafka.InputTopic
	if inputTopic == "" {
		inputTopic = constants.DefaultInputTopic
	}
	g.Go(func() error {
		return a.Consumer.Consume(gCtx, inputTopic, a.service.HandleEvent)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.InfowCtx(logging.WithServiceName(ctx, serviceName), "Shutting down destination service")
	return a.Base.Shutdown(ctx)
}
