package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hogflow/internal/config"
	"hogflow/internal/constants"
	"hogflow/internal/logger"
	"hogflow/pkg/retry"
)

// connectPolicy covers stores that start after the service, as in compose.
var connectPolicy = retry.Policy{
	MaxAttempts:     5,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	Multiplier:      2,
}

// DatabaseConnector opens the stores named in the config. Every open store is
// registered with Base for shutdown.
type DatabaseConnector struct {
	base   *Base
	config config.DatabaseConfig
	logger logger.Logger
}

func NewDatabaseConnector(base *Base) *DatabaseConnector {
	return &DatabaseConnector{base: base, config: base.Config.Database, logger: base.Logger}
}

func (dc *DatabaseConnector) ping(ctx context.Context, store string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, connectPolicy, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return fn(pingCtx)
	}, func(attempt int, err error, next time.Duration) {
		dc.logger.WarnwCtx(ctx, "Store not reachable yet",
			"store", store,
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	})
}

// InitPostgreSQL returns nil when no host is configured.
func (dc *DatabaseConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	pg := dc.config.Postgres
	if pg.Host == "" {
		return nil, nil
	}

	sslMode := pg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pg.User, pg.Password, pg.Host, pg.Port, pg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := dc.ping(ctx, "postgresql", db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	dc.base.OnShutdown("postgresql", func(context.Context) error { return db.Close() })
	dc.logger.InfowCtx(ctx, "PostgreSQL connected", "host", pg.Host, "dbname", pg.DBName)
	return db, nil
}

func (dc *DatabaseConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", dc.config.Redis.Host, dc.config.Redis.Port),
		Password: dc.config.Redis.Password,
		DB:       dc.config.Redis.DB,
	})

	if err := dc.ping(ctx, "redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() }); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	dc.base.OnShutdown("redis", func(context.Context) error { return rdb.Close() })
	dc.logger.InfowCtx(ctx, "Redis connected", "addr", rdb.Options().Addr)
	return rdb, nil
}

// InitMongoDB returns the configured database, or nil when no URI is set.
func (dc *DatabaseConnector) InitMongoDB(ctx context.Context) (*mongo.Client, *mongo.Database, error) {
	if dc.config.MongoDB.URI == "" {
		return nil, nil, nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(dc.config.MongoDB.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := dc.ping(ctx, "mongodb", func(ctx context.Context) error { return client.Ping(ctx, nil) }); err != nil {
		client.Disconnect(context.WithoutCancel(ctx))
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	name := dc.config.MongoDB.Database
	if name == "" {
		name = constants.DefaultMongoDBName
	}
	dc.base.OnShutdown("mongodb", client.Disconnect)
	dc.logger.InfowCtx(ctx, "MongoDB connected", "database", name)
	return client, client.Database(name), nil
}
