package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap/zapcore"

	"hogflow/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid '%s': %s", e.Field, e.Message)
}

var (
	sslModes       = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	hashAlgorithms = []string{"md5", "sha1", "sha256"}
	guardFallbacks = []string{"", constants.FallbackAllow, constants.FallbackDeny, constants.FallbackError}
	samplerTypes   = []string{"", "always_on", "always_off", "traceidratio", "parentbased_always_on", "parentbased_traceidratio"}
)

// problems collects every invalid field so one run reports all of them.
type problems []error

func (p *problems) add(field, format string, args ...interface{}) {
	*p = append(*p, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (p *problems) check(ok bool, field, format string, args ...interface{}) {
	if !ok {
		p.add(field, format, args...)
	}
}

func (p *problems) port(field string, port int) {
	p.check(port >= 1 && port <= 65535, field, "must be between 1 and 65535, got %d", port)
}

func (p *problems) nonNegative(field string, v int64) {
	p.check(v >= 0, field, "must be non-negative, got %d", v)
}

func (p *problems) oneOf(field, value string, allowed []string) {
	p.check(slices.Contains(allowed, strings.ToLower(value)), field,
		"unknown value %q (valid: %s)", value, strings.Join(slices.DeleteFunc(slices.Clone(allowed), func(s string) bool { return s == "" }), ", "))
}

// ValidateStatic checks cfg without touching the network. The returned error
// joins one ValidationError per invalid field.
func ValidateStatic(cfg *Config) error {
	var p problems
	p.server(cfg.Server)
	p.logging(cfg.Logging)
	p.broker(cfg.Broker)
	p.database(cfg.Database)
	p.deduplication(cfg.Deduplication)
	p.hog(cfg.Hog)
	p.fetch(cfg.Fetch)
	p.destinations(cfg.Destinations)
	p.invocations(cfg.Invocations)
	p.rateLimit(cfg.Management.RateLimit)
	p.tracing(cfg.Tracing)
	p.check(!cfg.Auth.Enabled || len(cfg.Auth.JWTSecret) >= 16,
		"auth.jwt_secret", "must be at least 16 characters when auth is enabled")

	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("configuration validation failed: %w", errors.Join(p...))
}

func (p *problems) server(cfg ServerConfig) {
	p.port("server.port", cfg.Port)
	p.check(cfg.ReadTimeoutSeconds > 0, "server.read_timeout_seconds", "must be positive")
	p.check(cfg.WriteTimeoutSeconds > 0, "server.write_timeout_seconds", "must be positive")
}

func (p *problems) logging(cfg LoggingConfig) {
	if cfg.Level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			p.add("logging.level", "unknown log level %q", cfg.Level)
		}
	}
	p.oneOf("logging.format", cfg.Format, []string{"", "json", "console"})
}

func (p *problems) broker(cfg BrokerConfig) {
	if cfg.Type != "kafka" {
		p.add("broker.type", "unsupported broker %q (supported: kafka)", cfg.Type)
		return
	}

	k := cfg.Kafka
	p.check(len(k.Brokers) > 0, "broker.kafka.brokers", "at least one broker is required")
	for i, addr := range k.Brokers {
		p.check(strings.TrimSpace(addr) != "", fmt.Sprintf("broker.kafka.brokers[%d]", i), "cannot be empty")
	}
	p.check(k.GroupID != "", "broker.kafka.group_id", "is required")

	r := k.Retry
	p.nonNegative("broker.kafka.retry.max_attempts", int64(r.MaxAttempts))
	p.nonNegative("broker.kafka.retry.initial_interval", int64(r.InitialInterval))
	p.nonNegative("broker.kafka.retry.max_interval", int64(r.MaxInterval))
	if r.InitialInterval > 0 && r.MaxInterval > 0 {
		p.check(r.MaxInterval >= r.InitialInterval, "broker.kafka.retry.max_interval", "must not be below initial_interval")
	}
	p.check(r.Multiplier > 0, "broker.kafka.retry.multiplier", "must be positive")
}

// database checks only the stores that are configured.
func (p *problems) database(cfg DatabaseConfig) {
	if pg := cfg.Postgres; pg.Host != "" || pg.Port > 0 {
		p.check(pg.Host != "", "database.postgres.host", "is required")
		p.port("database.postgres.port", pg.Port)
		p.check(pg.User != "", "database.postgres.user", "is required")
		p.check(pg.DBName != "", "database.postgres.dbname", "is required")
		p.oneOf("database.postgres.sslmode", pg.SSLMode, append([]string{""}, sslModes...))
	}

	if r := cfg.Redis; r.Host != "" || r.Port > 0 {
		p.check(r.Host != "", "database.redis.host", "is required")
		p.port("database.redis.port", r.Port)
		p.nonNegative("database.redis.ttl_seconds", int64(r.TTLSeconds))
	}

	if m := cfg.MongoDB; m.URI != "" {
		p.check(strings.HasPrefix(m.URI, "mongodb://") || strings.HasPrefix(m.URI, "mongodb+srv://"),
			"database.mongodb.uri", "must start with mongodb:// or mongodb+srv://")
		p.check(m.Database != "", "database.mongodb.database", "is required")
	}
}

func (p *problems) deduplication(cfg DeduplicationConfig) {
	p.oneOf("deduplication.hash_algorithm", cfg.HashAlgorithm, append([]string{""}, hashAlgorithms...))
	p.nonNegative("deduplication.ttl_seconds", int64(cfg.TTLSeconds))
	p.oneOf("deduplication.on_redis_error", cfg.OnRedisError, guardFallbacks)
}

func (p *problems) hog(cfg HogConfig) {
	limits := []int64{cfg.MaxSteps, int64(cfg.MaxCallDepth), int64(cfg.MaxStringLength), int64(cfg.MaxLogEntries), int64(cfg.MaxFetches)}
	p.check(slices.IndexFunc(limits, func(v int64) bool { return v < 0 }) < 0, "hog", "execution limits must be non-negative")
	p.nonNegative("hog.timeout", int64(cfg.Timeout))
}

func (p *problems) fetch(cfg FetchConfig) {
	p.nonNegative("fetch.timeout", int64(cfg.Timeout))
	p.nonNegative("fetch.max_response_bytes", cfg.MaxResponseBytes)
	p.nonNegative("fetch.max_redirects", int64(cfg.MaxRedirects))
	p.check(cfg.RatePerHost >= 0 && cfg.BurstPerHost >= 0, "fetch.rate_per_host", "rate limit settings must be non-negative")
	for i, pattern := range slices.Concat(cfg.AllowedHosts, cfg.DeniedHosts) {
		p.check(strings.TrimSpace(pattern) != "", fmt.Sprintf("fetch.hosts[%d]", i), "host pattern cannot be empty")
	}
}

func (p *problems) destinations(cfg DestinationsConfig) {
	p.nonNegative("destinations.concurrency", int64(cfg.Concurrency))
	p.check(cfg.Reload.IntervalSeconds >= 0 && cfg.Reload.JitterMaxMilliseconds >= 0,
		"destinations.reload", "interval and jitter must be non-negative")
}

func (p *problems) invocations(cfg InvocationsConfig) {
	p.nonNegative("invocations.retention_days", int64(cfg.RetentionDays))
	if cfg.PurgeSchedule != "" {
		if _, err := cron.ParseStandard(cfg.PurgeSchedule); err != nil {
			p.add("invocations.purge_schedule", "%v", err)
		}
	}
}

func (p *problems) rateLimit(cfg RateLimitConfig) {
	if !cfg.Enabled {
		return
	}
	p.check(cfg.RPS > 0, "management.rate_limit.rps", "must be positive when rate limiting is enabled")
	p.nonNegative("management.rate_limit.burst", int64(cfg.Burst))
}

func (p *problems) tracing(cfg TracingConfig) {
	if !cfg.Enabled {
		return
	}
	p.check(cfg.OTLP.Endpoint != "", "tracing.otlp.endpoint", "is required when tracing is enabled")
	p.oneOf("tracing.sampler.type", cfg.Sampler.Type, samplerTypes)
	p.check(cfg.Sampler.Param >= 0 && cfg.Sampler.Param <= 1, "tracing.sampler.param", "must be within [0, 1]")
}
