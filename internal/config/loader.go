package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"hogflow/internal/constants"
	"hogflow/pkg/hog"
)

var defaults = map[string]interface{}{
	"server.read_timeout_seconds":  15,
	"server.write_timeout_seconds": 15,

	"broker.kafka.retry.max_attempts":     3,
	"broker.kafka.retry.initial_interval": "100ms",
	"broker.kafka.retry.max_interval":     "5s",
	"broker.kafka.retry.multiplier":       2.0,

	"logging.level":  "info",
	"logging.format": "json",

	"hog.max_steps":         hog.DefaultMaxSteps,
	"hog.max_call_depth":    hog.DefaultMaxCallDepth,
	"hog.timeout":           hog.DefaultTimeout,
	"hog.max_string_length": hog.DefaultMaxStringLength,
	"hog.max_log_entries":   hog.DefaultMaxLogEntries,
	"hog.max_fetches":       hog.DefaultMaxFetches,

	"fetch.timeout":            constants.DefaultFetchTimeout,
	"fetch.max_response_bytes": constants.DefaultFetchMaxResponseBytes,
	"fetch.max_redirects":      constants.DefaultFetchMaxRedirects,
	"fetch.user_agent":         constants.DefaultUserAgent,

	"destinations.concurrency":                    constants.DefaultDestinationConcurrency,
	"destinations.reload.interval_seconds":        constants.DefaultReloadIntervalSeconds,
	"destinations.reload.jitter_max_milliseconds": constants.DefaultReloadJitterMillis,

	"deduplication.hash_algorithm": "sha256",
	"deduplication.ttl_seconds":    constants.DefaultGuardTTLSeconds,
	"deduplication.on_redis_error": constants.FallbackAllow,

	"persons.collection":        constants.DefaultPersonsCollection,
	"persons.cache_ttl_seconds": constants.DefaultPersonCacheTTLSeconds,

	"invocations.collection":     constants.DefaultInvocationsCollection,
	"invocations.retention_days": constants.DefaultInvocationRetention,
	"invocations.purge_schedule": constants.DefaultPurgeSchedule,
}

// envKeys may be set from the environment even when the file leaves them out.
// A key maps to its upper-cased form with dots replaced by underscores, so
// database.postgres.host reads DATABASE_POSTGRES_HOST.
var envKeys = []string{
	"server.port",
	"server.read_timeout_seconds",
	"server.write_timeout_seconds",

	"broker.kafka.brokers",
	"broker.kafka.group_id",
	"broker.kafka.input_topic",
	"broker.kafka.output_topic",
	"broker.kafka.config_update_topic",
	"broker.kafka.dlq_topic",

	"database.postgres.host",
	"database.postgres.port",
	"database.postgres.user",
	"database.postgres.password",
	"database.postgres.dbname",
	"database.postgres.sslmode",
	"database.redis.host",
	"database.redis.port",
	"database.redis.password",
	"database.redis.db",
	"database.mongodb.uri",
	"database.mongodb.database",

	"logging.level",
	"logging.format",

	"auth.enabled",
	"auth.jwt_secret",

	"templates.directory",
	"fetch.allow_http",
	"fetch.allow_private_networks",

	"tracing.enabled",
	"tracing.service_name",
	"tracing.otlp.endpoint",
	"tracing.otlp.insecure",
}

// LoadConfig reads configFile, applies defaults and environment overrides and
// validates the result.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(configFile)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyListOverrides(v, &cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyListOverrides splits comma separated list variables, trimming the
// spaces viper would keep.
func applyListOverrides(v *viper.Viper, cfg *Config) {
	if brokers := splitList(v.GetString("BROKER_KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.Broker.Kafka.Brokers = brokers
	}
	if hosts := splitList(v.GetString("FETCH_ALLOWED_HOSTS")); len(hosts) > 0 {
		cfg.Fetch.AllowedHosts = hosts
	}
	if hosts := splitList(v.GetString("FETCH_DENIED_HOSTS")); len(hosts) > 0 {
		cfg.Fetch.DeniedHosts = hosts
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
