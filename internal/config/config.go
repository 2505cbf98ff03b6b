package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Hog            HogConfig
	Fetch          FetchConfig
	Templates      TemplatesConfig
	Destinations   DestinationsConfig
	Deduplication  DeduplicationConfig
	Persons        PersonsConfig
	Invocations    InvocationsConfig
	Management     ManagementConfig
	Auth           AuthConfig
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers           []string    `mapstructure:"brokers"`
	GroupID           string      `mapstructure:"group_id"`
	InputTopic        string      `mapstructure:"input_topic"`
	OutputTopic       string      `mapstructure:"output_topic"`
	ConfigUpdateTopic string      `mapstructure:"config_update_topic"`
	DLQTopic          string      `mapstructure:"dlq_topic"`
	Retry             RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HogConfig holds the per-execution limits of the script interpreter. Zero values
// fall back to the interpreter defaults.
type HogConfig struct {
	MaxSteps        int64         `mapstructure:"max_steps"`
	MaxCallDepth    int           `mapstructure:"max_call_depth"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxStringLength int           `mapstructure:"max_string_length"`
	MaxLogEntries   int           `mapstructure:"max_log_entries"`
	MaxFetches      int           `mapstructure:"max_fetches"`
}

// FetchConfig is the egress policy of the script fetch bridge.
type FetchConfig struct {
	Timeout              time.Duration        `mapstructure:"timeout"`
	MaxResponseBytes     int64                `mapstructure:"max_response_bytes"`
	MaxRedirects         int                  `mapstructure:"max_redirects"`
	AllowHTTP            bool                 `mapstructure:"allow_http"`
	AllowPrivateNetworks bool                 `mapstructure:"allow_private_networks"`
	AllowedHosts         []string             `mapstructure:"allowed_hosts"`
	DeniedHosts          []string             `mapstructure:"denied_hosts"`
	RatePerHost          float64              `mapstructure:"rate_per_host"`
	BurstPerHost         int                  `mapstructure:"burst_per_host"`
	UserAgent            string               `mapstructure:"user_agent"`
	CircuitBreaker       CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type TemplatesConfig struct {
	Directory string `mapstructure:"directory"`
	Watch     bool   `mapstructure:"watch"`
}

type DestinationsConfig struct {
	Reload      ReloadConfig `mapstructure:"reload"`
	Concurrency int          `mapstructure:"concurrency"`
	// TestAccountFilters are CEL expressions; an event matching any of them is a test account event.
	TestAccountFilters []string `mapstructure:"test_account_filters"`
	PublishResults     bool     `mapstructure:"publish_results"`
	// SiteURL prefixes the person links handed to scripts; may be empty.
	SiteURL string `mapstructure:"site_url"`
}

type ReloadConfig struct {
	IntervalSeconds       int `mapstructure:"interval_seconds"`
	JitterMaxMilliseconds int `mapstructure:"jitter_max_milliseconds"`
}

type DeduplicationConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	HashAlgorithm string `mapstructure:"hash_algorithm"`
	TTLSeconds    int    `mapstructure:"ttl_seconds"`
	OnRedisError  string `mapstructure:"on_redis_error"`
}

type PersonsConfig struct {
	Collection      string `mapstructure:"collection"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
}

type InvocationsConfig struct {
	Collection    string `mapstructure:"collection"`
	RetentionDays int    `mapstructure:"retention_days"`
	// PurgeSchedule is a cron expression (five fields or a descriptor such as @daily).
	PurgeSchedule string `mapstructure:"purge_schedule"`
}

type ManagementConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	// LiveTestFetches lets test invocations send real requests when asked to.
	LiveTestFetches bool `mapstructure:"live_test_fetches"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
