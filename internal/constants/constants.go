package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

// Topics used when the broker config leaves them empty.
const (
	DefaultInputTopic        = "events"
	DefaultOutputTopic       = "hog_invocation_results"
	DefaultConfigUpdateTopic = "config_updates"
)

const (
	DefaultMongoDBName           = "hogflow"
	DefaultPersonsCollection     = "persons"
	DefaultInvocationsCollection = "hog_invocations"
	DefaultInvocationRetention   = 14 // days
	DefaultPurgeSchedule         = "@hourly"
)

// Redis key prefixes. Guard keys hold one claim per (function, event) pair.
const (
	CacheKeyPrefixGuard  = "hog:guard:"
	CacheKeyPrefixPerson = "person:distinct_id:"
)

const (
	DefaultGuardTTLSeconds       = 86400
	DefaultPersonCacheTTLSeconds = 300
)

// Outbound fetch defaults.
const (
	DefaultFetchTimeout          = 10 * time.Second
	DefaultFetchMaxResponseBytes = 1 << 20
	DefaultFetchMaxRedirects     = 3
	DefaultUserAgent             = "hogflow/1.0"
)

const (
	DefaultDestinationConcurrency = 8
	DefaultReloadIntervalSeconds  = 30
	DefaultReloadJitterMillis     = 2000
)

const (
	ShutdownTimeout = 5 * time.Second
)

// Page sizes for list endpoints and invocation log queries.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// What the guard does when Redis cannot be reached.
const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
	FallbackError = "error"
)
