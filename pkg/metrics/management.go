package metrics

import "time"

var (
	RateLimitRequestsTotal = counter("management", "rate_limit_requests_total",
		"API requests checked against the rate limiter.", "status")
	InvocationLogsPurgedTotal = counter("management", "invocation_logs_purged_total",
		"Invocation log entries removed by retention.")
	TemplateReloadsTotal = counter("management", "template_reloads_total",
		"Template directory reloads by status.", "status")

	CircuitBreakerState = gauge("circuit_breaker", "state",
		"Circuit breaker state: 0 closed, 1 half-open, 2 open.", "name")
	CircuitBreakerRequests = counter("circuit_breaker", "requests_total",
		"Requests through a circuit breaker by the state they saw.", "name", "state")
	CircuitBreakerFailures = counter("circuit_breaker", "failures_total",
		"Failed requests through a circuit breaker.", "name")

	DatabaseQueriesTotal = counter("database", "queries_total",
		"Database queries by store and outcome.", "service", "database", "operation", "status")
	DatabaseQueryDuration = histogram("database", "query_duration_seconds",
		"Duration of database queries.", latencyBuckets, "service", "database", "operation")
)

func RegisterManagementMetrics() {
	register(
		RateLimitRequestsTotal,
		InvocationLogsPurgedTotal,
		TemplateReloadsTotal,
	)
	registerDatabaseMetrics()
}

func RegisterCircuitBreakerMetrics() {
	register(CircuitBreakerState, CircuitBreakerRequests, CircuitBreakerFailures)
}

func registerDatabaseMetrics() {
	register(DatabaseQueriesTotal, DatabaseQueryDuration)
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(seconds(duration))
}
