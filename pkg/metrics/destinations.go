package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DestinationEventsTotal = counter("destinations", "events_total",
		"Events consumed by the destination service by outcome.", "status")
	DestinationEventDuration = histogram("destinations", "event_duration_seconds",
		"Time spent on one event across all matching functions.", latencyBuckets, "status")

	InvocationsTotal = counter("hog", "invocations_total",
		"Hog function invocations by template and status.", "template_id", "status")
	InvocationDuration = histogram("hog", "invocation_duration_seconds",
		"Wall time of hog function invocations, fetches included.",
		append(latencyBuckets, 30), "status")
	InvocationSteps = histogram("hog", "invocation_steps",
		"Interpreter steps used per invocation.", prometheus.ExponentialBuckets(16, 4, 10))
	ActiveFunctions = gauge("hog", "active_functions",
		"Enabled hog functions currently loaded.")

	FilterEvaluationsTotal = counter("hog", "filter_evaluations_total",
		"Filter evaluations by result.", "result")

	FetchRequestsTotal = counter("fetch", "requests_total",
		"Outbound requests made by hog scripts.", "method", "outcome")
	FetchDuration = histogram("fetch", "duration_seconds",
		"Duration of outbound requests made by hog scripts.", latencyBuckets, "outcome")

	InvocationGuardTotal = counter("guard", "claims_total",
		"Results of the duplicate invocation guard.", "result")
	FallbackUsageTotal = counter("guard", "fallbacks_total",
		"Fallback strategies taken when a dependency failed.", "service", "strategy", "reason")

	PersonLookupsTotal = counter("persons", "lookups_total",
		"Person lookups by source.", "source")
)

// RegisterDestinationMetrics registers the collectors of the destination
// service, including the database ones.
func RegisterDestinationMetrics() {
	register(
		DestinationEventsTotal,
		DestinationEventDuration,
		InvocationsTotal,
		InvocationDuration,
		InvocationSteps,
		ActiveFunctions,
		FilterEvaluationsTotal,
		FetchRequestsTotal,
		FetchDuration,
		InvocationGuardTotal,
		FallbackUsageTotal,
		PersonLookupsTotal,
	)
	registerDatabaseMetrics()
}

func ObserveEventDuration(duration time.Duration, status string) {
	DestinationEventDuration.WithLabelValues(status).Observe(seconds(duration))
}

func ObserveInvocation(templateID, status string, duration time.Duration, steps int64) {
	InvocationsTotal.WithLabelValues(templateID, status).Inc()
	InvocationDuration.WithLabelValues(status).Observe(seconds(duration))
	InvocationSteps.WithLabelValues().Observe(float64(steps))
}

func SetActiveFunctions(count int) {
	ActiveFunctions.WithLabelValues().Set(float64(count))
}

func ObserveFetch(method, outcome string, duration time.Duration) {
	FetchRequestsTotal.WithLabelValues(method, outcome).Inc()
	FetchDuration.WithLabelValues(outcome).Observe(seconds(duration))
}
