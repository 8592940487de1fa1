package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts dispatched commands by command name and result tag.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_commands_total",
		Help: "Total number of registry commands by command and result tag",
	}, []string{"command", "result"})

	// RequestsCreated counts newly created requests per family.
	RequestsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_requests_created_total",
		Help: "Total number of requests created per family",
	}, []string{"family"})

	// GuardWait records how long callers waited for the concurrency guard.
	GuardWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "registry_guard_wait_seconds",
		Help:    "Time spent waiting for the request concurrency guard",
		Buckets: prometheus.DefBuckets,
	}, []string{"family", "backend"})

	// RedisErrors counts Redis errors by command name.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"command"})

	// DatabaseQueryLatency records store query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "registry_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// ObserveGuardWait records a guard acquisition wait.
func ObserveGuardWait(family, backend string, start time.Time) {
	GuardWait.WithLabelValues(family, backend).Observe(time.Since(start).Seconds())
}
