package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	VersionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "config_version_transitions_total",
			Help: "Total number of version lifecycle transitions (count)",
		},
		[]string{"action", "result"},
	)

	ActivationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "config_version_activation_duration_ms",
			Help:    "Duration of version activation including lock wait in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"result"},
	)

	ActivationLockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "config_version_activation_lock_wait_ms",
			Help:    "Time spent waiting for the per-event activation lock in milliseconds",
			Buckets: []float64{0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)

	ActivationConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "config_version_activation_conflicts_total",
			Help: "Total number of activation attempts that hit contention (count)",
		},
		[]string{"reason"},
	)

	ActiveVersionCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "config_version_cache_requests_total",
			Help: "Total number of current-version cache lookups (count)",
		},
		[]string{"result"},
	)

	OutboxPendingEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "config_outbox_pending_events",
			Help: "Number of unpublished outbox events seen in the last poll (count)",
		},
	)

	OutboxPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "config_outbox_published_total",
			Help: "Total number of outbox events relayed to the broker (count)",
		},
		[]string{"status"},
	)

	DictionaryItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dictionary_items",
			Help: "Number of options loaded per dictionary type",
		},
		[]string{"dict_type"},
	)

	DictionaryReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dictionary_reloads_total",
			Help: "Total number of dictionary reloads (count)",
		},
		[]string{"result"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"database", "operation"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			VersionTransitionsTotal,
			ActivationDuration,
			ActivationLockWait,
			ActivationConflictsTotal,
			ActiveVersionCacheTotal,
			OutboxPendingEvents,
			OutboxPublishedTotal,
			DictionaryItems,
			DictionaryReloadsTotal,
			CircuitBreakerState,
			CircuitBreakerRequests,
			CircuitBreakerFailures,
			RateLimitRequestsTotal,
			KafkaMessagesWrittenTotal,
			KafkaMessagesReadTotal,
			KafkaWriteDuration,
			DatabaseQueriesTotal,
			DatabaseQueryDuration,
		)
	})
}

func IncTransition(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	VersionTransitionsTotal.WithLabelValues(action, result).Inc()
}

func ObserveActivation(duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ActivationDuration.WithLabelValues(result).Observe(float64(duration.Milliseconds()))
}

func ObserveLockWait(duration time.Duration) {
	ActivationLockWait.Observe(float64(duration.Microseconds()) / 1000)
}

func IncActivationConflict(reason string) {
	ActivationConflictsTotal.WithLabelValues(reason).Inc()
}

func IncCache(result string) {
	ActiveVersionCacheTotal.WithLabelValues(result).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func ObserveDatabaseQuery(database, operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DatabaseQueriesTotal.WithLabelValues(database, operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(database, operation).Observe(float64(time.Since(start).Milliseconds()))
}
