package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dq_runs_total",
			Help: "Total number of rule runs by terminal status (count)",
		},
		[]string{"status", "rule_type"},
	)

	RunsDeduplicatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dq_runs_deduplicated_total",
			Help: "Run requests answered with an existing run record (count)",
		},
	)

	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dq_run_duration_ms",
			Help:    "End-to-end run duration in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"status"},
	)

	EvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dq_evaluation_duration_ms",
			Help:    "Rule evaluation duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"rule_type"},
	)

	FailedRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dq_failed_rows_total",
			Help: "Rows that failed a rule (count)",
		},
		[]string{"rule_type"},
	)

	DatasetLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dq_dataset_load_duration_ms",
			Help:    "Dataset load duration in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"source", "status"},
	)

	EvidenceOffloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dq_evidence_offloads_total",
			Help: "Evidence bundles written to the blob store (count)",
		},
		[]string{"status"},
	)

	IncidentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dq_incidents_total",
			Help: "Incident decisions after failing runs (count)",
		},
		[]string{"action", "severity"},
	)

	SideEffectFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dq_side_effect_failures_total",
			Help: "Post-completion steps that failed without failing the run (count)",
		},
		[]string{"step"},
	)

	ExecutionsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dq_executions_skipped_total",
			Help: "Dataset executions skipped by the dispatcher (count)",
		},
		[]string{"reason"},
	)

	RuleCacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dq_rule_cache_requests_total",
			Help: "Rule catalog cache lookups (count)",
		},
		[]string{"result"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "target"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
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

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
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
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "database", "operation"},
	)
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dq_http_requests_total",
			Help: "API requests by route template and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dq_http_request_duration_ms",
			Help:    "API request latency in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
		[]string{"method", "route"},
	)
)

var registerOnce sync.Once

// RegisterEngineMetrics registers every collector with the default registry.
// Safe to call more than once.
func RegisterEngineMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RunsTotal,
			RunsDeduplicatedTotal,
			RunDuration,
			EvaluationDuration,
			FailedRowsTotal,
			DatasetLoadDuration,
			EvidenceOffloadsTotal,
			IncidentsTotal,
			SideEffectFailuresTotal,
			ExecutionsSkippedTotal,
			RuleCacheRequestsTotal,
			RetryAttemptsTotal,
			DLQMessagesTotal,
			CircuitBreakerState,
			CircuitBreakerRequests,
			CircuitBreakerFailures,
			RateLimitRequestsTotal,
			KafkaMessagesReadTotal,
			KafkaMessagesWrittenTotal,
			KafkaWriteDuration,
			DatabaseQueriesTotal,
			DatabaseQueryDuration,
			HTTPRequestsTotal,
			HTTPRequestDuration,
		)
	})
}

func ObserveRun(status string, duration time.Duration) {
	RunDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func IncRun(status, ruleType string) {
	RunsTotal.WithLabelValues(status, ruleType).Inc()
}

func ObserveEvaluation(ruleType string, failed int, duration time.Duration) {
	EvaluationDuration.WithLabelValues(ruleType).Observe(float64(duration.Milliseconds()))
	FailedRowsTotal.WithLabelValues(ruleType).Add(float64(failed))
}

func ObserveDatasetLoad(source, status string, duration time.Duration) {
	DatasetLoadDuration.WithLabelValues(source, status).Observe(float64(duration.Milliseconds()))
}

func IncIncident(action, severity string) {
	IncidentsTotal.WithLabelValues(action, severity).Inc()
}

func IncSideEffectFailure(step string) {
	SideEffectFailuresTotal.WithLabelValues(step).Inc()
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}

func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(float64(duration.Milliseconds()))
}
