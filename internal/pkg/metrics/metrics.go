// Package metrics exposes the Prometheus collectors used across the core,
// following the same promauto registration style the rest of the pack uses.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Total number of transactions processed, by kind and terminal status",
		},
		[]string{"kind", "status"},
	)

	TransactionAmount = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_transaction_amount",
			Help:    "Distribution of transaction amounts by kind",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 10000, 50000},
		},
		[]string{"kind"},
	)

	LimitDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_limit_denials_total",
			Help: "Total number of operations denied by the limit evaluator, by reason",
		},
		[]string{"reason"},
	)

	AccountGatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "account_gateway_request_duration_seconds",
			Help:    "Duration of outbound Account Service calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "account_gateway_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half_open, 2=open)",
		},
		[]string{"name"},
	)

	AuditEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_published_total",
			Help: "Total number of audit events successfully published",
		},
		[]string{"outcome"},
	)

	AuditEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_dropped_total",
			Help: "Total number of audit events dropped from the sink buffer",
		},
		[]string{"reason"},
	)

	AuditPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_publish_errors_total",
			Help: "Total number of errors publishing audit events downstream",
		},
		[]string{"reason"},
	)

	SweeperRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweeper_runs_total",
			Help: "Total number of sweep passes, by outcome",
		},
		[]string{"outcome"},
	)

	SweeperSwept = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweeper_transactions_swept_total",
			Help: "Total number of stuck transactions moved out of PROCESSING by the sweeper",
		},
		[]string{"resolution"},
	)
)

func RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	HTTPDuration.WithLabelValues(method, endpoint, statusCode).Observe(duration.Seconds())
}

func RecordTransaction(kind, status string, amount float64) {
	TransactionsTotal.WithLabelValues(kind, status).Inc()
	TransactionAmount.WithLabelValues(kind).Observe(amount)
}

func RecordLimitDenial(reason string) {
	LimitDenialsTotal.WithLabelValues(reason).Inc()
}

func RecordAccountGatewayCall(operation, outcome string, duration time.Duration) {
	AccountGatewayDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func RecordAuditEventPublished(outcome string) {
	AuditEventsPublished.WithLabelValues(outcome).Inc()
}

func RecordAuditEventDropped(reason string) {
	AuditEventsDropped.WithLabelValues(reason).Inc()
}

func RecordAuditPublishError(reason string) {
	AuditPublishErrors.WithLabelValues(reason).Inc()
}

func RecordSweeperRun(outcome string) {
	SweeperRunsTotal.WithLabelValues(outcome).Inc()
}

func RecordSweeperResolution(resolution string, count int) {
	SweeperSwept.WithLabelValues(resolution).Add(float64(count))
}
