// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Order lifecycle metrics
	OrdersCreated    prometheus.Counter
	OrderTransitions *prometheus.CounterVec
	OrdersCanceled   prometheus.Counter
	OrdersFailed     prometheus.Counter

	// Chain metrics
	TxBroadcasts        *prometheus.CounterVec
	TxConfirmLatency    prometheus.Histogram
	FeeEstimateFallback prometheus.Counter

	// Governance metrics
	ProposalsCreated  prometheus.Counter
	ProposalsFinished *prometheus.CounterVec
	VotesCast         prometheus.Counter

	// Stream metrics
	StreamSubscribers   prometheus.Gauge
	StreamEventsDropped prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "trustflow"
	}

	return &Metrics{
		// Order lifecycle metrics
		OrdersCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "created_total",
			Help:      "Total number of limit orders created",
		}),
		OrderTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Total number of order state transitions by target status",
		}, []string{"to_status"}),
		OrdersCanceled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "canceled_total",
			Help:      "Total number of orders canceled",
		}),
		OrdersFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "failed_onchain_total",
			Help:      "Total number of orders that failed on-chain",
		}),

		// Chain metrics
		TxBroadcasts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "tx_broadcasts_total",
			Help:      "Total number of transaction broadcast attempts by outcome",
		}, []string{"outcome"}),
		TxConfirmLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "tx_confirm_latency_seconds",
			Help:      "Time from broadcast to confirmed receipt in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 180, 300},
		}),
		FeeEstimateFallback: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "fee_estimate_fallbacks_total",
			Help:      "Total number of fee estimations degraded to legacy gas pricing",
		}),

		// Governance metrics
		ProposalsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "proposals_created_total",
			Help:      "Total number of governance proposals created",
		}),
		ProposalsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "proposals_finished_total",
			Help:      "Total number of proposals finalized by outcome",
		}, []string{"status"}),
		VotesCast: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "votes_cast_total",
			Help:      "Total number of votes cast",
		}),

		// Stream metrics
		StreamSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "subscribers",
			Help:      "Current number of live event stream subscribers",
		}),
		StreamEventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped on slow subscribers",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordOrderCreated increments the orders created counter.
func RecordOrderCreated() {
	DefaultMetrics.OrdersCreated.Inc()
}

// RecordOrderTransition records a state transition by target status.
func RecordOrderTransition(toStatus string) {
	DefaultMetrics.OrderTransitions.WithLabelValues(toStatus).Inc()
	switch toStatus {
	case "CANCELED":
		DefaultMetrics.OrdersCanceled.Inc()
	case "FAILED_ONCHAIN":
		DefaultMetrics.OrdersFailed.Inc()
	}
}

// RecordTxBroadcast records a broadcast attempt outcome ("ok" or "error").
func RecordTxBroadcast(outcome string) {
	DefaultMetrics.TxBroadcasts.WithLabelValues(outcome).Inc()
}

// RecordTxConfirmLatency records time-to-receipt for a confirmed
// transaction.
func RecordTxConfirmLatency(seconds float64) {
	DefaultMetrics.TxConfirmLatency.Observe(seconds)
}

// RecordFeeFallback increments the legacy fee pricing fallback counter.
func RecordFeeFallback() {
	DefaultMetrics.FeeEstimateFallback.Inc()
}

// RecordProposalCreated increments the proposals created counter.
func RecordProposalCreated() {
	DefaultMetrics.ProposalsCreated.Inc()
}

// RecordProposalFinished records a finalized proposal by outcome.
func RecordProposalFinished(status string) {
	DefaultMetrics.ProposalsFinished.WithLabelValues(status).Inc()
}

// RecordVote increments the votes cast counter.
func RecordVote() {
	DefaultMetrics.VotesCast.Inc()
}

// SetStreamSubscribers updates the subscriber gauge.
func SetStreamSubscribers(n int) {
	DefaultMetrics.StreamSubscribers.Set(float64(n))
}

// RecordStreamDrop increments the dropped events counter.
func RecordStreamDrop() {
	DefaultMetrics.StreamEventsDropped.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
