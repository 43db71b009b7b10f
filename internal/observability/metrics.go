// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Engine metrics
	RateUpdatesProcessed prometheus.Counter
	StopLossTriggered    prometheus.Counter
	EmergencyRebalances  prometheus.Counter
	Rebalances           prometheus.Counter
	AllocationsStranded  prometheus.Counter
	StrategyActive       prometheus.Gauge
	IdleBalance          prometheus.Gauge

	// Coordinator metrics
	RecallsSent        prometheus.Counter
	PushesSent         prometheus.Counter
	ArrivalsProcessed  prometheus.Counter
	ArrivalsRejected   prometheus.Counter
	PendingOverwritten prometheus.Counter
	RemoteBalanceTotal prometheus.Gauge

	// Feed metrics
	FeedEventsDecoded prometheus.Counter
	FeedDecodeErrors  prometheus.Counter
	FeedReconnects    prometheus.Counter

	// Relay metrics
	RelaySendFailures *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "yield_router"
	}

	return &Metrics{
		// Engine metrics
		RateUpdatesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rate_updates_processed_total",
			Help:      "Total number of rate update observations processed",
		}),
		StopLossTriggered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "stop_loss_triggered_total",
			Help:      "Total number of stop-loss deactivations",
		}),
		EmergencyRebalances: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "emergency_rebalances_total",
			Help:      "Total number of emergency exits after stop-loss",
		}),
		Rebalances: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rebalances_total",
			Help:      "Total number of opportunistic rebalances scheduled",
		}),
		AllocationsStranded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "allocations_stranded_total",
			Help:      "Total number of allocations left stranded for lack of a destination",
		}),
		StrategyActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "strategy_active",
			Help:      "Whether the global strategy is active (1) or not (0)",
		}),
		IdleBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "idle_balance",
			Help:      "Undeployed idle balance held by the engine",
		}),

		// Coordinator metrics
		RecallsSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "recalls_sent_total",
			Help:      "Total number of withdraw instructions sent",
		}),
		PushesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "pushes_sent_total",
			Help:      "Total number of deposit transfers sent",
		}),
		ArrivalsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "arrivals_processed_total",
			Help:      "Total number of capital arrivals processed",
		}),
		ArrivalsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "arrivals_rejected_total",
			Help:      "Total number of arrivals rejected for unknown provenance",
		}),
		PendingOverwritten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "pending_overwritten_total",
			Help:      "Total number of pending rebalance destinations overwritten",
		}),
		RemoteBalanceTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "remote_balance_total",
			Help:      "Sum of believed remote balances across all domains",
		}),

		// Feed metrics
		FeedEventsDecoded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "events_decoded_total",
			Help:      "Total number of observation events decoded from the feed",
		}),
		FeedDecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "decode_errors_total",
			Help:      "Total number of malformed feed frames",
		}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of feed reconnects",
		}),

		// Relay metrics
		RelaySendFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "send_failures_total",
			Help:      "Total number of failed relay sends by reason",
		}, []string{"reason"}),

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

// RecordRateUpdate increments the rate updates processed counter.
func RecordRateUpdate() {
	DefaultMetrics.RateUpdatesProcessed.Inc()
}

// RecordStopLoss increments the stop-loss counter.
func RecordStopLoss() {
	DefaultMetrics.StopLossTriggered.Inc()
}

// RecordEmergencyRebalance increments the emergency rebalance counter.
func RecordEmergencyRebalance() {
	DefaultMetrics.EmergencyRebalances.Inc()
}

// RecordRebalance increments the opportunistic rebalance counter.
func RecordRebalance() {
	DefaultMetrics.Rebalances.Inc()
}

// RecordStranded increments the stranded allocations counter.
func RecordStranded() {
	DefaultMetrics.AllocationsStranded.Inc()
}

// SetStrategyActive updates the strategy active gauge.
func SetStrategyActive(active bool) {
	if active {
		DefaultMetrics.StrategyActive.Set(1)
	} else {
		DefaultMetrics.StrategyActive.Set(0)
	}
}

// SetIdleBalance updates the idle balance gauge.
func SetIdleBalance(v *uint256.Int) {
	DefaultMetrics.IdleBalance.Set(v.Float64())
}

// RecordRecall increments the recalls sent counter.
func RecordRecall() {
	DefaultMetrics.RecallsSent.Inc()
}

// RecordPush increments the pushes sent counter.
func RecordPush() {
	DefaultMetrics.PushesSent.Inc()
}

// RecordArrival increments the arrivals processed counter.
func RecordArrival() {
	DefaultMetrics.ArrivalsProcessed.Inc()
}

// RecordRejectedArrival increments the rejected arrivals counter.
func RecordRejectedArrival() {
	DefaultMetrics.ArrivalsRejected.Inc()
}

// RecordPendingOverwrite increments the pending overwrite counter.
func RecordPendingOverwrite() {
	DefaultMetrics.PendingOverwritten.Inc()
}

// SetRemoteTotal updates the remote balance total gauge.
func SetRemoteTotal(v *uint256.Int) {
	DefaultMetrics.RemoteBalanceTotal.Set(v.Float64())
}

// RecordFeedEvent increments the feed events decoded counter.
func RecordFeedEvent() {
	DefaultMetrics.FeedEventsDecoded.Inc()
}

// RecordFeedDecodeError increments the feed decode errors counter.
func RecordFeedDecodeError() {
	DefaultMetrics.FeedDecodeErrors.Inc()
}

// RecordFeedReconnect increments the feed reconnects counter.
func RecordFeedReconnect() {
	DefaultMetrics.FeedReconnects.Inc()
}

// RecordRelaySendFailure records a failed relay send by reason.
func RecordRelaySendFailure(reason string) {
	DefaultMetrics.RelaySendFailures.WithLabelValues(reason).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
