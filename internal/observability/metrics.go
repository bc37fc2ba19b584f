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
	// RPC metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec
	HeadsReceived  prometheus.Counter

	// Query cache metrics
	QueryFetches       *prometheus.CounterVec
	QueryFetchLatency  *prometheus.HistogramVec
	QueryInvalidations *prometheus.CounterVec

	// Transaction metrics
	TxSubmitted      *prometheus.CounterVec
	TxSettled        *prometheus.CounterVec
	TxConfirmLatency *prometheus.HistogramVec
	TxInFlight       prometheus.Gauge

	// Metadata metrics
	MetadataFetches *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "nft_market"
	}

	return &Metrics{
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_errors_total",
			Help:      "Total number of failed JSON-RPC calls by method",
		}, []string{"method"}),
		HeadsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "heads_received_total",
			Help:      "Total number of newHeads notifications received",
		}),

		QueryFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "fetches_total",
			Help:      "Total number of query fetches by namespace and outcome",
		}, []string{"namespace", "outcome"}),
		QueryFetchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "fetch_latency_seconds",
			Help:      "Query fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"namespace"}),
		QueryInvalidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "invalidations_total",
			Help:      "Total number of invalidated query keys by namespace",
		}, []string{"namespace"}),

		TxSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "submitted_total",
			Help:      "Total number of transactions handed to the wallet by kind",
		}, []string{"kind"}),
		TxSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "settled_total",
			Help:      "Total number of transactions reaching a terminal status",
		}, []string{"kind", "status"}),
		TxConfirmLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "confirm_latency_seconds",
			Help:      "Time from submission to terminal status in seconds",
			Buckets:   []float64{1, 5, 10, 15, 30, 60, 120, 300},
		}, []string{"kind"}),
		TxInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "in_flight",
			Help:      "Number of transactions awaiting confirmation",
		}),

		MetadataFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metadata",
			Name:      "fetches_total",
			Help:      "Total number of token metadata fetches by scheme and outcome",
		}, []string{"scheme", "outcome"}),

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

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordRPCCall records RPC call latency and failures.
func RecordRPCCall(method string, seconds float64, err error) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
	if err != nil {
		DefaultMetrics.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordHead counts a newHeads notification.
func RecordHead() {
	DefaultMetrics.HeadsReceived.Inc()
}

// RecordQueryFetch records a cache fetch for a key namespace.
func RecordQueryFetch(namespace string, seconds float64, err error) {
	DefaultMetrics.QueryFetches.WithLabelValues(namespace, outcome(err)).Inc()
	DefaultMetrics.QueryFetchLatency.WithLabelValues(namespace).Observe(seconds)
}

// RecordInvalidation counts an invalidated key.
func RecordInvalidation(namespace string) {
	DefaultMetrics.QueryInvalidations.WithLabelValues(namespace).Inc()
}

// RecordTxSubmitted counts a submitted transaction and marks it in flight.
func RecordTxSubmitted(kind string) {
	DefaultMetrics.TxSubmitted.WithLabelValues(kind).Inc()
	DefaultMetrics.TxInFlight.Inc()
}

// RecordTxSettled records the terminal status of a submitted transaction.
func RecordTxSettled(kind, status string, seconds float64) {
	DefaultMetrics.TxSettled.WithLabelValues(kind, status).Inc()
	DefaultMetrics.TxConfirmLatency.WithLabelValues(kind).Observe(seconds)
	DefaultMetrics.TxInFlight.Dec()
}

// RecordMetadataFetch records a token metadata fetch.
func RecordMetadataFetch(scheme string, err error) {
	DefaultMetrics.MetadataFetches.WithLabelValues(scheme, outcome(err)).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
