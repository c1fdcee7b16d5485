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
	// Stream metrics
	FramesReceived    *prometheus.CounterVec
	FramesDropped     *prometheus.CounterVec
	EntitiesDropped   *prometheus.CounterVec
	ReconnectAttempts *prometheus.CounterVec
	ConnectionState   *prometheus.GaugeVec

	// Reconciliation metrics
	Publishes      prometheus.Counter
	Evictions      prometheus.Counter
	CanonicalSize  prometheus.Gauge
	ViewSize       prometheus.Gauge
	DeriveDuration prometheus.Histogram
	ActiveSignals  prometheus.Gauge

	// Metadata metrics
	MetadataFetches   *prometheus.CounterVec
	MetadataCacheHits prometheus.Counter
	MetadataLatency   prometheus.Histogram

	// Collaborator metrics
	SearchRequests *prometheus.CounterVec
	Orders         *prometheus.CounterVec
	RPCCallLatency *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Hub metrics
	HubClients prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "token_stream_lab"
	}

	return &Metrics{
		FramesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_received_total",
			Help:      "Total number of frames received by stream",
		}, []string{"stream"}),
		FramesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_dropped_total",
			Help:      "Total number of frames dropped by stream and reason",
		}, []string{"stream", "reason"}),
		EntitiesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "entities_dropped_total",
			Help:      "Total number of malformed entities skipped inside otherwise valid frames",
		}, []string{"stream"}),
		ReconnectAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of scheduled reconnect attempts",
		}, []string{"stream"}),
		ConnectionState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connection_state",
			Help:      "Current connection state (see stream.State)",
		}, []string{"stream"}),

		Publishes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "publishes_total",
			Help:      "Total number of materialized collections published",
		}),
		Evictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "evictions_total",
			Help:      "Total number of entities evicted for absence from a batch",
		}),
		CanonicalSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "canonical_size",
			Help:      "Number of entities in the canonical map",
		}),
		ViewSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "rows",
			Help:      "Number of rows in the derived view",
		}),
		DeriveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "derive_duration_seconds",
			Help:      "Filter and sort duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
		ActiveSignals: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "active",
			Help:      "Number of live change signals",
		}),

		MetadataFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metadata",
			Name:      "fetches_total",
			Help:      "Total number of metadata fetches by outcome",
		}, []string{"outcome"}),
		MetadataCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metadata",
			Name:      "cache_hits_total",
			Help:      "Total number of metadata lookups served from cache",
		}),
		MetadataLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "metadata",
			Name:      "fetch_latency_seconds",
			Help:      "Metadata fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		SearchRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of search requests by outcome",
		}, []string{"outcome"}),
		Orders: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trade",
			Name:      "orders_total",
			Help:      "Total number of submitted orders by side and outcome",
		}, []string{"side", "outcome"}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

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

		HubClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "clients",
			Help:      "Number of connected snapshot subscribers",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordFrame increments the frames received counter.
func RecordFrame(stream string) {
	DefaultMetrics.FramesReceived.WithLabelValues(stream).Inc()
}

// RecordFrameDropped records a frame discarded before reaching the reconciler.
func RecordFrameDropped(stream, reason string) {
	DefaultMetrics.FramesDropped.WithLabelValues(stream, reason).Inc()
}

// RecordEntitiesDropped records malformed entities skipped within a frame.
func RecordEntitiesDropped(stream string, n int) {
	if n <= 0 {
		return
	}
	DefaultMetrics.EntitiesDropped.WithLabelValues(stream).Add(float64(n))
}

// RecordReconnect increments the reconnect attempts counter.
func RecordReconnect(stream string) {
	DefaultMetrics.ReconnectAttempts.WithLabelValues(stream).Inc()
}

// SetConnectionState updates the connection state gauge.
func SetConnectionState(stream string, state int) {
	DefaultMetrics.ConnectionState.WithLabelValues(stream).Set(float64(state))
}

// RecordPublish records a reconciler publication.
func RecordPublish(evicted, size int) {
	DefaultMetrics.Publishes.Inc()
	DefaultMetrics.Evictions.Add(float64(evicted))
	DefaultMetrics.CanonicalSize.Set(float64(size))
}

// RecordDerive records a view derivation.
func RecordDerive(rows int, seconds float64) {
	DefaultMetrics.ViewSize.Set(float64(rows))
	DefaultMetrics.DeriveDuration.Observe(seconds)
}

// SetActiveSignals updates the live signal gauge.
func SetActiveSignals(n int) {
	DefaultMetrics.ActiveSignals.Set(float64(n))
}

// RecordMetadataFetch records a metadata fetch outcome ("ok", "unresolvable", "store").
func RecordMetadataFetch(outcome string, seconds float64) {
	DefaultMetrics.MetadataFetches.WithLabelValues(outcome).Inc()
	DefaultMetrics.MetadataLatency.Observe(seconds)
}

// RecordMetadataCacheHit increments the metadata cache hit counter.
func RecordMetadataCacheHit() {
	DefaultMetrics.MetadataCacheHits.Inc()
}

// RecordSearch records a search request outcome ("ok", "error", "cancelled").
func RecordSearch(outcome string) {
	DefaultMetrics.SearchRequests.WithLabelValues(outcome).Inc()
}

// RecordOrder records an order submission.
func RecordOrder(side string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	DefaultMetrics.Orders.WithLabelValues(side, outcome).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// SetHubClients updates the hub client gauge.
func SetHubClients(n int) {
	DefaultMetrics.HubClients.Set(float64(n))
}
