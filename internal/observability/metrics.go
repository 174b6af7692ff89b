// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"growthmap/server/internal/analytics"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Query metrics
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter

	// Ingestion metrics
	SalesStored  prometheus.Counter
	BatchesTotal *prometheus.CounterVec
	QueueDepth   prometheus.Gauge

	// HTTP metrics
	RequestDuration *prometheus.HistogramVec
}

var _ analytics.Recorder = (*Metrics)(nil)

// NewMetrics creates a new Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "growthmap"
	}
	factory := promauto.With(reg)

	return &Metrics{
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "query_duration_seconds",
			Help:      "Analytics query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		QueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "query_errors_total",
			Help:      "Total number of failed analytics queries by reason",
		}, []string{"operation", "reason"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of aggregate cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of aggregate cache misses",
		}),

		SalesStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "sales_stored_total",
			Help:      "Total number of sale events written to the store",
		}),
		BatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "batches_total",
			Help:      "Total number of processed sale batches by status",
		}, []string{"status"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "queue_depth",
			Help:      "Number of sale batches waiting in the queue",
		}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// ObserveQuery records the latency and outcome of an analytics query.
func (m *Metrics) ObserveQuery(operation string, seconds float64, err error) {
	m.QueryDuration.WithLabelValues(operation).Observe(seconds)
	if err != nil {
		m.QueryErrors.WithLabelValues(operation, errorReason(err)).Inc()
	}
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, analytics.ErrInvalidFilter):
		return "invalid_filter"
	case errors.Is(err, analytics.ErrUpstreamUnavailable):
		return "upstream"
	default:
		return "other"
	}
}

func (m *Metrics) CacheHit() {
	m.CacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	m.CacheMisses.Inc()
}

// RecordBatch records the outcome of one ingestion batch.
func (m *Metrics) RecordBatch(size int, err error) {
	if err != nil {
		m.BatchesTotal.WithLabelValues("failed").Inc()
		return
	}
	m.BatchesTotal.WithLabelValues("stored").Inc()
	m.SalesStored.Add(float64(size))
}

// SetQueueDepth updates the queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

// ObserveRequest records an HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, seconds float64) {
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(seconds)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
