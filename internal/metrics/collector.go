// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// Collector
// =============================================================================

// Collector gathers the service's Prometheus metrics. All record methods are
// safe on a nil receiver so callers can run without metrics wired.
type Collector struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Exchange metrics
	exchangesTotal   *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec
	exchangeRounds   *prometheus.HistogramVec

	// Turn metrics
	turnsTotal    *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	turnFragments prometheus.Counter

	// Knowledge retrieval metrics
	kbFetchesTotal *prometheus.CounterVec
	kbFetchLatency prometheus.Histogram

	// Store metrics
	storeQueryDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers the service metrics under the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.exchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Total number of roundtable exchanges by mode and outcome",
		},
		[]string{"mode", "status"},
	)

	c.exchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Wall time of one exchange",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"mode"},
	)

	c.exchangeRounds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_rounds",
			Help:      "Rounds run per exchange",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
		[]string{"mode"},
	)

	c.turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total participant turns by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	c.turnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Duration of one participant turn",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	c.turnFragments = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_fragments_total",
			Help:      "Total streamed content fragments",
		},
	)

	c.kbFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kb_fetches_total",
			Help:      "Knowledge retrievals by outcome",
		},
		[]string{"outcome"},
	)

	c.kbFetchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kb_fetch_duration_seconds",
			Help:      "Knowledge retrieval latency",
			Buckets:   prometheus.DefBuckets,
		},
	)

	c.storeQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_query_duration_seconds",
			Help:      "Store operation latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// Record methods
// =============================================================================

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordExchange records one finished exchange.
func (c *Collector) RecordExchange(mode, status string, rounds int, duration time.Duration) {
	if c == nil {
		return
	}
	c.exchangesTotal.WithLabelValues(mode, status).Inc()
	c.exchangeDuration.WithLabelValues(mode).Observe(duration.Seconds())
	c.exchangeRounds.WithLabelValues(mode).Observe(float64(rounds))
}

// RecordTurn records one finished participant turn.
func (c *Collector) RecordTurn(kind, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(kind, status).Inc()
	c.turnDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordFragment counts one streamed content fragment.
func (c *Collector) RecordFragment() {
	if c == nil {
		return
	}
	c.turnFragments.Inc()
}

// RecordKBFetch records one knowledge retrieval attempt.
func (c *Collector) RecordKBFetch(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.kbFetchesTotal.WithLabelValues(outcome).Inc()
	c.kbFetchLatency.Observe(duration.Seconds())
}

// RecordStoreQuery records one store operation.
func (c *Collector) RecordStoreQuery(operation string, duration time.Duration) {
	if c == nil {
		return
	}
	c.storeQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
