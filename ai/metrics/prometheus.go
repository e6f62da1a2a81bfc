// Package metrics provides Prometheus metrics export for the retrieval layer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stylebot"

// PrometheusExporter exports metrics in Prometheus format. It implements the
// recorder interfaces of the cache, vector, routing and rag packages.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Chat metrics
	chatLatency  *prometheus.HistogramVec
	chatRequests *prometheus.CounterVec
	chatActive   prometheus.Gauge

	// Classification metrics
	classifications       *prometheus.CounterVec
	classificationLatency *prometheus.HistogramVec

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheErrors *prometheus.CounterVec

	// Vector store metrics
	vectorOps      *prometheus.CounterVec
	vectorLatency  *prometheus.HistogramVec
	vectorAttempts *prometheus.HistogramVec

	// LLM metrics
	llmTokensUsed *prometheus.CounterVec
	llmLatency    *prometheus.HistogramVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.chatLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "latency_seconds",
			Help:      "Chat request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"intent"},
	)

	e.chatRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of chat requests",
		},
		[]string{"intent", "status"},
	)

	e.chatActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "active",
			Help:      "Number of chat requests in flight",
		},
	)

	e.classifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intent",
			Name:      "classifications_total",
			Help:      "Total number of intent classifications",
		},
		[]string{"intent", "source"},
	)

	e.classificationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "intent",
			Name:      "latency_seconds",
			Help:      "Intent classification latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"source"},
	)

	e.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	e.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	e.cacheErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Total number of swallowed cache backend errors",
		},
		[]string{"cache_type"},
	)

	e.vectorOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vector",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"operation", "status"},
	)

	e.vectorLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "vector",
			Name:      "latency_seconds",
			Help:      "Vector store operation latency including retries",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"operation"},
	)

	e.vectorAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "vector",
			Name:      "attempts",
			Help:      "Attempts needed per vector store operation",
			Buckets:   []float64{1, 2, 3, 5},
		},
		[]string{"operation"},
	)

	e.llmTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"model", "token_type"},
	)

	e.llmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "LLM request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"model"},
	)

	registry.MustRegister(
		e.chatLatency,
		e.chatRequests,
		e.chatActive,
		e.classifications,
		e.classificationLatency,
		e.cacheHits,
		e.cacheMisses,
		e.cacheErrors,
		e.vectorOps,
		e.vectorLatency,
		e.vectorAttempts,
		e.llmTokensUsed,
		e.llmLatency,
	)

	return e
}

// RecordChatRequest records a finished chat request. status is "ok",
// "degraded" or "error".
func (e *PrometheusExporter) RecordChatRequest(intent, status string, latency time.Duration) {
	e.chatRequests.WithLabelValues(intent, status).Inc()
	e.chatLatency.WithLabelValues(intent).Observe(latency.Seconds())
}

// TrackActiveChat increments the in-flight gauge and returns its decrement.
func (e *PrometheusExporter) TrackActiveChat() func() {
	e.chatActive.Inc()
	return e.chatActive.Dec
}

// RecordClassification records an intent classification.
func (e *PrometheusExporter) RecordClassification(intent, source string, latency time.Duration) {
	e.classifications.WithLabelValues(intent, source).Inc()
	e.classificationLatency.WithLabelValues(source).Observe(latency.Seconds())
}

// RecordCacheHit records a cache hit.
func (e *PrometheusExporter) RecordCacheHit(cacheType string) {
	e.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (e *PrometheusExporter) RecordCacheMiss(cacheType string) {
	e.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordCacheError records a swallowed cache backend error.
func (e *PrometheusExporter) RecordCacheError(cacheType string) {
	e.cacheErrors.WithLabelValues(cacheType).Inc()
}

// RecordVectorOperation records a vector store call and its retries.
func (e *PrometheusExporter) RecordVectorOperation(operation string, attempts int, err error, latency time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	e.vectorOps.WithLabelValues(operation, status).Inc()
	e.vectorLatency.WithLabelValues(operation).Observe(latency.Seconds())
	e.vectorAttempts.WithLabelValues(operation).Observe(float64(attempts))
}

// RecordLLMCall records token usage and latency of one LLM call.
func (e *PrometheusExporter) RecordLLMCall(model string, promptTokens, completionTokens int, latency time.Duration) {
	if promptTokens > 0 {
		e.llmTokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		e.llmTokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	e.llmLatency.WithLabelValues(model).Observe(latency.Seconds())
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ServeHTTP implements http.Handler for the metrics endpoint.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.Handler().ServeHTTP(w, r)
}

// CounterValue returns the current value of a counter series, or 0. Used by
// health output and tests.
func (e *PrometheusExporter) CounterValue(name string, labels map[string]string) float64 {
	families, err := e.registry.Gather()
	if err != nil {
		return 0
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m.GetLabel(), labels) && m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

type labelPair interface {
	GetName() string
	GetValue() string
}

func matchLabels[L labelPair](pairs []L, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if want[p.GetName()] != p.GetValue() {
			return false
		}
	}
	return true
}

// FormatStatus maps a chat outcome to its status label. A degraded turn
// reports "degraded" even when a flow error caused it.
func FormatStatus(degraded bool, err error) string {
	switch {
	case degraded:
		return "degraded"
	case err != nil:
		return "error"
	}
	return "ok"
}
