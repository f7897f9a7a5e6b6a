// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the gateway. Metrics are grounded directly on the teacher's
// observability/metrics.go (StreamingMetrics: promauto-registered
// CounterVec/HistogramVec/GaugeVec, one package-level DefaultMetrics
// singleton), relabeled from RAG/chat-pipeline dimensions to this
// gateway's completion/chat/websocket endpoints.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "gateway"
	metricsSubsystem = "inference"
)

// Metrics holds every Prometheus instrument the gateway records against
// (spec.md §4.H: "metric counters for connection count and error rate").
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	TokensTotal         *prometheus.CounterVec
	RequestDurationSecs *prometheus.HistogramVec
	ActiveConnections   prometheus.Gauge
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	ErrorsTotal         *prometheus.CounterVec
}

// NewMetrics registers every instrument against reg. Pass
// prometheus.DefaultRegisterer for the process-wide default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "requests_total",
				Help:      "Total requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "tokens_total",
				Help:      "Total tokens processed by direction",
			},
			[]string{"direction"},
		),
		RequestDurationSecs: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "request_duration_seconds",
				Help:      "Request handling duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"endpoint"},
		),
		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "active_connections",
				Help:      "Currently open HTTP streaming and WebSocket connections",
			},
		),
		CacheHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "cache_hits_total",
				Help:      "Total response cache hits",
			},
		),
		CacheMissesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "cache_misses_total",
				Help:      "Total response cache misses",
			},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by endpoint and error kind",
			},
			[]string{"endpoint", "kind"},
		),
	}
}
