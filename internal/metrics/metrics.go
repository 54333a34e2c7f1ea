// Package metrics exposes Prometheus instrumentation for the HTTP surface,
// the ingestion pipeline, persistence and the broadcast hub.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Provider is the instrumentation surface used across the service
type Provider interface {
	IncRequestsTotal(endpoint string, status int)
	ObserveRequestDuration(endpoint string, duration time.Duration)
	IncCaptures(attributed bool)
	IncIngestFailures(stage string)
	ObservePersistenceDuration(document string, duration time.Duration)
	SetLedgerSize(count int)
	SetSessions(count int)
	IncEventsSent(event string)
	IncEventsDropped(event string)
	IncCacheHits()
	IncCacheMisses()
}

// PrometheusProvider records into a Prometheus registry
type PrometheusProvider struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	capturesTotal       *prometheus.CounterVec
	ingestFailures      *prometheus.CounterVec
	persistenceDuration *prometheus.HistogramVec
	ledgerSize          prometheus.Gauge
	sessions            prometheus.Gauge
	eventsSent          *prometheus.CounterVec
	eventsDropped       *prometheus.CounterVec
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter
}

// NewProvider returns a Prometheus-backed provider registered on reg, or a
// no-op provider when metrics are disabled
func NewProvider(enabled bool, reg prometheus.Registerer) Provider {
	if !enabled {
		return Noop()
	}

	factory := promauto.With(reg)
	return &PrometheusProvider{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smilewall_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"endpoint", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "smilewall_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		capturesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smilewall_captures_total",
			Help: "Captures committed to the ledger",
		}, []string{"attribution"}),

		ingestFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smilewall_ingest_failures_total",
			Help: "Failed ingestions by pipeline stage",
		}, []string{"stage"}),

		persistenceDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "smilewall_persistence_duration_seconds",
			Help:    "Duration of synchronous state persistence",
			Buckets: prometheus.DefBuckets,
		}, []string{"document"}),

		ledgerSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "smilewall_ledger_captures",
			Help: "Live captures in the gallery ledger",
		}),

		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "smilewall_wall_sessions",
			Help: "Connected wall sessions",
		}),

		eventsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smilewall_events_sent_total",
			Help: "Push events queued for delivery",
		}, []string{"event"}),

		eventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smilewall_events_dropped_total",
			Help: "Push events dropped for slow or dead sessions",
		}, []string{"event"}),

		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "smilewall_cache_hits_total",
			Help: "Snapshot cache hits",
		}),

		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "smilewall_cache_misses_total",
			Help: "Snapshot cache misses",
		}),
	}
}

func (m *PrometheusProvider) IncRequestsTotal(endpoint string, status int) {
	m.requestsTotal.WithLabelValues(endpoint, httpStatusBucket(status)).Inc()
}

func (m *PrometheusProvider) ObserveRequestDuration(endpoint string, duration time.Duration) {
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *PrometheusProvider) IncCaptures(attributed bool) {
	label := "unknown"
	if attributed {
		label = "device"
	}
	m.capturesTotal.WithLabelValues(label).Inc()
}

func (m *PrometheusProvider) IncIngestFailures(stage string) {
	m.ingestFailures.WithLabelValues(stage).Inc()
}

func (m *PrometheusProvider) ObservePersistenceDuration(document string, duration time.Duration) {
	m.persistenceDuration.WithLabelValues(document).Observe(duration.Seconds())
}

func (m *PrometheusProvider) SetLedgerSize(count int) {
	m.ledgerSize.Set(float64(count))
}

func (m *PrometheusProvider) SetSessions(count int) {
	m.sessions.Set(float64(count))
}

func (m *PrometheusProvider) IncEventsSent(event string) {
	m.eventsSent.WithLabelValues(event).Inc()
}

func (m *PrometheusProvider) IncEventsDropped(event string) {
	m.eventsDropped.WithLabelValues(event).Inc()
}

func (m *PrometheusProvider) IncCacheHits() {
	m.cacheHits.Inc()
}

func (m *PrometheusProvider) IncCacheMisses() {
	m.cacheMisses.Inc()
}

func httpStatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

type noopMetrics struct{}

// Noop returns a provider that records nothing
func Noop() Provider { return noopMetrics{} }

func (noopMetrics) IncRequestsTotal(string, int)                     {}
func (noopMetrics) ObserveRequestDuration(string, time.Duration)     {}
func (noopMetrics) IncCaptures(bool)                                 {}
func (noopMetrics) IncIngestFailures(string)                         {}
func (noopMetrics) ObservePersistenceDuration(string, time.Duration) {}
func (noopMetrics) SetLedgerSize(int)                                {}
func (noopMetrics) SetSessions(int)                                  {}
func (noopMetrics) IncEventsSent(string)                             {}
func (noopMetrics) IncEventsDropped(string)                          {}
func (noopMetrics) IncCacheHits()                                    {}
func (noopMetrics) IncCacheMisses()                                  {}
