// Package observability provides the engine's Prometheus metrics,
// grounded on internal/platform/observability/metrics.go's singleton
// Metrics-struct-via-sync.Once + promauto pattern, scoped down to this
// repository's admission, tracking, bus, and HTTP surfaces.
package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric the engine exports.
type Metrics struct {
	// Trust (admission) metrics.
	AdmissionOutcomes *prometheus.CounterVec

	// Tracking metrics.
	TrackingOutcomes  *prometheus.CounterVec
	TracksActive      prometheus.Gauge
	AssociationGateMs prometheus.Histogram

	// Bus metrics.
	NATSMessagesReceived  *prometheus.CounterVec
	NATSMessagesPublished *prometheus.CounterVec
	NATSConnectionStatus  prometheus.Gauge

	// HTTP/livefeed metrics.
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	LivefeedConnections  prometheus.Gauge
}

var (
	global *Metrics
	once   sync.Once
)

// Get returns the process-wide Metrics instance, constructing it on first
// call.
func Get() *Metrics {
	once.Do(func() {
		global = initialize()
	})
	return global
}

func initialize() *Metrics {
	m := &Metrics{}

	m.AdmissionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aegis",
			Subsystem: "trust",
			Name:      "admission_outcomes_total",
			Help:      "Observation packet admission outcomes by kind",
		},
		[]string{"kind"},
	)

	m.TrackingOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aegis",
			Subsystem: "tracking",
			Name:      "outcomes_total",
			Help:      "Observation processing outcomes by kind",
		},
		[]string{"kind"},
	)

	m.TracksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "aegis",
			Subsystem: "tracking",
			Name:      "tracks_active",
			Help:      "Number of currently active fused tracks",
		},
	)

	m.AssociationGateMs = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "aegis",
			Subsystem: "tracking",
			Name:      "association_mahalanobis",
			Help:      "Mahalanobis^2 distance of the accepted association candidate",
			Buckets:   []float64{0.1, 0.5, 1, 2, 4, 7.815, 12, 20},
		},
	)

	m.NATSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aegis",
			Subsystem: "bus",
			Name:      "messages_received_total",
			Help:      "Total bus messages received",
		},
		[]string{"subject"},
	)

	m.NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aegis",
			Subsystem: "bus",
			Name:      "messages_published_total",
			Help:      "Total bus messages published",
		},
		[]string{"subject"},
	)

	m.NATSConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "aegis",
			Subsystem: "bus",
			Name:      "connection_status",
			Help:      "Bus connection status (1 = connected, 0 = disconnected)",
		},
	)

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aegis",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aegis",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path"},
	)

	m.LivefeedConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "aegis",
			Subsystem: "livefeed",
			Name:      "connections_active",
			Help:      "Number of active livefeed WebSocket connections",
		},
	)

	return m
}

// Handler exposes the /metrics scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAdmission increments the admission-outcome counter for kind.
func (m *Metrics) RecordAdmission(kind string) {
	m.AdmissionOutcomes.WithLabelValues(kind).Inc()
}

// RecordTrackingOutcome increments the tracking-outcome counter for kind.
func (m *Metrics) RecordTrackingOutcome(kind string) {
	m.TrackingOutcomes.WithLabelValues(kind).Inc()
}

// SetNATSConnected reflects the bus connection state as 1/0.
func (m *Metrics) SetNATSConnected(connected bool) {
	if connected {
		m.NATSConnectionStatus.Set(1)
		return
	}
	m.NATSConnectionStatus.Set(0)
}

// HTTPMiddleware wraps a handler with request-count and latency
// collection.
func HTTPMiddleware(next http.Handler) http.Handler {
	m := Get()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
