package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the server's metrics. All Record methods are safe to call
// on a nil *Registry so services can run without metrics in tests.
type Registry struct {
	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Master secret lifecycle
	VerifyAttemptsTotal *prometheus.CounterVec
	RotationsTotal      *prometheus.CounterVec
	RotationRecords     prometheus.Histogram
	RotationDuration    prometheus.Histogram

	// Websocket
	WebSocketConnections prometheus.Gauge
	BroadcastsTotal      *prometheus.CounterVec

	registry *prometheus.Registry
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
	}

	r.initHTTPMetrics()
	r.initVaultMetrics()
	r.initWebSocketMetrics()

	return r
}

func (r *Registry) initHTTPMetrics() {
	r.HTTPRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkvault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	r.HTTPRequestDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zkvault_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
}

func (r *Registry) initVaultMetrics() {
	r.VerifyAttemptsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkvault_verify_attempts_total",
			Help: "Master secret verification attempts by result",
		},
		[]string{"result"},
	)

	r.RotationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkvault_rotations_total",
			Help: "Master secret rotations by outcome",
		},
		[]string{"status"},
	)

	r.RotationRecords = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zkvault_rotation_records",
			Help:    "Number of records re-encrypted per successful rotation",
			Buckets: []float64{0, 10, 50, 100, 500, 1000, 5000},
		},
	)

	r.RotationDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zkvault_rotation_duration_seconds",
			Help:    "Time spent applying a rotation commit",
			Buckets: prometheus.DefBuckets,
		},
	)
}

func (r *Registry) initWebSocketMetrics() {
	r.WebSocketConnections = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "zkvault_websocket_connections",
			Help: "Currently registered websocket clients",
		},
	)

	r.BroadcastsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkvault_websocket_broadcasts_total",
			Help: "Events pushed to user devices by type",
		},
		[]string{"type"},
	)
}

func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordVerifyAttempt counts a verification by result: "success",
// "failure" or "blocked".
func (r *Registry) RecordVerifyAttempt(result string) {
	if r == nil {
		return
	}
	r.VerifyAttemptsTotal.WithLabelValues(result).Inc()
}

func (r *Registry) RecordRotation(status string, records int, duration time.Duration) {
	if r == nil {
		return
	}
	r.RotationsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		r.RotationRecords.Observe(float64(records))
	}
	r.RotationDuration.Observe(duration.Seconds())
}

func (r *Registry) SetWebSocketConnections(n int) {
	if r == nil {
		return
	}
	r.WebSocketConnections.Set(float64(n))
}

func (r *Registry) RecordBroadcast(msgType string) {
	if r == nil {
		return
	}
	r.BroadcastsTotal.WithLabelValues(msgType).Inc()
}

func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
