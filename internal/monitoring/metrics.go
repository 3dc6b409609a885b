// Package monitoring exposes Prometheus metrics for the extension host:
// HTTP traffic, extension lifecycle, brokered api calls and WebSocket
// activity. Each Metrics value carries its own registry so multiple
// instances (tests included) never collide.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gin-gonic/gin"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Extension lifecycle metrics
	ExtensionsActive     prometheus.Gauge
	ActivationsTotal     prometheus.Counter
	DeactivationsTotal   prometheus.Counter
	ExtensionErrorsTotal *prometheus.CounterVec

	// API brokering metrics
	APICallsTotal   *prometheus.CounterVec
	APICallDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a metrics collector with a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry:  registry,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "host_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		ExtensionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "host_extensions_active",
				Help: "Number of active extension runtimes",
			},
		),
		ActivationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "host_extension_activations_total",
				Help: "Total number of successful activations",
			},
		),
		DeactivationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "host_extension_deactivations_total",
				Help: "Total number of deactivations",
			},
		),
		ExtensionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_extension_errors_total",
				Help: "Total number of extension errors",
			},
			[]string{"extension_id"},
		),

		APICallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_api_calls_total",
				Help: "Total number of brokered capability calls",
			},
			[]string{"method", "status"},
		),
		APICallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "host_api_call_duration_seconds",
				Help:    "Capability call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "host_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "host_uptime_seconds",
				Help: "Host uptime in seconds",
			},
		),
	}

	return m
}

// Handler serves this collector's registry in the Prometheus text
// format.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordHTTPRequest records one HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ExtensionActivated implements the registry metrics hook.
func (m *Metrics) ExtensionActivated(id string) {
	m.ActivationsTotal.Inc()
	m.ExtensionsActive.Inc()
}

// ExtensionDeactivated implements the registry metrics hook.
func (m *Metrics) ExtensionDeactivated(id string) {
	m.DeactivationsTotal.Inc()
	m.ExtensionsActive.Dec()
}

// ExtensionError implements the registry metrics hook.
func (m *Metrics) ExtensionError(id string) {
	m.ExtensionErrorsTotal.WithLabelValues(id).Inc()
}

// APICall implements the registry metrics hook.
func (m *Metrics) APICall(method string, success bool, elapsed time.Duration) {
	status := "ok"
	if !success {
		status = "error"
	}
	m.APICallsTotal.WithLabelValues(method, status).Inc()
	m.APICallDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// RecordWSMessage records one WebSocket message.
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments the WebSocket connection gauge.
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements the WebSocket connection gauge.
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}
