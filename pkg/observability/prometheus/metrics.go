package prometheus

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry   *prometheus.Registry
	registerer prometheus.Registerer

	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Agent invocation metrics
	InvocationsTotal   *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec

	// Batch metrics
	BatchesTotal      *prometheus.CounterVec
	BatchDuration     *prometheus.HistogramVec
	BatchesInFlight   prometheus.Gauge
	NotificationsLost prometheus.Counter
}

// NewRegistry returns a registry preloaded with the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewMetrics creates a new metrics collection registered on reg.
// Pass a fresh registry per test to avoid duplicate registration panics.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = NewRegistry()
	}
	registerer := prometheus.WrapRegistererWith(prometheus.Labels{"service": "crosscheck"}, reg)

	return &Metrics{
		registry:   reg,
		registerer: registerer,

		HTTPRequestsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "crosscheck_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crosscheck_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		InvocationsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "crosscheck_agent_invocations_total",
				Help: "Total number of agent invocations by result (success or failure kind)",
			},
			[]string{"agent", "result"},
		),
		InvocationDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crosscheck_agent_invocation_duration_seconds",
				Help:    "Agent invocation wall-clock duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 40, 60, 120},
			},
			[]string{"agent"},
		),

		BatchesTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "crosscheck_batches_total",
				Help: "Total number of submitted batches by mode and result",
			},
			[]string{"mode", "result"}, // mode: all, subset, single; result: settled, rejected, busy
		),
		BatchDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crosscheck_batch_duration_seconds",
				Help:    "Time from batch start to settlement in seconds",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 20, 40, 60, 120},
			},
			[]string{"mode"},
		),
		BatchesInFlight: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "crosscheck_batches_in_flight",
				Help: "Number of batches currently awaiting settlement",
			},
		),
		NotificationsLost: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "crosscheck_notifications_failed_total",
				Help: "Settled batch notifications that could not be published",
			},
		),
	}
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordInvocation records one settled agent invocation.
// result is "success" or the failure kind.
func (m *Metrics) RecordInvocation(agent, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.InvocationsTotal.WithLabelValues(agent, result).Inc()
	m.InvocationDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// BatchStarted marks a batch as in flight
func (m *Metrics) BatchStarted() {
	if m == nil {
		return
	}
	m.BatchesInFlight.Inc()
}

// BatchSettled records a batch that ran to settlement
func (m *Metrics) BatchSettled(mode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.BatchesInFlight.Dec()
	m.BatchesTotal.WithLabelValues(mode, "settled").Inc()
	m.BatchDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// BatchRejected records a batch that never dispatched (blank input or busy session)
func (m *Metrics) BatchRejected(mode, reason string) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(mode, reason).Inc()
}

// NotificationFailed counts a settled batch that could not be published
func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.NotificationsLost.Inc()
}

// StatusClass converts status code to its class label
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
