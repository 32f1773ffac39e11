package rpcserver

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Observer receives server events. Implementations must be safe for
// concurrent use. A nil Observer in Params is replaced by NoopObserver.
type Observer interface {
	// ConnectionOpened is called when a WebSocket connection is accepted.
	ConnectionOpened()
	// ConnectionClosed is called when a WebSocket connection ends.
	ConnectionClosed()
	// CallCompleted is called after each dispatched call with its outcome.
	CallCompleted(method, transport string, success bool, duration time.Duration)
	// SubscriptionOpened is called when a subscription is established.
	SubscriptionOpened(method string)
	// SubscriptionClosed is called when a subscription ends.
	SubscriptionClosed(method string)
}

// NoopObserver ignores all events.
type NoopObserver struct{}

func (NoopObserver) ConnectionOpened()                                 {}
func (NoopObserver) ConnectionClosed()                                 {}
func (NoopObserver) CallCompleted(string, string, bool, time.Duration) {}
func (NoopObserver) SubscriptionOpened(string)                         {}
func (NoopObserver) SubscriptionClosed(string)                         {}

// Metrics is a Prometheus-backed Observer.
type Metrics struct {
	CallsTotal          *prometheus.CounterVec
	CallDuration        *prometheus.HistogramVec
	ActiveConnections   prometheus.Gauge
	ActiveSubscriptions *prometheus.GaugeVec
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		CallsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rpcgate",
				Name:      "calls_total",
				Help:      "Total number of JSON-RPC calls dispatched",
			},
			[]string{"method", "transport", "status"}, // status=ok/error
		),
		CallDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rpcgate",
				Name:      "call_duration_seconds",
				Help:      "JSON-RPC call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ActiveConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "rpcgate",
				Name:      "active_connections",
				Help:      "Number of active WebSocket connections",
			},
		),
		ActiveSubscriptions: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "rpcgate",
				Name:      "active_subscriptions",
				Help:      "Number of active subscriptions",
			},
			[]string{"method"},
		),
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rpcgate",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rpcgate",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}
}

// ConnectionOpened implements Observer.
func (m *Metrics) ConnectionOpened() { m.ActiveConnections.Inc() }

// ConnectionClosed implements Observer.
func (m *Metrics) ConnectionClosed() { m.ActiveConnections.Dec() }

// CallCompleted implements Observer.
func (m *Metrics) CallCompleted(method, transport string, success bool, duration time.Duration) {
	status := "ok"
	if !success {
		status = "error"
	}
	m.CallsTotal.WithLabelValues(method, transport, status).Inc()
	m.CallDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// SubscriptionOpened implements Observer.
func (m *Metrics) SubscriptionOpened(method string) {
	m.ActiveSubscriptions.WithLabelValues(method).Inc()
}

// SubscriptionClosed implements Observer.
func (m *Metrics) SubscriptionClosed(method string) {
	m.ActiveSubscriptions.WithLabelValues(method).Dec()
}

// HTTPMetricsMiddleware wraps an HTTP handler to record request metrics.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			// Wrap ResponseWriter to capture status code
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			metrics.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(r.Method, statusToLabel(wrapped.status)).Inc()
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func statusToLabel(code int) string {
	if code >= 200 && code < 400 {
		return "ok"
	}
	return "error"
}
