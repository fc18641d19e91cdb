// Package observability exposes the controller's Prometheus metrics.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the controller's metric set. All methods are nil-safe so tests
// and degraded boots can pass a nil *Metrics.
type Metrics struct {
	telemetryTotal    *prometheus.CounterVec
	decisionsTotal    *prometheus.CounterVec
	encodingsTotal    *prometheus.CounterVec
	eventlogErrors    prometheus.Counter
	decisionDuration  prometheus.Histogram
	relayState        *prometheus.GaugeVec
	weatherCBState    prometheus.Gauge
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		telemetryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_messages_total",
			Help: "Telemetry messages seen, by handling result.",
		}, []string{"result"}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "decisions_total",
			Help: "Decision cycles, by action and reason.",
		}, []string{"action", "reason"}),
		encodingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "actuation_encodings_total",
			Help: "Relay payload encoding attempts, by encoding and result.",
		}, []string{"encoding", "result"}),
		eventlogErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventlog_errors_total",
			Help: "Audit log append failures.",
		}),
		decisionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "decision_duration_seconds",
			Help:    "Histogram of decision cycle durations.",
			Buckets: prometheus.DefBuckets,
		}),
		relayState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_state",
			Help: "Commanded relay state per device (1 on, 0 off).",
		}, []string{"device_id"}),
		weatherCBState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weather_cb_state",
			Help: "Weather client circuit breaker state (0 closed, 1 half, 2 open).",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	prometheus.MustRegister(
		m.telemetryTotal,
		m.decisionsTotal,
		m.encodingsTotal,
		m.eventlogErrors,
		m.decisionDuration,
		m.relayState,
		m.weatherCBState,
		m.httpRequestsTotal,
		m.httpDuration,
	)

	return m
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler records request counts and durations for one route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func (m *Metrics) TelemetrySeen(result string) {
	if m == nil {
		return
	}
	m.telemetryTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) DecisionMade(action, reason string, took time.Duration) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(action, reason).Inc()
	m.decisionDuration.Observe(took.Seconds())
}

func (m *Metrics) EncodingResult(encoding string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.encodingsTotal.WithLabelValues(encoding, result).Inc()
}

func (m *Metrics) EventlogError() {
	if m == nil {
		return
	}
	m.eventlogErrors.Inc()
}

func (m *Metrics) SetRelayState(deviceID string, on bool) {
	if m == nil {
		return
	}
	v := 0.0
	if on {
		v = 1.0
	}
	m.relayState.WithLabelValues(deviceID).Set(v)
}

func (m *Metrics) SetWeatherCBState(state float64) {
	if m == nil {
		return
	}
	m.weatherCBState.Set(state)
}
