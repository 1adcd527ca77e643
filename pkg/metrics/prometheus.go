package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the realtime service.
// Each instance owns its registry so tests can construct metrics in isolation.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket metrics
	websocketConnections  prometheus.Gauge
	websocketEventsTotal  *prometheus.CounterVec
	websocketDroppedTotal prometheus.Counter

	// Message metrics
	messagesRelayedTotal *prometheus.CounterVec

	// Call metrics
	callsStartedTotal  *prometheus.CounterVec
	callsResolvedTotal *prometheus.CounterVec
	callsActive        prometheus.Gauge
	callDuration       *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics on a private registry
func NewMetrics(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(registry)
	constLabels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: registry,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: constLabels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: constLabels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being served",
				ConstLabels: constLabels,
			},
		),

		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of active WebSocket connections",
				ConstLabels: constLabels,
			},
		),
		websocketEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_events_total",
				Help:        "Total number of WebSocket events by name and direction",
				ConstLabels: constLabels,
			},
			[]string{"event", "direction"},
		),
		websocketDroppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "websocket_dropped_events_total",
				Help:        "Total number of outbound events dropped due to slow clients",
				ConstLabels: constLabels,
			},
		),

		messagesRelayedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "messages_relayed_total",
				Help:        "Total number of chat messages persisted and relayed",
				ConstLabels: constLabels,
			},
			[]string{"message_type"},
		),

		callsStartedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_started_total",
				Help:        "Total number of call sessions started",
				ConstLabels: constLabels,
			},
			[]string{"call_type"},
		),
		callsResolvedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_resolved_total",
				Help:        "Total number of call sessions resolved by outcome",
				ConstLabels: constLabels,
			},
			[]string{"call_type", "outcome"},
		),
		callsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of in-memory call sessions",
				ConstLabels: constLabels,
			},
		),
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "call_duration_seconds",
				Help:        "Duration of ended calls in seconds",
				ConstLabels: constLabels,
				Buckets:     []float64{10, 30, 60, 180, 600, 1800, 3600},
			},
			[]string{"call_type"},
		),
	}
}

// Registry returns the private registry for exposing via promhttp
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request with its duration
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight gauge
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the in-flight gauge
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// IncrementWebSocketConnections increments the connection gauge
func (m *Metrics) IncrementWebSocketConnections() {
	m.websocketConnections.Inc()
}

// DecrementWebSocketConnections decrements the connection gauge
func (m *Metrics) DecrementWebSocketConnections() {
	m.websocketConnections.Dec()
}

// RecordWebSocketEvent records an inbound or outbound WebSocket event
func (m *Metrics) RecordWebSocketEvent(event, direction string) {
	m.websocketEventsTotal.WithLabelValues(event, direction).Inc()
}

// RecordDroppedEvent records an outbound event dropped for a slow client
func (m *Metrics) RecordDroppedEvent() {
	m.websocketDroppedTotal.Inc()
}

// RecordMessageRelayed records a persisted and fanned-out chat message
func (m *Metrics) RecordMessageRelayed(messageType string) {
	m.messagesRelayedTotal.WithLabelValues(messageType).Inc()
}

// RecordCallStarted records a new call session and bumps the active gauge
func (m *Metrics) RecordCallStarted(callType string) {
	m.callsStartedTotal.WithLabelValues(callType).Inc()
	m.callsActive.Inc()
}

// RecordCallResolved records a resolved call session by outcome
func (m *Metrics) RecordCallResolved(callType, outcome string) {
	m.callsResolvedTotal.WithLabelValues(callType, outcome).Inc()
	m.callsActive.Dec()
}

// RecordCallDuration records the duration of an ended call
func (m *Metrics) RecordCallDuration(callType string, seconds int) {
	m.callDuration.WithLabelValues(callType).Observe(float64(seconds))
}
