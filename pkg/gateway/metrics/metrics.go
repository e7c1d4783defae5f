// Package metrics exposes Prometheus instrumentation for the voice relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec

	// Relay traffic metrics
	MessagesForwarded *prometheus.CounterVec
	AudioBytesTotal   *prometheus.CounterVec

	// Upstream metrics
	UpstreamConnectDuration prometheus.Histogram

	// Negotiation metrics
	NegotiationOutOfPhase prometheus.Counter

	// Recording metrics
	RecordingDroppedSegments *prometheus.CounterVec

	// Agent metrics
	AgentsCreatedTotal *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voicerelay"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live relay sessions",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of relay sessions by close reason",
		},
		[]string{"route", "reason"},
	)

	sessionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Relay session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"route"},
	)

	messagesForwarded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_forwarded_total",
			Help:      "Total messages forwarded between client and upstream",
		},
		[]string{"direction"},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total decoded audio bytes observed by the recording tap",
		},
		[]string{"direction"},
	)

	upstreamConnectDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_connect_duration_seconds",
			Help:      "Time spent establishing the upstream connection",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	negotiationOutOfPhase := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negotiation_out_of_phase_total",
			Help:      "Negotiation messages received in a phase that cannot accept them",
		},
	)

	recordingDroppedSegments := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_dropped_segments_total",
			Help:      "Recording segments dropped instead of buffered",
		},
		[]string{"role", "cause"},
	)

	agentsCreatedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agents_created_total",
			Help:      "Total agents created in the registry",
		},
		[]string{"kind"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"stage"},
	)

	// Register all metrics
	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		messagesForwarded,
		audioBytesTotal,
		upstreamConnectDuration,
		negotiationOutOfPhase,
		recordingDroppedSegments,
		agentsCreatedTotal,
		errorsTotal,
	)

	return &Metrics{
		registry:                 registry,
		SessionsActive:           sessionsActive,
		SessionsTotal:            sessionsTotal,
		SessionDuration:          sessionDuration,
		MessagesForwarded:        messagesForwarded,
		AudioBytesTotal:          audioBytesTotal,
		UpstreamConnectDuration:  upstreamConnectDuration,
		NegotiationOutOfPhase:    negotiationOutOfPhase,
		RecordingDroppedSegments: recordingDroppedSegments,
		AgentsCreatedTotal:       agentsCreatedTotal,
		ErrorsTotal:              errorsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStart records a new relay session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a relay session ending.
func (m *Metrics) RecordSessionEnd(route, reason string, duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(route, reason).Inc()
	m.SessionDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordForwarded records a message forwarded in the given direction.
func (m *Metrics) RecordForwarded(direction string) {
	m.MessagesForwarded.WithLabelValues(direction).Inc()
}

// RecordAudio records decoded audio bytes seen by the recording tap.
func (m *Metrics) RecordAudio(direction string, bytes int) {
	if bytes > 0 {
		m.AudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
	}
}

// RecordUpstreamConnect records the time taken to establish the upstream leg.
func (m *Metrics) RecordUpstreamConnect(duration time.Duration) {
	m.UpstreamConnectDuration.Observe(duration.Seconds())
}

// RecordNegotiationOutOfPhase records a negotiation message that arrived in
// the wrong phase and was ignored.
func (m *Metrics) RecordNegotiationOutOfPhase() {
	m.NegotiationOutOfPhase.Inc()
}

// RecordDroppedSegment records a recording segment that was dropped.
func (m *Metrics) RecordDroppedSegment(role, cause string) {
	m.RecordingDroppedSegments.WithLabelValues(role, cause).Inc()
}

// RecordAgentCreated records a new agent in the registry.
func (m *Metrics) RecordAgentCreated(kind string) {
	m.AgentsCreatedTotal.WithLabelValues(kind).Inc()
}

// RecordError records an error at the given stage.
func (m *Metrics) RecordError(stage string) {
	m.ErrorsTotal.WithLabelValues(stage).Inc()
}
