package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	activeSessions       prometheus.Gauge
	sessionsCreated      *prometheus.CounterVec // by transport
	sessionsDisconnected prometheus.Counter

	// Broadcast metrics
	broadcastFanout   prometheus.Histogram
	broadcastDuration prometheus.Histogram
	messagesBroadcast prometheus.Counter
	deliveryFailures  prometheus.Counter

	// Traffic metrics
	commandsReceived *prometheus.CounterVec // by command
	bytesDownloaded  prometheus.Counter
	rateLimited      prometheus.Counter
}

// NewMetrics creates a metrics set registered with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "lanchat_active_sessions",
				Help: "Current number of sessions registered for broadcasts",
			},
		),
		sessionsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lanchat_sessions_created_total",
				Help: "Total number of sessions created",
			},
			[]string{"transport"},
		),
		sessionsDisconnected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lanchat_sessions_disconnected_total",
				Help: "Total number of sessions disconnected",
			},
		),
		broadcastFanout: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lanchat_broadcast_fanout",
				Help:    "Number of sessions that received each broadcast",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
		broadcastDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lanchat_broadcast_duration_seconds",
				Help:    "Time taken to deliver a broadcast to every session",
				Buckets: prometheus.DefBuckets,
			},
		),
		messagesBroadcast: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lanchat_messages_broadcast_total",
				Help: "Total number of broadcasts (unique messages, not deliveries)",
			},
		),
		deliveryFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lanchat_delivery_failures_total",
				Help: "Total number of broadcast deliveries that failed",
			},
		),
		commandsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lanchat_commands_received_total",
				Help: "Total number of commands received by command name",
			},
			[]string{"command"},
		),
		bytesDownloaded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lanchat_download_bytes_total",
				Help: "Total number of file bytes streamed to clients",
			},
		),
		rateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lanchat_messages_rate_limited_total",
				Help: "Total number of chat messages rejected by the rate limit",
			},
		),
	}
}

// RecordActiveSessions updates the active session count
func (m *Metrics) RecordActiveSessions(count int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(count))
}

// RecordSessionCreated increments the session creation counter
func (m *Metrics) RecordSessionCreated(transport string) {
	if m == nil {
		return
	}
	m.sessionsCreated.WithLabelValues(transport).Inc()
}

// RecordSessionDisconnected increments the session disconnection counter
func (m *Metrics) RecordSessionDisconnected() {
	if m == nil {
		return
	}
	m.sessionsDisconnected.Inc()
}

// RecordBroadcast records one broadcast's fanout and duration
func (m *Metrics) RecordBroadcast(recipients int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.messagesBroadcast.Inc()
	m.broadcastFanout.Observe(float64(recipients))
	m.broadcastDuration.Observe(durationSeconds)
}

// RecordDeliveryFailure increments the failed delivery counter
func (m *Metrics) RecordDeliveryFailure() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}

// RecordCommand increments the counter for a command name
func (m *Metrics) RecordCommand(command string) {
	if m == nil {
		return
	}
	if !knownCommands[command] {
		command = "unknown"
	}
	m.commandsReceived.WithLabelValues(command).Inc()
}

// RecordDownload adds streamed file bytes
func (m *Metrics) RecordDownload(bytes int64) {
	if m == nil {
		return
	}
	m.bytesDownloaded.Add(float64(bytes))
}

// RecordRateLimited increments the rate limited counter
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
