// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ConversationsTotal tracks conversations created, by type.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_conversations_total",
			Help: "Total conversations created",
		},
		[]string{"type"},
	)

	// MessagesTotal tracks messages appended to the ledger, by type.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total messages appended",
		},
		[]string{"type"},
	)

	// FanoutDuration tracks the participant fan-out step of a send.
	FanoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_fanout_duration_seconds",
			Help:    "Duration of participant fan-out",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// FanoutDegradedTotal counts sends that left stale participant rows.
	FanoutDegradedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_fanout_degraded_total",
			Help: "Sends whose participant fan-out partially failed",
		},
	)

	// RelaySessionsActive tracks open websocket sessions on this node.
	RelaySessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_sessions_active",
			Help: "Number of open relay sessions",
		},
	)

	// UsersOnline tracks users with at least one session on this node.
	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_users_online",
			Help: "Number of users with at least one session",
		},
	)

	// RelayEventsTotal counts relay events by outcome (sent, dropped).
	RelayEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Relay events by event type and outcome",
		},
		[]string{"event", "outcome"},
	)

	// BridgeMessagesTotal counts NATS bridge traffic by direction.
	BridgeMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bridge_messages_total",
			Help: "Relay envelopes exchanged with other nodes",
		},
		[]string{"direction", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordFanout records one participant fan-out.
func RecordFanout(duration float64, degraded bool) {
	FanoutDuration.Observe(duration)
	if degraded {
		FanoutDegradedTotal.Inc()
	}
}

// RecordRelayEvent records delivery of one event to one session.
func RecordRelayEvent(event string, delivered bool) {
	outcome := "sent"
	if !delivered {
		outcome = "dropped"
	}
	RelayEventsTotal.WithLabelValues(event, outcome).Inc()
}
