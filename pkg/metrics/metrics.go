// Package metrics provides Prometheus metrics for the chat service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks live websocket connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_connections",
			Help: "Number of currently open websocket connections",
		},
	)

	// OnlineUsers tracks users with at least one live connection.
	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_online_users",
			Help: "Number of users with at least one open connection",
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total number of persisted chat messages",
		},
		[]string{"type"},
	)

	// MessagesDeduplicated counts sends answered from the idempotency cache.
	MessagesDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_deduplicated_total",
			Help: "Total number of retried sends answered with an existing message",
		},
	)

	RoomsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rooms_closed_total",
			Help: "Total number of chat rooms closed",
		},
		[]string{"cause"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_rate_limited_total",
			Help: "Total number of sends rejected by the per-user rate limiter",
		},
	)

	// ClientsEvicted counts connections closed because their send queue was full.
	ClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_clients_evicted_total",
			Help: "Total number of websocket connections closed for falling behind",
		},
	)

	GatewayEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_gateway_events_total",
			Help: "Inbound websocket events by type and outcome",
		},
		[]string{"event", "outcome"},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_notifications_total",
			Help: "Offline notifications by outcome",
		},
		[]string{"outcome"},
	)

	// StoreDuration tracks persistence latency of service operations.
	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_operation_duration_seconds",
			Help:    "Duration of chat service operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func RecordConnectionOpened() {
	ActiveConnections.Inc()
}

func RecordConnectionClosed() {
	ActiveConnections.Dec()
}

func RecordMessageSent(messageType string) {
	MessagesSent.WithLabelValues(messageType).Inc()
}

func RecordRoomClosed(cause string) {
	RoomsClosed.WithLabelValues(cause).Inc()
}

func RecordClientEvicted() {
	ClientsEvicted.Inc()
}

func RecordGatewayEvent(event, outcome string) {
	GatewayEvents.WithLabelValues(event, outcome).Inc()
}

func RecordNotification(outcome string) {
	Notifications.WithLabelValues(outcome).Inc()
}

func ObserveOperation(operation string, start time.Time) {
	StoreDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
