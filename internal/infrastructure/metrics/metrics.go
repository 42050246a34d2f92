// Package metrics provides Prometheus metrics for the chatsync client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesSent counts send attempts by outcome (emitted, failed, upload_failed).
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_messages_sent_total",
			Help: "Total number of outbound messages by result",
		},
		[]string{"result"},
	)

	// MessagesReceived counts inbound messages applied to the open conversation.
	MessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_messages_received_total",
			Help: "Total number of inbound messages applied to a conversation",
		},
	)

	// MessagesDropped counts inbound messages rejected by dedupe or relevance filtering.
	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_messages_dropped_total",
			Help: "Total number of inbound messages dropped",
		},
		[]string{"reason"},
	)

	// DeliveryAckLatency tracks time from emission to delivery acknowledgment.
	DeliveryAckLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatsync_delivery_ack_latency_seconds",
			Help:    "Latency between send_message and message_delivered",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// DeliveryTimeouts counts sends whose acknowledgment never arrived.
	DeliveryTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_delivery_timeouts_total",
			Help: "Total number of messages kept as sent without acknowledgment",
		},
	)

	// StoreFallbacks counts conversation loads served from the local cache.
	StoreFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_store_fallbacks_total",
			Help: "Total number of store failures answered from the local cache",
		},
		[]string{"operation"},
	)

	// Uploads counts attachment uploads by kind and result.
	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_uploads_total",
			Help: "Total number of attachment uploads",
		},
		[]string{"kind", "result"},
	)

	// ChannelConnected is 1 while the realtime channel is connected.
	ChannelConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_channel_connected",
			Help: "Whether the realtime channel is currently connected",
		},
	)

	// ReconnectAttempts counts realtime reconnection attempts.
	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_channel_reconnect_attempts_total",
			Help: "Total number of realtime channel reconnection attempts",
		},
	)

	// InvalidFrames counts inbound frames rejected at the channel boundary.
	InvalidFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_channel_invalid_frames_total",
			Help: "Total number of inbound frames rejected by validation",
		},
		[]string{"event"},
	)
)

// RecordSend increments the send counter for a result.
func RecordSend(result string) {
	MessagesSent.WithLabelValues(result).Inc()
}

// RecordDropped increments the dropped counter for a reason.
func RecordDropped(reason string) {
	MessagesDropped.WithLabelValues(reason).Inc()
}

// RecordUpload increments the upload counter.
func RecordUpload(kind, result string) {
	Uploads.WithLabelValues(kind, result).Inc()
}

// RecordChannelState sets the connected gauge.
func RecordChannelState(connected bool) {
	if connected {
		ChannelConnected.Set(1)
		return
	}
	ChannelConnected.Set(0)
}
