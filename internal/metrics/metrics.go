// Package metrics provides Prometheus instrumentation for the support chat
// server: live connections, message pipeline outcomes, moderation activity
// and broadcast fan-out latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of live WebSocket
	// connections (the online count).
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "support_chat_connections_active",
		Help: "Current number of live WebSocket connections",
	})

	// MessagesTotal counts message pipeline outcomes, labeled by result:
	// "sent", "rejected", "rate_limited" or "failed".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "support_chat_messages_total",
		Help: "Total number of messages processed by the pipeline",
	}, []string{"result"})

	// CrisisSignalsTotal counts messages that matched a distress phrase.
	CrisisSignalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "support_chat_crisis_signals_total",
		Help: "Total number of messages flagged by the crisis detector",
	})

	// MessageLatency records send pipeline latency in seconds.
	MessageLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "support_chat_message_latency_seconds",
		Help:    "Message pipeline latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// ReactionsTotal counts reaction toggles, labeled by op: "added" or
	// "removed".
	ReactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "support_chat_reactions_total",
		Help: "Total number of reaction toggles",
	}, []string{"op"})

	// ReportsTotal counts report activity, labeled by outcome: "filed",
	// "duplicate", "resolved" or "rejected".
	ReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "support_chat_reports_total",
		Help: "Total number of report events",
	}, []string{"outcome"})

	// ModerationActionsTotal counts moderator actions, labeled by action.
	ModerationActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "support_chat_moderation_actions_total",
		Help: "Total number of moderator actions",
	}, []string{"action"})

	// AuthFailuresTotal counts rejected credentials, labeled by reason.
	AuthFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "support_chat_auth_failures_total",
		Help: "Total number of failed authentications",
	}, []string{"reason"})

	// BroadcastLatency records the time to fan one event out to every
	// live connection.
	BroadcastLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "support_chat_broadcast_latency_seconds",
		Help:    "Broadcast fan-out latency in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// BroadcastDropsTotal counts connections removed after a failed write.
	BroadcastDropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "support_chat_broadcast_drops_total",
		Help: "Connections dropped after a failed broadcast write",
	})

	// RevokedPurgedTotal counts expired revoked credentials removed by the
	// purge job.
	RevokedPurgedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "support_chat_revoked_purged_total",
		Help: "Expired revoked credentials purged",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		MessagesTotal,
		CrisisSignalsTotal,
		MessageLatency,
		ReactionsTotal,
		ReportsTotal,
		ModerationActionsTotal,
		AuthFailuresTotal,
		BroadcastLatency,
		BroadcastDropsTotal,
		RevokedPurgedTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
