package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transport metrics for monitoring the push connection lifecycle
var (
	TransportConnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_transport_connects_total",
		Help: "Total number of push-transport connection attempts",
	}, []string{"transport", "status"})

	TransportReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_transport_reconnects_total",
		Help: "Total number of transport redials after a drop",
	})

	TransportConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portal_transport_connected",
		Help: "Whether a push-transport handle is currently open (0/1)",
	})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_events_published_total",
		Help: "Total number of events published on the push transport",
	}, []string{"event", "status"})

	EventsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_events_dispatched_total",
		Help: "Total number of push events dispatched to handlers",
	}, []string{"event"})
)

// Messaging metrics
var (
	MessagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_messages_sent_total",
		Help: "Total number of messages sent",
	}, []string{"kind", "status"})

	MessagesReconciledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_messages_reconciled_total",
		Help: "Total number of pending messages reconciled against server truth",
	}, []string{"source"}) // "confirmation", "push_echo"

	PushMessagesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_push_messages_dropped_total",
		Help: "Total number of push messages dropped for unjoined conversations",
	})
)

// Call session metrics
var (
	CallSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_call_sessions_total",
		Help: "Total number of call sessions by final state",
	}, []string{"state"})

	CallSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portal_call_sessions_active",
		Help: "Current number of non-terminal call sessions",
	})
)

// Notification poller metrics
var (
	NotificationFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_notification_fetches_total",
		Help: "Total number of notification fetch attempts",
	}, []string{"status"}) // "ok", "rate_limited", "error"

	NotificationsUnread = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portal_notifications_unread",
		Help: "Current number of unread notifications in the cache",
	})
)
