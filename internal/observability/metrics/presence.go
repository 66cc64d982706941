package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PresenceConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_connections_active",
			Help: "Number of live WebSocket connections registered with the hub",
		},
	)

	PresenceEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_evictions_total",
			Help: "Total number of stale connections evicted on reconnect",
		},
	)

	PresenceSubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_subscriptions_active",
			Help: "Number of (event, user) subscription entries",
		},
	)

	PresenceEventsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_events_emitted_total",
			Help: "Total number of pub/sub event deliveries by event name",
		},
		[]string{"event"},
	)

	PresenceSignalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_signals_total",
			Help: "Total number of signaling relay attempts by outcome",
		},
		[]string{"outcome"},
	)

	PresenceDroppedFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_dropped_frames_total",
			Help: "Total number of frames dropped before delivery",
		},
		[]string{"reason"},
	)

	PresenceDisconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_disconnects_total",
			Help: "Total number of connection teardowns by reason",
		},
		[]string{"reason"},
	)

	PresenceHubQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_hub_queue_depth",
			Help: "Number of control messages waiting in the hub queue",
		},
	)

	PresenceFriendLookupDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "presence_friend_lookup_duration_seconds",
			Help:    "Duration of friend-list lookups triggered by hub operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)
)
