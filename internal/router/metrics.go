package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsRouted counts routing decisions by path.
	// Labels: path (emergency, queued)
	eventsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reflexd",
			Subsystem: "router",
			Name:      "events_routed_total",
			Help:      "Total events routed by path",
		},
		[]string{"path"},
	)

	// queueDepth tracks the current priority queue length.
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reflexd",
			Subsystem: "router",
			Name:      "queue_depth",
			Help:      "Current number of events waiting for the reasoner",
		},
	)

	// queueTimeouts counts events force-resolved past their deadline.
	queueTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reflexd",
			Subsystem: "router",
			Name:      "queue_timeouts_total",
			Help:      "Total queued events force-resolved after their deadline",
		},
	)

	// reasonerDecisions counts reasoner answers by decision path.
	// Labels: path (heuristic, reasoned, rejected, fallback)
	reasonerDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reflexd",
			Subsystem: "router",
			Name:      "reasoner_decisions_total",
			Help:      "Total reasoner decisions by path",
		},
		[]string{"path"},
	)

	// reasonerFailures counts reasoner calls that errored or timed out.
	reasonerFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reflexd",
			Subsystem: "router",
			Name:      "reasoner_failures_total",
			Help:      "Total reasoner calls that errored or timed out",
		},
	)

	// degradedRoutes counts events routed with substituted default
	// salience because the scorer was unavailable.
	degradedRoutes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reflexd",
			Subsystem: "router",
			Name:      "degraded_routes_total",
			Help:      "Total events routed with degraded default salience",
		},
	)

	// broadcastsDropped counts responses dropped because a subscriber's
	// buffer was full.
	broadcastsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reflexd",
			Subsystem: "router",
			Name:      "broadcasts_dropped_total",
			Help:      "Total responses dropped due to slow subscribers",
		},
	)
)
