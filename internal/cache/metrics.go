package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// lookups counts candidate lookups by result.
	// Labels: result (hit, miss)
	lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reflexd",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total candidate lookups by result",
		},
		[]string{"result"},
	)

	// evictions counts evictions by policy.
	// Labels: policy (lru, fifo)
	evictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reflexd",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total cache evictions by policy",
		},
		[]string{"policy"},
	)

	// invalidations counts explicit invalidation calls.
	invalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reflexd",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Total explicit cache invalidations",
		},
	)

	// expirations counts entries removed by lazy TTL expiry.
	expirations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reflexd",
			Subsystem: "cache",
			Name:      "expirations_total",
			Help:      "Total entries removed by lazy TTL expiry",
		},
	)

	// size tracks the current number of cached heuristic entries.
	size = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reflexd",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of cached heuristic entries",
		},
	)

	// noveltyWindowSize tracks the recent-event window occupancy.
	noveltyWindowSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reflexd",
			Subsystem: "cache",
			Name:      "novelty_window_size",
			Help:      "Current number of embeddings in the novelty window",
		},
	)
)
