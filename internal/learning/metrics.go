package learning

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks signal application outcomes. Registration happens once
// at package init so multiple strategies share the same collectors.
type Metrics struct {
	signalsApplied *prometheus.CounterVec
	applyFailures  prometheus.Counter
}

var sharedMetrics = &Metrics{
	// signalsApplied counts confidence updates by signal type and direction.
	// Labels: type (explicit, timeout, undo, ignored), direction (positive, negative)
	signalsApplied: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reflexd",
			Subsystem: "learning",
			Name:      "signals_applied_total",
			Help:      "Total confidence updates applied by signal type and direction",
		},
		[]string{"type", "direction"},
	),

	// applyFailures counts confidence updates rejected by the store.
	applyFailures: promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reflexd",
			Subsystem: "learning",
			Name:      "apply_failures_total",
			Help:      "Total confidence updates rejected by the store",
		},
	),
}

func newMetrics() *Metrics { return sharedMetrics }
