package heuristic

import (
	"time"

	"github.com/google/uuid"
)

// SignalType identifies the source of a confidence signal.
type SignalType string

const (
	// SignalExplicit is a direct user rating of a fire.
	SignalExplicit SignalType = "explicit"

	// SignalTimeout is silence: the watch window for a fire elapsed with
	// no complaint. Always positive.
	SignalTimeout SignalType = "timeout"

	// SignalUndo is an undo/cancel pattern observed shortly after a fire.
	SignalUndo SignalType = "undo"

	// SignalIgnored is a streak of consecutive ignores of a heuristic's
	// suggestions reaching the configured threshold.
	SignalIgnored SignalType = "ignored"
)

// Signal is a single normalized confidence observation handed to the
// learning strategy. Magnitude scales the pseudo-count increment: 1.0 for
// unambiguous explicit feedback, fractional for weaker implicit signals.
type Signal struct {
	// ID is the unique signal identifier.
	ID string `json:"id"`

	// HeuristicID is the heuristic this signal applies to.
	HeuristicID string `json:"heuristic_id"`

	// FireID is the fire that produced this signal, when known.
	FireID string `json:"fire_id,omitempty"`

	// Type identifies the signal source.
	Type SignalType `json:"type"`

	// Positive indicates whether the signal supports the heuristic.
	Positive bool `json:"positive"`

	// Magnitude is the evidence weight in (0, 1].
	Magnitude float64 `json:"magnitude"`

	// Neutral signals carry no evidence and are dropped by Apply. Used
	// for ignore counts below threshold.
	Neutral bool `json:"neutral,omitempty"`

	// Timestamp is when this signal was produced.
	Timestamp time.Time `json:"timestamp"`
}

// NewSignal creates a signal with a generated ID and current timestamp.
func NewSignal(heuristicID, fireID string, typ SignalType, positive bool, magnitude float64) Signal {
	return Signal{
		ID:          uuid.New().String(),
		HeuristicID: heuristicID,
		FireID:      fireID,
		Type:        typ,
		Positive:    positive,
		Magnitude:   magnitude,
		Timestamp:   time.Now(),
	}
}
