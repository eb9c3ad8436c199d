// Package learning interprets raw feedback signals into normalized
// confidence updates and applies them as bounded Bayesian adjustments.
package learning

import (
	"context"
	"strings"
	"time"

	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
)

// CreditPolicy decides which fires receive credit (blame) when an undo
// arrives after several heuristics fired in the window. Which policy is
// right is genuinely ambiguous, so it is explicit configuration rather
// than a silent choice.
type CreditPolicy string

const (
	// CreditMostRecent blames only the most recent fire in the window.
	CreditMostRecent CreditPolicy = "most_recent"

	// CreditAllInWindow blames every unresolved fire in the window.
	CreditAllInWindow CreditPolicy = "all_in_window"
)

// Strategy interprets feedback signals and applies confidence updates.
// Callers depend on this interface; BetaStrategy is the default
// implementation. Alternative algorithms (e.g. reinforcement-learning
// confidence) plug in without touching the router.
type Strategy interface {
	// InterpretExplicit converts a direct user rating into a signal.
	// Magnitude is clamped to (0, 1].
	InterpretExplicit(heuristicID, fireID string, positive bool, magnitude float64) heuristic.Signal

	// InterpretTimeout converts an expired watch window into a signal.
	// Always positive: absence of complaint is tacit approval.
	InterpretTimeout(fire *heuristic.Fire) heuristic.Signal

	// InterpretUndo scans recent fires for ones blamed by an undo-pattern
	// event, per the configured credit policy. Returns no signals when
	// the event is not an undo or no fire falls inside the window.
	InterpretUndo(ev *heuristic.Event, recentFires []*heuristic.Fire, window time.Duration) []heuristic.Signal

	// InterpretIgnored converts an ignore streak into a signal: negative
	// once the streak reaches threshold, neutral below it.
	InterpretIgnored(heuristicID string, consecutiveIgnores, threshold int) heuristic.Signal

	// Apply performs the confidence update for a signal. The update is
	// all-or-nothing against the store; on success the affected
	// heuristic is invalidated in the cache.
	Apply(ctx context.Context, sig heuristic.Signal) error
}

// Signal magnitudes by feedback strength. Explicit feedback carries full
// weight; implicit signals carry fractional weight proportional to how
// unambiguous they are.
const (
	timeoutMagnitude = 0.25
	undoMagnitude    = 0.8
	ignoredMagnitude = 0.5
)

// defaultUndoKeywords mark an event as an undo/cancel of a recent action.
var defaultUndoKeywords = []string{"undo", "cancel", "revert", "stop that", "not that"}

// IsUndoText reports whether text matches any of the given undo keywords
// (case-insensitive substring match). An empty keyword list uses the
// defaults.
func IsUndoText(text string, keywords []string) bool {
	if len(keywords) == 0 {
		keywords = defaultUndoKeywords
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
