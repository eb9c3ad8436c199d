package heuristic

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Fire-related errors.
var (
	ErrFireNotFound       = errors.New("fire not found")
	ErrOutcomeAlreadySet  = errors.New("fire outcome already recorded")
	ErrEmptyHeuristicID   = errors.New("heuristic ID cannot be empty")
	ErrEmptyEventID       = errors.New("event ID cannot be empty")
	ErrInvalidFireOutcome = errors.New("outcome must be 'unknown', 'success', or 'failure'")
)

// Outcome is the eventual resolution of a fire.
type Outcome string

const (
	// OutcomeUnknown means no feedback has arrived yet.
	OutcomeUnknown Outcome = "unknown"

	// OutcomeSuccess means the fire was confirmed helpful.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure means the fire was contradicted (undo, negative
	// rating, repeated ignores).
	OutcomeFailure Outcome = "failure"
)

// FeedbackSource identifies how an outcome was determined.
type FeedbackSource string

const (
	// FeedbackNone means the outcome is still unknown.
	FeedbackNone FeedbackSource = "none"

	// FeedbackExplicit means a user rated the fire directly.
	FeedbackExplicit FeedbackSource = "explicit"

	// FeedbackImplicit means the outcome was inferred (undo pattern,
	// silence within the watch window, ignore streak).
	FeedbackImplicit FeedbackSource = "implicit"
)

// Fire records a heuristic being used to answer (or inform) a decision for a
// specific event. Append-only except for the single outcome transition:
// Outcome and FeedbackSource are filled in later, at most once, by the
// learning strategy or the outcome watcher's timeout path.
type Fire struct {
	// ID is the unique fire identifier (UUID).
	ID string `json:"id"`

	// HeuristicID is the heuristic that fired.
	HeuristicID string `json:"heuristic_id"`

	// EventID is the event the heuristic answered.
	EventID string `json:"event_id"`

	// FiredAt is when the fire happened.
	FiredAt time.Time `json:"fired_at"`

	// Outcome is the resolution of the fire, unknown until feedback.
	Outcome Outcome `json:"outcome"`

	// FeedbackSource records how the outcome was determined.
	FeedbackSource FeedbackSource `json:"feedback_source"`
}

// NewFire creates a fire with outcome unknown.
func NewFire(heuristicID, eventID string) (*Fire, error) {
	if heuristicID == "" {
		return nil, ErrEmptyHeuristicID
	}
	if eventID == "" {
		return nil, ErrEmptyEventID
	}
	return &Fire{
		ID:             uuid.New().String(),
		HeuristicID:    heuristicID,
		EventID:        eventID,
		FiredAt:        time.Now(),
		Outcome:        OutcomeUnknown,
		FeedbackSource: FeedbackNone,
	}, nil
}

// Resolve applies the one permitted outcome transition. Returns
// ErrOutcomeAlreadySet if the fire has already been resolved.
func (f *Fire) Resolve(outcome Outcome, source FeedbackSource) error {
	if outcome != OutcomeSuccess && outcome != OutcomeFailure {
		return ErrInvalidFireOutcome
	}
	if f.Outcome != OutcomeUnknown {
		return ErrOutcomeAlreadySet
	}
	f.Outcome = outcome
	f.FeedbackSource = source
	return nil
}
