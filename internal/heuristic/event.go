package heuristic

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event-related errors.
var (
	ErrEmptyEventText = errors.New("event text cannot be empty")
	ErrEmptySource    = errors.New("event source cannot be empty")
)

// Salience is a multi-dimensional measure of how much attention an event
// deserves. Each dimension is in [0, 1]. The reduction of these dimensions
// into a single routing priority is a pluggable policy (see router.SalienceScorer),
// not a fixed formula.
type Salience struct {
	// Threat measures potential harm if the event is ignored.
	Threat float64 `json:"threat"`

	// Novelty measures dissimilarity to recently observed events.
	Novelty float64 `json:"novelty"`

	// Urgency measures time sensitivity.
	Urgency float64 `json:"urgency"`

	// Relevance measures similarity to known heuristic conditions.
	Relevance float64 `json:"relevance"`
}

// Event is a single observation flowing through the router. Immutable once
// created; the embedding is computed once, either by the caller or lazily by
// the scorer.
type Event struct {
	// ID is the unique event identifier (UUID).
	ID string `json:"id"`

	// Timestamp is when the event was observed.
	Timestamp time.Time `json:"timestamp"`

	// Source identifies the domain the event came from (e.g. "motion",
	// "calendar", "cli").
	Source string `json:"source"`

	// Text is the raw textual rendering of the event, used for embedding
	// and keyword matching.
	Text string `json:"text"`

	// Embedding is the fixed-width vector for Text. May be nil; the
	// scorer fills it in lazily.
	Embedding []float32 `json:"embedding,omitempty"`

	// Salience is the event's attention score. Zero value until the
	// router evaluates it.
	Salience Salience `json:"salience"`

	// Payload carries structured, source-specific fields.
	Payload map[string]any `json:"payload,omitempty"`
}

// NewEvent creates an event with a generated UUID and the current time.
func NewEvent(source, text string) (*Event, error) {
	if source == "" {
		return nil, ErrEmptySource
	}
	if text == "" {
		return nil, ErrEmptyEventText
	}
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Source:    source,
		Text:      text,
	}, nil
}
