package heuristic

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors for heuristic operations.
var (
	ErrHeuristicNotFound  = errors.New("heuristic not found")
	ErrEmptyCondition     = errors.New("heuristic condition cannot be empty")
	ErrInvalidThreshold   = errors.New("similarity threshold must be between 0.0 and 1.0")
	ErrInvalidConfidence  = errors.New("confidence must be in the open interval (0, 1)")
	ErrInvalidOrigin      = errors.New("origin must be 'learned', 'user', 'pack', or 'built_in'")
	ErrInvalidPseudoCount = errors.New("pseudo-counts must be positive")
)

// ConfidenceEpsilon bounds confidence away from 0 and 1. A heuristic is a
// belief, not a certainty: no sequence of observations may make it
// permanently unfireable or permanently infallible.
const ConfidenceEpsilon = 0.01

// Origin identifies where a heuristic came from.
type Origin string

const (
	// OriginLearned indicates the heuristic was distilled from observed
	// reasoning outcomes.
	OriginLearned Origin = "learned"

	// OriginUser indicates the heuristic was authored directly by a user.
	OriginUser Origin = "user"

	// OriginPack indicates the heuristic was loaded from a pack file.
	OriginPack Origin = "pack"

	// OriginBuiltIn indicates the heuristic ships with the daemon.
	OriginBuiltIn Origin = "built_in"
)

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	switch o {
	case OriginLearned, OriginUser, OriginPack, OriginBuiltIn:
		return true
	}
	return false
}

// Heuristic is a learned condition→action rule.
//
// The condition is matched against incoming events by embedding similarity.
// Confidence is a Beta-distribution belief maintained from feedback signals:
// the alpha/beta pseudo-counts record how much evidence supports or
// contradicts the rule, and Confidence() is the distribution mean clamped to
// the open interval (ConfidenceEpsilon, 1-ConfidenceEpsilon).
//
// Only the learning strategy mutates Alpha/Beta; everything else is mutated
// through explicit create/update/delete operations, each of which must be
// followed by a cache invalidation.
type Heuristic struct {
	// ID is the unique heuristic identifier (UUID).
	ID string `json:"id"`

	// Condition is the natural-language condition this rule fires on.
	Condition string `json:"condition"`

	// ConditionEmbedding is the embedding of Condition, computed once at
	// creation time.
	ConditionEmbedding []float32 `json:"condition_embedding,omitempty"`

	// SimilarityThreshold is the minimum cosine similarity an event must
	// reach for this heuristic to be considered a match.
	SimilarityThreshold float64 `json:"similarity_threshold"`

	// Alpha and Beta are the Beta-distribution pseudo-counts backing
	// Confidence. Both start at 1 (uniform prior).
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`

	// Origin identifies where the heuristic came from.
	Origin Origin `json:"origin"`

	// Source restricts matching to events from the same domain. Empty
	// means the heuristic applies to any source.
	Source string `json:"source,omitempty"`

	// SuggestedAction is what to do when the heuristic fires.
	SuggestedAction string `json:"suggested_action"`

	// FireCount is how many times this heuristic has been used to answer
	// an event.
	FireCount int `json:"fire_count"`

	// SuccessCount is how many fires resolved as successes.
	SuccessCount int `json:"success_count"`

	// LastFiredAt is when the heuristic last fired. Zero if never fired.
	LastFiredAt time.Time `json:"last_fired_at,omitempty"`

	// CreatedAt is when the heuristic was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the heuristic was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a heuristic with a generated UUID and a uniform prior.
func New(condition, suggestedAction, source string, origin Origin, threshold float64) (*Heuristic, error) {
	if condition == "" {
		return nil, ErrEmptyCondition
	}
	if threshold < 0.0 || threshold > 1.0 {
		return nil, ErrInvalidThreshold
	}
	if !origin.Valid() {
		return nil, ErrInvalidOrigin
	}

	now := time.Now()
	return &Heuristic{
		ID:                  uuid.New().String(),
		Condition:           condition,
		SimilarityThreshold: threshold,
		Alpha:               1,
		Beta:                1,
		Origin:              origin,
		Source:              source,
		SuggestedAction:     suggestedAction,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// Confidence returns the Beta-distribution mean alpha/(alpha+beta), clamped
// to (ConfidenceEpsilon, 1-ConfidenceEpsilon).
func (h *Heuristic) Confidence() float64 {
	return ClampConfidence(h.Alpha / (h.Alpha + h.Beta))
}

// ClampConfidence forces c into the open interval
// (ConfidenceEpsilon, 1-ConfidenceEpsilon).
func ClampConfidence(c float64) float64 {
	if c < ConfidenceEpsilon {
		return ConfidenceEpsilon
	}
	if c > 1-ConfidenceEpsilon {
		return 1 - ConfidenceEpsilon
	}
	return c
}

// Validate checks the heuristic's fields.
func (h *Heuristic) Validate() error {
	if h.ID == "" {
		return errors.New("heuristic ID cannot be empty")
	}
	if _, err := uuid.Parse(h.ID); err != nil {
		return errors.New("invalid heuristic ID format")
	}
	if h.Condition == "" {
		return ErrEmptyCondition
	}
	if h.SimilarityThreshold < 0.0 || h.SimilarityThreshold > 1.0 {
		return ErrInvalidThreshold
	}
	if h.Alpha <= 0 || h.Beta <= 0 {
		return ErrInvalidPseudoCount
	}
	if !h.Origin.Valid() {
		return ErrInvalidOrigin
	}
	if c := h.Alpha / (h.Alpha + h.Beta); c <= 0 || c >= 1 {
		return ErrInvalidConfidence
	}
	if h.FireCount < 0 || h.SuccessCount < 0 {
		return errors.New("fire counts cannot be negative")
	}
	return nil
}

// RecordFire increments the fire count and stamps LastFiredAt.
func (h *Heuristic) RecordFire(at time.Time) {
	h.FireCount++
	h.LastFiredAt = at
	h.UpdatedAt = at
}

// Clone returns a deep copy. Cache snapshots use this so cached entries never
// alias store-owned state.
func (h *Heuristic) Clone() *Heuristic {
	cp := *h
	if h.ConditionEmbedding != nil {
		cp.ConditionEmbedding = make([]float32, len(h.ConditionEmbedding))
		copy(cp.ConditionEmbedding, h.ConditionEmbedding)
	}
	return &cp
}
