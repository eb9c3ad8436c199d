package router

import (
	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
)

// SalienceScorer computes an event's multi-dimensional salience and
// reduces it to a scalar routing priority. The reduction is
// context-dependent policy, so it lives behind an interface rather than
// a fixed formula; WeightedSalience is the default.
type SalienceScorer interface {
	// Score fills in the salience dimensions for an event given its
	// candidate matches.
	Score(ev *heuristic.Event, matches []heuristic.Match) heuristic.Salience

	// Reduce collapses a salience vector into a single priority in [0, 1].
	Reduce(s heuristic.Salience) float64
}

// NoveltyTracker answers whether an embedding resembles anything seen
// recently. *cache.Cache satisfies this.
type NoveltyTracker interface {
	Observe(embedding []float32)
	IsNovel(embedding []float32, threshold float64) bool
}

// Weights are the per-dimension coefficients for the scalar reduction.
type Weights struct {
	Threat    float64 `json:"threat"`
	Novelty   float64 `json:"novelty"`
	Urgency   float64 `json:"urgency"`
	Relevance float64 `json:"relevance"`
}

// DefaultWeights favor threat and urgency over novelty and relevance.
func DefaultWeights() Weights {
	return Weights{Threat: 0.4, Novelty: 0.15, Urgency: 0.3, Relevance: 0.15}
}

// WeightedSalience is the default salience policy: threat and urgency
// come from the event payload, novelty from the recent-event window, and
// relevance from the best candidate's similarity. Reduce is a normalized
// weighted sum.
type WeightedSalience struct {
	weights          Weights
	novelty          NoveltyTracker
	noveltyThreshold float64
}

// NewWeightedSalience creates the default salience scorer. novelty may
// be nil, in which case every event scores a neutral novelty of 0.5.
func NewWeightedSalience(weights Weights, novelty NoveltyTracker, noveltyThreshold float64) *WeightedSalience {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	if noveltyThreshold <= 0 || noveltyThreshold >= 1 {
		noveltyThreshold = 0.85
	}
	return &WeightedSalience{
		weights:          weights,
		novelty:          novelty,
		noveltyThreshold: noveltyThreshold,
	}
}

func (w *WeightedSalience) Score(ev *heuristic.Event, matches []heuristic.Match) heuristic.Salience {
	s := heuristic.Salience{
		Threat:  payloadDimension(ev, "threat"),
		Urgency: payloadDimension(ev, "urgency"),
		Novelty: 0.5,
	}

	if w.novelty != nil && len(ev.Embedding) > 0 {
		if w.novelty.IsNovel(ev.Embedding, w.noveltyThreshold) {
			s.Novelty = 1.0
		} else {
			s.Novelty = 0.2
		}
		w.novelty.Observe(ev.Embedding)
	}

	if len(matches) > 0 {
		s.Relevance = clamp01(matches[0].Similarity)
	}
	return s
}

func (w *WeightedSalience) Reduce(s heuristic.Salience) float64 {
	total := w.weights.Threat + w.weights.Novelty + w.weights.Urgency + w.weights.Relevance
	if total <= 0 {
		return 0
	}
	sum := w.weights.Threat*s.Threat +
		w.weights.Novelty*s.Novelty +
		w.weights.Urgency*s.Urgency +
		w.weights.Relevance*s.Relevance
	return clamp01(sum / total)
}

// payloadDimension reads a [0, 1] float dimension from the event payload.
// Missing or malformed values score zero.
func payloadDimension(ev *heuristic.Event, key string) float64 {
	if ev.Payload == nil {
		return 0
	}
	switch v := ev.Payload[key].(type) {
	case float64:
		return clamp01(v)
	case float32:
		return clamp01(float64(v))
	case int:
		return clamp01(float64(v))
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// degradedSalience is substituted when the scorer is unavailable. High
// urgency guarantees the event is still queued near the front and seen.
func degradedSalience() heuristic.Salience {
	return heuristic.Salience{Threat: 0.5, Novelty: 0.5, Urgency: 0.9, Relevance: 0}
}
