package heuristic

import "time"

// Match is a heuristic surfaced as possibly relevant to an event.
type Match struct {
	// Heuristic is a snapshot of the matched heuristic.
	Heuristic *Heuristic `json:"heuristic"`

	// Similarity is the cosine similarity between the event and the
	// heuristic's condition.
	Similarity float64 `json:"similarity"`

	// Score is Similarity × the heuristic's confidence. Candidates are
	// ranked descending by Score.
	Score float64 `json:"score"`
}

// RoutePath is the path an event took through the router.
type RoutePath string

const (
	// PathEmergency means the event was answered immediately from a
	// single very-high-similarity, very-high-threat match without
	// consulting the reasoner.
	PathEmergency RoutePath = "emergency"

	// PathQueued means the event was enqueued with its candidate list
	// for the reasoner to decide.
	PathQueued RoutePath = "queued"
)

// RoutingDecision is the router's synchronous answer to a route call.
type RoutingDecision struct {
	// EventID is the routed event.
	EventID string `json:"event_id"`

	// Path is the route taken.
	Path RoutePath `json:"path"`

	// Priority is the scalar reduction of the event's salience.
	Priority float64 `json:"priority"`

	// Candidates is the advisory candidate list handed to the reasoner.
	// For emergency events it holds the single answering match.
	Candidates []Match `json:"candidates,omitempty"`

	// Response is set on the emergency path: the suggested action of the
	// answering heuristic.
	Response string `json:"response,omitempty"`

	// FireID is set when a heuristic fired for this event.
	FireID string `json:"fire_id,omitempty"`

	// Deadline is when a queued event will be force-resolved with a
	// default outcome.
	Deadline time.Time `json:"deadline,omitempty"`
}

// DecisionPath is how the reasoner arrived at its response.
type DecisionPath string

const (
	// DecisionHeuristic means the reasoner adopted a candidate heuristic.
	DecisionHeuristic DecisionPath = "heuristic"

	// DecisionReasoned means the reasoner produced a fresh answer.
	DecisionReasoned DecisionPath = "reasoned"

	// DecisionRejected means the reasoner declined to act on the event.
	DecisionRejected DecisionPath = "rejected"

	// DecisionFallback means a default answer was substituted (reasoner
	// unavailable or the queued event timed out).
	DecisionFallback DecisionPath = "fallback"
)

// ReasonerDecision is the external reasoner's answer for a queued event.
type ReasonerDecision struct {
	// Path is how the response was produced.
	Path DecisionPath `json:"path"`

	// Response is the decided action or answer.
	Response string `json:"response"`

	// MatchedHeuristicID is set when Path is DecisionHeuristic.
	MatchedHeuristicID string `json:"matched_heuristic_id,omitempty"`

	// PredictedSuccess is the reasoner's forecast of whether the response
	// will be accepted.
	PredictedSuccess bool `json:"predicted_success"`

	// PredictionConfidence is the reasoner's confidence in that forecast.
	PredictionConfidence float64 `json:"prediction_confidence"`
}
