// Package reasoner provides clients for the external decision-maker the
// router consults for non-emergency events.
package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
)

// request is the wire format sent to the reasoner.
type request struct {
	Event      *heuristic.Event  `json:"event"`
	Candidates []heuristic.Match `json:"candidates"`
}

// HTTPClient calls an external reasoner over HTTP. The reasoner receives
// the event with its ranked advisory candidates and returns the final
// decision.
type HTTPClient struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewHTTPClient creates a reasoner client for url. The passed client's
// timeout applies per call; the router additionally bounds calls with a
// context deadline.
func NewHTTPClient(url string, client *http.Client, logger *zap.Logger) (*HTTPClient, error) {
	if url == "" {
		return nil, fmt.Errorf("reasoner url cannot be empty")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{url: url, client: client, logger: logger}, nil
}

// Decide implements router.Reasoner.
func (c *HTTPClient) Decide(ctx context.Context, ev *heuristic.Event, candidates []heuristic.Match) (*heuristic.ReasonerDecision, error) {
	body, err := json.Marshal(request{Event: ev, Candidates: candidates})
	if err != nil {
		return nil, fmt.Errorf("marshaling reasoner request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating reasoner request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling reasoner: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("reasoner returned %d: %s", resp.StatusCode, snippet)
	}

	var decision heuristic.ReasonerDecision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return nil, fmt.Errorf("decoding reasoner response: %w", err)
	}
	return &decision, nil
}

// Local is a standalone reasoner used when no external reasoner is
// configured: it adopts the best candidate when its score clears the
// adoption threshold and rejects the event otherwise. It makes reflexd
// usable on its own, at the cost of never producing novel answers.
type Local struct {
	// AdoptionScore is the minimum candidate score (similarity ×
	// confidence) to adopt a heuristic.
	AdoptionScore float64
}

// NewLocal creates a local reasoner with the given adoption threshold;
// values outside (0, 1) fall back to 0.35.
func NewLocal(adoptionScore float64) *Local {
	if adoptionScore <= 0 || adoptionScore >= 1 {
		adoptionScore = 0.35
	}
	return &Local{AdoptionScore: adoptionScore}
}

// Decide implements router.Reasoner.
func (l *Local) Decide(ctx context.Context, ev *heuristic.Event, candidates []heuristic.Match) (*heuristic.ReasonerDecision, error) {
	if len(candidates) == 0 || candidates[0].Score < l.AdoptionScore {
		return &heuristic.ReasonerDecision{
			Path:     heuristic.DecisionRejected,
			Response: "",
		}, nil
	}
	best := candidates[0]
	return &heuristic.ReasonerDecision{
		Path:                 heuristic.DecisionHeuristic,
		Response:             best.Heuristic.SuggestedAction,
		MatchedHeuristicID:   best.Heuristic.ID,
		PredictedSuccess:     true,
		PredictionConfidence: best.Heuristic.Confidence(),
	}, nil
}
