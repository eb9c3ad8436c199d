package reasoner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
)

func sampleCandidates(t *testing.T, alpha, beta float64) []heuristic.Match {
	t.Helper()
	h, err := heuristic.New("lights left on after midnight", "turn off the lights", "motion", heuristic.OriginLearned, 0.6)
	require.NoError(t, err)
	h.Alpha = alpha
	h.Beta = beta
	return []heuristic.Match{{Heuristic: h, Similarity: 0.8, Score: 0.8 * h.Confidence()}}
}

func TestHTTPClient_Decide(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "movement in hallway", req.Event.Text)
		require.Len(t, req.Candidates, 1)

		json.NewEncoder(w).Encode(heuristic.ReasonerDecision{
			Path:               heuristic.DecisionHeuristic,
			Response:           "turn off the lights",
			MatchedHeuristicID: req.Candidates[0].Heuristic.ID,
		})
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.URL, server.Client(), nil)
	require.NoError(t, err)

	ev, err := heuristic.NewEvent("motion", "movement in hallway")
	require.NoError(t, err)

	decision, err := client.Decide(context.Background(), ev, sampleCandidates(t, 8, 2))
	require.NoError(t, err)
	assert.Equal(t, heuristic.DecisionHeuristic, decision.Path)
	assert.Equal(t, "turn off the lights", decision.Response)
}

func TestHTTPClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.URL, server.Client(), nil)
	require.NoError(t, err)

	ev, err := heuristic.NewEvent("motion", "movement in hallway")
	require.NoError(t, err)

	_, err = client.Decide(context.Background(), ev, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestLocal_AdoptsStrongCandidate(t *testing.T) {
	local := NewLocal(0.35)

	ev, err := heuristic.NewEvent("motion", "movement in hallway")
	require.NoError(t, err)

	decision, err := local.Decide(context.Background(), ev, sampleCandidates(t, 8, 2))
	require.NoError(t, err)
	assert.Equal(t, heuristic.DecisionHeuristic, decision.Path)
	assert.Equal(t, "turn off the lights", decision.Response)
}

func TestLocal_RejectsWeakOrMissingCandidates(t *testing.T) {
	local := NewLocal(0.35)

	ev, err := heuristic.NewEvent("motion", "movement in hallway")
	require.NoError(t, err)

	decision, err := local.Decide(context.Background(), ev, nil)
	require.NoError(t, err)
	assert.Equal(t, heuristic.DecisionRejected, decision.Path)

	weak := sampleCandidates(t, 2, 8) // confidence 0.2, score 0.16
	decision, err = local.Decide(context.Background(), ev, weak)
	require.NoError(t, err)
	assert.Equal(t, heuristic.DecisionRejected, decision.Path)
}
