package learning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
	"github.com/fyrsmithlabs/reflexd/internal/storage"
)

func newTestHeuristic(t *testing.T, alpha, beta float64) *heuristic.Heuristic {
	t.Helper()
	h, err := heuristic.New("lights left on after midnight", "turn off the lights", "motion", heuristic.OriginLearned, 0.6)
	require.NoError(t, err)
	h.Alpha = alpha
	h.Beta = beta
	return h
}

// recordingInvalidator captures which heuristic IDs were invalidated.
type recordingInvalidator struct {
	ids []string
}

func (r *recordingInvalidator) Invalidate(id string) bool {
	r.ids = append(r.ids, id)
	return true
}

// failingConfidenceStore rejects confidence updates to exercise the
// all-or-nothing path.
type failingConfidenceStore struct {
	storage.Store
}

func (f *failingConfidenceStore) UpdateConfidence(ctx context.Context, id string, alpha, beta float64) error {
	return storage.ErrUnavailable
}

func TestBetaStrategy_ExplicitPositiveRaisesConfidence(t *testing.T) {
	store := storage.NewMemoryStore()
	h := newTestHeuristic(t, 2, 2)
	require.NoError(t, store.StoreHeuristic(context.Background(), h))
	require.InDelta(t, 0.5, h.Confidence(), 1e-9)

	inv := &recordingInvalidator{}
	strat := NewBetaStrategy(store, inv, Config{}, zap.NewNop())

	fire, err := heuristic.NewFire(h.ID, "event-1")
	require.NoError(t, err)
	require.NoError(t, store.RecordFire(context.Background(), fire))

	sig := strat.InterpretExplicit(h.ID, fire.ID, true, 1.0)
	require.NoError(t, strat.Apply(context.Background(), sig))

	updated, err := store.GetHeuristic(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Greater(t, updated.Confidence(), 0.5)
	assert.Less(t, updated.Confidence(), 1-heuristic.ConfidenceEpsilon)
	assert.InDelta(t, 0.6, updated.Confidence(), 1e-9) // 3/(3+2)

	resolved, err := store.GetFire(context.Background(), fire.ID)
	require.NoError(t, err)
	assert.Equal(t, heuristic.OutcomeSuccess, resolved.Outcome)
	assert.Equal(t, heuristic.FeedbackExplicit, resolved.FeedbackSource)

	assert.Equal(t, []string{h.ID}, inv.ids, "cache must be invalidated after update")
}

func TestBetaStrategy_NegativeFeedbackLowersConfidence(t *testing.T) {
	store := storage.NewMemoryStore()
	h := newTestHeuristic(t, 8, 2)
	require.NoError(t, store.StoreHeuristic(context.Background(), h))

	strat := NewBetaStrategy(store, nil, Config{}, zap.NewNop())
	sig := strat.InterpretExplicit(h.ID, "", false, 1.0)
	require.NoError(t, strat.Apply(context.Background(), sig))

	updated, err := store.GetHeuristic(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Less(t, updated.Confidence(), 0.8)
	assert.Greater(t, updated.Confidence(), heuristic.ConfidenceEpsilon)
}

func TestBetaStrategy_ConfidenceNeverSaturates(t *testing.T) {
	store := storage.NewMemoryStore()
	h := newTestHeuristic(t, 1, 1)
	require.NoError(t, store.StoreHeuristic(context.Background(), h))

	strat := NewBetaStrategy(store, nil, Config{}, zap.NewNop())
	for i := 0; i < 500; i++ {
		sig := strat.InterpretExplicit(h.ID, "", true, 1.0)
		require.NoError(t, strat.Apply(context.Background(), sig))
	}

	updated, err := store.GetHeuristic(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Less(t, updated.Confidence(), 1-heuristic.ConfidenceEpsilon)
	assert.Greater(t, updated.Confidence(), 0.99)
}

func TestBetaStrategy_TimeoutIsWeakPositive(t *testing.T) {
	strat := NewBetaStrategy(storage.NewMemoryStore(), nil, Config{}, zap.NewNop())
	fire := &heuristic.Fire{ID: "f1", HeuristicID: "h1"}

	sig := strat.InterpretTimeout(fire)
	assert.True(t, sig.Positive)
	assert.Equal(t, heuristic.SignalTimeout, sig.Type)
	assert.Less(t, sig.Magnitude, 1.0)
	assert.Greater(t, sig.Magnitude, 0.0)
}

func TestBetaStrategy_InterpretUndo(t *testing.T) {
	now := time.Now()
	fires := []*heuristic.Fire{
		{ID: "f-old", HeuristicID: "h1", FiredAt: now.Add(-10 * time.Minute), Outcome: heuristic.OutcomeUnknown},
		{ID: "f-mid", HeuristicID: "h2", FiredAt: now.Add(-90 * time.Second), Outcome: heuristic.OutcomeUnknown},
		{ID: "f-new", HeuristicID: "h3", FiredAt: now.Add(-5 * time.Second), Outcome: heuristic.OutcomeUnknown},
		{ID: "f-done", HeuristicID: "h4", FiredAt: now.Add(-3 * time.Second), Outcome: heuristic.OutcomeSuccess},
	}
	ev := &heuristic.Event{ID: "e1", Source: "cli", Text: "undo that", Timestamp: now}

	tests := []struct {
		name      string
		policy    CreditPolicy
		wantFires []string
	}{
		{name: "most recent blames one", policy: CreditMostRecent, wantFires: []string{"f-new"}},
		{name: "all in window blames each unresolved", policy: CreditAllInWindow, wantFires: []string{"f-new", "f-mid"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strat := NewBetaStrategy(storage.NewMemoryStore(), nil, Config{CreditPolicy: tt.policy}, zap.NewNop())
			signals := strat.InterpretUndo(ev, fires, 2*time.Minute)
			require.Len(t, signals, len(tt.wantFires))
			for i, sig := range signals {
				assert.Equal(t, tt.wantFires[i], sig.FireID)
				assert.False(t, sig.Positive)
				assert.Equal(t, heuristic.SignalUndo, sig.Type)
			}
		})
	}
}

func TestBetaStrategy_UndoIgnoresNonUndoText(t *testing.T) {
	strat := NewBetaStrategy(storage.NewMemoryStore(), nil, Config{}, zap.NewNop())
	ev := &heuristic.Event{ID: "e1", Source: "cli", Text: "turn on the fan", Timestamp: time.Now()}
	fires := []*heuristic.Fire{{ID: "f1", HeuristicID: "h1", FiredAt: time.Now(), Outcome: heuristic.OutcomeUnknown}}

	assert.Empty(t, strat.InterpretUndo(ev, fires, time.Minute))
}

func TestBetaStrategy_IgnoredBelowThresholdIsNeutral(t *testing.T) {
	strat := NewBetaStrategy(storage.NewMemoryStore(), nil, Config{IgnoreThreshold: 3}, zap.NewNop())

	below := strat.InterpretIgnored("h1", 2, 0)
	assert.True(t, below.Neutral)
	require.NoError(t, strat.Apply(context.Background(), below), "neutral signal must be a no-op")

	at := strat.InterpretIgnored("h1", 3, 0)
	assert.False(t, at.Neutral)
	assert.False(t, at.Positive)
}

func TestBetaStrategy_ApplyIsAllOrNothing(t *testing.T) {
	mem := storage.NewMemoryStore()
	h := newTestHeuristic(t, 2, 2)
	require.NoError(t, mem.StoreHeuristic(context.Background(), h))

	inv := &recordingInvalidator{}
	strat := NewBetaStrategy(&failingConfidenceStore{Store: mem}, inv, Config{}, zap.NewNop())

	sig := strat.InterpretExplicit(h.ID, "", true, 1.0)
	err := strat.Apply(context.Background(), sig)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrUnavailable))

	unchanged, err := mem.GetHeuristic(context.Background(), h.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, unchanged.Confidence(), 1e-9)
	assert.Empty(t, inv.ids, "failed update must not invalidate the cache")
}

func TestBetaStrategy_ApplyUnknownHeuristic(t *testing.T) {
	strat := NewBetaStrategy(storage.NewMemoryStore(), nil, Config{}, zap.NewNop())
	sig := strat.InterpretExplicit("missing", "", true, 1.0)

	err := strat.Apply(context.Background(), sig)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}
