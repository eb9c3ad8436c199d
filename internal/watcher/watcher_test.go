package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
	"github.com/fyrsmithlabs/reflexd/internal/learning"
	"github.com/fyrsmithlabs/reflexd/internal/storage"
)

func seedHeuristic(t *testing.T, store storage.Store) *heuristic.Heuristic {
	t.Helper()
	h, err := heuristic.New("thermostat set high before leaving", "lower the thermostat", "climate", heuristic.OriginLearned, 0.6)
	require.NoError(t, err)
	h.Alpha = 2
	h.Beta = 2
	require.NoError(t, store.StoreHeuristic(context.Background(), h))
	return h
}

func newWatcher(t *testing.T, store storage.Store, opts ...Option) *OutcomeWatcher {
	t.Helper()
	strat := learning.NewBetaStrategy(store, nil, learning.Config{}, zap.NewNop())
	w, err := New(strat, zap.NewNop(), opts...)
	require.NoError(t, err)
	return w
}

func TestOutcomeWatcher_SilenceIsWeakPositive(t *testing.T) {
	store := storage.NewMemoryStore()
	h := seedHeuristic(t, store)
	w := newWatcher(t, store, WithWindow(time.Minute))

	fire, err := heuristic.NewFire(h.ID, "event-1")
	require.NoError(t, err)
	require.NoError(t, store.RecordFire(context.Background(), fire))
	w.Register(fire)
	require.Equal(t, 1, w.PendingCount())

	// Before the deadline nothing expires.
	assert.Zero(t, w.CleanupExpired(context.Background(), fire.FiredAt.Add(30*time.Second)))
	assert.Equal(t, 1, w.PendingCount())

	// After the deadline the fire resolves as a weak positive.
	resolved := w.CleanupExpired(context.Background(), fire.FiredAt.Add(2*time.Minute))
	assert.Equal(t, 1, resolved)
	assert.Zero(t, w.PendingCount())

	updated, err := store.GetHeuristic(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Greater(t, updated.Confidence(), 0.5)
	// Weaker than a full explicit positive: 2.25/(2.25+2) < 3/5.
	assert.Less(t, updated.Confidence(), 0.6)

	done, err := store.GetFire(context.Background(), fire.ID)
	require.NoError(t, err)
	assert.Equal(t, heuristic.OutcomeSuccess, done.Outcome)
	assert.Equal(t, heuristic.FeedbackImplicit, done.FeedbackSource)
}

func TestOutcomeWatcher_UndoBlamesPendingFire(t *testing.T) {
	store := storage.NewMemoryStore()
	h := seedHeuristic(t, store)
	w := newWatcher(t, store, WithWindow(2*time.Minute))

	fire, err := heuristic.NewFire(h.ID, "event-1")
	require.NoError(t, err)
	require.NoError(t, store.RecordFire(context.Background(), fire))
	w.Register(fire)

	ev := &heuristic.Event{ID: "event-2", Source: "cli", Text: "undo that", Timestamp: fire.FiredAt.Add(10 * time.Second)}
	blamed := w.CheckEvent(context.Background(), ev)
	assert.Equal(t, 1, blamed)
	assert.Zero(t, w.PendingCount(), "blamed fire leaves the watch set")

	updated, err := store.GetHeuristic(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Less(t, updated.Confidence(), 0.5)

	done, err := store.GetFire(context.Background(), fire.ID)
	require.NoError(t, err)
	assert.Equal(t, heuristic.OutcomeFailure, done.Outcome)
}

// expireDuringScanStrategy lets the watch window lapse while an undo scan
// is interpreting, so the sweep and the undo contend for the same fire.
type expireDuringScanStrategy struct {
	learning.Strategy
	w       *OutcomeWatcher
	applied []heuristic.Signal
}

func (s *expireDuringScanStrategy) InterpretUndo(ev *heuristic.Event, recent []*heuristic.Fire, window time.Duration) []heuristic.Signal {
	sigs := s.Strategy.InterpretUndo(ev, recent, window)
	s.w.CleanupExpired(context.Background(), time.Now().Add(time.Hour))
	return sigs
}

func (s *expireDuringScanStrategy) Apply(ctx context.Context, sig heuristic.Signal) error {
	s.applied = append(s.applied, sig)
	return s.Strategy.Apply(ctx, sig)
}

func TestOutcomeWatcher_SweepAndUndoResolveFireOnce(t *testing.T) {
	store := storage.NewMemoryStore()
	h := seedHeuristic(t, store)

	strat := &expireDuringScanStrategy{Strategy: learning.NewBetaStrategy(store, nil, learning.Config{}, zap.NewNop())}
	w, err := New(strat, zap.NewNop(), WithWindow(time.Minute))
	require.NoError(t, err)
	strat.w = w

	fire, err := heuristic.NewFire(h.ID, "event-1")
	require.NoError(t, err)
	require.NoError(t, store.RecordFire(context.Background(), fire))
	w.Register(fire)

	ev := &heuristic.Event{ID: "event-2", Source: "cli", Text: "undo that", Timestamp: fire.FiredAt.Add(10 * time.Second)}
	blamed := w.CheckEvent(context.Background(), ev)
	assert.Zero(t, blamed, "sweep claimed the fire first")

	require.Len(t, strat.applied, 1)
	assert.Equal(t, heuristic.SignalTimeout, strat.applied[0].Type)

	// Exactly one observation landed: the weak positive, not the undo.
	updated, err := store.GetHeuristic(context.Background(), h.ID)
	require.NoError(t, err)
	assert.InDelta(t, 2.25, updated.Alpha, 1e-9)
	assert.InDelta(t, 2.0, updated.Beta, 1e-9)
}

func TestOutcomeWatcher_NonUndoEventLeavesFiresPending(t *testing.T) {
	store := storage.NewMemoryStore()
	h := seedHeuristic(t, store)
	w := newWatcher(t, store)

	fire, err := heuristic.NewFire(h.ID, "event-1")
	require.NoError(t, err)
	w.Register(fire)

	ev := &heuristic.Event{ID: "event-2", Source: "cli", Text: "what is the weather", Timestamp: time.Now()}
	assert.Zero(t, w.CheckEvent(context.Background(), ev))
	assert.Equal(t, 1, w.PendingCount())
}

func TestOutcomeWatcher_ForgetRemovesWithoutSignal(t *testing.T) {
	store := storage.NewMemoryStore()
	h := seedHeuristic(t, store)
	w := newWatcher(t, store, WithWindow(time.Nanosecond))

	fire, err := heuristic.NewFire(h.ID, "event-1")
	require.NoError(t, err)
	w.Register(fire)
	w.Forget(fire.ID)

	assert.Zero(t, w.CleanupExpired(context.Background(), time.Now().Add(time.Hour)))

	unchanged, err := store.GetHeuristic(context.Background(), h.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, unchanged.Confidence(), 1e-9)
}

func TestOutcomeWatcher_IgnoreStreak(t *testing.T) {
	store := storage.NewMemoryStore()
	h := seedHeuristic(t, store)
	w := newWatcher(t, store, WithIgnoreThreshold(3))

	// Below threshold: no confidence change.
	require.NoError(t, w.NoteIgnored(context.Background(), h.ID))
	require.NoError(t, w.NoteIgnored(context.Background(), h.ID))
	mid, err := store.GetHeuristic(context.Background(), h.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, mid.Confidence(), 1e-9)

	// Third consecutive ignore crosses the threshold.
	require.NoError(t, w.NoteIgnored(context.Background(), h.ID))
	after, err := store.GetHeuristic(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Less(t, after.Confidence(), 0.5)

	// The streak resets after the signal fires.
	require.NoError(t, w.NoteIgnored(context.Background(), h.ID))
	again, err := store.GetHeuristic(context.Background(), h.ID)
	require.NoError(t, err)
	assert.InDelta(t, after.Confidence(), again.Confidence(), 1e-9)
}

func TestOutcomeWatcher_RegisterResetsIgnoreStreak(t *testing.T) {
	store := storage.NewMemoryStore()
	h := seedHeuristic(t, store)
	w := newWatcher(t, store, WithIgnoreThreshold(3))

	require.NoError(t, w.NoteIgnored(context.Background(), h.ID))
	require.NoError(t, w.NoteIgnored(context.Background(), h.ID))

	fire, err := heuristic.NewFire(h.ID, "event-1")
	require.NoError(t, err)
	w.Register(fire)

	// The streak restarted, so one more ignore stays below threshold.
	require.NoError(t, w.NoteIgnored(context.Background(), h.ID))
	unchanged, err := store.GetHeuristic(context.Background(), h.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, unchanged.Confidence(), 1e-9)
}

func TestOutcomeWatcher_StartStop(t *testing.T) {
	store := storage.NewMemoryStore()
	w := newWatcher(t, store, WithSweepInterval(10*time.Millisecond))

	require.NoError(t, w.Start())
	assert.Error(t, w.Start(), "second start must fail")

	w.Stop()
	w.Stop() // idempotent

	require.NoError(t, w.Start())
	w.Stop()
}
