package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
)

func newChromemStore(t *testing.T, path string) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(context.Background(), ChromemConfig{Path: path}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestChromemStore_Validate(t *testing.T) {
	_, err := NewChromemStore(context.Background(), ChromemConfig{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestChromemStore_QueryByEmbedding(t *testing.T) {
	ctx := context.Background()
	s := newChromemStore(t, t.TempDir())
	defer s.Close()

	hClose := newTestHeuristic(t, "lights left on", "home", []float32{1, 0, 0}, 0.7)
	hFar := newTestHeuristic(t, "door open", "home", []float32{0, 1, 0}, 0.7)
	require.NoError(t, s.StoreHeuristic(ctx, hClose))
	require.NoError(t, s.StoreHeuristic(ctx, hFar))

	got, err := s.QueryByEmbedding(ctx, []float32{1, 0, 0}, "home", 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, hClose.ID, got[0].ID)
}

func TestChromemStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := newChromemStore(t, dir)
	h := newTestHeuristic(t, "garage door open at night", "home", []float32{0.5, 0.5}, 0.6)
	require.NoError(t, s.StoreHeuristic(ctx, h))
	require.NoError(t, s.UpdateConfidence(ctx, h.ID, 7, 3))

	f, err := heuristic.NewFire(h.ID, "evt-1")
	require.NoError(t, err)
	require.NoError(t, s.RecordFire(ctx, f))
	require.NoError(t, s.Close())

	s2 := newChromemStore(t, dir)
	defer s2.Close()

	got, err := s2.GetHeuristic(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, 7.0, got.Alpha)
	assert.Equal(t, 3.0, got.Beta)
	assert.Equal(t, 1, got.FireCount)

	gotFire, err := s2.GetFire(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, heuristic.OutcomeUnknown, gotFire.Outcome)

	// The vector index survives (or is rebuilt) too.
	matches, err := s2.QueryByEmbedding(ctx, []float32{0.5, 0.5}, "home", 0, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, h.ID, matches[0].ID)
}

func TestChromemStore_FireCountStableAcrossReopens(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := newChromemStore(t, dir)
	h := newTestHeuristic(t, "motion after midnight", "home", []float32{1, 0}, 0.6)
	require.NoError(t, s.StoreHeuristic(ctx, h))

	f, err := heuristic.NewFire(h.ID, "evt-1")
	require.NoError(t, err)
	require.NoError(t, s.RecordFire(ctx, f))
	require.NoError(t, s.Close())

	// Each open replays and compacts the journal; the fire must be
	// counted exactly once no matter how many times that happens.
	for reopen := 1; reopen <= 3; reopen++ {
		s = newChromemStore(t, dir)
		got, err := s.GetHeuristic(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.FireCount, "reopen %d", reopen)
		require.NoError(t, s.Close())
	}
}

func TestChromemStore_DeleteRemovesFromIndex(t *testing.T) {
	ctx := context.Background()
	s := newChromemStore(t, t.TempDir())
	defer s.Close()

	h := newTestHeuristic(t, "condition", "", []float32{1, 0}, 0.5)
	require.NoError(t, s.StoreHeuristic(ctx, h))
	require.NoError(t, s.DeleteHeuristic(ctx, h.ID))

	got, err := s.QueryByEmbedding(ctx, []float32{1, 0}, "", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.GetHeuristic(ctx, h.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChromemStore_QueryByText(t *testing.T) {
	ctx := context.Background()
	s := newChromemStore(t, t.TempDir())
	defer s.Close()

	// No embedding at all: the heuristic is reachable only via the
	// keyword fallback.
	h := newTestHeuristic(t, "battery level critically low", "sensor", nil, 0.7)
	require.NoError(t, s.StoreHeuristic(ctx, h))

	got, err := s.QueryByText(ctx, "battery low warning", "sensor", 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, h.ID, got[0].ID)
}

func TestChromemStore_EmptyQueryArgs(t *testing.T) {
	ctx := context.Background()
	s := newChromemStore(t, t.TempDir())
	defer s.Close()

	_, err := s.QueryByEmbedding(ctx, nil, "", 0, 10)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.QueryByText(ctx, "", "", 0, 10)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
