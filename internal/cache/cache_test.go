package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
	"github.com/fyrsmithlabs/reflexd/internal/storage"
)

func newCacheHeuristic(t *testing.T, condition, source string, embedding []float32, threshold float64) *heuristic.Heuristic {
	t.Helper()
	h, err := heuristic.New(condition, "act", source, heuristic.OriginLearned, threshold)
	require.NoError(t, err)
	h.ConditionEmbedding = embedding
	return h
}

func TestCache_GetCandidates_ScoreIsSimilarityTimesConfidence(t *testing.T) {
	c := New(Config{})

	// cos((1,0),(0.72, 0.6939...)) ≈ 0.72 with both vectors unit length.
	h := newCacheHeuristic(t, "c", "", []float32{0.72, 0.69397}, 0.7)
	h.Alpha, h.Beta = 3, 7 // confidence 0.3
	c.Put(h)

	matches := c.GetCandidates([]float32{1, 0}, "", 0, 0, 10)
	require.Len(t, matches, 1)
	assert.InDelta(t, 0.72, matches[0].Similarity, 0.001)
	assert.InDelta(t, 0.216, matches[0].Score, 0.002)
}

func TestCache_GetCandidates_Filters(t *testing.T) {
	c := New(Config{})

	match := newCacheHeuristic(t, "match", "home", []float32{1, 0}, 0.5)
	belowOwnThreshold := newCacheHeuristic(t, "strict", "home", []float32{1, 1}, 0.95)
	otherSource := newCacheHeuristic(t, "other", "vehicle", []float32{1, 0}, 0.5)
	lowConfidence := newCacheHeuristic(t, "shaky", "home", []float32{1, 0}, 0.5)
	lowConfidence.Alpha, lowConfidence.Beta = 1, 99
	for _, h := range []*heuristic.Heuristic{match, belowOwnThreshold, otherSource, lowConfidence} {
		c.Put(h)
	}

	matches := c.GetCandidates([]float32{1, 0}, "home", 0.3, 0.2, 10)
	require.Len(t, matches, 1)
	assert.Equal(t, match.ID, matches[0].Heuristic.ID)
}

func TestCache_LRUEviction(t *testing.T) {
	c := New(Config{HeuristicCapacity: 2})

	h1 := newCacheHeuristic(t, "h1", "", []float32{1, 0}, 0.5)
	h2 := newCacheHeuristic(t, "h2", "", []float32{0, 1}, 0.5)
	h3 := newCacheHeuristic(t, "h3", "", []float32{1, 1}, 0.5)

	c.Put(h1)
	c.Put(h2)
	// H2 accessed more recently than H1 via touch; inserting H3 must
	// evict H1 regardless of insertion order.
	c.Touch(h1.ID)
	c.Touch(h2.ID)
	c.Put(h3)

	assert.Equal(t, 2, c.Len())
	assert.Empty(t, c.GetCandidates([]float32{1, 0}, "", 0.99, 0, 10), "h1 should be evicted")
	assert.Len(t, c.GetCandidates([]float32{0, 1}, "", 0.99, 0, 10), 1)
}

func TestCache_HitUpdatesAccessOrder(t *testing.T) {
	c := New(Config{HeuristicCapacity: 2})

	h1 := newCacheHeuristic(t, "h1", "", []float32{1, 0}, 0.5)
	h2 := newCacheHeuristic(t, "h2", "", []float32{0, 1}, 0.5)
	c.Put(h1)
	c.Put(h2)

	// A lookup hit on h1 makes h2 the LRU entry.
	require.Len(t, c.GetCandidates([]float32{1, 0}, "", 0.99, 0, 10), 1)

	h3 := newCacheHeuristic(t, "h3", "", []float32{1, 1}, 0.5)
	c.Put(h3)

	assert.Len(t, c.GetCandidates([]float32{1, 0}, "", 0.99, 0, 10), 1, "h1 survives")
	assert.Empty(t, c.GetCandidates([]float32{0, 1}, "", 0.99, 0, 10), "h2 evicted")
}

func TestCache_InvalidateIsIdempotent(t *testing.T) {
	c := New(Config{})

	h := newCacheHeuristic(t, "c", "", []float32{1}, 0.5)
	c.Put(h)

	assert.True(t, c.Invalidate(h.ID))
	assert.False(t, c.Invalidate(h.ID))
	assert.False(t, c.Invalidate(h.ID))
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.GetCandidates([]float32{1}, "", 0, 0, 10))
}

func TestCache_NotifyHeuristicChange(t *testing.T) {
	c := New(Config{})

	h := newCacheHeuristic(t, "c", "", []float32{1}, 0.5)
	c.Put(h)

	// Updated and deleted both remove; created is a no-op.
	c.NotifyHeuristicChange(h.ID, storage.ChangeUpdated)
	assert.Equal(t, 0, c.Len())

	c.Put(h)
	c.NotifyHeuristicChange(h.ID, storage.ChangeCreated)
	assert.Equal(t, 1, c.Len())
	c.NotifyHeuristicChange(h.ID, storage.ChangeDeleted)
	assert.Equal(t, 0, c.Len())
}

func TestCache_TTLExpiresLazily(t *testing.T) {
	c := New(Config{TTL: 10 * time.Millisecond})

	h := newCacheHeuristic(t, "c", "", []float32{1}, 0.5)
	c.Put(h)
	require.Len(t, c.GetCandidates([]float32{1}, "", 0, 0, 10), 1)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, c.GetCandidates([]float32{1}, "", 0, 0, 10))
	assert.Equal(t, 0, c.Len())
}

func TestCache_Flush(t *testing.T) {
	c := New(Config{})

	c.Put(newCacheHeuristic(t, "a", "", []float32{1}, 0.5))
	c.Put(newCacheHeuristic(t, "b", "", []float32{1}, 0.5))
	c.Observe([]float32{1, 0})

	assert.Equal(t, 2, c.Flush())
	assert.Equal(t, 0, c.Len())
	// The novelty window reflects observed events, not cached
	// heuristics, and survives a flush.
	assert.False(t, c.IsNovel([]float32{1, 0}, 0.9))
}

func TestCache_NoveltyFIFO(t *testing.T) {
	c := New(Config{NoveltyCapacity: 2})

	first := []float32{1, 0, 0}
	second := []float32{0, 1, 0}
	third := []float32{0, 0, 1}

	c.Observe(first)
	c.Observe(second)
	assert.False(t, c.IsNovel(first, 0.9))

	// Window is full: observing a third evicts the oldest, regardless
	// of which entry was consulted most recently.
	c.Observe(third)
	assert.True(t, c.IsNovel(first, 0.9), "oldest observation evicted")
	assert.False(t, c.IsNovel(second, 0.9))
	assert.False(t, c.IsNovel(third, 0.9))
}

func TestCache_IsNovel_EmptyWindow(t *testing.T) {
	c := New(Config{})
	assert.True(t, c.IsNovel([]float32{1, 0}, 0.5))
}

func TestCache_RankingAndLimit(t *testing.T) {
	c := New(Config{})

	for i, emb := range [][]float32{{1, 0}, {0.9, 0.43589}, {0.8, 0.6}} {
		h := newCacheHeuristic(t, "h", "", emb, 0.1)
		h.Alpha, h.Beta = 8, 2
		h.LastFiredAt = time.Now().Add(time.Duration(-i) * time.Hour)
		c.Put(h)
	}

	matches := c.GetCandidates([]float32{1, 0}, "", 0, 0, 2)
	require.Len(t, matches, 2)
	assert.Greater(t, matches[0].Score, matches[1].Score)
	assert.InDelta(t, 1.0, matches[0].Similarity, 0.001)
}
