package scorer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reflexd/internal/cache"
	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
	"github.com/fyrsmithlabs/reflexd/internal/storage"
)

// fakeEmbedder returns canned embeddings and counts calls.
type fakeEmbedder struct {
	vectors map[string][]float32
	fail    bool
	calls   int
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("embedder down")
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }
func (f *fakeEmbedder) Close() error   { return nil }

// failingStore wraps a store and fails every query.
type failingStore struct {
	storage.Store
}

func (f *failingStore) QueryByEmbedding(ctx context.Context, embedding []float32, source string, minConfidence float64, limit int) ([]*heuristic.Heuristic, error) {
	return nil, storage.ErrUnavailable
}

func (f *failingStore) QueryByText(ctx context.Context, text string, source string, minConfidence float64, limit int) ([]*heuristic.Heuristic, error) {
	return nil, storage.ErrUnavailable
}

func storeHeuristic(t *testing.T, s storage.Store, condition, source string, embedding []float32) *heuristic.Heuristic {
	t.Helper()
	h, err := heuristic.New(condition, "act", source, heuristic.OriginLearned, 0.6)
	require.NoError(t, err)
	h.ConditionEmbedding = embedding
	h.Alpha, h.Beta = 8, 2
	require.NoError(t, s.StoreHeuristic(context.Background(), h))
	return h
}

func newTestScorer(t *testing.T, emb *fakeEmbedder, store storage.Store) (*Scorer, *cache.Cache) {
	t.Helper()
	c := cache.New(cache.Config{})
	return New(emb, c, store, Config{MinSimilarity: 0.5, MinConfidence: 0.1}, zap.NewNop()), c
}

func TestScorer_EmptyTextReturnsNothing(t *testing.T) {
	emb := &fakeEmbedder{}
	s, _ := newTestScorer(t, emb, storage.NewMemoryStore())

	ev := &heuristic.Event{ID: "e1", Source: "home"}
	matches, err := s.Score(context.Background(), ev)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Zero(t, emb.calls)
}

func TestScorer_CacheMissFallsBackToStoreAndWarmsCache(t *testing.T) {
	store := storage.NewMemoryStore()
	h := storeHeuristic(t, store, "lights left on", "home", []float32{1, 0, 0})

	emb := &fakeEmbedder{vectors: map[string][]float32{"lights are on": {1, 0, 0}}}
	s, c := newTestScorer(t, emb, store)

	ev, err := heuristic.NewEvent("home", "lights are on")
	require.NoError(t, err)

	matches, err := s.Score(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, h.ID, matches[0].Heuristic.ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 0.001)
	assert.NotEmpty(t, ev.Embedding, "embedding written back to the event")

	// The store results warmed the cache.
	assert.Equal(t, 1, c.Len())
}

func TestScorer_CacheHitSkipsStore(t *testing.T) {
	store := storage.NewMemoryStore()
	h := storeHeuristic(t, store, "lights left on", "home", []float32{1, 0, 0})

	emb := &fakeEmbedder{vectors: map[string][]float32{"lights are on": {1, 0, 0}}}
	s, c := newTestScorer(t, emb, store)
	c.Put(h)

	// Swap in a failing store: a cache hit must never reach it.
	s.store = &failingStore{}

	ev, err := heuristic.NewEvent("home", "lights are on")
	require.NoError(t, err)
	matches, err := s.Score(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, h.ID, matches[0].Heuristic.ID)
}

func TestScorer_CacheHitAndFallbackAgreeOnTopCandidate(t *testing.T) {
	store := storage.NewMemoryStore()
	best := storeHeuristic(t, store, "best", "home", []float32{1, 0, 0})
	storeHeuristic(t, store, "worse", "home", []float32{0.8, 0.6, 0})

	emb := &fakeEmbedder{vectors: map[string][]float32{"query": {1, 0, 0}}}
	s, c := newTestScorer(t, emb, store)

	ev1, err := heuristic.NewEvent("home", "query")
	require.NoError(t, err)
	viaStore, err := s.Score(context.Background(), ev1)
	require.NoError(t, err)

	// Cache is now warm; the same query resolves from cache.
	require.Equal(t, 2, c.Len())
	ev2, err := heuristic.NewEvent("home", "query")
	require.NoError(t, err)
	viaCache, err := s.Score(context.Background(), ev2)
	require.NoError(t, err)

	require.NotEmpty(t, viaStore)
	require.NotEmpty(t, viaCache)
	assert.Equal(t, best.ID, viaStore[0].Heuristic.ID)
	assert.Equal(t, viaStore[0].Heuristic.ID, viaCache[0].Heuristic.ID)
	assert.InDelta(t, viaStore[0].Score, viaCache[0].Score, 0.001)
}

func TestScorer_EmbeddingFailureUsesKeywordFallback(t *testing.T) {
	store := storage.NewMemoryStore()
	h := storeHeuristic(t, store, "garage door left open", "home", []float32{1, 0, 0})

	emb := &fakeEmbedder{fail: true}
	s, c := newTestScorer(t, emb, store)
	// Poison the cache path: a heuristic that would match by embedding.
	c.Put(h)

	ev, err := heuristic.NewEvent("home", "garage door open alert")
	require.NoError(t, err)
	matches, err := s.Score(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, h.ID, matches[0].Heuristic.ID)
	assert.Empty(t, ev.Embedding, "no embedding on the degraded path")
}

func TestScorer_StorageFailureIsFatal(t *testing.T) {
	emb := &fakeEmbedder{}
	s, _ := newTestScorer(t, emb, &failingStore{})

	ev, err := heuristic.NewEvent("home", "anything")
	require.NoError(t, err)
	_, err = s.Score(context.Background(), ev)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestScorer_PrecomputedEmbeddingSkipsEmbedder(t *testing.T) {
	store := storage.NewMemoryStore()
	storeHeuristic(t, store, "condition", "home", []float32{1, 0, 0})

	emb := &fakeEmbedder{}
	s, _ := newTestScorer(t, emb, store)

	ev, err := heuristic.NewEvent("home", "text")
	require.NoError(t, err)
	ev.Embedding = []float32{1, 0, 0}

	matches, err := s.Score(context.Background(), ev)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
	assert.Zero(t, emb.calls)
}
