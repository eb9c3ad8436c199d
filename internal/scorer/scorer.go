// Package scorer turns event text into a ranked list of candidate
// heuristics, preferring the cache and falling back to the persistent
// store.
package scorer

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/reflexd/internal/cache"
	"github.com/fyrsmithlabs/reflexd/internal/embeddings"
	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
	"github.com/fyrsmithlabs/reflexd/internal/storage"
)

// Config holds scorer thresholds and limits.
type Config struct {
	// MinSimilarity is the global similarity floor for candidates.
	// Default 0.5.
	MinSimilarity float64

	// MinConfidence is the confidence floor for candidates. Default 0.1.
	MinConfidence float64

	// MaxCandidates bounds the ranked list. Default 10.
	MaxCandidates int

	// MinCacheResults is the number of cache matches below which the
	// persistent store is also consulted. Default 1.
	MinCacheResults int

	// EmbedRatePerSec rate-limits embedder calls. Zero disables
	// limiting.
	EmbedRatePerSec float64

	// EmbedBurst is the rate limiter burst size. Default 4.
	EmbedBurst int
}

func (c *Config) applyDefaults() {
	if c.MinSimilarity == 0 {
		c.MinSimilarity = 0.5
	}
	if c.MinConfidence == 0 {
		c.MinConfidence = 0.1
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 10
	}
	if c.MinCacheResults <= 0 {
		c.MinCacheResults = 1
	}
	if c.EmbedBurst <= 0 {
		c.EmbedBurst = 4
	}
}

// Scorer ranks heuristics against events.
//
// Behavior by failure mode: an embedding failure is recoverable and
// triggers keyword-fallback matching against the store, skipping the cache
// entirely; a storage failure is fatal for the call and is propagated
// (callers test with errors.Is against the storage sentinels). No matches
// is not an error: an empty list is returned.
type Scorer struct {
	embedder embeddings.Provider
	cache    *cache.Cache
	store    storage.Store
	limiter  *rate.Limiter
	config   Config
	logger   *zap.Logger
}

// New creates a scorer.
func New(embedder embeddings.Provider, c *cache.Cache, store storage.Store, cfg Config, logger *zap.Logger) *Scorer {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.EmbedRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.EmbedRatePerSec), cfg.EmbedBurst)
	}
	return &Scorer{
		embedder: embedder,
		cache:    c,
		store:    store,
		limiter:  limiter,
		config:   cfg,
		logger:   logger,
	}
}

// Score ranks candidate heuristics for the event. When the event has no
// embedding yet, one is generated and written back to ev.Embedding; this is
// the single lazy computation the event model allows.
//
// The cache-hit and cache-miss paths filter by source, similarity and
// confidence identically, so callers see the same candidates either way —
// only latency differs.
func (s *Scorer) Score(ctx context.Context, ev *heuristic.Event) ([]heuristic.Match, error) {
	if ev == nil || ev.Text == "" {
		return nil, nil
	}

	if len(ev.Embedding) == 0 {
		embedding, err := s.embed(ctx, ev.Text)
		if err != nil {
			s.logger.Warn("embedding failed, using keyword fallback",
				zap.String("event_id", ev.ID),
				zap.String("source", ev.Source),
				zap.Error(err))
			return s.scoreByText(ctx, ev)
		}
		ev.Embedding = embedding
	}

	cached := s.cache.GetCandidates(ev.Embedding, ev.Source, s.config.MinSimilarity, s.config.MinConfidence, s.config.MaxCandidates)
	if len(cached) >= s.config.MinCacheResults {
		return cached, nil
	}

	stored, err := s.store.QueryByEmbedding(ctx, ev.Embedding, ev.Source, s.config.MinConfidence, s.config.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("querying storage for candidates: %w", err)
	}

	// Warm the cache with every stored match so the next lookup for this
	// pattern stays in memory.
	for _, h := range stored {
		s.cache.Put(h)
	}

	matches := s.merge(cached, stored, ev.Embedding)
	return matches, nil
}

func (s *Scorer) embed(ctx context.Context, text string) ([]float32, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return s.embedder.EmbedQuery(ctx, text)
}

// scoreByText is the degraded path: keyword matching straight against the
// store, cache skipped. Degraded matching is preferable to no matching.
func (s *Scorer) scoreByText(ctx context.Context, ev *heuristic.Event) ([]heuristic.Match, error) {
	stored, err := s.store.QueryByText(ctx, ev.Text, ev.Source, s.config.MinConfidence, s.config.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("keyword fallback query: %w", err)
	}

	matches := make([]heuristic.Match, 0, len(stored))
	for _, h := range stored {
		kw := storage.KeywordScore(ev.Text, h.Condition)
		matches = append(matches, heuristic.Match{
			Heuristic:  h,
			Similarity: kw,
			Score:      kw * h.Confidence(),
		})
	}
	sortMatches(matches)
	return matches, nil
}

// merge combines cached and stored matches, deduplicating by heuristic ID.
// Stored copies win: they are at least as fresh as the cache.
func (s *Scorer) merge(cached []heuristic.Match, stored []*heuristic.Heuristic, embedding []float32) []heuristic.Match {
	byID := make(map[string]heuristic.Match, len(cached)+len(stored))
	for _, m := range cached {
		byID[m.Heuristic.ID] = m
	}
	for _, h := range stored {
		sim := heuristic.CosineSimilarity(embedding, h.ConditionEmbedding)
		if sim < s.config.MinSimilarity || sim < h.SimilarityThreshold {
			continue
		}
		byID[h.ID] = heuristic.Match{
			Heuristic:  h,
			Similarity: sim,
			Score:      sim * h.Confidence(),
		}
	}

	matches := make([]heuristic.Match, 0, len(byID))
	for _, m := range byID {
		matches = append(matches, m)
	}
	sortMatches(matches)
	if len(matches) > s.config.MaxCandidates {
		matches = matches[:s.config.MaxCandidates]
	}
	return matches
}

func sortMatches(matches []heuristic.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Heuristic.LastFiredAt.After(matches[j].Heuristic.LastFiredAt)
	})
}
