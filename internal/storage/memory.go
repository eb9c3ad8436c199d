package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
)

// minKeywordScore is the floor applied to keyword-fallback matches. The
// per-heuristic SimilarityThreshold is calibrated for cosine similarity and
// does not transfer to keyword overlap.
const minKeywordScore = 0.34

// MemoryStore is an in-memory Store used for tests and ephemeral mode.
type MemoryStore struct {
	mu         sync.RWMutex
	heuristics map[string]*heuristic.Heuristic
	fires      map[string]*heuristic.Fire
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		heuristics: make(map[string]*heuristic.Heuristic),
		fires:      make(map[string]*heuristic.Fire),
	}
}

type scored struct {
	h     *heuristic.Heuristic
	score float64
}

func rankAndLimit(matches []scored, limit int) []*heuristic.Heuristic {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].h.LastFiredAt.After(matches[j].h.LastFiredAt)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]*heuristic.Heuristic, len(matches))
	for i, m := range matches {
		out[i] = m.h.Clone()
	}
	return out
}

func sourceMatches(h *heuristic.Heuristic, source string) bool {
	return h.Source == "" || source == "" || h.Source == source
}

// QueryByEmbedding implements Store by brute-force cosine comparison.
func (s *MemoryStore) QueryByEmbedding(ctx context.Context, embedding []float32, source string, minConfidence float64, limit int) ([]*heuristic.Heuristic, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrInvalidArgument)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []scored
	for _, h := range s.heuristics {
		if !sourceMatches(h, source) {
			continue
		}
		conf := h.Confidence()
		if conf < minConfidence {
			continue
		}
		sim := heuristic.CosineSimilarity(embedding, h.ConditionEmbedding)
		if sim < h.SimilarityThreshold {
			continue
		}
		matches = append(matches, scored{h: h, score: sim * conf})
	}
	return rankAndLimit(matches, limit), nil
}

// QueryByText implements Store by keyword-overlap matching.
func (s *MemoryStore) QueryByText(ctx context.Context, text string, source string, minConfidence float64, limit int) ([]*heuristic.Heuristic, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrInvalidArgument)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []scored
	for _, h := range s.heuristics {
		if !sourceMatches(h, source) {
			continue
		}
		conf := h.Confidence()
		if conf < minConfidence {
			continue
		}
		kw := KeywordScore(text, h.Condition)
		if kw < minKeywordScore {
			continue
		}
		matches = append(matches, scored{h: h, score: kw * conf})
	}
	return rankAndLimit(matches, limit), nil
}

// GetHeuristic implements Store.
func (s *MemoryStore) GetHeuristic(ctx context.Context, id string) (*heuristic.Heuristic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.heuristics[id]
	if !ok {
		return nil, fmt.Errorf("heuristic %s: %w", id, ErrNotFound)
	}
	return h.Clone(), nil
}

// StoreHeuristic implements Store.
func (s *MemoryStore) StoreHeuristic(ctx context.Context, h *heuristic.Heuristic) error {
	if err := h.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.heuristics[h.ID] = h.Clone()
	return nil
}

// DeleteHeuristic implements Store.
func (s *MemoryStore) DeleteHeuristic(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.heuristics[id]; !ok {
		return fmt.Errorf("heuristic %s: %w", id, ErrNotFound)
	}
	delete(s.heuristics, id)
	return nil
}

// UpdateConfidence implements Store.
func (s *MemoryStore) UpdateConfidence(ctx context.Context, id string, alpha, beta float64) error {
	if alpha <= 0 || beta <= 0 {
		return fmt.Errorf("%w: pseudo-counts must be positive", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.heuristics[id]
	if !ok {
		return fmt.Errorf("heuristic %s: %w", id, ErrNotFound)
	}
	h.Alpha = alpha
	h.Beta = beta
	h.UpdatedAt = time.Now()
	return nil
}

// RecordFire implements Store.
func (s *MemoryStore) RecordFire(ctx context.Context, f *heuristic.Fire) error {
	if f.ID == "" {
		return fmt.Errorf("%w: fire ID cannot be empty", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *f
	s.fires[f.ID] = &cp

	if h, ok := s.heuristics[f.HeuristicID]; ok {
		h.RecordFire(f.FiredAt)
	}
	return nil
}

// UpdateFireOutcome implements Store.
func (s *MemoryStore) UpdateFireOutcome(ctx context.Context, fireID string, outcome heuristic.Outcome, source heuristic.FeedbackSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.fires[fireID]
	if !ok {
		return fmt.Errorf("fire %s: %w", fireID, ErrNotFound)
	}
	if err := f.Resolve(outcome, source); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if outcome == heuristic.OutcomeSuccess {
		if h, ok := s.heuristics[f.HeuristicID]; ok {
			h.SuccessCount++
		}
	}
	return nil
}

// GetFire implements Store.
func (s *MemoryStore) GetFire(ctx context.Context, fireID string) (*heuristic.Fire, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.fires[fireID]
	if !ok {
		return nil, fmt.Errorf("fire %s: %w", fireID, ErrNotFound)
	}
	cp := *f
	return &cp, nil
}

// Close implements Store. No-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
