package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
)

const heuristicCollection = "heuristics"

// ChromemConfig holds configuration for the chromem-backed store.
type ChromemConfig struct {
	// Path is the data directory. The chromem database lives under
	// Path/vectors and the mutation journal at Path/journal.jsonl.
	Path string

	// Compress enables gzip compression of persisted vectors.
	Compress bool
}

// Validate checks the configuration.
func (c *ChromemConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: chromem path is required", ErrInvalidArgument)
	}
	return nil
}

// ChromemStore is a Store backed by an embedded chromem-go vector database
// plus an append-only mutation journal.
//
// The journal is the durable record: every mutation is journaled before it
// is acknowledged, and the full heuristic/fire state is rebuilt from it at
// open. The chromem collection is a disposable projection used only for
// similarity search; if it disagrees with the journal at open it is
// rebuilt.
type ChromemStore struct {
	db      *chromem.DB
	col     *chromem.Collection
	journal *journal
	logger  *zap.Logger

	mu         sync.RWMutex
	heuristics map[string]*heuristic.Heuristic
	fires      map[string]*heuristic.Fire
}

// NewChromemStore opens (or creates) a chromem-backed store at cfg.Path.
func NewChromemStore(ctx context.Context, cfg ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := chromem.NewPersistentDB(filepath.Join(cfg.Path, "vectors"), cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: open chromem db: %v", ErrUnavailable, err)
	}

	// Collection queries always carry precomputed embeddings; the
	// embedding func exists only to satisfy the API and must never run.
	col, err := db.GetOrCreateCollection(heuristicCollection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("%w: open collection: %v", ErrUnavailable, err)
	}

	jnl, err := openJournal(filepath.Join(cfg.Path, "journal.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s := &ChromemStore{
		db:         db,
		col:        col,
		journal:    jnl,
		logger:     logger,
		heuristics: make(map[string]*heuristic.Heuristic),
		fires:      make(map[string]*heuristic.Fire),
	}

	if err := jnl.replay(s.heuristics, s.fires); err != nil {
		return nil, fmt.Errorf("%w: replay journal: %v", ErrUnavailable, err)
	}
	if err := jnl.compact(s.heuristics, s.fires); err != nil {
		return nil, fmt.Errorf("%w: compact journal: %v", ErrUnavailable, err)
	}
	if err := s.rebuildVectorIndex(ctx); err != nil {
		return nil, err
	}

	logger.Info("chromem store opened",
		zap.String("path", cfg.Path),
		zap.Int("heuristics", len(s.heuristics)),
		zap.Int("fires", len(s.fires)))
	return s, nil
}

func noEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("storage does not generate embeddings")
}

// rebuildVectorIndex reconciles the chromem collection with the journaled
// heuristic set. Heuristics without embeddings are skipped; they remain
// reachable through QueryByText.
func (s *ChromemStore) rebuildVectorIndex(ctx context.Context) error {
	embedded := 0
	for _, h := range s.heuristics {
		if len(h.ConditionEmbedding) > 0 {
			embedded++
		}
	}
	if s.col.Count() == embedded {
		return nil
	}

	s.logger.Warn("vector index out of sync with journal, rebuilding",
		zap.Int("indexed", s.col.Count()),
		zap.Int("journaled", embedded))

	if err := s.db.DeleteCollection(heuristicCollection); err != nil {
		return fmt.Errorf("%w: drop stale collection: %v", ErrUnavailable, err)
	}
	col, err := s.db.GetOrCreateCollection(heuristicCollection, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("%w: recreate collection: %v", ErrUnavailable, err)
	}
	s.col = col

	for _, h := range s.heuristics {
		if len(h.ConditionEmbedding) == 0 {
			continue
		}
		if err := s.addToIndex(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

func (s *ChromemStore) addToIndex(ctx context.Context, h *heuristic.Heuristic) error {
	doc := chromem.Document{
		ID:        h.ID,
		Content:   h.Condition,
		Embedding: h.ConditionEmbedding,
		Metadata:  map[string]string{"source": h.Source, "origin": string(h.Origin)},
	}
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("%w: index heuristic %s: %v", ErrUnavailable, h.ID, err)
	}
	return nil
}

// QueryByEmbedding implements Store using the chromem similarity index for
// candidate retrieval, then applies the per-heuristic threshold and
// confidence floor from the journaled records.
func (s *ChromemStore) QueryByEmbedding(ctx context.Context, embedding []float32, source string, minConfidence float64, limit int) ([]*heuristic.Heuristic, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrInvalidArgument)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.col.Count()
	if count == 0 {
		return nil, nil
	}

	// Over-fetch so post-filtering on threshold/confidence still fills
	// the limit. chromem requires nResults <= document count.
	k := limit * 4
	if k < 16 {
		k = 16
	}
	if k > count {
		k = count
	}

	results, err := s.col.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query vector index: %v", ErrUnavailable, err)
	}

	var matches []scored
	for _, r := range results {
		h, ok := s.heuristics[r.ID]
		if !ok {
			// Index entry with no journaled record: stale projection,
			// never served.
			continue
		}
		if !sourceMatches(h, source) {
			continue
		}
		conf := h.Confidence()
		if conf < minConfidence {
			continue
		}
		sim := float64(r.Similarity)
		if sim < h.SimilarityThreshold {
			continue
		}
		matches = append(matches, scored{h: h, score: sim * conf})
	}
	return rankAndLimit(matches, limit), nil
}

// QueryByText implements Store by keyword-overlap matching over the
// journaled records; the vector index plays no part in the degraded path.
func (s *ChromemStore) QueryByText(ctx context.Context, text string, source string, minConfidence float64, limit int) ([]*heuristic.Heuristic, error) {
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
func (s *ChromemStore) GetHeuristic(ctx context.Context, id string) (*heuristic.Heuristic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.heuristics[id]
	if !ok {
		return nil, fmt.Errorf("heuristic %s: %w", id, ErrNotFound)
	}
	return h.Clone(), nil
}

// StoreHeuristic implements Store: journal first, then update the in-memory
// record and the vector index.
func (s *ChromemStore) StoreHeuristic(ctx context.Context, h *heuristic.Heuristic) error {
	if err := h.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := h.Clone()
	if err := s.journal.append(journalEntry{Op: opPut, Heuristic: cp}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.heuristics[cp.ID] = cp

	if len(cp.ConditionEmbedding) > 0 {
		// AddDocument upserts by ID.
		if err := s.addToIndex(ctx, cp); err != nil {
			s.logger.Error("failed to index heuristic, query path degraded",
				zap.String("heuristic_id", cp.ID), zap.Error(err))
		}
	}
	return nil
}

// DeleteHeuristic implements Store.
func (s *ChromemStore) DeleteHeuristic(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.heuristics[id]; !ok {
		return fmt.Errorf("heuristic %s: %w", id, ErrNotFound)
	}
	if err := s.journal.append(journalEntry{Op: opDelete, ID: id}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	delete(s.heuristics, id)

	if err := s.col.Delete(ctx, nil, nil, id); err != nil {
		s.logger.Error("failed to remove heuristic from index",
			zap.String("heuristic_id", id), zap.Error(err))
	}
	return nil
}

// UpdateConfidence implements Store. All-or-nothing: the in-memory counts
// change only after the journal write succeeds.
func (s *ChromemStore) UpdateConfidence(ctx context.Context, id string, alpha, beta float64) error {
	if alpha <= 0 || beta <= 0 {
		return fmt.Errorf("%w: pseudo-counts must be positive", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.heuristics[id]
	if !ok {
		return fmt.Errorf("heuristic %s: %w", id, ErrNotFound)
	}
	if err := s.journal.append(journalEntry{Op: opConfidence, ID: id, Alpha: alpha, Beta: beta}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	h.Alpha = alpha
	h.Beta = beta
	h.UpdatedAt = time.Now()
	return nil
}

// RecordFire implements Store.
func (s *ChromemStore) RecordFire(ctx context.Context, f *heuristic.Fire) error {
	if f.ID == "" {
		return fmt.Errorf("%w: fire ID cannot be empty", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *f
	if err := s.journal.append(journalEntry{Op: opFire, Fire: &cp}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.fires[cp.ID] = &cp
	if h, ok := s.heuristics[cp.HeuristicID]; ok {
		h.RecordFire(cp.FiredAt)
	}
	return nil
}

// UpdateFireOutcome implements Store.
func (s *ChromemStore) UpdateFireOutcome(ctx context.Context, fireID string, outcome heuristic.Outcome, source heuristic.FeedbackSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.fires[fireID]
	if !ok {
		return fmt.Errorf("fire %s: %w", fireID, ErrNotFound)
	}
	if f.Outcome != heuristic.OutcomeUnknown {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, heuristic.ErrOutcomeAlreadySet)
	}
	if err := s.journal.append(journalEntry{Op: opOutcome, ID: fireID, Outcome: outcome, Feedback: source}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
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
func (s *ChromemStore) GetFire(ctx context.Context, fireID string) (*heuristic.Fire, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.fires[fireID]
	if !ok {
		return nil, fmt.Errorf("fire %s: %w", fireID, ErrNotFound)
	}
	cp := *f
	return &cp, nil
}

// Close implements Store.
func (s *ChromemStore) Close() error {
	return s.journal.close()
}
