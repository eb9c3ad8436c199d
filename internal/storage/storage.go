// Package storage defines the persistent heuristic/fire store boundary and
// its implementations.
package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
)

// Sentinel errors for store operations. Implementations map their native
// failures onto this taxonomy.
var (
	// ErrNotFound is returned when a heuristic or fire does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable indicates the backing store cannot be reached.
	ErrUnavailable = errors.New("store unavailable")

	// ErrInvalidArgument indicates a malformed request.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Store is the persistent heuristic and fire store.
//
// All calls are synchronous request/response; callers bound them with a
// context deadline. Implementations must be safe for concurrent use.
type Store interface {
	// QueryByEmbedding returns heuristics whose condition embedding is
	// similar to the query embedding. A heuristic matches when the cosine
	// similarity reaches its own SimilarityThreshold and its confidence
	// reaches minConfidence. Results are ordered by similarity ×
	// confidence, best first, at most limit entries. source restricts
	// matches to heuristics authored for that source (heuristics with an
	// empty Source always match).
	QueryByEmbedding(ctx context.Context, embedding []float32, source string, minConfidence float64, limit int) ([]*heuristic.Heuristic, error)

	// QueryByText is the degraded fallback used when no embedding is
	// available: keyword-overlap matching against heuristic conditions.
	// Filtering and ordering follow QueryByEmbedding, with the keyword
	// score standing in for cosine similarity.
	QueryByText(ctx context.Context, text string, source string, minConfidence float64, limit int) ([]*heuristic.Heuristic, error)

	// GetHeuristic returns the heuristic with the given ID, or ErrNotFound.
	GetHeuristic(ctx context.Context, id string) (*heuristic.Heuristic, error)

	// StoreHeuristic creates or replaces a heuristic.
	StoreHeuristic(ctx context.Context, h *heuristic.Heuristic) error

	// DeleteHeuristic removes a heuristic. Deleting an absent heuristic
	// returns ErrNotFound.
	DeleteHeuristic(ctx context.Context, id string) error

	// UpdateConfidence replaces the Beta pseudo-counts for a heuristic.
	// The update is all-or-nothing: on error the stored counts are
	// unchanged.
	UpdateConfidence(ctx context.Context, id string, alpha, beta float64) error

	// RecordFire persists a new fire.
	RecordFire(ctx context.Context, f *heuristic.Fire) error

	// UpdateFireOutcome applies the single outcome transition to a fire.
	UpdateFireOutcome(ctx context.Context, fireID string, outcome heuristic.Outcome, source heuristic.FeedbackSource) error

	// GetFire returns the fire with the given ID, or ErrNotFound.
	GetFire(ctx context.Context, fireID string) (*heuristic.Fire, error)

	// Close releases resources held by the store.
	Close() error
}

// ChangeType classifies a heuristic mutation for cache invalidation.
type ChangeType string

const (
	// ChangeCreated means a heuristic was created.
	ChangeCreated ChangeType = "created"

	// ChangeUpdated means a heuristic's fields or confidence changed.
	ChangeUpdated ChangeType = "updated"

	// ChangeDeleted means a heuristic was removed.
	ChangeDeleted ChangeType = "deleted"
)

// ChangeListener receives heuristic change notifications. Delivery is
// synchronous: a mutation is not complete until every listener has returned.
// Notifications are idempotent; listeners must converge to the same state
// under repeated delivery.
type ChangeListener interface {
	NotifyHeuristicChange(id string, change ChangeType)
}

// ChangeListenerFunc adapts a function to the ChangeListener interface.
type ChangeListenerFunc func(id string, change ChangeType)

// NotifyHeuristicChange implements ChangeListener.
func (f ChangeListenerFunc) NotifyHeuristicChange(id string, change ChangeType) {
	f(id, change)
}

// NotifyingStore wraps a Store and synchronously notifies listeners after
// every successful heuristic mutation. This is what keeps caches a
// disposable projection of the store: staleness windows exist only between
// a mutation and the return of its notification, which the wrapper makes
// zero from the caller's point of view.
type NotifyingStore struct {
	Store

	mu        sync.RWMutex
	listeners []ChangeListener
}

// NewNotifyingStore wraps store with change notification.
func NewNotifyingStore(store Store) *NotifyingStore {
	return &NotifyingStore{Store: store}
}

// Subscribe registers a listener for heuristic changes.
func (s *NotifyingStore) Subscribe(l ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *NotifyingStore) notify(id string, change ChangeType) {
	s.mu.RLock()
	listeners := make([]ChangeListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, l := range listeners {
		l.NotifyHeuristicChange(id, change)
	}
}

// StoreHeuristic stores the heuristic, then notifies listeners.
func (s *NotifyingStore) StoreHeuristic(ctx context.Context, h *heuristic.Heuristic) error {
	_, getErr := s.Store.GetHeuristic(ctx, h.ID)
	if err := s.Store.StoreHeuristic(ctx, h); err != nil {
		return err
	}
	change := ChangeCreated
	if getErr == nil {
		change = ChangeUpdated
	}
	s.notify(h.ID, change)
	return nil
}

// DeleteHeuristic deletes the heuristic, then notifies listeners.
func (s *NotifyingStore) DeleteHeuristic(ctx context.Context, id string) error {
	if err := s.Store.DeleteHeuristic(ctx, id); err != nil {
		return err
	}
	s.notify(id, ChangeDeleted)
	return nil
}

// UpdateConfidence updates the pseudo-counts, then notifies listeners.
func (s *NotifyingStore) UpdateConfidence(ctx context.Context, id string, alpha, beta float64) error {
	if err := s.Store.UpdateConfidence(ctx, id, alpha, beta); err != nil {
		return err
	}
	s.notify(id, ChangeUpdated)
	return nil
}
