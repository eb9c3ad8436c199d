// Package cache provides the bounded in-memory heuristic cache: a
// read-through, write-invalidated projection of the persistent store with
// similarity lookup and novelty detection.
//
// Two eviction policies coexist in one structure. Heuristic snapshots evict
// least-recently-accessed: every hit moves the entry to the front of an
// access-ordered list. The recent-event window used for novelty detection
// evicts oldest-inserted (pure FIFO): novelty is about temporal recency of
// observation, not hit frequency.
//
// Cache operations never return errors. A miss is a normal, cheap outcome
// that triggers fallback to the store.
package cache

import (
	"container/list"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
	"github.com/fyrsmithlabs/reflexd/internal/storage"
)

// Config holds cache sizing and expiry settings.
type Config struct {
	// HeuristicCapacity bounds the heuristic snapshot set. Default 256.
	HeuristicCapacity int

	// NoveltyCapacity bounds the recent-event embedding window. Default 128.
	NoveltyCapacity int

	// TTL is an optional per-entry expiry, checked lazily at read time.
	// Zero disables TTL; explicit invalidation is the correctness
	// mechanism either way.
	TTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.HeuristicCapacity <= 0 {
		c.HeuristicCapacity = 256
	}
	if c.NoveltyCapacity <= 0 {
		c.NoveltyCapacity = 128
	}
}

// entry is one cached heuristic snapshot.
type entry struct {
	h            *heuristic.Heuristic
	lastAccessed time.Time
	expiresAt    time.Time // zero means no expiry
}

// Cache is the bounded heuristic cache. Safe for concurrent use. Lookups
// hold the write lock because a hit reorders the access list; all
// operations are in-memory and complete in bounded time.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	ttl      time.Duration

	// Access-ordered: front = most recently accessed.
	order   *list.List
	entries map[string]*list.Element

	// Insertion-ordered FIFO of recent event embeddings.
	noveltyCap    int
	noveltyWindow [][]float32
}

// New creates a cache with the given configuration.
func New(cfg Config) *Cache {
	cfg.applyDefaults()
	return &Cache{
		capacity:   cfg.HeuristicCapacity,
		ttl:        cfg.TTL,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
		noveltyCap: cfg.NoveltyCapacity,
	}
}

// GetCandidates returns cached heuristics matching the query embedding,
// ranked descending by similarity × confidence, ties broken by most
// recently fired. Candidates below minSimilarity, below their own
// similarity threshold, below minConfidence, or lazily expired are
// excluded. Matched entries count as hits and move to the front of the
// access order.
func (c *Cache) GetCandidates(embedding []float32, source string, minSimilarity, minConfidence float64, limit int) []heuristic.Match {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []string
	var matches []heuristic.Match
	for id, el := range c.entries {
		e := el.Value.(*entry)
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			expired = append(expired, id)
			continue
		}
		h := e.h
		if h.Source != "" && source != "" && h.Source != source {
			continue
		}
		conf := h.Confidence()
		if conf < minConfidence {
			continue
		}
		sim := heuristic.CosineSimilarity(embedding, h.ConditionEmbedding)
		if sim < minSimilarity || sim < h.SimilarityThreshold {
			continue
		}
		matches = append(matches, heuristic.Match{
			Heuristic:  h.Clone(),
			Similarity: sim,
			Score:      sim * conf,
		})
		e.lastAccessed = now
		c.order.MoveToFront(el)
	}

	for _, id := range expired {
		c.removeLocked(id)
		expirations.Inc()
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Heuristic.LastFiredAt.After(matches[j].Heuristic.LastFiredAt)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	if len(matches) > 0 {
		lookups.WithLabelValues("hit").Inc()
	} else {
		lookups.WithLabelValues("miss").Inc()
	}
	return matches
}

// Put inserts or replaces a heuristic snapshot. When the cache is at
// capacity the least-recently-accessed entry is evicted.
func (c *Cache) Put(h *heuristic.Heuristic) {
	if h == nil || h.ID == "" {
		return
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry{h: h.Clone(), lastAccessed: now}
	if c.ttl > 0 {
		e.expiresAt = now.Add(c.ttl)
	}

	if el, ok := c.entries[h.ID]; ok {
		el.Value = e
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		if back := c.order.Back(); back != nil {
			c.removeLocked(back.Value.(*entry).h.ID)
			evictions.WithLabelValues("lru").Inc()
		}
	}
	c.entries[h.ID] = c.order.PushFront(e)
	size.Set(float64(c.order.Len()))
}

// Touch marks a heuristic as recently accessed without reading it.
func (c *Cache) Touch(id string) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[id]; ok {
		el.Value.(*entry).lastAccessed = now
		c.order.MoveToFront(el)
	}
}

// Invalidate removes the entry for id. Removal, not staleness marking: a
// cached copy of a deleted or updated heuristic must never be served again.
// Idempotent; repeated invalidations converge to the same state.
func (c *Cache) Invalidate(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[id]
	c.removeLocked(id)
	invalidations.Inc()
	return ok
}

// Flush removes every heuristic entry and returns the count removed. The
// novelty window is left intact; it reflects observed events, not cached
// heuristics.
func (c *Cache) Flush() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.order.Len()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
	size.Set(0)
	return n
}

// Len returns the number of cached heuristic entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len()
}

func (c *Cache) removeLocked(id string) {
	if el, ok := c.entries[id]; ok {
		c.order.Remove(el)
		delete(c.entries, id)
		size.Set(float64(c.order.Len()))
	}
}

// NotifyHeuristicChange implements storage.ChangeListener. Created entries
// have nothing cached yet; updated and deleted heuristics are removed so
// the next lookup reads through to the store.
func (c *Cache) NotifyHeuristicChange(id string, change storage.ChangeType) {
	switch change {
	case storage.ChangeUpdated, storage.ChangeDeleted:
		c.Invalidate(id)
	}
}

// Observe records an event embedding in the novelty window, evicting the
// oldest observation once the window is full.
func (c *Cache) Observe(embedding []float32) {
	if len(embedding) == 0 {
		return
	}
	cp := make([]float32, len(embedding))
	copy(cp, embedding)

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.noveltyWindow) >= c.noveltyCap {
		c.noveltyWindow = c.noveltyWindow[1:]
		evictions.WithLabelValues("fifo").Inc()
	}
	c.noveltyWindow = append(c.noveltyWindow, cp)
	noveltyWindowSize.Set(float64(len(c.noveltyWindow)))
}

// IsNovel reports whether the embedding is dissimilar to every recently
// observed event: true when no window entry reaches the similarity
// threshold. An empty window means everything is novel.
func (c *Cache) IsNovel(embedding []float32, threshold float64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, w := range c.noveltyWindow {
		if heuristic.CosineSimilarity(embedding, w) >= threshold {
			return false
		}
	}
	return true
}
