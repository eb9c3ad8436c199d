package pack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reflexd/internal/embeddings"
	"github.com/fyrsmithlabs/reflexd/internal/storage"
)

// debounceWindow coalesces the bursts of writes editors produce when
// saving a file.
const debounceWindow = 250 * time.Millisecond

// Loader syncs a directory of pack files into the heuristic store.
// Conditions are embedded at load time so pack heuristics participate in
// similarity matching immediately. Heuristics removed from a pack file
// are deleted on the next load of that file; learned evidence
// (alpha/beta) survives reloads of entries that remain.
type Loader struct {
	store    storage.Store
	embedder embeddings.Provider
	dir      string
	logger   *zap.Logger

	mu      sync.Mutex
	loaded  map[string]map[string]struct{} // file -> heuristic IDs
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewLoader creates a pack loader for dir.
func NewLoader(store storage.Store, embedder embeddings.Provider, dir string, logger *zap.Logger) (*Loader, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("pack directory cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		store:    store,
		embedder: embedder,
		dir:      dir,
		logger:   logger,
		loaded:   make(map[string]map[string]struct{}),
	}, nil
}

// LoadAll syncs every pack file in the directory. Files that fail to
// parse are skipped with a logged error; one bad pack must not block the
// rest.
func (l *Loader) LoadAll(ctx context.Context) error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("reading pack directory %s: %w", l.dir, err)
	}

	var loaded int
	for _, entry := range entries {
		if entry.IsDir() || !isPackFile(entry.Name()) {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		if err := l.LoadFile(ctx, path); err != nil {
			l.logger.Error("pack file skipped", zap.String("path", path), zap.Error(err))
			continue
		}
		loaded++
	}
	l.logger.Info("packs loaded", zap.String("dir", l.dir), zap.Int("files", loaded))
	return nil
}

// LoadFile syncs a single pack file into the store.
func (l *Loader) LoadFile(ctx context.Context, path string) error {
	f, err := Parse(path)
	if err != nil {
		return err
	}

	current := make(map[string]struct{}, len(f.Heuristics))
	for _, entry := range f.Heuristics {
		h, err := entry.Heuristic(f.Name)
		if err != nil {
			return fmt.Errorf("pack %s: %w", f.Name, err)
		}

		// Keep accumulated evidence across reloads of the same entry.
		if existing, err := l.store.GetHeuristic(ctx, h.ID); err == nil {
			h.Alpha = existing.Alpha
			h.Beta = existing.Beta
			h.FireCount = existing.FireCount
			h.SuccessCount = existing.SuccessCount
		}

		if l.embedder != nil && len(h.ConditionEmbedding) == 0 {
			embedding, err := l.embedder.EmbedQuery(ctx, h.Condition)
			if err != nil {
				l.logger.Warn("pack condition not embedded, keyword matching only",
					zap.String("heuristic_id", h.ID), zap.Error(err))
			} else {
				h.ConditionEmbedding = embedding
			}
		}

		if err := l.store.StoreHeuristic(ctx, h); err != nil {
			return fmt.Errorf("storing pack heuristic %s: %w", h.ID, err)
		}
		current[h.ID] = struct{}{}
	}

	// Remove entries the file no longer contains.
	l.mu.Lock()
	previous := l.loaded[path]
	l.loaded[path] = current
	l.mu.Unlock()

	for id := range previous {
		if _, ok := current[id]; ok {
			continue
		}
		if err := l.store.DeleteHeuristic(ctx, id); err != nil {
			l.logger.Warn("stale pack heuristic not deleted",
				zap.String("heuristic_id", id), zap.Error(err))
		}
	}

	l.logger.Debug("pack file synced",
		zap.String("path", path),
		zap.String("pack", f.Name),
		zap.Int("heuristics", len(current)))
	return nil
}

// Watch starts reloading pack files as they change. Stop with StopWatch.
func (l *Loader) Watch(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return fmt.Errorf("pack watcher already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating pack watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching pack directory %s: %w", l.dir, err)
	}

	l.watcher = watcher
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	l.running = true

	go l.processEvents(ctx)
	l.logger.Info("pack watcher started", zap.String("dir", l.dir))
	return nil
}

// StopWatch stops the watcher and waits for the event loop to exit.
func (l *Loader) StopWatch() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	_ = l.watcher.Close()
	done := l.doneCh
	l.mu.Unlock()

	<-done
}

func (l *Loader) processEvents(ctx context.Context) {
	defer close(l.doneCh)

	// Pending paths accumulate until the debounce timer fires.
	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !isPackFile(filepath.Base(event.Name)) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			pending[event.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
			} else {
				timer.Reset(debounceWindow)
			}
			timerC = timer.C

		case <-timerC:
			for path := range pending {
				l.reload(ctx, path)
			}
			pending = make(map[string]struct{})
			timerC = nil

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("pack watcher error", zap.Error(err))

		case <-l.stopCh:
			return
		}
	}
}

// reload syncs one changed path, treating a vanished file as a pack
// removal.
func (l *Loader) reload(ctx context.Context, path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		l.removeFile(ctx, path)
		return
	}
	if err := l.LoadFile(ctx, path); err != nil {
		l.logger.Error("pack reload failed", zap.String("path", path), zap.Error(err))
	}
}

func (l *Loader) removeFile(ctx context.Context, path string) {
	l.mu.Lock()
	ids := l.loaded[path]
	delete(l.loaded, path)
	l.mu.Unlock()

	for id := range ids {
		if err := l.store.DeleteHeuristic(ctx, id); err != nil {
			l.logger.Warn("pack heuristic not deleted",
				zap.String("heuristic_id", id), zap.Error(err))
		}
	}
	if len(ids) > 0 {
		l.logger.Info("pack removed", zap.String("path", path), zap.Int("heuristics", len(ids)))
	}
}

func isPackFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
