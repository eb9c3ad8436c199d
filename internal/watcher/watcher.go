// Package watcher tracks recently fired heuristics and converts silence,
// undo patterns, and ignore streaks into implicit feedback signals.
package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
	"github.com/fyrsmithlabs/reflexd/internal/learning"
)

// pendingFire is a fire awaiting feedback within its watch window.
type pendingFire struct {
	fire     *heuristic.Fire
	deadline time.Time
}

// OutcomeWatcher holds fires open for a watch window after they happen.
// An undo-pattern event inside the window resolves the blamed fires
// negatively; a window that elapses in silence resolves the fire as a
// weak positive. It also tracks consecutive-ignore streaks per heuristic.
//
// Thread Safety: all public methods are thread-safe. The running state is
// protected by a mutex so Start/Stop cannot race.
type OutcomeWatcher struct {
	strategy  learning.Strategy
	window    time.Duration
	interval  time.Duration
	threshold int
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingFire
	ignores map[string]int
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures an OutcomeWatcher.
type Option func(*OutcomeWatcher)

// WithWindow sets the watch window for implicit feedback.
// Defaults to 2 minutes.
func WithWindow(window time.Duration) Option {
	return func(w *OutcomeWatcher) {
		w.window = window
	}
}

// WithSweepInterval sets how often the background sweep checks for
// expired watch windows. Defaults to 15 seconds.
func WithSweepInterval(interval time.Duration) Option {
	return func(w *OutcomeWatcher) {
		w.interval = interval
	}
}

// WithIgnoreThreshold sets the consecutive-ignore streak length that
// produces a negative signal. Defaults to 3.
func WithIgnoreThreshold(threshold int) Option {
	return func(w *OutcomeWatcher) {
		if threshold > 0 {
			w.threshold = threshold
		}
	}
}

// New creates an outcome watcher. The watcher does not start
// automatically; call Start to begin the background sweep.
func New(strategy learning.Strategy, logger *zap.Logger, opts ...Option) (*OutcomeWatcher, error) {
	if strategy == nil {
		return nil, fmt.Errorf("strategy cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &OutcomeWatcher{
		strategy:  strategy,
		window:    2 * time.Minute,
		interval:  15 * time.Second,
		threshold: 3,
		logger:    logger,
		pending:   make(map[string]*pendingFire),
		ignores:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Register places a fire under watch. The fire stays pending until an
// undo blames it, explicit feedback arrives, or the window elapses.
func (w *OutcomeWatcher) Register(fire *heuristic.Fire) {
	if fire == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[fire.ID] = &pendingFire{
		fire:     fire,
		deadline: fire.FiredAt.Add(w.window),
	}
	// A new fire means the heuristic's suggestion was used, which ends
	// any ignore streak.
	delete(w.ignores, fire.HeuristicID)
}

// Forget removes a fire from the watch set without producing a signal.
// Called when explicit feedback resolves the fire directly, before the
// explicit signal is applied, so the sweep cannot also resolve it.
func (w *OutcomeWatcher) Forget(fireID string) {
	w.claim(fireID)
}

// claim removes a pending fire, reporting whether this caller owned it.
// Whoever claims a fire is the only path allowed to apply its signal.
func (w *OutcomeWatcher) claim(fireID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.pending[fireID]; !ok {
		return false
	}
	delete(w.pending, fireID)
	return true
}

// CheckEvent inspects an incoming event for undo patterns against the
// pending fires. Blamed fires are resolved negatively and removed from
// the watch set. Returns the number of fires blamed.
func (w *OutcomeWatcher) CheckEvent(ctx context.Context, ev *heuristic.Event) int {
	if ev == nil {
		return 0
	}

	w.mu.Lock()
	recent := make([]*heuristic.Fire, 0, len(w.pending))
	for _, p := range w.pending {
		recent = append(recent, p.fire)
	}
	w.mu.Unlock()

	signals := w.strategy.InterpretUndo(ev, recent, w.window)
	if len(signals) == 0 {
		return 0
	}

	blamed := 0
	for _, sig := range signals {
		// Claim before applying: a fire whose window expired between the
		// snapshot and here was already resolved by the sweep.
		if !w.claim(sig.FireID) {
			continue
		}
		if err := w.strategy.Apply(ctx, sig); err != nil {
			w.logger.Warn("undo signal failed",
				zap.String("heuristic_id", sig.HeuristicID),
				zap.String("fire_id", sig.FireID),
				zap.Error(err))
			continue
		}
		blamed++
	}
	if blamed > 0 {
		w.logger.Info("undo pattern resolved fires",
			zap.String("event_id", ev.ID),
			zap.Int("fires", blamed))
	}
	return blamed
}

// NoteIgnored records that a heuristic's suggestion was presented and
// ignored. Once the streak reaches the configured threshold a negative
// signal is applied and the streak resets.
func (w *OutcomeWatcher) NoteIgnored(ctx context.Context, heuristicID string) error {
	w.mu.Lock()
	w.ignores[heuristicID]++
	streak := w.ignores[heuristicID]
	w.mu.Unlock()

	sig := w.strategy.InterpretIgnored(heuristicID, streak, w.threshold)
	if sig.Neutral {
		return nil
	}
	if err := w.strategy.Apply(ctx, sig); err != nil {
		return fmt.Errorf("ignore streak signal: %w", err)
	}
	w.mu.Lock()
	delete(w.ignores, heuristicID)
	w.mu.Unlock()
	return nil
}

// CleanupExpired resolves every fire whose watch window elapsed before
// now as a weak positive (silence is tacit approval) and removes it from
// the watch set. Returns the number of fires resolved.
func (w *OutcomeWatcher) CleanupExpired(ctx context.Context, now time.Time) int {
	w.mu.Lock()
	expired := make([]*heuristic.Fire, 0)
	for id, p := range w.pending {
		if now.After(p.deadline) {
			expired = append(expired, p.fire)
			delete(w.pending, id)
		}
	}
	w.mu.Unlock()

	resolved := 0
	for _, f := range expired {
		sig := w.strategy.InterpretTimeout(f)
		if err := w.strategy.Apply(ctx, sig); err != nil {
			w.logger.Warn("timeout signal failed",
				zap.String("fire_id", f.ID),
				zap.Error(err))
			continue
		}
		resolved++
	}
	return resolved
}

// PendingCount reports the number of fires currently under watch.
func (w *OutcomeWatcher) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Start begins the background sweep goroutine. Idempotent: starting a
// running watcher returns an error without spawning a second goroutine.
func (w *OutcomeWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("outcome watcher already running")
	}
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	w.logger.Info("outcome watcher started",
		zap.Duration("window", w.window),
		zap.Duration("sweep_interval", w.interval))

	go w.run()
	return nil
}

// Stop signals the sweep goroutine to exit and waits for it to finish.
// Safe to call on a stopped watcher.
func (w *OutcomeWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	<-done
	w.logger.Info("outcome watcher stopped")
}

func (w *OutcomeWatcher) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := w.CleanupExpired(context.Background(), time.Now()); n > 0 {
				w.logger.Debug("watch windows expired", zap.Int("fires", n))
			}
		case <-w.stopCh:
			return
		}
	}
}
