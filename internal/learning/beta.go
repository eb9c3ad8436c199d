package learning

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
	"github.com/fyrsmithlabs/reflexd/internal/storage"
)

// Invalidator removes a heuristic's cache entry after its confidence
// changes. *cache.Cache satisfies this.
type Invalidator interface {
	Invalidate(heuristicID string) bool
}

// Config controls signal interpretation for BetaStrategy.
type Config struct {
	// CreditPolicy selects undo blame assignment. Defaults to
	// CreditMostRecent.
	CreditPolicy CreditPolicy

	// UndoKeywords override the default undo phrase list.
	UndoKeywords []string

	// IgnoreThreshold is the consecutive-ignore streak length that
	// produces a negative signal. Defaults to 3.
	IgnoreThreshold int
}

func (c *Config) applyDefaults() {
	if c.CreditPolicy == "" {
		c.CreditPolicy = CreditMostRecent
	}
	if c.IgnoreThreshold <= 0 {
		c.IgnoreThreshold = 3
	}
}

// BetaStrategy models heuristic confidence as the mean of a Beta
// distribution. Positive signals increment alpha, negative signals
// increment beta, each scaled by the signal magnitude, so confidence
// moves smoothly and never saturates.
type BetaStrategy struct {
	store       storage.Store
	invalidator Invalidator
	config      Config
	logger      *zap.Logger
	metrics     *Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewBetaStrategy creates the default learning strategy. invalidator may
// be nil when no cache sits in front of the store.
func NewBetaStrategy(store storage.Store, invalidator Invalidator, cfg Config, logger *zap.Logger) *BetaStrategy {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BetaStrategy{
		store:       store,
		invalidator: invalidator,
		config:      cfg,
		logger:      logger,
		metrics:     newMetrics(),
		locks:       make(map[string]*sync.Mutex),
	}
}

// lockFor returns the per-heuristic mutex, creating it on first use.
// Updates for the same heuristic are serialized; distinct heuristics
// update concurrently.
func (b *BetaStrategy) lockFor(heuristicID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[heuristicID]
	if !ok {
		l = &sync.Mutex{}
		b.locks[heuristicID] = l
	}
	return l
}

func (b *BetaStrategy) InterpretExplicit(heuristicID, fireID string, positive bool, magnitude float64) heuristic.Signal {
	if magnitude <= 0 || magnitude > 1 {
		magnitude = 1.0
	}
	return heuristic.NewSignal(heuristicID, fireID, heuristic.SignalExplicit, positive, magnitude)
}

func (b *BetaStrategy) InterpretTimeout(fire *heuristic.Fire) heuristic.Signal {
	return heuristic.NewSignal(fire.HeuristicID, fire.ID, heuristic.SignalTimeout, true, timeoutMagnitude)
}

func (b *BetaStrategy) InterpretUndo(ev *heuristic.Event, recentFires []*heuristic.Fire, window time.Duration) []heuristic.Signal {
	if ev == nil || !IsUndoText(ev.Text, b.config.UndoKeywords) {
		return nil
	}

	var candidates []*heuristic.Fire
	for _, f := range recentFires {
		if f.Outcome != heuristic.OutcomeUnknown {
			continue
		}
		age := ev.Timestamp.Sub(f.FiredAt)
		if age >= 0 && age <= window {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].FiredAt.After(candidates[j].FiredAt)
	})

	if b.config.CreditPolicy == CreditMostRecent {
		candidates = candidates[:1]
	}
	signals := make([]heuristic.Signal, 0, len(candidates))
	for _, f := range candidates {
		signals = append(signals, heuristic.NewSignal(f.HeuristicID, f.ID, heuristic.SignalUndo, false, undoMagnitude))
	}
	return signals
}

func (b *BetaStrategy) InterpretIgnored(heuristicID string, consecutiveIgnores, threshold int) heuristic.Signal {
	if threshold <= 0 {
		threshold = b.config.IgnoreThreshold
	}
	if consecutiveIgnores < threshold {
		sig := heuristic.NewSignal(heuristicID, "", heuristic.SignalIgnored, false, 0)
		sig.Neutral = true
		return sig
	}
	return heuristic.NewSignal(heuristicID, "", heuristic.SignalIgnored, false, ignoredMagnitude)
}

// Apply performs the read-modify-write confidence update for one signal.
// Neutral and zero-magnitude signals are no-ops. The store update is
// all-or-nothing: on failure nothing changes and the error propagates.
// On success the cache entry is invalidated before Apply returns, so no
// caller can observe a stale confidence through the cache afterward.
func (b *BetaStrategy) Apply(ctx context.Context, sig heuristic.Signal) error {
	if sig.Neutral || sig.Magnitude <= 0 {
		return nil
	}
	if sig.HeuristicID == "" {
		return fmt.Errorf("apply signal: %w: missing heuristic id", storage.ErrInvalidArgument)
	}

	lock := b.lockFor(sig.HeuristicID)
	lock.Lock()
	defer lock.Unlock()

	h, err := b.store.GetHeuristic(ctx, sig.HeuristicID)
	if err != nil {
		return fmt.Errorf("apply signal: load heuristic %s: %w", sig.HeuristicID, err)
	}

	alpha, beta := h.Alpha, h.Beta
	if sig.Positive {
		alpha += sig.Magnitude
	} else {
		beta += sig.Magnitude
	}

	if err := b.store.UpdateConfidence(ctx, sig.HeuristicID, alpha, beta); err != nil {
		b.metrics.applyFailures.Inc()
		return fmt.Errorf("apply signal: update confidence %s: %w", sig.HeuristicID, err)
	}

	if sig.FireID != "" {
		outcome := heuristic.OutcomeFailure
		if sig.Positive {
			outcome = heuristic.OutcomeSuccess
		}
		source := heuristic.FeedbackImplicit
		if sig.Type == heuristic.SignalExplicit {
			source = heuristic.FeedbackExplicit
		}
		// Best-effort: the confidence update already landed, and an
		// already-resolved fire is not an error worth failing feedback for.
		if err := b.store.UpdateFireOutcome(ctx, sig.FireID, outcome, source); err != nil {
			b.logger.Warn("fire outcome update failed",
				zap.String("fire_id", sig.FireID),
				zap.Error(err))
		}
	}

	if b.invalidator != nil {
		b.invalidator.Invalidate(sig.HeuristicID)
	}

	b.metrics.signalsApplied.WithLabelValues(string(sig.Type), directionLabel(sig.Positive)).Inc()
	newConf := heuristic.ClampConfidence(alpha / (alpha + beta))
	b.logger.Debug("confidence updated",
		zap.String("heuristic_id", sig.HeuristicID),
		zap.String("signal_type", string(sig.Type)),
		zap.Bool("positive", sig.Positive),
		zap.Float64("magnitude", sig.Magnitude),
		zap.Float64("confidence", newConf))
	return nil
}

func directionLabel(positive bool) string {
	if positive {
		return "positive"
	}
	return "negative"
}
