// Package router turns incoming events into routing decisions: compute
// salience, gather heuristic candidates, answer emergencies immediately,
// and queue everything else for the external reasoner by priority.
package router

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
	"github.com/fyrsmithlabs/reflexd/internal/logging"
	"github.com/fyrsmithlabs/reflexd/internal/storage"
)

// ErrStopped is returned by Route after Stop has been called.
var ErrStopped = errors.New("router stopped")

// CandidateScorer supplies ranked heuristic candidates for an event.
// *scorer.Scorer satisfies this.
type CandidateScorer interface {
	Score(ctx context.Context, ev *heuristic.Event) ([]heuristic.Match, error)
}

// Reasoner is the external decision-maker consulted for every
// non-emergency event. The candidate list it receives is advisory
// context, never an automatic shortcut.
type Reasoner interface {
	Decide(ctx context.Context, ev *heuristic.Event, candidates []heuristic.Match) (*heuristic.ReasonerDecision, error)
}

// FireWatcher observes fires and incoming events for implicit feedback.
// *watcher.OutcomeWatcher satisfies this.
type FireWatcher interface {
	Register(fire *heuristic.Fire)
	CheckEvent(ctx context.Context, ev *heuristic.Event) int
}

// Response is a resolved event delivered to subscribers.
type Response struct {
	// EventID is the event this response answers.
	EventID string `json:"event_id"`

	// Source is the event's source, used for subscription filtering.
	Source string `json:"source"`

	// Decision is the final answer, whether from the emergency path, the
	// reasoner, or a timeout fallback.
	Decision heuristic.ReasonerDecision `json:"decision"`

	// FireID is set when a heuristic fired for this event.
	FireID string `json:"fire_id,omitempty"`

	// Timestamp is when the response was produced.
	Timestamp time.Time `json:"timestamp"`
}

// Config controls routing thresholds and queue behavior.
type Config struct {
	// EmergencySimilarity is the minimum best-candidate similarity for
	// the emergency path. Defaults to 0.9.
	EmergencySimilarity float64

	// EmergencyConfidence is the minimum best-candidate confidence for
	// the emergency path. Defaults to 0.95.
	EmergencyConfidence float64

	// EmergencyThreat is the minimum event threat for the emergency path.
	// Defaults to 0.9.
	EmergencyThreat float64

	// QueueDeadline is how long a queued event may wait for the reasoner
	// before being force-resolved. Defaults to 30s.
	QueueDeadline time.Duration

	// ScanInterval is how often the timeout scanner runs. Defaults to 5s.
	ScanInterval time.Duration

	// Workers is the reasoner worker pool size. Defaults to 4.
	Workers int

	// ReasonerTimeout bounds each reasoner call. Defaults to 10s.
	ReasonerTimeout time.Duration

	// SubscriberBuffer is the per-subscriber channel depth. A subscriber
	// that falls this far behind loses responses. Defaults to 64.
	SubscriberBuffer int

	// FallbackResponse is broadcast when an event times out or the
	// reasoner fails. Defaults to "no response".
	FallbackResponse string
}

func (c *Config) applyDefaults() {
	if c.EmergencySimilarity <= 0 {
		c.EmergencySimilarity = 0.9
	}
	if c.EmergencyConfidence <= 0 {
		c.EmergencyConfidence = 0.95
	}
	if c.EmergencyThreat <= 0 {
		c.EmergencyThreat = 0.9
	}
	if c.QueueDeadline <= 0 {
		c.QueueDeadline = 30 * time.Second
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = 5 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ReasonerTimeout <= 0 {
		c.ReasonerTimeout = 10 * time.Second
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 64
	}
	if c.FallbackResponse == "" {
		c.FallbackResponse = "no response"
	}
}

type subscriber struct {
	source string
	ch     chan Response
}

// Router routes events. Emergencies are answered synchronously; other
// events wait in a priority queue for the reasoner worker pool. A
// background scanner force-resolves entries past their deadline so
// callers never wait indefinitely. Queue pops and timeout eviction share
// one mutex, so an event dequeued for processing can never also be
// separately timed out.
type Router struct {
	scorer   CandidateScorer
	store    storage.Store
	reasoner Reasoner
	salience SalienceScorer
	watcher  FireWatcher
	config   Config
	logger   *zap.Logger

	qmu     sync.Mutex
	cond    *sync.Cond
	queue   eventQueue
	seq     uint64
	stopped bool

	submu     sync.RWMutex
	subs      map[int]*subscriber
	nextSubID int

	// broadcastMu serializes broadcasts so subscribers see each source's
	// responses in the order the router resolved them.
	broadcastMu sync.Mutex

	running bool
	runMu   sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a router. watcher may be nil; every other collaborator is
// required.
func New(scorer CandidateScorer, store storage.Store, reasoner Reasoner, salience SalienceScorer, watcher FireWatcher, cfg Config, logger *zap.Logger) (*Router, error) {
	if scorer == nil {
		return nil, fmt.Errorf("scorer cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if reasoner == nil {
		return nil, fmt.Errorf("reasoner cannot be nil")
	}
	if salience == nil {
		return nil, fmt.Errorf("salience scorer cannot be nil")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		scorer:   scorer,
		store:    store,
		reasoner: reasoner,
		salience: salience,
		watcher:  watcher,
		config:   cfg,
		logger:   logger,
		subs:     make(map[int]*subscriber),
	}
	r.cond = sync.NewCond(&r.qmu)
	return r, nil
}

// Route processes one event synchronously up to its routing decision.
// Emergency events are answered in the return value; queued events
// resolve later via subscriber broadcast.
func (r *Router) Route(ctx context.Context, ev *heuristic.Event) (*heuristic.RoutingDecision, error) {
	if ev == nil {
		return nil, fmt.Errorf("route: %w: nil event", storage.ErrInvalidArgument)
	}
	ctx = logging.WithEventID(ctx, ev.ID)

	// Undo patterns resolve pending fires before this event is matched.
	if r.watcher != nil {
		r.watcher.CheckEvent(ctx, ev)
	}

	matches, err := r.scorer.Score(ctx, ev)
	var sal heuristic.Salience
	if err != nil {
		// Scorer failure must not crash the pipeline: substitute a
		// conservative salience and queue with no candidates.
		r.logger.Warn("scorer unavailable, routing with degraded salience",
			append(logging.ContextFields(ctx), zap.Error(err))...)
		degradedRoutes.Inc()
		matches = nil
		sal = degradedSalience()
	} else {
		sal = r.salience.Score(ev, matches)
	}
	ev.Salience = sal
	priority := r.salience.Reduce(sal)

	if err == nil && r.isEmergency(matches, sal) {
		return r.routeEmergency(ctx, ev, matches[0], priority)
	}
	return r.enqueue(ev, matches, priority)
}

// isEmergency requires all three thresholds to hold simultaneously.
func (r *Router) isEmergency(matches []heuristic.Match, sal heuristic.Salience) bool {
	if len(matches) == 0 {
		return false
	}
	best := matches[0]
	return best.Similarity >= r.config.EmergencySimilarity &&
		best.Heuristic.Confidence() >= r.config.EmergencyConfidence &&
		sal.Threat >= r.config.EmergencyThreat
}

// routeEmergency answers immediately from the best candidate. The
// reasoner is never consulted and the queue is never touched, so
// emergency latency is independent of queue depth.
func (r *Router) routeEmergency(ctx context.Context, ev *heuristic.Event, best heuristic.Match, priority float64) (*heuristic.RoutingDecision, error) {
	fireID := r.recordFire(ctx, best.Heuristic.ID, ev.ID)

	eventsRouted.WithLabelValues(string(heuristic.PathEmergency)).Inc()
	r.logger.Info("emergency route",
		append(logging.ContextFields(ctx),
			zap.String("heuristic_id", best.Heuristic.ID),
			zap.Float64("similarity", best.Similarity),
			zap.Float64("threat", ev.Salience.Threat))...)

	r.broadcast(Response{
		EventID: ev.ID,
		Source:  ev.Source,
		Decision: heuristic.ReasonerDecision{
			Path:                 heuristic.DecisionHeuristic,
			Response:             best.Heuristic.SuggestedAction,
			MatchedHeuristicID:   best.Heuristic.ID,
			PredictedSuccess:     true,
			PredictionConfidence: best.Heuristic.Confidence(),
		},
		FireID:    fireID,
		Timestamp: time.Now(),
	})

	return &heuristic.RoutingDecision{
		EventID:    ev.ID,
		Path:       heuristic.PathEmergency,
		Priority:   priority,
		Candidates: []heuristic.Match{best},
		Response:   best.Heuristic.SuggestedAction,
		FireID:     fireID,
	}, nil
}

func (r *Router) enqueue(ev *heuristic.Event, matches []heuristic.Match, priority float64) (*heuristic.RoutingDecision, error) {
	deadline := time.Now().Add(r.config.QueueDeadline)

	r.qmu.Lock()
	if r.stopped {
		r.qmu.Unlock()
		return nil, ErrStopped
	}
	r.seq++
	item := &queuedEvent{
		event:      ev,
		candidates: matches,
		priority:   priority,
		deadline:   deadline,
		seq:        r.seq,
	}
	heap.Push(&r.queue, item)
	queueDepth.Set(float64(r.queue.Len()))
	r.cond.Signal()
	r.qmu.Unlock()

	eventsRouted.WithLabelValues(string(heuristic.PathQueued)).Inc()
	return &heuristic.RoutingDecision{
		EventID:    ev.ID,
		Path:       heuristic.PathQueued,
		Priority:   priority,
		Candidates: matches,
		Deadline:   deadline,
	}, nil
}

// recordFire persists a fire and places it under watch. Fire recording
// failures degrade to a missing fire ID rather than blocking the answer.
func (r *Router) recordFire(ctx context.Context, heuristicID, eventID string) string {
	fire, err := heuristic.NewFire(heuristicID, eventID)
	if err != nil {
		return ""
	}
	if err := r.store.RecordFire(ctx, fire); err != nil {
		r.logger.Warn("fire record failed",
			zap.String("heuristic_id", heuristicID),
			zap.Error(err))
		return ""
	}
	if r.watcher != nil {
		r.watcher.Register(fire)
	}
	return fire.ID
}

// Subscribe registers a response listener. An empty source receives
// every response; otherwise only responses for that source are
// delivered. The returned function unsubscribes and closes the channel.
func (r *Router) Subscribe(source string) (<-chan Response, func()) {
	r.submu.Lock()
	id := r.nextSubID
	r.nextSubID++
	sub := &subscriber{source: source, ch: make(chan Response, r.config.SubscriberBuffer)}
	r.subs[id] = sub
	r.submu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.submu.Lock()
			delete(r.subs, id)
			r.submu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

func (r *Router) broadcast(resp Response) {
	r.broadcastMu.Lock()
	defer r.broadcastMu.Unlock()

	r.submu.RLock()
	defer r.submu.RUnlock()
	for _, sub := range r.subs {
		if sub.source != "" && sub.source != resp.Source {
			continue
		}
		select {
		case sub.ch <- resp:
		default:
			// A slow subscriber must not stall the router.
			broadcastsDropped.Inc()
		}
	}
}

// Start launches the reasoner worker pool and the timeout scanner.
// Idempotent: starting a running router returns an error.
func (r *Router) Start() error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.running {
		return fmt.Errorf("router already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})

	r.qmu.Lock()
	r.stopped = false
	r.qmu.Unlock()

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	r.wg.Add(1)
	go r.timeoutScanner()

	r.logger.Info("router started",
		zap.Int("workers", r.config.Workers),
		zap.Duration("queue_deadline", r.config.QueueDeadline))
	return nil
}

// Stop shuts the router down: no new events are accepted, workers finish
// their in-flight reasoner calls, and everything still queued is
// force-resolved with the fallback response so no caller is left
// waiting.
func (r *Router) Stop() {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	close(r.stopCh)

	r.qmu.Lock()
	r.stopped = true
	r.cond.Broadcast()
	r.qmu.Unlock()

	r.wg.Wait()

	// Drain whatever the workers did not get to.
	r.qmu.Lock()
	remaining := make([]*queuedEvent, len(r.queue))
	copy(remaining, r.queue)
	r.queue = r.queue[:0]
	queueDepth.Set(0)
	r.qmu.Unlock()

	for _, item := range remaining {
		r.resolveFallback(item, "shutdown")
	}
	r.logger.Info("router stopped", zap.Int("drained", len(remaining)))
}

// worker pops the highest-priority event and consults the reasoner.
func (r *Router) worker() {
	defer r.wg.Done()
	for {
		r.qmu.Lock()
		for r.queue.Len() == 0 && !r.stopped {
			r.cond.Wait()
		}
		if r.stopped {
			r.qmu.Unlock()
			return
		}
		item := heap.Pop(&r.queue).(*queuedEvent)
		queueDepth.Set(float64(r.queue.Len()))
		r.qmu.Unlock()

		r.process(item)
	}
}

func (r *Router) process(item *queuedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.ReasonerTimeout)
	defer cancel()
	ctx = logging.WithEventID(ctx, item.event.ID)

	decision, err := r.reasoner.Decide(ctx, item.event, item.candidates)
	if err != nil || decision == nil {
		if err != nil {
			r.logger.Warn("reasoner call failed",
				append(logging.ContextFields(ctx), zap.Error(err))...)
		}
		reasonerFailures.Inc()
		r.resolveFallback(item, "reasoner_error")
		return
	}

	var fireID string
	if decision.Path == heuristic.DecisionHeuristic && decision.MatchedHeuristicID != "" {
		fireID = r.recordFire(ctx, decision.MatchedHeuristicID, item.event.ID)
	}

	reasonerDecisions.WithLabelValues(string(decision.Path)).Inc()
	r.broadcast(Response{
		EventID:   item.event.ID,
		Source:    item.event.Source,
		Decision:  *decision,
		FireID:    fireID,
		Timestamp: time.Now(),
	})
}

// resolveFallback broadcasts the default response for an event the
// reasoner never answered.
func (r *Router) resolveFallback(item *queuedEvent, reason string) {
	r.logger.Debug("event resolved by fallback",
		zap.String("event_id", item.event.ID),
		zap.String("reason", reason))
	r.broadcast(Response{
		EventID: item.event.ID,
		Source:  item.event.Source,
		Decision: heuristic.ReasonerDecision{
			Path:     heuristic.DecisionFallback,
			Response: r.config.FallbackResponse,
		},
		Timestamp: time.Now(),
	})
}

// timeoutScanner force-resolves queued events past their deadline.
// Eviction happens under the queue mutex, so it can never race a worker
// dequeue for the same event.
func (r *Router) timeoutScanner() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.scanTimeouts(time.Now())
		case <-r.stopCh:
			return
		}
	}
}

func (r *Router) scanTimeouts(now time.Time) {
	r.qmu.Lock()
	expired := r.queue.removeExpired(now)
	queueDepth.Set(float64(r.queue.Len()))
	r.qmu.Unlock()

	for _, item := range expired {
		queueTimeouts.Inc()
		r.resolveFallback(item, "deadline")
	}
}
