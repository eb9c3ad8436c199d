package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reflexd/internal/cache"
	"github.com/fyrsmithlabs/reflexd/internal/config"
	"github.com/fyrsmithlabs/reflexd/internal/embeddings"
	"github.com/fyrsmithlabs/reflexd/internal/httpapi"
	"github.com/fyrsmithlabs/reflexd/internal/ingest"
	"github.com/fyrsmithlabs/reflexd/internal/learning"
	"github.com/fyrsmithlabs/reflexd/internal/logging"
	"github.com/fyrsmithlabs/reflexd/internal/pack"
	"github.com/fyrsmithlabs/reflexd/internal/reasoner"
	"github.com/fyrsmithlabs/reflexd/internal/router"
	"github.com/fyrsmithlabs/reflexd/internal/scorer"
	"github.com/fyrsmithlabs/reflexd/internal/storage"
	"github.com/fyrsmithlabs/reflexd/internal/telemetry"
	"github.com/fyrsmithlabs/reflexd/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reflexd daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logging.Sync(logger) //nolint:errcheck

	logger.Info("starting reflexd",
		zap.String("version", version),
		zap.String("commit", gitCommit),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	telemetry.Version = version
	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	notifying := storage.NewNotifyingStore(store)

	embedder, err := embeddings.NewProvider(embeddings.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey.Value(),
		Timeout:  cfg.Embedding.Timeout.Duration(),
		CacheDir: cfg.Embedding.CacheDir,
	})
	if err != nil {
		store.Close() //nolint:errcheck
		return fmt.Errorf("init embeddings: %w", err)
	}

	hcache := cache.New(cache.Config{
		HeuristicCapacity: cfg.Cache.MaxEntries,
		NoveltyCapacity:   cfg.Cache.NoveltyWindow,
		TTL:               cfg.Cache.TTL.Duration(),
	})
	// Confidence updates and deletions on the store invalidate cached
	// snapshots so scoring never sees stale evidence.
	notifying.Subscribe(storage.ChangeListenerFunc(hcache.NotifyHeuristicChange))

	sc := scorer.New(embedder, hcache, notifying, scorer.Config{
		MinSimilarity:   cfg.Scorer.MinSimilarity,
		MinConfidence:   cfg.Scorer.MinConfidence,
		MaxCandidates:   cfg.Scorer.MaxCandidates,
		EmbedRatePerSec: cfg.Scorer.EmbedRatePerSec,
		EmbedBurst:      cfg.Scorer.EmbedBurst,
	}, logger)

	strategy := learning.NewBetaStrategy(notifying, hcache, learning.Config{
		CreditPolicy:    learning.CreditPolicy(cfg.Learning.CreditPolicy),
		UndoKeywords:    cfg.Learning.UndoKeywords,
		IgnoreThreshold: cfg.Learning.IgnoreThreshold,
	}, logger)

	outcomes, err := watcher.New(strategy, logger,
		watcher.WithWindow(cfg.Watcher.Window.Duration()),
		watcher.WithSweepInterval(cfg.Watcher.SweepInterval.Duration()),
		watcher.WithIgnoreThreshold(cfg.Learning.IgnoreThreshold),
	)
	if err != nil {
		return fmt.Errorf("init outcome watcher: %w", err)
	}

	var rsn router.Reasoner
	if cfg.Router.ReasonerURL != "" {
		rsn, err = reasoner.NewHTTPClient(cfg.Router.ReasonerURL, nil, logger)
		if err != nil {
			return fmt.Errorf("init reasoner client: %w", err)
		}
	} else {
		logger.Warn("no reasoner configured, adopting confident candidates locally")
		rsn = reasoner.NewLocal(0)
	}

	salience := router.NewWeightedSalience(salienceWeights(cfg.Router), hcache, 0)

	rt, err := router.New(sc, notifying, rsn, salience, outcomes, router.Config{
		EmergencySimilarity: cfg.Router.EmergencySimilarity,
		EmergencyConfidence: cfg.Router.EmergencyConfidence,
		EmergencyThreat:     cfg.Router.EmergencyThreat,
		QueueDeadline:       cfg.Router.QueueDeadline.Duration(),
		ScanInterval:        cfg.Router.ScanInterval.Duration(),
		Workers:             cfg.Router.Workers,
		ReasonerTimeout:     cfg.Router.ReasonerTimeout.Duration(),
	}, logger)
	if err != nil {
		return fmt.Errorf("init router: %w", err)
	}

	if err := outcomes.Start(); err != nil {
		return fmt.Errorf("start outcome watcher: %w", err)
	}
	if err := rt.Start(); err != nil {
		return fmt.Errorf("start router: %w", err)
	}

	var packs *pack.Loader
	if cfg.Packs.Dir != "" {
		packs, err = pack.NewLoader(notifying, embedder, cfg.Packs.Dir, logger)
		if err != nil {
			return fmt.Errorf("init pack loader: %w", err)
		}
		if err := packs.LoadAll(ctx); err != nil {
			return fmt.Errorf("load heuristic packs: %w", err)
		}
		if cfg.Packs.Watch {
			if err := packs.Watch(ctx); err != nil {
				return fmt.Errorf("watch heuristic packs: %w", err)
			}
		}
	}

	var ingestor *ingest.Ingestor
	if cfg.Ingest.URL != "" {
		nc, err := ingest.Connect(cfg.Ingest.URL, logger)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()
		ingestor, err = ingest.New(nc, rt, cfg.Ingest.Subject, cfg.Ingest.ResponseSubjectPrefix, logger)
		if err != nil {
			return fmt.Errorf("init ingestor: %w", err)
		}
		if err := ingestor.Start(ctx); err != nil {
			return fmt.Errorf("start ingestor: %w", err)
		}
	}

	srv, err := httpapi.NewServer(rt, strategy, notifying, embedder, outcomes, cfg.HTTP, logger)
	if err != nil {
		return fmt.Errorf("init http server: %w", err)
	}

	logger.Info("reflexd ready",
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("nats_ingest", ingestor != nil),
	)

	serveErr := srv.Start(ctx)

	// Shutdown in reverse dependency order: stop accepting events, drain
	// the queue, then close stores.
	if ingestor != nil {
		ingestor.Stop()
	}
	if packs != nil {
		packs.StopWatch()
	}
	rt.Stop()
	outcomes.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Duration())
	defer shutdownCancel()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}
	if err := embedder.Close(); err != nil {
		logger.Warn("embedder close", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		logger.Warn("store close", zap.Error(err))
	}

	logger.Info("reflexd stopped")
	return serveErr
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return storage.NewChromemStore(ctx, storage.ChromemConfig{
			Path: cfg.Storage.Path,
		}, logger)
	}
}

func salienceWeights(cfg config.RouterConfig) router.Weights {
	w := router.Weights{
		Threat:    cfg.ThreatWeight,
		Novelty:   cfg.NoveltyWeight,
		Urgency:   cfg.UrgencyWeight,
		Relevance: cfg.RelevanceWeight,
	}
	if w.Threat == 0 && w.Novelty == 0 && w.Urgency == 0 && w.Relevance == 0 {
		return router.DefaultWeights()
	}
	return w
}
