// Package httpapi exposes the reflexd HTTP surface: event submission,
// feedback, heuristic management, health, and metrics. It is a thin
// transport over the router, learning strategy, and store.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reflexd/internal/config"
	"github.com/fyrsmithlabs/reflexd/internal/embeddings"
	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
	"github.com/fyrsmithlabs/reflexd/internal/learning"
	"github.com/fyrsmithlabs/reflexd/internal/logging"
	"github.com/fyrsmithlabs/reflexd/internal/storage"
)

// EventRouter is the slice of the router the API needs.
type EventRouter interface {
	Route(ctx context.Context, ev *heuristic.Event) (*heuristic.RoutingDecision, error)
}

// FireWatcher is the slice of the outcome watcher the API needs: removing
// a fire from the watch set once explicit feedback resolves it, and
// recording ignored suggestions for the streak signal.
type FireWatcher interface {
	Forget(fireID string)
	NoteIgnored(ctx context.Context, heuristicID string) error
}

// Server is the reflexd HTTP server.
type Server struct {
	echo     *echo.Echo
	router   EventRouter
	strategy learning.Strategy
	store    storage.Store
	embedder embeddings.Provider
	watcher  FireWatcher
	config   config.HTTPConfig
	logger   *zap.Logger
}

// NewServer creates the HTTP server. embedder and watcher may be nil.
func NewServer(r EventRouter, strategy learning.Strategy, store storage.Store, embedder embeddings.Provider, watcher FireWatcher, cfg config.HTTPConfig, logger *zap.Logger) (*Server, error) {
	if r == nil {
		return nil, fmt.Errorf("router cannot be nil")
	}
	if strategy == nil {
		return nil, fmt.Errorf("strategy cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		echo:     e,
		router:   r,
		strategy: strategy,
		store:    store,
		embedder: embedder,
		watcher:  watcher,
		config:   cfg,
		logger:   logger,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	v1.POST("/events", s.handleEvent)
	v1.POST("/feedback", s.handleFeedback)
	v1.POST("/heuristics", s.handleCreateHeuristic)
	v1.GET("/heuristics/:id", s.handleGetHeuristic)
	v1.DELETE("/heuristics/:id", s.handleDeleteHeuristic)
}

// Echo exposes the underlying echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	errCh := make(chan error, 1)

	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout.Duration())
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok", Service: "reflexd"})
}

// requestContext carries the middleware-assigned request ID on the
// context so downstream log lines can be correlated to the request.
func (s *Server) requestContext(c echo.Context) context.Context {
	ctx := c.Request().Context()
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		ctx = logging.WithRequestID(ctx, id)
	}
	return ctx
}

type eventRequest struct {
	ID      string         `json:"id,omitempty"`
	Source  string         `json:"source"`
	Text    string         `json:"text"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (s *Server) handleEvent(c echo.Context) error {
	var req eventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	ev, err := heuristic.NewEvent(req.Source, req.Text)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ID != "" {
		ev.ID = req.ID
	}
	ev.Payload = req.Payload

	decision, err := s.router.Route(s.requestContext(c), ev)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, decision)
}

type feedbackRequest struct {
	HeuristicID string  `json:"heuristic_id"`
	FireID      string  `json:"fire_id,omitempty"`
	Positive    bool    `json:"positive"`
	Magnitude   float64 `json:"magnitude,omitempty"`

	// Ignored reports that the heuristic's suggestion was presented and
	// not acted on. Repeated ignores produce a negative streak signal.
	Ignored bool `json:"ignored,omitempty"`
}

type feedbackResponse struct {
	HeuristicID string  `json:"heuristic_id"`
	Confidence  float64 `json:"confidence"`
}

func (s *Server) handleFeedback(c echo.Context) error {
	var req feedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.HeuristicID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "heuristic_id is required")
	}

	ctx := s.requestContext(c)

	if req.Ignored {
		if s.watcher == nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "ignore tracking is not enabled")
		}
		if err := s.watcher.NoteIgnored(ctx, req.HeuristicID); err != nil {
			return s.mapError(err)
		}
	} else {
		// Stop watching the fire before applying the explicit signal, so
		// the implicit-feedback sweep cannot also resolve it in between.
		if s.watcher != nil && req.FireID != "" {
			s.watcher.Forget(req.FireID)
		}

		sig := s.strategy.InterpretExplicit(req.HeuristicID, req.FireID, req.Positive, req.Magnitude)
		if err := s.strategy.Apply(ctx, sig); err != nil {
			return s.mapError(err)
		}
	}

	h, err := s.store.GetHeuristic(ctx, req.HeuristicID)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, feedbackResponse{HeuristicID: h.ID, Confidence: h.Confidence()})
}

type createHeuristicRequest struct {
	Condition           string  `json:"condition"`
	SuggestedAction     string  `json:"suggested_action"`
	Source              string  `json:"source"`
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`
}

func (s *Server) handleCreateHeuristic(c echo.Context) error {
	var req createHeuristicRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	threshold := req.SimilarityThreshold
	if threshold == 0 {
		threshold = 0.7
	}
	h, err := heuristic.New(req.Condition, req.SuggestedAction, req.Source, heuristic.OriginUser, threshold)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := s.requestContext(c)
	if s.embedder != nil {
		embedding, err := s.embedder.EmbedQuery(ctx, h.Condition)
		if err != nil {
			s.logger.Warn("condition not embedded, keyword matching only",
				append(logging.ContextFields(ctx),
					zap.String("heuristic_id", h.ID), zap.Error(err))...)
		} else {
			h.ConditionEmbedding = embedding
		}
	}

	if err := s.store.StoreHeuristic(ctx, h); err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusCreated, h)
}

func (s *Server) handleGetHeuristic(c echo.Context) error {
	h, err := s.store.GetHeuristic(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, h)
}

func (s *Server) handleDeleteHeuristic(c echo.Context) error {
	if err := s.store.DeleteHeuristic(c.Request().Context(), c.Param("id")); err != nil {
		return s.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// mapError translates the storage error taxonomy to HTTP status codes.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrInvalidArgument):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("unhandled api error", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
