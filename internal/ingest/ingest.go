// Package ingest consumes events from NATS and feeds them through the
// router, publishing resolved responses back per source.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
	"github.com/fyrsmithlabs/reflexd/internal/router"
)

// EventRouter is the slice of the router the ingestor needs.
type EventRouter interface {
	Route(ctx context.Context, ev *heuristic.Event) (*heuristic.RoutingDecision, error)
	Subscribe(source string) (<-chan router.Response, func())
}

// inboundEvent is the wire format accepted on the event subject.
type inboundEvent struct {
	ID        string         `json:"id,omitempty"`
	Source    string         `json:"source"`
	Text      string         `json:"text"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Connect dials NATS with indefinite reconnection. Connection state
// changes are logged so operators can see flapping.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats %s: %w", url, err)
	}
	return nc, nil
}

// Ingestor bridges NATS and the router: events in on one subject,
// responses out on per-source subjects.
type Ingestor struct {
	nc             *nats.Conn
	router         EventRouter
	subject        string
	responsePrefix string
	logger         *zap.Logger

	sub        *nats.Subscription
	cancelResp func()
	doneCh     chan struct{}
}

// New creates an ingestor. Start must be called to begin consuming.
func New(nc *nats.Conn, r EventRouter, subject, responsePrefix string, logger *zap.Logger) (*Ingestor, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	if r == nil {
		return nil, fmt.Errorf("router cannot be nil")
	}
	if subject == "" {
		return nil, fmt.Errorf("subject cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		nc:             nc,
		router:         r,
		subject:        subject,
		responsePrefix: responsePrefix,
		logger:         logger,
	}, nil
}

// Start subscribes to the event subject and begins forwarding router
// responses.
func (i *Ingestor) Start(ctx context.Context) error {
	if i.sub != nil {
		return fmt.Errorf("ingestor already started")
	}

	sub, err := i.nc.Subscribe(i.subject, func(msg *nats.Msg) {
		i.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", i.subject, err)
	}
	i.sub = sub

	responses, cancel := i.router.Subscribe("")
	i.cancelResp = cancel
	i.doneCh = make(chan struct{})
	go i.forwardResponses(responses)

	i.logger.Info("ingestor started",
		zap.String("subject", i.subject),
		zap.String("response_prefix", i.responsePrefix))
	return nil
}

// Stop unsubscribes and waits for the response forwarder to drain.
func (i *Ingestor) Stop() {
	if i.sub == nil {
		return
	}
	_ = i.sub.Unsubscribe()
	i.sub = nil
	i.cancelResp()
	<-i.doneCh
	i.logger.Info("ingestor stopped")
}

func (i *Ingestor) handleMessage(ctx context.Context, msg *nats.Msg) {
	var in inboundEvent
	if err := json.Unmarshal(msg.Data, &in); err != nil {
		i.logger.Warn("malformed event dropped", zap.Error(err))
		return
	}

	ev, err := heuristic.NewEvent(in.Source, in.Text)
	if err != nil {
		i.logger.Warn("invalid event dropped",
			zap.String("source", in.Source),
			zap.Error(err))
		return
	}
	if in.ID != "" {
		ev.ID = in.ID
	}
	if !in.Timestamp.IsZero() {
		ev.Timestamp = in.Timestamp
	}
	ev.Payload = in.Payload

	decision, err := i.router.Route(ctx, ev)
	if err != nil {
		i.logger.Error("event routing failed",
			zap.String("event_id", ev.ID),
			zap.Error(err))
		return
	}

	// Request/reply callers get the routing decision synchronously.
	if msg.Reply != "" {
		data, err := json.Marshal(decision)
		if err == nil {
			_ = msg.Respond(data)
		}
	}
}

// forwardResponses publishes every resolved response to the per-source
// response subject.
func (i *Ingestor) forwardResponses(responses <-chan router.Response) {
	defer close(i.doneCh)
	for resp := range responses {
		subject := i.responsePrefix + "." + resp.Source
		data, err := json.Marshal(resp)
		if err != nil {
			i.logger.Error("response marshal failed",
				zap.String("event_id", resp.EventID),
				zap.Error(err))
			continue
		}
		if err := i.nc.Publish(subject, data); err != nil {
			i.logger.Warn("response publish failed",
				zap.String("subject", subject),
				zap.Error(err))
		}
	}
}
