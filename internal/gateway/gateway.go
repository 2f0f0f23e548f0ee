// Package gateway exposes the HTTP trigger surface: job endpoints for
// external schedulers, health and status probes, Prometheus metrics, and
// a websocket feed of job outcomes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ferrant/reverie/internal/config"
	"github.com/ferrant/reverie/internal/jobs"
)

// Pinger is the health-check view of the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Gateway is the HTTP server. All collaborators are injected at
// construction; it holds no global state.
type Gateway struct {
	cfg       config.GatewayConfig
	runner    *jobs.Runner
	store     Pinger
	metrics   *Metrics
	events    *Broadcaster
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a Gateway.
func New(cfg config.GatewayConfig, runner *jobs.Runner, store Pinger, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")
	return &Gateway{
		cfg:     cfg,
		runner:  runner,
		store:   store,
		metrics: NewMetrics(),
		events:  NewBroadcaster(logger),
		logger:  logger,
	}
}

// Events returns the job outcome broadcaster, so other components can
// publish to connected websocket clients.
func (g *Gateway) Events() *Broadcaster { return g.events }

// Start binds the listener and serves in the background.
func (g *Gateway) Start() error {
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.cfg.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.cfg.ReadTimeout,
		WriteTimeout: g.cfg.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.cfg.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", g.cfg.Bind, err)
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.cfg.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server and closes the event feed.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.cfg.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	g.events.Close()
	return g.server.Shutdown(shutdownCtx)
}
