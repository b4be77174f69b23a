// Package app assembles the relay and its operational HTTP surface into a
// runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/audiorelay/internal/config"
	"github.com/MrWong99/audiorelay/internal/health"
	"github.com/MrWong99/audiorelay/internal/observe"
	"github.com/MrWong99/audiorelay/internal/relay"
	"github.com/MrWong99/audiorelay/internal/statsfeed"
	"github.com/MrWong99/audiorelay/pkg/audio"
)

// App owns the relay, the operational HTTP server and the telemetry
// provider, and ties their lifetimes together.
type App struct {
	cfg   *config.Config
	relay *relay.Relay

	httpServer      *http.Server
	shutdownObserve func(context.Context) error
}

// New wires the relay and the ops HTTP server from configuration and the
// already constructed source and destination platforms.
func New(ctx context.Context, cfg *config.Config, source, destination audio.Platform) (*App, error) {
	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "audiorelay",
	})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry provider: %w", err)
	}

	metrics := observe.DefaultMetrics()

	rel, err := relay.New(relay.Config{
		Source:               source,
		SourceEndpoint:       cfg.Source.Endpoint,
		Destination:          destination,
		DestinationEndpoint:  cfg.Destination.Endpoint,
		BufferCapacity:       cfg.Buffer.Capacity,
		GetTimeout:           cfg.Buffer.GetTimeout.Std(),
		ReconnectMaxAttempts: cfg.Reconnect.MaxAttempts,
		ReconnectDelay:       cfg.Reconnect.Delay.Std(),
		Health: health.MonitorConfig{
			Interval: cfg.Health.Interval.Std(),
			IdleWarn: cfg.Health.IdleWarn.Std(),
			IdleMax:  cfg.Health.IdleMax.Std(),
			DropWarn: cfg.Health.DropWarn,
			DropMax:  cfg.Health.DropMax,
		},
		Metrics: metrics,
	})
	if err != nil {
		_ = shutdownObserve(ctx)
		return nil, fmt.Errorf("app: create relay: %w", err)
	}

	mux := http.NewServeMux()
	health.NewHandler(health.RelayChecker(rel.Health())).Register(mux)
	statsfeed.New(rel.Buffer(), rel.Health()).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &App{
		cfg:   cfg,
		relay: rel,
		httpServer: &http.Server{
			Addr:         cfg.Server.ListenAddr,
			Handler:      observe.Middleware(metrics)(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		shutdownObserve: shutdownObserve,
	}, nil
}

// Relay returns the supervised relay.
func (a *App) Relay() *relay.Relay {
	return a.relay
}

// Run starts the ops HTTP server and the relay and blocks until the relay
// stops or ctx is cancelled. The HTTP server is stopped when Run returns.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("ops server listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: ops server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Warn("ops server shutdown error", "error", err)
			}
		}()
		return a.relay.Run(gctx)
	})

	return g.Wait()
}

// Shutdown stops the relay and flushes telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	a.relay.Stop()
	return a.shutdownObserve(ctx)
}
