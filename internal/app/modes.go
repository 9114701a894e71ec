package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marketpool/settlement/internal/domain"
	"github.com/marketpool/settlement/internal/server"
	"github.com/marketpool/settlement/internal/server/handler"
	"github.com/marketpool/settlement/internal/server/ws"
)

// ServeMode runs the HTTP API and WebSocket hub without the background
// sweeper. Markets past their staking deadline stay Published until an
// operator pauses them explicitly.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startAlerter(ctx, g, deps)
	return g.Wait()
}

// SweepMode runs only the deadline sweeper. Useful as a sidecar next to one
// or more serve-mode instances sharing the same Redis.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweep mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runSweeper(ctx, deps)
	})
	a.startAlerter(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the HTTP API, WebSocket hub, and the deadline sweeper in one
// process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.runSweeper(ctx, deps)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	a.startAlerter(ctx, g, deps)

	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.logger),
		Markets:    handler.NewMarketHandler(deps.Markets, a.logger),
		Stakes:     handler.NewStakeHandler(deps.Markets, a.logger),
		Settlement: handler.NewSettlementHandler(deps.Settlement, a.logger),
		Oracles:    handler.NewOracleHandler(deps.OracleSvc, a.logger),
		Tokens:     handler.NewTokenHandler(deps.TokenSvc, a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}

// startAlerter adds the operator alert forwarder to the errgroup when any
// notify channel is configured.
func (a *App) startAlerter(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Alerter == nil {
		return
	}
	g.Go(func() error {
		return deps.Alerter.Run(ctx)
	})
}

// runSweeper periodically scans the registry and pauses published markets
// whose staking deadline has passed. Late stakes are already rejected by the
// aggregate; the sweep surfaces the closed window to stores, caches, and
// event subscribers. Resolution stays an explicit operator action.
func (a *App) runSweeper(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Engine.SweepInterval.Duration
	if interval <= 0 {
		interval = time.Minute
	}

	a.logger.InfoContext(ctx, "deadline sweeper started",
		slog.Duration("interval", interval),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.sweepOnce(ctx, deps)
		}
	}
}

func (a *App) sweepOnce(ctx context.Context, deps *Dependencies) {
	now := time.Now()
	for _, m := range deps.Registry.List() {
		snap := m.Snapshot()
		if snap.Status != domain.StatusPublished {
			continue
		}
		if snap.StakeBuyingEnd.After(now) {
			continue
		}

		// Pause on the operator's behalf. The service layer persists the
		// transition and publishes the lifecycle event.
		if _, err := deps.Markets.Pause(ctx, snap.ID, snap.Operator); err != nil {
			a.logger.WarnContext(ctx, "sweeper: pause failed",
				slog.String("market_id", snap.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		a.logger.InfoContext(ctx, "sweeper: paused market past staking deadline",
			slog.String("market_id", snap.ID),
			slog.Time("stake_buying_end", snap.StakeBuyingEnd),
		)
	}
}
