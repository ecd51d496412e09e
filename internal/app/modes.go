package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/sealedsettle/internal/crypto"
	"github.com/alanyoungcy/sealedsettle/internal/server"
	"github.com/alanyoungcy/sealedsettle/internal/server/handler"
	"github.com/alanyoungcy/sealedsettle/internal/server/ws"
	"github.com/alanyoungcy/sealedsettle/internal/service"
)

// ServerMode serves the HTTP and WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)

	hub := a.startHub(ctx, g, deps)
	svc := a.settlementService(deps, hub)
	a.startHTTPServer(ctx, g, deps, svc, hub)

	return g.Wait()
}

// FinalizerMode runs only the finalize sweeper.
func (a *App) FinalizerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting finalizer mode")
	g, ctx := errgroup.WithContext(ctx)

	svc := a.settlementService(deps, nil)
	a.startSweeper(ctx, g, deps, svc)

	return g.Wait()
}

// FullMode runs the API and the sweeper in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)

	hub := a.startHub(ctx, g, deps)
	svc := a.settlementService(deps, hub)
	a.startHTTPServer(ctx, g, deps, svc, hub)
	a.startSweeper(ctx, g, deps, svc)

	return g.Wait()
}

// settlementService attaches every configured collaborator. Without a bus
// the hub receives events directly.
func (a *App) settlementService(deps *Dependencies, hub *ws.Hub) *service.SettlementService {
	s := a.cfg.Settlement
	svc := service.NewSettlementService(deps.Metas, deps.Ledger, crypto.NewCodec(), s.Params(), a.logger).
		WithLedgerTimeout(s.LedgerTimeout.Duration).
		WithMetrics(deps.Metrics).
		WithAudit(deps.Audit)

	if deps.Signer != nil {
		svc.WithSigner(deps.Signer)
	}
	if deps.StatsCache != nil {
		svc.WithStatsCache(deps.StatsCache)
	}
	if deps.Bundles != nil {
		svc.WithBundles(deps.Bundles)
	}
	if deps.Notifier != nil {
		svc.WithNotifier(deps.Notifier)
	}
	switch {
	case deps.Announcer != nil:
		svc.WithAnnouncer(deps.Announcer)
	case hub != nil:
		svc.WithAnnouncer(hub)
	}
	return svc
}

func (a *App) startHub(ctx context.Context, g *errgroup.Group, deps *Dependencies) *ws.Hub {
	hub := ws.NewHub(deps.Bus, a.cfg.Mode, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})
	return hub
}

func (a *App) startSweeper(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.SettlementService) {
	s := a.cfg.Settlement
	if deps.Locks == nil {
		a.logger.WarnContext(ctx, "finalize sweeper running without a lock, run a single finalizer instance")
	}
	sweeper := service.NewFinalizeSweeper(deps.Ledger, svc, deps.Locks, s.SweepInterval.Duration, s.SweepLockTTL.Duration, a.logger).
		WithMetrics(deps.Metrics)
	g.Go(func() error {
		return sweeper.Run(ctx)
	})
}

func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	svc *service.SettlementService,
	hub *ws.Hub,
) {
	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Markets:    handler.NewMarketHandler(svc, a.logger),
		Settlement: handler.NewSettlementHandler(svc, a.logger),
		Stats:      handler.NewStatsHandler(svc, a.logger),
	}
	if deps.Admin != nil {
		handlers.Ledger = handler.NewLedgerHandler(deps.Admin, a.logger)
	}

	sc := a.cfg.Server
	srv := server.NewServer(server.Config{
		Port:        sc.Port,
		CORSOrigins: sc.CORSOrigins,
		APIKey:      sc.APIKey,
		EncodeLimit: sc.EncodeLimit,
		ClaimLimit:  sc.ClaimLimit,
		LimitWindow: sc.LimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, deps.Metrics, a.logger)

	if sc.APIKey == "" {
		a.logger.WarnContext(ctx, "server.api_key is empty, operator routes are unauthenticated")
	}

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			a.logger.Error("http shutdown", slog.String("error", err.Error()))
			return err
		}
		return nil
	})
}
