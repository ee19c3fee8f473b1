package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/listingengine/internal/listing"
	"github.com/alanyoungcy/listingengine/internal/pipeline"
	"github.com/alanyoungcy/listingengine/internal/refund"
	"github.com/alanyoungcy/listingengine/internal/server"
	"github.com/alanyoungcy/listingengine/internal/server/handler"
	"github.com/alanyoungcy/listingengine/internal/server/ws"
	"github.com/alanyoungcy/listingengine/internal/service"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP API and, when a blob store is wired, runs the
// snapshot schedule. Refunds are only queued.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// WorkerMode delivers queued refunds.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startRefundWorker(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the API and the refund worker in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	if deps.Transfer != nil {
		a.startRefundWorker(ctx, g, deps)
	} else {
		a.logger.WarnContext(ctx, "refund.transfer_url is empty; refunds are queued but not delivered")
	}
	return g.Wait()
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	engine := listing.NewEngine(deps.Ledger, deps.Refunds, nil, a.logger)

	approvals := service.NewApprovalService(engine, deps.Cache, deps.Bus, a.logger)
	listings := service.NewListingService(deps.Ledger, deps.Cache, a.logger)
	quota := service.NewQuotaService(deps.Ledger, a.logger)
	currencies := service.NewCurrencyService(deps.Ledger, a.logger)

	var runner handler.ArchiveRunner
	if deps.Archiver != nil {
		archiver := pipeline.NewArchiver(deps.Archiver, deps.Notifier, a.logger)
		runner = archiver
		if a.cfg.Archive.Cron != "" {
			g.Go(func() error {
				return archiver.RunCron(ctx, a.cfg.Archive.Cron)
			})
		}
	}

	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:     handler.NewHealthHandler(deps.Health, a.logger),
		Approvals:  handler.NewApprovalHandler(approvals, a.logger),
		Listings:   handler.NewListingHandler(listings, a.logger),
		Quota:      handler.NewQuotaHandler(quota, a.logger),
		Currencies: handler.NewCurrencyHandler(currencies, a.logger),
		Archive:    handler.NewArchiveHandler(runner, deps.BlobReader, a.logger),
	}, deps.Limiter, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) startRefundWorker(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	w := refund.NewWorker(deps.Refunds, deps.Transfer, deps.Cursors, deps.Locks, deps.Notifier, refund.Config{
		Consumer:     a.cfg.Refund.Consumer,
		BatchSize:    a.cfg.Refund.BatchSize,
		PollInterval: a.cfg.Refund.PollInterval.Duration,
		MaxAttempts:  a.cfg.Refund.MaxAttempts,
		RetryBackoff: a.cfg.Refund.RetryBackoff.Duration,
	}, a.logger)

	a.logger.InfoContext(ctx, "refund worker enabled",
		slog.String("consumer", a.cfg.Refund.Consumer),
		slog.String("stream", a.cfg.Refund.Stream),
	)
	g.Go(func() error {
		return w.Run(ctx)
	})
}
