package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TickWatch/internal/handler/api"
	mid "TickWatch/internal/middleware"
	"TickWatch/internal/usecase"
	"TickWatch/pkg/config"
	xhttp "TickWatch/pkg/http"
	applogger "TickWatch/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Components is everything App runs. Recorder and Pipeline are nil when the
// sink is off. Connections to Redis, Kafka and ClickHouse are closed by the
// injector's cleanup after Run returns.
type Components struct {
	Controller *usecase.SubscriptionController
	Guard      *usecase.LifecycleGuard
	Poller     *usecase.StatsPoller
	Markets    *usecase.MarketCatalog
	Recorder   *usecase.TickRecorder
	Pipeline   *mid.RealtimePipeline
	Hub        *api.Hub
	Handler    xhttp.Handler
}

// App runs the session, its HTTP surface and the background workers.
type App struct {
	cfg    *config.Config
	logger *applogger.Logger
	c      Components
}

func New(cfg *config.Config, l *applogger.Logger, c Components) *App {
	return &App{cfg: cfg, logger: l, c: c}
}

// Run blocks until ctx is cancelled, SIGINT/SIGTERM arrives, or a component fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := xhttp.NewServer(a.logger, a.c.Handler,
		xhttp.WithHost(a.cfg.Server.Host),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(a.cfg.Server.CORS),
		xhttp.WithMetricsPath(a.metricsPath()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return a.c.Guard.Run(gctx) })
	g.Go(func() error { return a.c.Poller.Run(gctx) })
	g.Go(func() error {
		a.bootstrap(gctx)
		return nil
	})

	if a.c.Recorder != nil && a.c.Pipeline != nil {
		// the pipeline outlives the recorder so its final flush has somewhere to go
		pipeCtx, pipeCancel := context.WithCancel(context.WithoutCancel(gctx))
		g.Go(func() error {
			defer pipeCancel()
			return a.c.Recorder.Run(gctx)
		})
		g.Go(func() error { return a.c.Pipeline.Run(pipeCtx) })
	}

	a.logger.Info("tickwatch started",
		applogger.String("session", a.c.Controller.SessionID()),
		applogger.String("backend", a.cfg.Backend.BaseURL),
		applogger.String("sink", a.cfg.Sink.Type),
	)

	err := g.Wait()
	a.shutdown()
	return err
}

// bootstrap adopts an existing backend subscription and warms the market
// cache. Neither is fatal.
func (a *App) bootstrap(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Backend.Timeout)
	defer cancel()

	var g errgroup.Group
	if a.cfg.Session.ReconcileOnStart {
		g.Go(func() error {
			if err := a.c.Controller.Reconcile(ctx); err != nil {
				a.logger.Warn("startup reconcile skipped", applogger.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		markets, err := a.c.Markets.List(ctx)
		if err != nil {
			a.logger.Warn("market catalog warmup failed", applogger.Error(err))
			return nil
		}
		a.logger.Info("market catalog loaded", applogger.Int("markets", len(markets)))
		return nil
	})
	_ = g.Wait()
}

func (a *App) shutdown() {
	start := time.Now()
	a.c.Hub.Close()
	a.logger.Info("workers stopped", applogger.Duration("took", time.Since(start)))
}

func (a *App) metricsPath() string {
	if !a.cfg.Metrics.Enabled {
		return ""
	}
	return a.cfg.Metrics.Path
}
