package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"QuantGate/internal/service/ratelimit"
	"QuantGate/pkg/config"
	xhttp "QuantGate/pkg/http"
	applogger "QuantGate/pkg/logger"
	"QuantGate/pkg/queue"
)

// App encapsulates the gateway lifecycle: API server, optional chart
// server and queue workers.
type App struct {
	cfg          *config.Config
	logger       *applogger.Logger
	httpHandler  xhttp.Handler
	queue        *queue.RedisQueue
	limiter      *ratelimit.Limiter
	httpServer   *xhttp.Server
	chartsServer *xhttp.Server
}

// New creates a new App instance with all dependencies. q and rl may be nil.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	handler xhttp.Handler,
	q *queue.RedisQueue,
	rl *ratelimit.Limiter,
) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{
		cfg:         cfg,
		logger:      l,
		httpHandler: handler,
		queue:       q,
		limiter:     rl,
	}
}

// NewChartServer serves charts_dir on the builtin server address.
func NewChartServer(cfg *config.Config, l *applogger.Logger) *xhttp.Server {
	b := cfg.BuiltinServer
	dir := b.ChartsDir
	if dir == "" {
		dir = cfg.Charts.Dir
	}
	host := b.ServerHost
	if host == "" {
		host = "0.0.0.0"
	}
	return xhttp.NewServer(nil,
		xhttp.WithName("charts"),
		xhttp.WithHost(host),
		xhttp.WithPort(b.ServerPort),
		xhttp.WithStaticDir(dir),
		xhttp.WithLogger(l),
	)
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return err
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutdown signal received")
	return a.Shutdown(ctx)
}

// Start brings up every component without blocking.
func (a *App) Start(ctx context.Context) error {
	if err := os.MkdirAll(a.cfg.Charts.Dir, 0o755); err != nil {
		return err
	}

	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			a.logger.Error("queue start error", applogger.Error(err))
			return err
		}
	}

	opts := []xhttp.ServerOption{
		xhttp.WithName("api"),
		xhttp.WithHost(a.cfg.Server.Host),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(a.logger),
	}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(a.cfg.Metrics.Path))
	}
	a.httpServer = xhttp.NewServer(a.httpHandler, opts...)
	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		return err
	}

	if a.cfg.BuiltinServer.Enabled {
		a.chartsServer = NewChartServer(a.cfg, a.logger)
		if err := a.chartsServer.Start(); err != nil {
			a.logger.Error("chart server start error", applogger.Error(err))
			return err
		}
	}

	if a.limiter != nil {
		go a.pruneLimiter(ctx)
	}
	a.logger.Info("gateway started",
		applogger.String("results_transport", a.cfg.Results.Transport),
		applogger.Bool("queue", a.queue != nil),
		applogger.Bool("chart_server", a.chartsServer != nil))
	return nil
}

func (a *App) pruneLimiter(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.limiter.Prune(10 * time.Minute); n > 0 {
				a.logger.Debug("rate limiter pruned", applogger.Int("buckets", n))
			}
		}
	}
}

// Shutdown gracefully stops all services. Queue workers are stopped after
// the API so in-flight sync runs finish first.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.logger.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.chartsServer != nil {
		if err := a.chartsServer.Stop(shutdownCtx); err != nil {
			a.logger.Warn("chart server shutdown error", applogger.Error(err))
		}
	}
	if a.queue != nil {
		if err := a.queue.Stop(shutdownCtx); err != nil {
			a.logger.Warn("queue stop error", applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}
