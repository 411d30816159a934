package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"AutoTrader/internal/handler/jobs"
	"AutoTrader/internal/service/alpaca"
	"AutoTrader/internal/usecase"
	"AutoTrader/pkg/config"
	xhttp "AutoTrader/pkg/http"
	pkgkafka "AutoTrader/pkg/kafka"
	applogger "AutoTrader/pkg/logger"
	"AutoTrader/pkg/queue"
)

type closer struct {
	name string
	fn   func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg    *config.Config
	l      *applogger.Logger
	trader *usecase.LiveTrader
	runner *jobs.Runner

	httpServer *xhttp.Server
	consumer   *pkgkafka.Consumer
	handlers   []pkgkafka.MessageHandler
	queue      *queue.RedisQueue
	stream     *alpaca.TradeUpdateStream
	onUpdate   alpaca.TradeUpdateHandler
	closers    []closer

	streamDone    chan struct{}
	stopStream    context.CancelFunc
	traderStarted bool
}

type Option func(*App)

func WithHTTPServer(s *xhttp.Server) Option {
	return func(a *App) { a.httpServer = s }
}

// WithConsumer starts c with the given handlers while the app runs.
func WithConsumer(c *pkgkafka.Consumer, handlers ...pkgkafka.MessageHandler) Option {
	return func(a *App) {
		a.consumer = c
		a.handlers = append(a.handlers, handlers...)
	}
}

// WithQueue starts the run-now queue workers while the app runs.
func WithQueue(q *queue.RedisQueue) Option {
	return func(a *App) { a.queue = q }
}

func WithTradeStream(s *alpaca.TradeUpdateStream, h alpaca.TradeUpdateHandler) Option {
	return func(a *App) {
		a.stream = s
		a.onUpdate = h
	}
}

// WithCloser registers an infrastructure client closed last, in reverse
// registration order.
func WithCloser(name string, fn func() error) Option {
	return func(a *App) {
		if fn != nil {
			a.closers = append(a.closers, closer{name: name, fn: fn})
		}
	}
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, trader *usecase.LiveTrader, runner *jobs.Runner, opts ...Option) *App {
	if l == nil {
		l = applogger.Nop()
	}
	a := &App{cfg: cfg, l: l.Component("app"), trader: trader, runner: runner}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts every component and blocks until SIGINT/SIGTERM or ctx is done.
// A trader that refuses to start (no trained model) fails Run.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx); err != nil {
		a.shutdown()
		return err
	}

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	return a.shutdown()
}

// RunOnce runs a single job inline and releases every client.
func (a *App) RunOnce(ctx context.Context, name string) error {
	defer a.closeAll()
	res, err := a.runner.Run(ctx, name)
	if err != nil {
		return err
	}
	a.l.Info("run complete", applogger.String("job", name), applogger.Duration("elapsed", res.Duration), applogger.Any("report", res.Report))
	return nil
}

func (a *App) start(ctx context.Context) error {
	if a.consumer != nil && len(a.handlers) > 0 {
		topics := make([]string, 0, len(a.handlers))
		for _, h := range a.handlers {
			a.consumer.RegisterHandler(h)
			topics = append(topics, h.Topic())
		}
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		a.l.Info("kafka consumer started", applogger.Strings("topics", topics))
	}

	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			return fmt.Errorf("start job queue: %w", err)
		}
	}

	if a.stream != nil && a.onUpdate != nil {
		streamCtx, cancel := context.WithCancel(ctx)
		a.stopStream = cancel
		a.streamDone = make(chan struct{})
		go func() {
			defer close(a.streamDone)
			if err := a.stream.Run(streamCtx, a.onUpdate); err != nil {
				a.l.Error("trade stream stopped", applogger.Error(err))
			}
		}()
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
	}

	if err := a.trader.Start(ctx); err != nil {
		return fmt.Errorf("start trader: %w", err)
	}
	a.traderStarted = true
	return nil
}

// shutdown stops producers of work before the things they write to.
func (a *App) shutdown() error {
	timeout := a.cfg.Scheduler.StopTimeout + a.cfg.Server.ShutdownTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if a.traderStarted {
		if err := a.trader.Stop(ctx); err != nil {
			errs = append(errs, err)
			a.l.Warn("trader stop error", applogger.Error(err))
		}
	}
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.l.Warn("http shutdown error", applogger.Error(err))
		}
	}
	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			a.l.Warn("job queue stop error", applogger.Error(err))
		}
	}
	if a.consumer != nil && len(a.handlers) > 0 {
		if err := a.consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.streamDone != nil {
		a.stopStream()
		select {
		case <-a.streamDone:
		case <-ctx.Done():
			a.l.Warn("trade stream did not stop in time")
		}
	}

	a.closeAll()
	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		start := time.Now()
		if err := c.fn(); err != nil {
			a.l.Warn("close error", applogger.String("client", c.name), applogger.Error(err))
			continue
		}
		a.l.Debug("closed", applogger.String("client", c.name), applogger.Duration("elapsed", time.Since(start)))
	}
}
