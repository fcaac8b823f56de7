// Package app wires the scheduler to its store, sinks and servers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	amqpsink "delayd/internal/adapter/amqp"
	"delayd/internal/adapter/callback"
	"delayd/internal/adapter/httpapi"
	"delayd/internal/adapter/maintenance"
	"delayd/internal/config"
	"delayd/internal/delay"
	"delayd/internal/persist"
	"delayd/internal/platform/httpclient"
	"delayd/internal/platform/logger"
	"delayd/internal/platform/metrics"
)

// App wires application components.
type App struct {
	cfg config.Config
	log *slog.Logger
}

// New loads configuration and creates the logger.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "delayd",
	})
	return NewWithConfig(cfg, log), nil
}

// NewWithConfig creates an App from an already loaded configuration.
func NewWithConfig(cfg config.Config, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	return &App{cfg: cfg, log: log}
}

// Run listens on the configured address and serves until SIGINT or SIGTERM.
func (a *App) Run() error {
	defer func() { _ = logger.Close(a.log) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.HTTP.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the daemon on ln until ctx ends, then shuts down in order:
// HTTP server, maintenance, scheduler timer, listeners, sinks, store.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.log.Info("starting", "addr", ln.Addr().String(), "store", a.cfg.Store.Driver)

	sched := delay.New(delay.Config{Logger: a.log})
	m := metrics.New()

	store, err := openStore(ctx, a.cfg, a.log)
	if err != nil {
		_ = ln.Close()
		return err
	}

	persister := persist.New(store, sched, persist.Config{Logger: a.log})
	restored, err := persister.Restore(ctx)
	if err != nil {
		_ = ln.Close()
		_ = store.Close()
		return fmt.Errorf("restore queue: %w", err)
	}
	a.log.Info("queue restored", "jobs", restored)
	persister.Bind()
	unbind := []func(){m.Bind(sched, time.Now)}
	m.Pending.Set(float64(sched.Len()))

	var closers []func()

	hc := httpclient.New(
		httpclient.WithLogger(a.log),
		httpclient.WithRetries(a.cfg.Callback.Retries, 500*time.Millisecond),
		httpclient.WithMaxRetryDuration(a.cfg.Callback.Timeout),
	)
	callbacks := callback.New(callback.Config{
		Client:      hc,
		Logger:      a.log,
		Timeout:     a.cfg.Callback.Timeout,
		Concurrency: a.cfg.Callback.Concurrency,
		Results:     m.Callbacks,
	})
	unbind = append(unbind, callbacks.Bind(sched))
	closers = append(closers, callbacks.Close)

	if a.cfg.AMQP.URL != "" {
		conn, err := amqpsink.Dial(ctx, a.cfg.AMQP.URL, a.cfg.AMQP.Exchange, a.log)
		if err != nil {
			a.log.Error("amqp unavailable, fired jobs will not be published", "error", err)
		} else {
			sink := amqpsink.NewSink(conn, amqpsink.SinkConfig{
				Exchange: a.cfg.AMQP.Exchange,
				Logger:   a.log,
				Results:  m.Published,
			})
			unbind = append(unbind, sink.Bind(sched))
			closers = append(closers, sink.Close, func() {
				if err := conn.Close(); err != nil {
					a.log.Warn("amqp close", "error", err)
				}
			})
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewRouter(httpapi.Config{
		Queue:    sched,
		Logger:   a.log,
		Metrics:  m.Handler(),
		Requests: m.HTTP,
		Ready:    readiness(store),
	})

	if a.cfg.Telegram.Token != "" {
		tg, err := startTelegram(ctx, a.cfg, a.log, sched, router)
		if err != nil {
			a.log.Error("telegram bot disabled", "error", err)
		} else {
			unbind = append(unbind, tg.unbind)
			closers = append(closers, tg.close)
		}
	}

	runner := maintenance.New(maintenance.Config{
		Logger: a.log,
		Hooks: maintenance.Hooks{
			OnFinish: func(name string, _ time.Duration, err error) {
				result := "ok"
				if err != nil {
					result = "failed"
				}
				m.Maintenance.WithLabelValues(name, result).Inc()
			},
		},
	})
	if _, err := runner.Add(a.cfg.Maintenance.Schedule,
		maintenance.ReconcileTask(sched, persister, m.Pending, a.log),
		maintenance.TaskOptions{Name: "reconcile", Timeout: 30 * time.Second, OverlapPolicy: maintenance.SkipIfRunning},
	); err != nil {
		a.log.Error("maintenance task not scheduled", "error", err)
	}
	runner.Start()

	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = err
	}
	a.log.Info("shutting down", "pending", sched.Len())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", "error", err)
	}
	if err := runner.Stop(shutdownCtx); err != nil {
		a.log.Warn("maintenance shutdown", "error", err)
	}
	sched.Stop()
	for _, fn := range unbind {
		fn()
	}
	for _, fn := range closers {
		fn()
	}
	persister.Close()
	if err := store.Close(); err != nil {
		a.log.Warn("store close", "error", err)
	}
	a.log.Info("stopped")
	return runErr
}

func readiness(store persist.Store) func(ctx context.Context) error {
	p, ok := store.(persist.Pinger)
	if !ok {
		return nil
	}
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return p.Ping(ctx)
	}
}
