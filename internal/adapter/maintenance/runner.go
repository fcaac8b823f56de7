// Package maintenance runs periodic housekeeping tasks on cron schedules.
//
// Schedules accept six-field cron expressions (with seconds) and descriptors
// such as "@hourly" or "@every 1m". Each task can skip or queue runs that
// overlap a previous one, gets an optional timeout, and has panics recovered.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TaskFunc is one run of a task.
type TaskFunc func(ctx context.Context) error

// TaskID identifies a registered task.
type TaskID = cron.EntryID

// OverlapPolicy decides what happens when a run is due while the previous
// run of the same task is still going.
type OverlapPolicy int

const (
	// AllowOverlap runs both.
	AllowOverlap OverlapPolicy = iota
	// SkipIfRunning drops the new run.
	SkipIfRunning
	// DelayIfRunning starts the new run once the previous one returns.
	DelayIfRunning
)

// TaskOptions configures one task.
type TaskOptions struct {
	Name          string
	Timeout       time.Duration
	OverlapPolicy OverlapPolicy
}

// Hooks observe task runs.
type Hooks struct {
	OnStart  func(name string)
	OnFinish func(name string, d time.Duration, err error)
}

// Config configures a Runner.
type Config struct {
	Logger *slog.Logger
	Hooks  Hooks
}

// Runner owns a cron instance and the context tasks run under.
type Runner struct {
	cron     *cron.Cron
	log      *slog.Logger
	hooks    Hooks
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug(msg, kv...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error(msg, append([]any{"error", err}, kv...)...)
}

// New creates a stopped Runner.
func New(cfg Config) *Runner {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{log: log.With("component", "cron")}
	return &Runner{
		cron:   cron.New(cron.WithSeconds(), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		log:    log.With("component", "maintenance"),
		hooks:  cfg.Hooks,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers fn on schedule.
func (r *Runner) Add(schedule string, fn TaskFunc, opts TaskOptions) (TaskID, error) {
	opts = opts.withDefaults()
	cl := cronLogger{log: r.log}

	var chain cron.Chain
	switch opts.OverlapPolicy {
	case SkipIfRunning:
		chain = cron.NewChain(cron.SkipIfStillRunning(cl))
	case DelayIfRunning:
		chain = cron.NewChain(cron.DelayIfStillRunning(cl))
	default:
		chain = cron.NewChain()
	}

	id, err := r.cron.AddJob(schedule, chain.Then(cron.FuncJob(func() { r.run(fn, opts) })))
	if err != nil {
		return 0, fmt.Errorf("add task %s with schedule %q: %w", opts.Name, schedule, err)
	}
	r.log.Info("task added", "name", opts.Name, "schedule", schedule, "id", id)
	return id, nil
}

// RunNow runs a registered task body once, outside the schedule.
func (r *Runner) RunNow(fn TaskFunc, opts TaskOptions) {
	r.run(fn, opts)
}

// Start begins running tasks.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop cancels running tasks and waits for them, giving up when ctx ends.
func (r *Runner) Stop(ctx context.Context) error {
	var err error
	r.stopOnce.Do(func() {
		r.cancel()
		select {
		case <-r.cron.Stop().Done():
		case <-ctx.Done():
			err = ctx.Err()
			r.log.Warn("maintenance stop deadline exceeded")
		}
	})
	return err
}

func (o TaskOptions) withDefaults() TaskOptions {
	if o.Name == "" {
		o.Name = "unnamed"
	}
	return o
}

func (r *Runner) run(fn TaskFunc, opts TaskOptions) {
	opts = opts.withDefaults()
	if r.hooks.OnStart != nil {
		r.hooks.OnStart(opts.Name)
	}

	ctx := r.ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := safeCall(ctx, fn)
	d := time.Since(start)

	if r.hooks.OnFinish != nil {
		r.hooks.OnFinish(opts.Name, d, err)
	}
	if err != nil {
		r.log.Error("task failed", "name", opts.Name, "dur", d, "error", err)
		return
	}
	r.log.Debug("task done", "name", opts.Name, "dur", d)
}

func safeCall(ctx context.Context, fn TaskFunc) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}
