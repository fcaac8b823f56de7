// Package persist mirrors the pending queue of a delay.Scheduler into a Store
// and replays it after a restart.
//
// Restore runs before Bind: stored jobs are re-added silently with their
// original ids, so replay does not write them back. Once bound, addJob saves
// a record and removeJob or job deletes it. Store failures are logged and
// never reach the scheduler.
package persist

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"delayd/internal/delay"
)

// Config configures a Persister.
type Config struct {
	Logger *slog.Logger
	// Timeout bounds each store call made from a scheduler event (default 5s).
	Timeout time.Duration
}

// Persister binds a scheduler to a store.
type Persister struct {
	store   Store
	sched   *delay.Scheduler
	log     *slog.Logger
	timeout time.Duration
	unbind  []func()

	// mu orders event writes against Reconcile, so a job added during a
	// reconcile is never pruned after it was saved.
	mu sync.Mutex
}

// New creates a Persister. Call Restore, then Bind.
func New(store Store, sched *delay.Scheduler, cfg Config) *Persister {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Persister{
		store:   store,
		sched:   sched,
		log:     log.With("component", "persist"),
		timeout: timeout,
	}
}

// Restore replays stored records into the scheduler without emitting events.
// Records that no longer form a valid job are deleted. Records whose id is
// already pending are skipped. It returns the number of restored jobs.
func (p *Persister) Restore(ctx context.Context) (int, error) {
	recs, err := p.store.List(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, rec := range recs {
		_, err := p.sched.Add(rec.Spec(), true)
		switch {
		case err == nil:
			restored++
		case errors.Is(err, delay.ErrDuplicateID):
			p.log.Debug("stored job already pending", "job_id", rec.ID)
		default:
			p.log.Warn("dropping invalid stored job", "job_id", rec.ID, "error", err)
			if derr := p.store.Delete(ctx, rec.ID); derr != nil {
				p.log.Error("delete invalid stored job", "job_id", rec.ID, "error", derr)
			}
		}
	}
	p.log.Info("queue restored", "restored", restored, "stored", len(recs))
	return restored, nil
}

// Bind subscribes to scheduler events. Calling Bind twice is a no-op.
func (p *Persister) Bind() {
	if p.unbind != nil {
		return
	}
	p.unbind = []func(){
		p.sched.OnAddJob(p.save),
		p.sched.OnRemoveJob(p.delete),
		p.sched.OnJob(p.delete),
	}
}

// Close unsubscribes from the scheduler. The store is left open.
func (p *Persister) Close() {
	for _, fn := range p.unbind {
		fn()
	}
	p.unbind = nil
}

// Reconcile deletes stored records for jobs that are no longer pending.
func (p *Persister) Reconcile(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pending := p.sched.Jobs()
	keep := make(map[string]struct{}, len(pending))
	for _, j := range pending {
		keep[j.ID()] = struct{}{}
	}
	n, err := p.store.Prune(ctx, keep)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.log.Info("pruned stale records", "count", n)
	}
	return n, nil
}

func (p *Persister) save(job delay.Job) {
	rec, err := Encode(job)
	if err != nil {
		p.log.Error("encode job", "job_id", job.ID(), "error", err)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.store.Save(ctx, rec); err != nil {
		p.log.Error("save job", "job_id", job.ID(), "error", err)
	}
}

func (p *Persister) delete(job delay.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.store.Delete(ctx, job.ID()); err != nil {
		p.log.Error("delete job", "job_id", job.ID(), "error", err)
	}
}
