package maintenance

import (
	"context"
	"log/slog"
	"time"

	"delayd/internal/delay"
)

// Reconciler prunes stored records of jobs that are no longer pending.
// *persist.Persister satisfies it.
type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// Gauge is set to the pending count. prometheus.Gauge satisfies it.
type Gauge interface {
	Set(float64)
}

// ReconcileTask returns the "reconcile" task: prune the store, refresh the
// pending gauge and log queue stats. rec and gauge may be nil.
func ReconcileTask(sched *delay.Scheduler, rec Reconciler, gauge Gauge, log *slog.Logger) TaskFunc {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context) error {
		pruned := 0
		if rec != nil {
			n, err := rec.Reconcile(ctx)
			if err != nil {
				return err
			}
			pruned = n
		}

		jobs := sched.Jobs()
		if gauge != nil {
			gauge.Set(float64(len(jobs)))
		}
		attrs := []any{"pending", len(jobs), "pruned", pruned}
		if len(jobs) > 0 {
			attrs = append(attrs,
				"next_at", jobs[0].At().UTC().Format(time.RFC3339),
				"last_at", jobs[len(jobs)-1].At().UTC().Format(time.RFC3339))
		}
		log.Info("queue reconciled", attrs...)
		return nil
	}
}
