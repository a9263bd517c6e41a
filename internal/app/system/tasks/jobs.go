// internal/app/system/tasks/jobs.go
package tasks

import (
	"context"
	"time"

	"github.com/dalemusser/cohortsync/internal/app/store/audit"
	"github.com/dalemusser/cohortsync/internal/app/store/notifyqueue"
	"go.uber.org/zap"
)

// Reconciler re-derives enrollment state for groups touched since a time.
type Reconciler interface {
	ReconcileSince(ctx context.Context, since time.Time) (int, error)
}

// ReconcileJob creates a job that re-runs propagation for every group
// updated within window. Idempotent writes make a re-run converge on the
// same state, so it repairs cycles that aborted part way.
func ReconcileJob(r Reconciler, logger *zap.Logger, schedule string, window, timeout time.Duration) Job {
	return Job{
		Name:     "reconcile-groups",
		Schedule: schedule,
		Interval: time.Hour,
		Timeout:  timeout,
		Run: func(ctx context.Context) error {
			n, err := r.ReconcileSince(ctx, time.Now().UTC().Add(-window))
			if err != nil {
				return err
			}
			logger.Info("reconciled groups", zap.Int("count", n), zap.Duration("window", window))
			return nil
		},
	}
}

// QueuePruneJob creates a job that removes delivered notifications older
// than retention.
func QueuePruneJob(queue *notifyqueue.Store, logger *zap.Logger, retention time.Duration) Job {
	return Job{
		Name:     "notification-queue-prune",
		Interval: 1 * time.Hour,
		Run: func(ctx context.Context) error {
			count, err := queue.PruneDone(ctx, time.Now().UTC().Add(-retention))
			if err != nil {
				return err
			}
			if count > 0 {
				logger.Info("pruned delivered notifications", zap.Int64("count", count))
			}
			return nil
		},
	}
}

// AuditPruneJob creates a job that removes audit events older than
// retention. A zero retention keeps everything.
func AuditPruneJob(store *audit.Store, logger *zap.Logger, retention time.Duration) Job {
	return Job{
		Name:     "audit-prune",
		Schedule: "@daily",
		Run: func(ctx context.Context) error {
			if retention <= 0 {
				return nil
			}
			count, err := store.PruneBefore(ctx, time.Now().UTC().Add(-retention))
			if err != nil {
				return err
			}
			if count > 0 {
				logger.Info("pruned audit events", zap.Int64("count", count))
			}
			return nil
		},
	}
}
