// workers/reconcile_worker.go
package workers

import (
	"context"
	"time"

	"guild-quest-rewards/services"

	"github.com/sirupsen/logrus"
)

// Reconciler is the part of the claim engine the sweep drives.
type Reconciler interface {
	Reconcile(ctx context.Context, opts services.ReconcileOptions) (services.ReconcileReport, error)
}

// ReconcileWorker periodically replays stranded claim intents.
type ReconcileWorker struct {
	claims   Reconciler
	opts     services.ReconcileOptions
	interval time.Duration
	log      logrus.FieldLogger
}

func NewReconcileWorker(claims Reconciler, opts services.ReconcileOptions, interval time.Duration, log logrus.FieldLogger) *ReconcileWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ReconcileWorker{
		claims:   claims,
		opts:     opts,
		interval: interval,
		log:      log.WithField("worker", "reconcile"),
	}
}

// Start blocks until ctx is cancelled. One sweep runs immediately so intents
// stranded by a previous crash are picked up at boot.
func (w *ReconcileWorker) Start(ctx context.Context) {
	w.log.WithField("interval", w.interval).Info("🔁 reconcile worker started")

	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			w.log.Info("reconcile worker stopped")
			return
		}
	}
}

// RunOnce performs a single sweep and logs its outcome.
func (w *ReconcileWorker) RunOnce(ctx context.Context) services.ReconcileReport {
	report, err := w.claims.Reconcile(ctx, w.opts)
	fields := logrus.Fields{
		"scanned":   report.Scanned,
		"confirmed": report.Confirmed,
		"retrying":  report.Retrying,
		"rejected":  report.Rejected,
		"abandoned": report.Abandoned,
	}
	switch {
	case err != nil:
		w.log.WithError(err).WithFields(fields).Error("❌ reconcile sweep failed")
	case report.Scanned > 0:
		w.log.WithFields(fields).Info("reconcile sweep finished")
	default:
		w.log.Debug("no stale intents")
	}
	return report
}
