// workers/scheduler.go
package workers

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// StartAuditScheduler runs the audit export every day at 00:15 UTC. The
// returned scheduler must be shut down by the caller.
func StartAuditScheduler(ctx context.Context, exporter *AuditExporter, log logrus.FieldLogger) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 15, 0))),
		gocron.NewTask(func() {
			if err := exporter.ExportPreviousDay(ctx); err != nil {
				log.WithError(err).Error("[Scheduler] claim audit export failed")
			}
		}),
		gocron.WithName("claim-audit-export"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}

	sched.Start()
	log.Info("📅 claim audit export scheduled daily at 00:15 UTC")
	return sched, nil
}
