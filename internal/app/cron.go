package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gistly/core/internal/modules/summarization"
	pkgcron "github.com/gistly/core/internal/pkg/cron"
	"github.com/gistly/core/internal/pkg/taskqueue"
)

const stuckRequestMaxAge = 10 * time.Minute

func registerCronJobs(sched *pkgcron.Scheduler, queue *taskqueue.Queue, svc *summarization.Service, logger *zap.Logger) {
	sched.Register(pkgcron.Job{
		Name:     "queue-housekeeping",
		Interval: 30 * time.Second,
		Fn: func(ctx context.Context) error {
			promoted, err := queue.PromoteDue(ctx)
			if err != nil {
				return err
			}
			reaped, err := queue.ReapExpired(ctx)
			if err != nil {
				return err
			}
			if promoted > 0 || reaped > 0 {
				logger.Info("queue housekeeping",
					zap.Int("promoted", promoted), zap.Int("reaped", reaped))
			}
			return nil
		},
	})

	sched.Register(pkgcron.Job{
		Name:     "queue-trim",
		Interval: 10 * time.Minute,
		Fn:       queue.Trim,
	})

	sched.Register(pkgcron.Job{
		Name:     "stuck-request-reconcile",
		Interval: 5 * time.Minute,
		Fn: func(ctx context.Context) error {
			failed, err := svc.ReconcileStuck(ctx, stuckRequestMaxAge)
			if err != nil {
				return err
			}
			if failed > 0 {
				logger.Warn("failed stuck requests", zap.Int("count", failed))
			}
			return nil
		},
	})
}
