package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
	"github.com/notifyhub/reminder-dispatch/internal/service"
)

// CycleRunner runs one enqueue+dispatch cycle. *service.ReminderService
// satisfies it.
type CycleRunner interface {
	RunCycle(ctx context.Context, businessID int64, limit int) (service.CycleResult, error)
	QueueCounts(ctx context.Context, businessID int64) (map[domain.QueueStatus]int, error)
}

// SchedulerWorker runs reminder cycles for one business on a fixed
// interval. Cycles never overlap within a worker; other processes running
// the same business are kept apart by the queue's claim.
type SchedulerWorker struct {
	businessID int64
	runner     CycleRunner
	limit      int
	interval   time.Duration
	logger     *zap.Logger
	hooks      SchedulerHooks
}

func NewSchedulerWorker(
	businessID int64,
	runner CycleRunner,
	limit int,
	interval time.Duration,
	logger *zap.Logger,
	hooks SchedulerHooks,
) *SchedulerWorker {
	return &SchedulerWorker{
		businessID: businessID,
		runner:     runner,
		limit:      limit,
		interval:   interval,
		logger:     logger.With(zap.Int64("business_id", businessID)),
		hooks:      hooks.withDefaults(),
	}
}

// Run executes one cycle immediately and then every interval until ctx is
// cancelled.
func (sw *SchedulerWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("scheduler worker started", zap.Duration("interval", sw.interval))
	sw.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("scheduler worker stopping")
			return
		case <-ticker.C:
			sw.tick(ctx)
		}
	}
}

func (sw *SchedulerWorker) tick(ctx context.Context) {
	res, err := sw.runner.RunCycle(ctx, sw.businessID, sw.limit)
	sw.hooks.OnCycle(sw.businessID, res, err)
	if err != nil {
		if ctx.Err() == nil {
			sw.logger.Error("reminder cycle failed", zap.Error(err))
		}
		return
	}

	if res.Enqueue.Enqueued > 0 || res.Dispatch.Claimed > 0 {
		sw.logger.Info("reminder cycle finished",
			zap.Int("enqueued", res.Enqueue.Enqueued),
			zap.Int("claimed", res.Dispatch.Claimed),
			zap.Int("sent", res.Dispatch.Sent),
			zap.Int("failed", res.Dispatch.Failed),
		)
	}

	counts, err := sw.runner.QueueCounts(ctx, sw.businessID)
	if err != nil {
		sw.logger.Warn("queue count failed", zap.Error(err))
		return
	}
	sw.hooks.OnQueueCounts(sw.businessID, counts)
}
