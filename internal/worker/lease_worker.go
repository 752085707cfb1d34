package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/reminder-dispatch/internal/repository"
)

// LeaseSweeper returns claimed queue items whose lease has expired to
// pending, across all businesses. Dispatch does the same for its own
// business before claiming; the sweeper covers businesses nobody is
// currently dispatching.
type LeaseSweeper struct {
	repo       repository.QueueRepository
	lease      time.Duration
	interval   time.Duration
	logger     *zap.Logger
	onReleased func(n int64)
	now        func() time.Time
}

func NewLeaseSweeper(
	repo repository.QueueRepository,
	lease, interval time.Duration,
	logger *zap.Logger,
	onReleased func(n int64),
) *LeaseSweeper {
	if onReleased == nil {
		onReleased = func(int64) {}
	}
	return &LeaseSweeper{
		repo: repo, lease: lease, interval: interval, logger: logger,
		onReleased: onReleased, now: time.Now,
	}
}

// Run ticks every interval and releases expired claims.
// Stops cleanly when ctx is cancelled.
func (ls *LeaseSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(ls.interval)
	defer ticker.Stop()

	ls.logger.Info("lease sweeper started",
		zap.Duration("interval", ls.interval),
		zap.Duration("lease", ls.lease))

	for {
		select {
		case <-ctx.Done():
			ls.logger.Info("lease sweeper stopping")
			return
		case <-ticker.C:
			ls.Sweep(ctx)
		}
	}
}

// Sweep performs a single pass and returns the number of released items.
func (ls *LeaseSweeper) Sweep(ctx context.Context) int64 {
	now := ls.now().UTC()
	n, err := ls.repo.ReleaseStaleClaims(ctx, 0, now.Add(-ls.lease), now)
	if err != nil {
		ls.logger.Error("lease sweep error", zap.Error(err))
		return 0
	}
	if n > 0 {
		ls.onReleased(n)
		ls.logger.Warn("released expired claims", zap.Int64("count", n))
	}
	return n
}
