package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
	"github.com/notifyhub/reminder-dispatch/internal/service"
)

// SchedulerHooks carries the metric callbacks injected by main.
// Nil funcs are replaced with no-ops.
type SchedulerHooks struct {
	OnCycle       func(businessID int64, res service.CycleResult, err error)
	OnQueueCounts func(businessID int64, counts map[domain.QueueStatus]int)
}

func (h SchedulerHooks) withDefaults() SchedulerHooks {
	if h.OnCycle == nil {
		h.OnCycle = func(int64, service.CycleResult, error) {}
	}
	if h.OnQueueCounts == nil {
		h.OnQueueCounts = func(int64, map[domain.QueueStatus]int) {}
	}
	return h
}

// Runner is a background loop that returns once ctx is cancelled.
type Runner interface {
	Run(ctx context.Context)
}

// Pool manages the lifecycle of the background loops: one scheduler per
// business plus any extra runners such as the lease sweeper.
type Pool struct {
	runners []Runner
	wg      sync.WaitGroup
}

// NewPool creates one SchedulerWorker per business id.
func NewPool(
	businessIDs []int64,
	runner CycleRunner,
	limit int,
	interval time.Duration,
	logger *zap.Logger,
	hooks SchedulerHooks,
	extra ...Runner,
) *Pool {
	runners := make([]Runner, 0, len(businessIDs)+len(extra))
	for _, id := range businessIDs {
		runners = append(runners, NewSchedulerWorker(id, runner, limit, interval, logger, hooks))
	}
	runners = append(runners, extra...)
	return &Pool{runners: runners}
}

// Start launches every runner as a goroutine. Cancelling ctx triggers a
// graceful shutdown of the whole pool.
func (p *Pool) Start(ctx context.Context) {
	for _, r := range p.runners {
		p.wg.Add(1)
		go func(r Runner) {
			defer p.wg.Done()
			r.Run(ctx)
		}(r)
	}
}

// Wait blocks until every runner has returned after ctx is cancelled.
func (p *Pool) Wait() {
	p.wg.Wait()
}
