package service

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
	"github.com/notifyhub/reminder-dispatch/internal/repository"
)

// Enqueuer plans due reminders for a business.
type Enqueuer interface {
	EnqueueDueReminders(ctx context.Context, businessID int64) (domain.EnqueueStats, error)
}

// Dispatcher claims and delivers queued reminders for a business.
type Dispatcher interface {
	Dispatch(ctx context.Context, businessID int64, limit int) (domain.DispatchStats, error)
}

// Exporter writes delivery logs as CSV.
type Exporter interface {
	Export(ctx context.Context, businessID int64, days int, w io.Writer) (int, error)
	ExportFile(ctx context.Context, businessID int64, days int, path string) (string, int, error)
}

// Purger removes delivery logs past retention.
type Purger interface {
	Purge(ctx context.Context, businessID int64, days int) (int64, error)
}

// Cycle stages reported in CycleResult.FailedStage.
const (
	StageEnqueue  = "enqueue"
	StageDispatch = "dispatch"
)

// CycleResult combines the counters of one enqueue+dispatch cycle.
type CycleResult struct {
	BusinessID int64                `json:"business_id"`
	Enqueue    domain.EnqueueStats  `json:"enqueue"`
	Dispatch   domain.DispatchStats `json:"dispatch"`
	// FailedStage is "enqueue" or "dispatch" when the cycle returned an error.
	FailedStage string `json:"failed_stage,omitempty"`
}

// ReminderService is the single entry point used by the CLI, the HTTP API
// and the background workers. It owns no state of its own.
type ReminderService struct {
	enqueuer   Enqueuer
	dispatcher Dispatcher
	exporter   Exporter
	purger     Purger
	queue      repository.QueueRepository
	logger     *zap.Logger
}

func NewReminderService(
	enqueuer Enqueuer,
	dispatcher Dispatcher,
	exporter Exporter,
	purger Purger,
	queue repository.QueueRepository,
	logger *zap.Logger,
) *ReminderService {
	return &ReminderService{
		enqueuer:   enqueuer,
		dispatcher: dispatcher,
		exporter:   exporter,
		purger:     purger,
		queue:      queue,
		logger:     logger,
	}
}

// RunCycle enqueues due reminders and then dispatches up to limit items.
// An enqueue failure stops the cycle before anything is claimed.
func (s *ReminderService) RunCycle(ctx context.Context, businessID int64, limit int) (CycleResult, error) {
	res := CycleResult{BusinessID: domain.NormalizeBusinessID(businessID)}

	enq, err := s.enqueuer.EnqueueDueReminders(ctx, res.BusinessID)
	if err != nil {
		res.FailedStage = StageEnqueue
		return res, fmt.Errorf("enqueue reminders: %w", err)
	}
	res.Enqueue = enq

	disp, err := s.dispatcher.Dispatch(ctx, res.BusinessID, limit)
	if err != nil {
		res.FailedStage = StageDispatch
		return res, fmt.Errorf("dispatch reminders: %w", err)
	}
	res.Dispatch = disp
	return res, nil
}

func (s *ReminderService) ExportCSV(ctx context.Context, businessID int64, days int, w io.Writer) (int, error) {
	return s.exporter.Export(ctx, businessID, days, w)
}

func (s *ReminderService) ExportFile(ctx context.Context, businessID int64, days int, path string) (string, int, error) {
	return s.exporter.ExportFile(ctx, businessID, days, path)
}

func (s *ReminderService) PurgeLogs(ctx context.Context, businessID int64, days int) (int64, error) {
	return s.purger.Purge(ctx, businessID, days)
}

// QueueCounts reports queue items per status for a business.
func (s *ReminderService) QueueCounts(ctx context.Context, businessID int64) (map[domain.QueueStatus]int, error) {
	counts, err := s.queue.CountByStatus(ctx, domain.NormalizeBusinessID(businessID))
	if err != nil {
		return nil, fmt.Errorf("count queue items: %w", err)
	}
	return counts, nil
}
