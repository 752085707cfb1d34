// Package deliverylog writes the append-only delivery audit trail and
// exports or purges it for retention.
package deliverylog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
	"github.com/notifyhub/reminder-dispatch/internal/repository"
)

// Entry describes one delivery attempt outcome for a queue item.
type Entry struct {
	Item      *domain.QueueItem
	Status    domain.DeliveryStatus
	Attempt   int
	Recipient string
	Provider  string
	Error     string
	Detail    string
}

// Recorder inserts one log row per settled delivery attempt. A failed
// insert is logged and swallowed; it never blocks dispatch.
type Recorder struct {
	repo   repository.DeliveryLogRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewRecorder(repo repository.DeliveryLogRepository, logger *zap.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger, now: time.Now}
}

// WithClock replaces the time source.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

func (r *Recorder) Record(ctx context.Context, e Entry) {
	queueID, appointmentID := e.Item.ID, e.Item.AppointmentID
	attempt := e.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	row := &domain.DeliveryLog{
		BusinessID:    e.Item.BusinessID,
		QueueID:       &queueID,
		AppointmentID: &appointmentID,
		Channel:       e.Item.Channel,
		EventType:     e.Item.EventType,
		Status:        e.Status,
		Attempt:       attempt,
		Recipient:     nullable(e.Recipient),
		Provider:      nullable(e.Provider),
		CorrelationID: nullable(e.Item.CorrelationID),
		ErrorMessage:  nullable(e.Error),
		Detail:        nullable(e.Detail),
		CreatedAt:     r.now().UTC(),
	}

	if err := r.repo.Insert(ctx, row); err != nil {
		r.logger.Error("failed to record delivery log",
			zap.Int64("queue_id", queueID),
			zap.String("status", string(e.Status)),
			zap.String("correlation_id", e.Item.CorrelationID),
			zap.Error(err),
		)
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
