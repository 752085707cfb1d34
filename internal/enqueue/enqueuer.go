// Package enqueue plans reminder notifications for upcoming appointments.
package enqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
	"github.com/notifyhub/reminder-dispatch/internal/logctx"
	"github.com/notifyhub/reminder-dispatch/internal/repository"
	"github.com/notifyhub/reminder-dispatch/internal/rules"
)

// Enqueuer inserts pending appointment_reminder queue items. It only ever
// inserts; the unique (appointment, channel, event) key makes repeated runs
// harmless.
type Enqueuer struct {
	queue        repository.QueueRepository
	appointments repository.AppointmentRepository
	rules        *rules.Resolver
	logger       *zap.Logger
	now          func() time.Time
}

func New(
	queue repository.QueueRepository,
	appointments repository.AppointmentRepository,
	resolver *rules.Resolver,
	logger *zap.Logger,
) *Enqueuer {
	return &Enqueuer{
		queue:        queue,
		appointments: appointments,
		rules:        resolver,
		logger:       logger,
		now:          time.Now,
	}
}

// WithClock replaces the time source. Used by tests and replays.
func (e *Enqueuer) WithClock(now func() time.Time) *Enqueuer {
	e.now = now
	return e
}

type channelOffset struct {
	channel domain.Channel
	offset  time.Duration
}

// EnqueueDueReminders scans appointments starting within the largest
// enabled reminder offset and inserts one pending item per due
// (appointment, channel). Duplicates and not-yet-due reminders count as
// skipped. Storage errors other than duplicates abort the run.
func (e *Enqueuer) EnqueueDueReminders(ctx context.Context, businessID int64) (domain.EnqueueStats, error) {
	var stats domain.EnqueueStats
	businessID = domain.NormalizeBusinessID(businessID)
	now := e.now().UTC()
	log := logctx.From(ctx, e.logger).With(zap.Int64("business_id", businessID))

	cache := rules.NewCache()
	channels, err := e.enabledChannels(ctx, cache, businessID)
	if err != nil {
		return stats, err
	}
	if len(channels) == 0 {
		log.Debug("no reminder channel enabled")
		return stats, nil
	}

	var horizon time.Duration
	for _, co := range channels {
		horizon = max(horizon, co.offset)
	}

	appts, err := e.appointments.ListStartingBetween(ctx, businessID, now, now.Add(horizon))
	if err != nil {
		return stats, fmt.Errorf("list upcoming appointments: %w", err)
	}
	sort.Slice(appts, func(i, j int) bool { return appts[i].ID < appts[j].ID })

	for _, appt := range appts {
		stats.Scanned++
		if !appt.Status.IsActive() {
			stats.Skipped++
			continue
		}

		for _, co := range channels {
			scheduledAt := appt.StartAt.UTC().Add(-co.offset)
			if scheduledAt.After(now) {
				stats.Skipped++
				continue
			}

			startAt := appt.StartAt.UTC()
			item := &domain.QueueItem{
				BusinessID:         businessID,
				AppointmentID:      appt.ID,
				Channel:            co.channel,
				EventType:          domain.EventAppointmentReminder,
				ScheduledAt:        scheduledAt,
				AppointmentStartAt: &startAt,
				Status:             domain.QueueStatusPending,
				CorrelationID:      uuid.NewString(),
				CreatedAt:          now,
				UpdatedAt:          now,
			}

			err := e.queue.Insert(ctx, item)
			switch {
			case errors.Is(err, domain.ErrDuplicate):
				stats.Skipped++
			case err != nil:
				return stats, fmt.Errorf("enqueue appointment %d on %s: %w", appt.ID, co.channel, err)
			default:
				stats.Enqueued++
				log.Debug("reminder enqueued",
					zap.Int64("queue_id", item.ID),
					zap.Int64("appointment_id", appt.ID),
					zap.String("channel", string(co.channel)),
					zap.String("correlation_id", item.CorrelationID),
				)
			}
		}
	}

	log.Info("enqueue run finished",
		zap.Int("scanned", stats.Scanned),
		zap.Int("enqueued", stats.Enqueued),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

// enabledChannels returns the channels whose reminder rule is enabled and
// carries an offset, in Channels() order.
func (e *Enqueuer) enabledChannels(ctx context.Context, cache *rules.Cache, businessID int64) ([]channelOffset, error) {
	var out []channelOffset
	for _, ch := range domain.Channels() {
		enabled, err := e.rules.IsEnabled(ctx, cache, businessID, domain.EventAppointmentReminder, ch)
		if err != nil {
			return nil, err
		}
		if !enabled {
			continue
		}
		offset, err := e.rules.ResolveOffsetMinutes(ctx, cache, businessID, ch)
		if err != nil {
			return nil, err
		}
		if offset == nil {
			continue
		}
		out = append(out, channelOffset{channel: ch, offset: time.Duration(*offset) * time.Minute})
	}
	return out, nil
}
