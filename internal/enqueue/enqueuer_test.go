package enqueue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
	"github.com/notifyhub/reminder-dispatch/internal/enqueue"
	"github.com/notifyhub/reminder-dispatch/internal/repository"
	"github.com/notifyhub/reminder-dispatch/internal/rules"
)

var fixedNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	queue *repository.MockQueueRepository
	appts *repository.MockAppointmentRepository
	rules *repository.MockRuleRepository
	enq   *enqueue.Enqueuer
}

func newFixture() *fixture {
	f := &fixture{
		queue: repository.NewMockQueueRepository(),
		appts: repository.NewMockAppointmentRepository(),
		rules: repository.NewMockRuleRepository(),
	}
	f.enq = enqueue.New(f.queue, f.appts, rules.NewResolver(f.rules), zap.NewNop()).
		WithClock(func() time.Time { return fixedNow })
	return f
}

func (f *fixture) rule(ch domain.Channel, offset int, enabled bool) {
	f.rules.Put(domain.Rule{
		BusinessID:            1,
		EventType:             domain.EventAppointmentReminder,
		Channel:               ch,
		ReminderOffsetMinutes: &offset,
		Enabled:               enabled,
	})
}

func (f *fixture) appointment(id int64, startIn time.Duration, status domain.AppointmentStatus) {
	f.appts.Put(domain.Appointment{
		ID:            id,
		BusinessID:    1,
		Status:        status,
		StartAt:       fixedNow.Add(startIn),
		CustomerEmail: "jane@example.com",
		CustomerPhone: "+15551234567",
	})
}

func TestEnqueue_SixtyMinuteReminder(t *testing.T) {
	f := newFixture()
	f.rule(domain.ChannelEmail, 60, true)
	f.appointment(1, 60*time.Minute, domain.AppointmentConfirmed)

	stats, err := f.enq.EnqueueDueReminders(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.EnqueueStats{Scanned: 1, Enqueued: 1, Skipped: 0}, stats)

	items := f.queue.All()
	require.Len(t, items, 1)
	item := items[0]
	assert.Equal(t, domain.QueueStatusPending, item.Status)
	assert.Equal(t, domain.ChannelEmail, item.Channel)
	assert.Equal(t, domain.EventAppointmentReminder, item.EventType)
	assert.True(t, item.ScheduledAt.Equal(fixedNow))
	require.NotNil(t, item.AppointmentStartAt)
	assert.True(t, item.AppointmentStartAt.Equal(fixedNow.Add(time.Hour)))
	assert.NotEmpty(t, item.CorrelationID)
	assert.Nil(t, item.ClaimToken)
}

func TestEnqueue_IsIdempotent(t *testing.T) {
	f := newFixture()
	f.rule(domain.ChannelEmail, 60, true)
	f.rule(domain.ChannelSMS, 120, true)
	f.appointment(1, 30*time.Minute, domain.AppointmentConfirmed)
	f.appointment(2, 90*time.Minute, domain.AppointmentPending)

	first, err := f.enq.EnqueueDueReminders(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Enqueued) // appt 1 email+sms, appt 2 sms

	second, err := f.enq.EnqueueDueReminders(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Enqueued)
	assert.Equal(t, first.Scanned, second.Scanned)
	assert.Len(t, f.queue.All(), 3)
}

func TestEnqueue_SkipsNotYetDueChannels(t *testing.T) {
	f := newFixture()
	f.rule(domain.ChannelEmail, 1440, true)
	f.rule(domain.ChannelSMS, 30, true)
	f.appointment(1, 2*time.Hour, domain.AppointmentConfirmed)

	stats, err := f.enq.EnqueueDueReminders(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.EnqueueStats{Scanned: 1, Enqueued: 1, Skipped: 1}, stats)
	assert.Equal(t, domain.ChannelEmail, f.queue.All()[0].Channel)
}

func TestEnqueue_InactiveAppointmentSkippedOnce(t *testing.T) {
	f := newFixture()
	f.rule(domain.ChannelEmail, 60, true)
	f.rule(domain.ChannelSMS, 60, true)
	f.appointment(1, 30*time.Minute, domain.AppointmentCancelled)

	stats, err := f.enq.EnqueueDueReminders(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.EnqueueStats{Scanned: 1, Enqueued: 0, Skipped: 1}, stats)
	assert.Empty(t, f.queue.All())
}

func TestEnqueue_DisabledOrUnsetRulesTakeNoPart(t *testing.T) {
	f := newFixture()
	f.rule(domain.ChannelEmail, 60, false)
	f.rules.Put(domain.Rule{BusinessID: 1, EventType: domain.EventAppointmentReminder, Channel: domain.ChannelSMS, Enabled: true})
	f.appointment(1, 30*time.Minute, domain.AppointmentConfirmed)

	stats, err := f.enq.EnqueueDueReminders(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.EnqueueStats{}, stats)
}

func TestEnqueue_WindowExcludesPastAndFarAppointments(t *testing.T) {
	f := newFixture()
	f.rule(domain.ChannelEmail, 60, true)
	f.appointment(1, -5*time.Minute, domain.AppointmentConfirmed)
	f.appointment(2, 0, domain.AppointmentConfirmed)
	f.appointment(3, 61*time.Minute, domain.AppointmentConfirmed)

	stats, err := f.enq.EnqueueDueReminders(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.EnqueueStats{}, stats)
}

func TestEnqueue_NonPositiveBusinessUsesDefault(t *testing.T) {
	f := newFixture()
	f.rule(domain.ChannelEmail, 60, true)
	f.appointment(1, 10*time.Minute, domain.AppointmentConfirmed)

	stats, err := f.enq.EnqueueDueReminders(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Enqueued)
	assert.Equal(t, domain.DefaultBusinessID, f.queue.All()[0].BusinessID)
}

func TestEnqueue_StorageErrorPropagates(t *testing.T) {
	f := newFixture()
	f.rule(domain.ChannelEmail, 60, true)
	f.appointment(1, 10*time.Minute, domain.AppointmentConfirmed)
	boom := errors.New("connection reset")
	f.queue.InsertErr = boom

	_, err := f.enq.EnqueueDueReminders(context.Background(), 1)
	require.ErrorIs(t, err, boom)
}
