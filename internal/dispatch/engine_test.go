package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/notifyhub/reminder-dispatch/internal/channel"
	"github.com/notifyhub/reminder-dispatch/internal/deliverylog"
	"github.com/notifyhub/reminder-dispatch/internal/dispatch"
	"github.com/notifyhub/reminder-dispatch/internal/domain"
	"github.com/notifyhub/reminder-dispatch/internal/enqueue"
	"github.com/notifyhub/reminder-dispatch/internal/repository"
	"github.com/notifyhub/reminder-dispatch/internal/rules"
	"github.com/notifyhub/reminder-dispatch/internal/vault"
)

const secret = "dispatch-test-secret-0123456789"

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// fakeAdapter records every message and answers with a fixed result.
type fakeAdapter struct {
	mu       sync.Mutex
	provider string
	fail     string
	link     string
	onSend   func()
	sent     []channel.Message
}

func (a *fakeAdapter) Provider() string { return a.provider }

func (a *fakeAdapter) Send(_ context.Context, msg channel.Message) channel.Result {
	if a.onSend != nil {
		a.onSend()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, msg)
	if a.fail != "" {
		return channel.Result{Provider: a.provider, ErrorDetail: a.fail}
	}
	return channel.Result{Provider: a.provider, Success: true, Link: a.link}
}

func (a *fakeAdapter) sendsPerItem() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	seen := map[string]int{}
	for _, m := range a.sent {
		seen[m.CorrelationID]++
	}
	return seen
}

// gatedAdapter blocks inside its first Send until release is closed.
type gatedAdapter struct {
	*fakeAdapter
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (a *gatedAdapter) Send(ctx context.Context, msg channel.Message) channel.Result {
	a.once.Do(func() {
		close(a.entered)
		<-a.release
	})
	return a.fakeAdapter.Send(ctx, msg)
}

func (a *fakeAdapter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

type fakeResolver struct {
	adapter channel.Adapter
	err     error
}

func (r *fakeResolver) Resolve(domain.Channel, *domain.Integration, vault.Config) (channel.Adapter, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.adapter, nil
}

type harness struct {
	now      time.Time
	queue    *repository.MockQueueRepository
	logs     *repository.MockDeliveryLogRepository
	appts    *repository.MockAppointmentRepository
	rules    *repository.MockRuleRepository
	integs   *repository.MockIntegrationRepository
	optOuts  *repository.MockOptOutRepository
	vault    *vault.Vault
	adapter  *fakeAdapter
	resolver *fakeResolver
	policy   dispatch.Policy
	logger   *zap.Logger
	observed *observer.ObservedLogs
	mu       sync.Mutex
	outcomes map[string]int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	v, err := vault.New(secret)
	require.NoError(t, err)

	core, observed := observer.New(zapcore.DebugLevel)
	adapter := &fakeAdapter{provider: "smtp"}
	h := &harness{
		now:      t0,
		queue:    repository.NewMockQueueRepository(),
		logs:     repository.NewMockDeliveryLogRepository(),
		appts:    repository.NewMockAppointmentRepository(),
		rules:    repository.NewMockRuleRepository(),
		integs:   repository.NewMockIntegrationRepository(),
		optOuts:  repository.NewMockOptOutRepository(),
		vault:    v,
		adapter:  adapter,
		resolver: &fakeResolver{adapter: adapter},
		policy:   dispatch.Policy{ClaimLease: 15 * time.Minute, MaxAttempts: 1},
		logger:   zap.New(core),
		observed: observed,
		outcomes: map[string]int{},
	}
	for _, ch := range domain.Channels() {
		h.enableRule(ch, 60)
		h.integrate(t, ch, v, true)
	}
	return h
}

func (h *harness) clock() time.Time { return h.now }

func (h *harness) engine() *dispatch.Engine {
	return h.engineWith(h.clock, h.resolver)
}

func (h *harness) engineWith(clock func() time.Time, adapters dispatch.AdapterResolver) *dispatch.Engine {
	return dispatch.New(dispatch.Deps{
		Queue:        h.queue,
		Appointments: h.appts,
		Integrations: h.integs,
		OptOuts:      h.optOuts,
		Rules:        rules.NewResolver(h.rules),
		Vault:        h.vault,
		Adapters:     adapters,
		Renderer:     channel.NewRenderer(time.UTC, "Test Salon"),
		Recorder:     deliverylog.NewRecorder(h.logs, zap.NewNop()).WithClock(clock),
	}, h.policy, h.logger, dispatch.Hooks{
		OnOutcome: func(_ domain.Channel, outcome string) {
			h.mu.Lock()
			h.outcomes[outcome]++
			h.mu.Unlock()
		},
	}).WithClock(clock)
}

func (h *harness) enableRule(ch domain.Channel, offset int) {
	h.rules.Put(domain.Rule{BusinessID: 1, EventType: domain.EventAppointmentReminder, Channel: ch, ReminderOffsetMinutes: &offset, Enabled: true})
}

func (h *harness) integrate(t *testing.T, ch domain.Channel, v *vault.Vault, active bool) {
	t.Helper()
	sealed, err := v.Encrypt(vault.Config{"host": "smtp.example.com", "from_email": "salon@example.com"})
	require.NoError(t, err)
	h.integs.Put(domain.Integration{BusinessID: 1, Channel: ch, ProviderName: "smtp", IsActive: active, EncryptedConfig: sealed})
}

// seed stores an appointment starting in 30 minutes and a pending item for it.
func (h *harness) seed(t *testing.T, apptID int64, ch domain.Channel) *domain.QueueItem {
	t.Helper()
	start := h.now.Add(30 * time.Minute)
	h.appts.Put(domain.Appointment{
		ID: apptID, BusinessID: 1, Status: domain.AppointmentConfirmed, StartAt: start,
		CustomerFirstName: "Jane", CustomerEmail: fmt.Sprintf("c%d@example.com", apptID), CustomerPhone: "+15551234567",
	})
	item := &domain.QueueItem{
		BusinessID: 1, AppointmentID: apptID, Channel: ch, EventType: domain.EventAppointmentReminder,
		ScheduledAt: h.now, AppointmentStartAt: &start, Status: domain.QueueStatusPending,
		CorrelationID: fmt.Sprintf("corr-%d-%s", apptID, ch), CreatedAt: h.now, UpdatedAt: h.now,
	}
	require.NoError(t, h.queue.Insert(context.Background(), item))
	return item
}

func (h *harness) item(t *testing.T, id int64) *domain.QueueItem {
	t.Helper()
	q, err := h.queue.GetByID(context.Background(), id)
	require.NoError(t, err)
	return q
}

func TestDispatch_EndToEndScenario(t *testing.T) {
	h := newHarness(t)
	h.rules = repository.NewMockRuleRepository()
	h.enableRule(domain.ChannelEmail, 60)
	h.appts.Put(domain.Appointment{
		ID: 1, BusinessID: 1, Status: domain.AppointmentConfirmed, StartAt: t0.Add(60 * time.Minute),
		CustomerFirstName: "Jane", CustomerEmail: "jane@example.com",
	})

	enq := enqueue.New(h.queue, h.appts, rules.NewResolver(h.rules), zap.NewNop()).WithClock(h.clock)
	es, err := enq.EnqueueDueReminders(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.EnqueueStats{Scanned: 1, Enqueued: 1, Skipped: 0}, es)

	ds, err := h.engine().Dispatch(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStats{Claimed: 1, Sent: 1}, ds)

	items := h.queue.All()
	require.Len(t, items, 1)
	assert.Equal(t, domain.QueueStatusSent, items[0].Status)
	assert.Nil(t, items[0].ClaimToken)
	assert.NotNil(t, items[0].SentAt)

	logs := h.logs.All()
	require.Len(t, logs, 1)
	assert.Equal(t, domain.DeliverySent, logs[0].Status)
	assert.Equal(t, "jane@example.com", *logs[0].Recipient)
	assert.Equal(t, "smtp", *logs[0].Provider)
	assert.Equal(t, items[0].CorrelationID, *logs[0].CorrelationID)

	require.Equal(t, 1, h.adapter.count())
	assert.Contains(t, h.adapter.sent[0].Body, "Hi Jane,")
}

func TestDispatch_ConcurrentRunsNeverDoubleSend(t *testing.T) {
	h := newHarness(t)
	const n = 60
	for i := int64(1); i <= n; i++ {
		h.seed(t, i, domain.ChannelEmail)
	}
	engine := h.engine()

	var (
		wg      sync.WaitGroup
		results [2]domain.DispatchStats
	)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stats, err := engine.Dispatch(context.Background(), 1, dispatch.MaxLimit)
			assert.NoError(t, err)
			results[i] = stats
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, results[0].Claimed+results[1].Claimed)
	assert.Equal(t, n, results[0].Sent+results[1].Sent)

	seen := h.adapter.sendsPerItem()
	assert.Len(t, seen, n)
	for id, c := range seen {
		assert.Equal(t, 1, c, "item %s sent %d times", id, c)
	}
	assert.Len(t, h.logs.All(), n)
}

func TestDispatch_CancelledAppointmentNeverReachesAdapter(t *testing.T) {
	h := newHarness(t)
	item := h.seed(t, 1, domain.ChannelEmail)
	h.appts.SetStatus(1, domain.AppointmentCancelled)

	stats, err := h.engine().Dispatch(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStats{Claimed: 1, Cancelled: 1}, stats)
	assert.Zero(t, h.adapter.count())
	assert.Equal(t, domain.QueueStatusCancelled, h.item(t, item.ID).Status)

	logs := h.logs.All()
	require.Len(t, logs, 1)
	assert.Equal(t, domain.DeliveryCancelled, logs[0].Status)
}

func TestDispatch_RescheduledAppointmentIsCancelled(t *testing.T) {
	h := newHarness(t)
	item := h.seed(t, 1, domain.ChannelSMS)
	appt, err := h.appts.GetByID(context.Background(), 1)
	require.NoError(t, err)
	appt.StartAt = appt.StartAt.Add(24 * time.Hour)
	h.appts.Put(*appt)

	stats, err := h.engine().Dispatch(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Cancelled)
	assert.Zero(t, h.adapter.count())
	assert.Equal(t, "appointment rescheduled", *h.item(t, item.ID).LastError)
}

func TestDispatch_MissingAppointmentIsCancelled(t *testing.T) {
	h := newHarness(t)
	start := t0.Add(time.Hour)
	require.NoError(t, h.queue.Insert(context.Background(), &domain.QueueItem{
		BusinessID: 1, AppointmentID: 999, Channel: domain.ChannelEmail, EventType: domain.EventAppointmentReminder,
		ScheduledAt: t0, AppointmentStartAt: &start, Status: domain.QueueStatusPending, CorrelationID: "x",
	}))

	stats, err := h.engine().Dispatch(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStats{Claimed: 1, Cancelled: 1}, stats)
}

func TestDispatch_IntegrationProblemsAreSkipped(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(t *testing.T, h *harness)
		wantReason string
	}{
		{
			name: "no integration row",
			setup: func(_ *testing.T, h *harness) {
				h.integs = repository.NewMockIntegrationRepository()
			},
			wantReason: "integration inactive",
		},
		{
			name: "inactive integration",
			setup: func(t *testing.T, h *harness) {
				h.integrate(t, domain.ChannelEmail, h.vault, false)
			},
			wantReason: "integration inactive",
		},
		{
			name: "rotated encryption key",
			setup: func(t *testing.T, h *harness) {
				old, err := vault.New("the-previous-secret-key-000000")
				require.NoError(t, err)
				h.integrate(t, domain.ChannelEmail, old, true)
			},
			wantReason: "encryption_key_mismatch",
		},
		{
			name: "rule disabled after enqueue",
			setup: func(_ *testing.T, h *harness) {
				h.rules.Put(domain.Rule{BusinessID: 1, EventType: domain.EventAppointmentReminder, Channel: domain.ChannelEmail, Enabled: false})
			},
			wantReason: "notification rule disabled",
		},
		{
			name: "invalid decrypted config",
			setup: func(_ *testing.T, h *harness) {
				h.resolver.err = fmt.Errorf("%w: email/smtp: host: cannot be blank", channel.ErrInvalidConfig)
			},
			wantReason: "invalid integration config: email/smtp: host: cannot be blank",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			item := h.seed(t, 1, domain.ChannelEmail)
			tc.setup(t, h)

			stats, err := h.engine().Dispatch(context.Background(), 1, 10)
			require.NoError(t, err)
			assert.Equal(t, domain.DispatchStats{Claimed: 1, Skipped: 1}, stats)
			assert.Zero(t, h.adapter.count())

			got := h.item(t, item.ID)
			assert.Equal(t, domain.QueueStatusSkipped, got.Status)
			assert.Equal(t, tc.wantReason, *got.LastError)

			logs := h.logs.All()
			require.Len(t, logs, 1)
			assert.Equal(t, domain.DeliverySkipped, logs[0].Status)
			assert.Equal(t, tc.wantReason, *logs[0].ErrorMessage)
		})
	}
}

func TestDispatch_KeyMismatchWarnsOperator(t *testing.T) {
	h := newHarness(t)
	old, err := vault.New("the-previous-secret-key-000000")
	require.NoError(t, err)
	h.integrate(t, domain.ChannelEmail, old, true)
	h.seed(t, 1, domain.ChannelEmail)

	_, err = h.engine().Dispatch(context.Background(), 1, 10)
	require.NoError(t, err)

	warnings := h.observed.FilterLevelExact(zapcore.WarnLevel).FilterMessageSnippet("APP_ENCRYPTION_KEY")
	assert.Equal(t, 1, warnings.Len())
}

func TestDispatch_SendFailureMarksFailed(t *testing.T) {
	h := newHarness(t)
	h.adapter.fail = "provider status 503"
	item := h.seed(t, 1, domain.ChannelEmail)

	stats, err := h.engine().Dispatch(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStats{Claimed: 1, Failed: 1}, stats)

	got := h.item(t, item.ID)
	assert.Equal(t, domain.QueueStatusFailed, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, "provider status 503", *got.LastError)

	logs := h.logs.All()
	require.Len(t, logs, 1)
	assert.Equal(t, domain.DeliveryFailed, logs[0].Status)
	assert.Equal(t, 1, logs[0].Attempt)
	assert.Equal(t, 1, h.outcomes[dispatch.OutcomeFailed])
}

func TestDispatch_RetryPolicyRequeuesWithBackoff(t *testing.T) {
	h := newHarness(t)
	h.policy.MaxAttempts = 3
	h.policy.Backoff = []time.Duration{time.Minute, 2 * time.Minute}
	h.adapter.fail = "timeout"
	item := h.seed(t, 1, domain.ChannelEmail)
	engine := h.engine()
	ctx := context.Background()

	stats, err := engine.Dispatch(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStats{Claimed: 1, Requeued: 1}, stats)
	got := h.item(t, item.ID)
	assert.Equal(t, domain.QueueStatusPending, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.RunAfter)
	assert.True(t, got.RunAfter.Equal(t0.Add(time.Minute)))

	// Not due yet.
	stats, err = engine.Dispatch(ctx, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, stats.Claimed)

	h.now = t0.Add(time.Minute)
	stats, err = engine.Dispatch(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Requeued)
	got = h.item(t, item.ID)
	assert.Equal(t, 2, got.AttemptCount)
	assert.True(t, got.RunAfter.Equal(h.now.Add(2*time.Minute)))

	h.now = h.now.Add(2 * time.Minute)
	stats, err = engine.Dispatch(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStats{Claimed: 1, Failed: 1}, stats)
	assert.Equal(t, domain.QueueStatusFailed, h.item(t, item.ID).Status)
	assert.Equal(t, 3, h.adapter.count())
	assert.Len(t, h.logs.All(), 3)
}

func TestDispatch_StaleClaimIsRecovered(t *testing.T) {
	h := newHarness(t)
	item := h.seed(t, 1, domain.ChannelEmail)
	h.queue.ForceClaim(item.ID, "crashed-run", t0.Add(-20*time.Minute))

	stats, err := h.engine().Dispatch(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStats{Claimed: 1, Sent: 1}, stats)
}

func TestDispatch_FreshClaimIsLeftAlone(t *testing.T) {
	h := newHarness(t)
	item := h.seed(t, 1, domain.ChannelEmail)
	h.queue.ForceClaim(item.ID, "other-run", t0.Add(-time.Minute))

	stats, err := h.engine().Dispatch(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Zero(t, stats.Claimed)
	assert.Equal(t, domain.QueueStatusClaimed, h.item(t, item.ID).Status)
}

func TestDispatch_OptedOutRecipientIsCancelled(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, domain.ChannelSMS)
	h.optOuts.Add(1, domain.ChannelSMS, "+15551234567")

	stats, err := h.engine().Dispatch(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStats{Claimed: 1, Cancelled: 1}, stats)
	assert.Zero(t, h.adapter.count())
}

func TestDispatch_ChannelRunLimitDefersOverflow(t *testing.T) {
	h := newHarness(t)
	h.policy.ChannelRunLimits = map[domain.Channel]int{domain.ChannelEmail: 2}
	for i := int64(1); i <= 3; i++ {
		h.seed(t, i, domain.ChannelEmail)
	}
	h.seed(t, 4, domain.ChannelSMS)

	stats, err := h.engine().Dispatch(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStats{Claimed: 4, Sent: 3, Deferred: 1}, stats)

	third := h.queue.All()[2]
	assert.Equal(t, domain.QueueStatusPending, third.Status)
	assert.Nil(t, third.ClaimToken)
	assert.Len(t, h.logs.All(), 3, "deferred items are not attempts")
	assert.Equal(t, 1, h.outcomes[dispatch.OutcomeDeferred])

	// The next run picks it up.
	stats, err = h.engine().Dispatch(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStats{Claimed: 1, Sent: 1}, stats)
}

func TestDispatch_LimitBoundsClaim(t *testing.T) {
	h := newHarness(t)
	for i := int64(1); i <= 5; i++ {
		h.seed(t, i, domain.ChannelEmail)
	}

	stats, err := h.engine().Dispatch(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Claimed)

	// Items are processed in id order.
	require.Equal(t, 2, h.adapter.count())
	assert.Equal(t, "corr-1-email", h.adapter.sent[0].CorrelationID)
	assert.Equal(t, "corr-2-email", h.adapter.sent[1].CorrelationID)
}

func TestDispatch_ClaimErrorPropagates(t *testing.T) {
	h := newHarness(t)
	h.queue.ClaimErr = errors.New("connection refused")

	_, err := h.engine().Dispatch(context.Background(), 1, 10)
	require.Error(t, err)
}

func TestDispatch_TransitionErrorIsNotCounted(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, domain.ChannelEmail)
	h.queue.MarkErr = errors.New("deadlock detected")

	stats, err := h.engine().Dispatch(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStats{Claimed: 1}, stats)
	assert.Empty(t, h.logs.All())
}

func TestDispatch_ClaimTakenOverMidRunIsNotResent(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, domain.ChannelEmail)
	h.seed(t, 2, domain.ChannelEmail)

	gate := &gatedAdapter{fakeAdapter: h.adapter, entered: make(chan struct{}), release: make(chan struct{})}
	slow := h.engineWith(func() time.Time { return t0 }, &fakeResolver{adapter: gate})

	var slowStats domain.DispatchStats
	done := make(chan struct{})
	go func() {
		defer close(done)
		var err error
		slowStats, err = slow.Dispatch(context.Background(), 1, 10)
		assert.NoError(t, err)
	}()
	<-gate.entered

	// A second run after the lease expired takes both items over.
	late := h.engineWith(func() time.Time { return t0.Add(16 * time.Minute) }, h.resolver)
	lateStats, err := late.Dispatch(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStats{Claimed: 2, Sent: 2}, lateStats)

	close(gate.release)
	<-done

	assert.Equal(t, 2, slowStats.Claimed)
	assert.Zero(t, slowStats.Sent)
	assert.Equal(t, 1, h.adapter.sendsPerItem()["corr-2-email"], "item the slow run never started must go out once")
	assert.Len(t, h.logs.All(), 2)
	for _, q := range h.queue.All() {
		assert.Equal(t, domain.QueueStatusSent, q.Status)
	}
}

func TestDispatch_RenewRefreshesLeaseBeforeSend(t *testing.T) {
	h := newHarness(t)
	item := h.seed(t, 1, domain.ChannelEmail)

	// Every clock read moves one second forward.
	tick := t0
	clock := func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	claimTime := t0.Add(time.Second)

	var claimedAt *time.Time
	h.adapter.onSend = func() { claimedAt = h.item(t, item.ID).ClaimedAt }

	_, err := h.engineWith(clock, h.resolver).Dispatch(context.Background(), 1, 10)
	require.NoError(t, err)
	require.NotNil(t, claimedAt)
	assert.True(t, claimedAt.After(claimTime), "claimed_at %s should be later than the claim at %s", claimedAt, claimTime)
}

func TestDispatch_RenewErrorReleasesWithoutSending(t *testing.T) {
	h := newHarness(t)
	item := h.seed(t, 1, domain.ChannelEmail)
	h.queue.RenewErr = errors.New("connection reset")

	stats, err := h.engine().Dispatch(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStats{Claimed: 1}, stats)
	assert.Zero(t, h.adapter.count())
	assert.Equal(t, domain.QueueStatusPending, h.item(t, item.ID).Status)
}

func TestDispatch_LeaseBudgetReleasesUnreachedItems(t *testing.T) {
	h := newHarness(t)
	for i := int64(1); i <= 3; i++ {
		h.seed(t, i, domain.ChannelEmail)
	}
	// Each send takes ten minutes; half the 15m lease is gone after one.
	h.adapter.onSend = func() { h.now = h.now.Add(10 * time.Minute) }

	stats, err := h.engine().Dispatch(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStats{Claimed: 3, Sent: 1, Deferred: 2}, stats)

	items := h.queue.All()
	assert.Equal(t, domain.QueueStatusSent, items[0].Status)
	for _, q := range items[1:] {
		assert.Equal(t, domain.QueueStatusPending, q.Status)
		assert.Nil(t, q.ClaimToken)
	}
	assert.Equal(t, 1, h.adapter.count())
	assert.Len(t, h.logs.All(), 1)
}

func TestDispatch_LinkIsStoredOnDeliveryLog(t *testing.T) {
	h := newHarness(t)
	h.adapter.provider = channel.ProviderLinkGenerator
	h.adapter.link = "https://wa.me/15551234567?text=Hi%20Jane"
	h.seed(t, 1, domain.ChannelWhatsApp)

	stats, err := h.engine().Dispatch(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)

	logs := h.logs.All()
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].Detail)
	assert.Equal(t, h.adapter.link, *logs[0].Detail)
}

func TestNormalizeLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{-1, 100}, {0, 100}, {1, 1}, {250, 250}, {500, 500}, {501, 500}, {10000, 500},
	}
	for _, tc := range tests {
		if got := dispatch.NormalizeLimit(tc.in); got != tc.want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
