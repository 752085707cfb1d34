package service_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/reminder-dispatch/internal/channel"
	"github.com/notifyhub/reminder-dispatch/internal/deliverylog"
	"github.com/notifyhub/reminder-dispatch/internal/dispatch"
	"github.com/notifyhub/reminder-dispatch/internal/domain"
	"github.com/notifyhub/reminder-dispatch/internal/enqueue"
	"github.com/notifyhub/reminder-dispatch/internal/ratelimiter"
	"github.com/notifyhub/reminder-dispatch/internal/repository"
	"github.com/notifyhub/reminder-dispatch/internal/rules"
	"github.com/notifyhub/reminder-dispatch/internal/service"
	"github.com/notifyhub/reminder-dispatch/internal/vault"
)

var now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type fixture struct {
	svc   *service.ReminderService
	queue *repository.MockQueueRepository
	logs  *repository.MockDeliveryLogRepository
	appts *repository.MockAppointmentRepository
}

// newService wires the real components over in-memory repositories. The
// WhatsApp channel uses the link generator so no network is involved.
func newService(t *testing.T) *fixture {
	t.Helper()
	queue := repository.NewMockQueueRepository()
	logs := repository.NewMockDeliveryLogRepository()
	appts := repository.NewMockAppointmentRepository()
	ruleRepo := repository.NewMockRuleRepository()
	integs := repository.NewMockIntegrationRepository()

	v, err := vault.New("service-test-secret-0123456789")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	sealed, err := v.Encrypt(vault.Config{"provider": "link_generator"})
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	integs.Put(domain.Integration{BusinessID: 1, Channel: domain.ChannelWhatsApp, ProviderName: "link_generator", IsActive: true, EncryptedConfig: sealed})

	offset := 60
	ruleRepo.Put(domain.Rule{BusinessID: 1, EventType: domain.EventAppointmentReminder, Channel: domain.ChannelWhatsApp, ReminderOffsetMinutes: &offset, Enabled: true})

	resolver := rules.NewResolver(ruleRepo)
	logger := zap.NewNop()

	enq := enqueue.New(queue, appts, resolver, logger).WithClock(clock)
	eng := dispatch.New(dispatch.Deps{
		Queue:        queue,
		Appointments: appts,
		Integrations: integs,
		OptOuts:      repository.NewMockOptOutRepository(),
		Rules:        resolver,
		Vault:        v,
		Adapters:     channel.NewRegistry(channel.Endpoints{}, time.Second, ratelimiter.New(10)),
		Renderer:     channel.NewRenderer(time.UTC, "Salon"),
		Recorder:     deliverylog.NewRecorder(logs, logger).WithClock(clock),
	}, dispatch.Policy{ClaimLease: 15 * time.Minute, MaxAttempts: 1}, logger, dispatch.Hooks{}).WithClock(clock)

	svc := service.NewReminderService(
		enq, eng,
		deliverylog.NewExporter(logs, t.TempDir(), logger).WithClock(clock),
		deliverylog.NewPurger(logs, logger).WithClock(clock),
		queue, logger,
	)
	return &fixture{svc: svc, queue: queue, logs: logs, appts: appts}
}

func TestReminderService_RunCycle(t *testing.T) {
	f := newService(t)
	f.appts.Put(domain.Appointment{
		ID: 1, BusinessID: 1, Status: domain.AppointmentConfirmed, StartAt: now.Add(45 * time.Minute),
		CustomerFirstName: "Jane", CustomerPhone: "+15551234567",
	})

	res, err := f.svc.RunCycle(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Enqueue != (domain.EnqueueStats{Scanned: 1, Enqueued: 1}) {
		t.Fatalf("unexpected enqueue stats: %+v", res.Enqueue)
	}
	if res.Dispatch != (domain.DispatchStats{Claimed: 1, Sent: 1}) {
		t.Fatalf("unexpected dispatch stats: %+v", res.Dispatch)
	}

	logs := f.logs.All()
	if len(logs) != 1 || *logs[0].Provider != "link_generator" {
		t.Fatalf("expected one link_generator log row, got %+v", logs)
	}

	// A second cycle finds nothing new.
	res, err = f.svc.RunCycle(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Enqueue.Enqueued != 0 || res.Dispatch.Claimed != 0 {
		t.Fatalf("expected idle second cycle, got %+v", res)
	}
}

func TestReminderService_RunCycle_DefaultsBusiness(t *testing.T) {
	f := newService(t)
	res, err := f.svc.RunCycle(context.Background(), -3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.BusinessID != domain.DefaultBusinessID {
		t.Fatalf("expected default business, got %d", res.BusinessID)
	}
}

func TestReminderService_RunCycle_EnqueueErrorStopsCycle(t *testing.T) {
	f := newService(t)
	f.appts.Put(domain.Appointment{ID: 1, BusinessID: 1, Status: domain.AppointmentConfirmed, StartAt: now.Add(time.Minute), CustomerPhone: "+15551234567"})
	f.queue.InsertErr = errors.New("read-only transaction")

	_, err := f.svc.RunCycle(context.Background(), 1, 10)
	if err == nil || !strings.Contains(err.Error(), "enqueue reminders") {
		t.Fatalf("expected enqueue error, got %v", err)
	}
}

func TestReminderService_ExportAndPurge(t *testing.T) {
	f := newService(t)
	ctx := context.Background()
	for _, age := range []time.Duration{time.Hour, 100 * 24 * time.Hour} {
		if err := f.logs.Insert(ctx, &domain.DeliveryLog{BusinessID: 1, Channel: domain.ChannelEmail, EventType: domain.EventAppointmentReminder, Status: domain.DeliverySent, Attempt: 1, CreatedAt: now.Add(-age)}); err != nil {
			t.Fatal(err)
		}
	}

	var buf bytes.Buffer
	n, err := f.svc.ExportCSV(ctx, 1, 30, &buf)
	if err != nil || n != 1 {
		t.Fatalf("export: n=%d err=%v", n, err)
	}

	deleted, err := f.svc.PurgeLogs(ctx, 1, 90)
	if err != nil || deleted != 1 {
		t.Fatalf("purge: deleted=%d err=%v", deleted, err)
	}
}

func TestReminderService_QueueCounts(t *testing.T) {
	f := newService(t)
	f.appts.Put(domain.Appointment{ID: 1, BusinessID: 1, Status: domain.AppointmentConfirmed, StartAt: now.Add(30 * time.Minute), CustomerPhone: "+15551234567"})
	if _, err := f.svc.RunCycle(context.Background(), 1, 10); err != nil {
		t.Fatal(err)
	}

	counts, err := f.svc.QueueCounts(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts[domain.QueueStatusSent] != 1 {
		t.Fatalf("expected one sent item, got %v", counts)
	}
}
