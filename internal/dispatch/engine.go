// Package dispatch claims pending reminders and delivers them through the
// channel adapters.
//
// Concurrent Dispatch calls, in one process or many, are safe: the queue
// repository's Claim hands every pending row to at most one caller, and
// every later transition is conditioned on that caller's claim token.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/reminder-dispatch/internal/channel"
	"github.com/notifyhub/reminder-dispatch/internal/deliverylog"
	"github.com/notifyhub/reminder-dispatch/internal/domain"
	"github.com/notifyhub/reminder-dispatch/internal/logctx"
	"github.com/notifyhub/reminder-dispatch/internal/repository"
	"github.com/notifyhub/reminder-dispatch/internal/rules"
	"github.com/notifyhub/reminder-dispatch/internal/vault"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500
)

// Outcome labels passed to Hooks.OnOutcome.
const (
	OutcomeSent      = "sent"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeRequeued  = "requeued"
	OutcomeDeferred  = "deferred"
)

// Decrypter opens stored integration configs.
type Decrypter interface {
	Decrypt(text string) vault.Decrypted
}

// AdapterResolver picks the channel adapter for an integration.
type AdapterResolver interface {
	Resolve(ch domain.Channel, integ *domain.Integration, cfg vault.Config) (channel.Adapter, error)
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Queue        repository.QueueRepository
	Appointments repository.AppointmentRepository
	Integrations repository.IntegrationRepository
	OptOuts      repository.OptOutRepository
	Rules        *rules.Resolver
	Vault        Decrypter
	Adapters     AdapterResolver
	Renderer     *channel.Renderer
	Recorder     *deliverylog.Recorder
}

// Hooks carries the metric callbacks injected by main. Nil funcs are no-ops.
type Hooks struct {
	OnOutcome func(ch domain.Channel, outcome string)
	OnSend    func(ch domain.Channel, provider string, ok bool, latency time.Duration)
}

// Engine runs dispatch batches. It holds no per-run state and is safe for
// concurrent use.
type Engine struct {
	deps   Deps
	policy Policy
	hooks  Hooks
	logger *zap.Logger
	now    func() time.Time
}

func New(deps Deps, policy Policy, logger *zap.Logger, hooks Hooks) *Engine {
	if hooks.OnOutcome == nil {
		hooks.OnOutcome = func(domain.Channel, string) {}
	}
	if hooks.OnSend == nil {
		hooks.OnSend = func(domain.Channel, string, bool, time.Duration) {}
	}
	return &Engine{deps: deps, policy: policy, hooks: hooks, logger: logger, now: time.Now}
}

// WithClock replaces the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// NormalizeLimit maps non-positive limits to DefaultLimit and caps at MaxLimit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// run is the state of one Dispatch call.
type run struct {
	token     string
	log       *zap.Logger
	rules     *rules.Cache
	attempted map[domain.Channel]int
	stats     domain.DispatchStats
}

// Dispatch releases expired claims, claims up to limit due items for the
// business and settles each one. Only a failure to release or claim is
// returned as an error; per-item storage problems are logged and the batch
// moves on.
//
// Each item's claim is renewed right before its send, and an item whose
// claim was taken over is dropped unsent. Items not reached within half of
// ClaimLease go back to pending.
func (e *Engine) Dispatch(ctx context.Context, businessID int64, limit int) (domain.DispatchStats, error) {
	businessID = domain.NormalizeBusinessID(businessID)
	limit = NormalizeLimit(limit)
	now := e.now().UTC()
	log := logctx.From(ctx, e.logger).With(zap.Int64("business_id", businessID))

	if e.policy.ClaimLease > 0 {
		released, err := e.deps.Queue.ReleaseStaleClaims(ctx, businessID, now.Add(-e.policy.ClaimLease), now)
		if err != nil {
			return domain.DispatchStats{}, fmt.Errorf("release stale claims: %w", err)
		}
		if released > 0 {
			log.Warn("released stale claims", zap.Int64("count", released), zap.Duration("lease", e.policy.ClaimLease))
		}
	}

	r := &run{
		token:     uuid.NewString(),
		log:       log,
		rules:     rules.NewCache(),
		attempted: make(map[domain.Channel]int),
	}

	items, err := e.deps.Queue.Claim(ctx, businessID, limit, r.token, now)
	if err != nil {
		return domain.DispatchStats{}, fmt.Errorf("claim queue items: %w", err)
	}
	r.stats.Claimed = len(items)

	for i, item := range items {
		if e.policy.ClaimLease > 0 && e.now().UTC().Sub(now) >= e.policy.ClaimLease/2 {
			log.Warn("lease budget spent; releasing the rest of the batch",
				zap.Int("remaining", len(items)-i), zap.Duration("lease", e.policy.ClaimLease))
			for _, rest := range items[i:] {
				e.postpone(ctx, r, rest, "lease budget spent")
			}
			break
		}
		e.process(ctx, r, item)
	}

	log.Info("dispatch run finished",
		zap.String("claim_token", r.token),
		zap.Int("claimed", r.stats.Claimed),
		zap.Int("sent", r.stats.Sent),
		zap.Int("cancelled", r.stats.Cancelled),
		zap.Int("failed", r.stats.Failed),
		zap.Int("skipped", r.stats.Skipped),
		zap.Int("requeued", r.stats.Requeued),
		zap.Int("deferred", r.stats.Deferred),
	)
	return r.stats, nil
}

func (e *Engine) process(ctx context.Context, r *run, item *domain.QueueItem) {
	log := r.log.With(
		zap.Int64("queue_id", item.ID),
		zap.Int64("appointment_id", item.AppointmentID),
		zap.String("channel", string(item.Channel)),
		zap.String("correlation_id", item.CorrelationID),
	)

	appt, err := e.deps.Appointments.GetByID(ctx, item.AppointmentID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		e.settle(ctx, r, item, log, settlement{outcome: OutcomeCancelled, reason: "appointment not found"})
		return
	case err != nil:
		e.abandon(ctx, r, item, log, "load appointment", err)
		return
	case !appt.Status.IsActive():
		e.settle(ctx, r, item, log, settlement{outcome: OutcomeCancelled, reason: "appointment " + string(appt.Status)})
		return
	case item.AppointmentStartAt != nil && !appt.StartAt.Equal(*item.AppointmentStartAt):
		e.settle(ctx, r, item, log, settlement{outcome: OutcomeCancelled, reason: "appointment rescheduled"})
		return
	}

	enabled, err := e.deps.Rules.IsEnabled(ctx, r.rules, item.BusinessID, item.EventType, item.Channel)
	if err != nil {
		e.abandon(ctx, r, item, log, "load notification rule", err)
		return
	}
	if !enabled {
		e.settle(ctx, r, item, log, settlement{outcome: OutcomeSkipped, reason: "notification rule disabled"})
		return
	}

	integ, err := e.deps.Integrations.Get(ctx, item.BusinessID, item.Channel)
	switch {
	case errors.Is(err, domain.ErrNotFound) || (err == nil && !integ.IsActive):
		e.settle(ctx, r, item, log, settlement{outcome: OutcomeSkipped, reason: "integration inactive"})
		return
	case err != nil:
		e.abandon(ctx, r, item, log, "load integration", err)
		return
	}

	decrypted := e.deps.Vault.Decrypt(integ.EncryptedConfig)
	if !decrypted.OK() {
		log.Warn("integration config could not be decrypted; check APP_ENCRYPTION_KEY",
			zap.String("error_kind", string(decrypted.Err)))
		e.settle(ctx, r, item, log, settlement{outcome: OutcomeSkipped, reason: string(decrypted.Err)})
		return
	}

	recipient := appt.RecipientFor(item.Channel)
	if recipient == "" {
		e.settle(ctx, r, item, log, settlement{outcome: OutcomeSkipped, reason: "no recipient on file"})
		return
	}

	optedOut, err := e.deps.OptOuts.IsOptedOut(ctx, item.BusinessID, item.Channel, recipient)
	if err != nil {
		e.abandon(ctx, r, item, log, "check opt-out", err)
		return
	}
	if optedOut {
		e.settle(ctx, r, item, log, settlement{outcome: OutcomeCancelled, reason: "recipient opted out", recipient: recipient})
		return
	}

	if capacity := e.policy.ChannelRunLimits[item.Channel]; capacity > 0 && r.attempted[item.Channel] >= capacity {
		e.postpone(ctx, r, item, "channel run limit reached")
		return
	}

	adapter, err := e.deps.Adapters.Resolve(item.Channel, integ, decrypted.Config)
	if err != nil {
		e.settle(ctx, r, item, log, settlement{outcome: OutcomeSkipped, reason: err.Error(), recipient: recipient})
		return
	}

	msg := e.deps.Renderer.Render(item, appt, recipient)

	if err := e.deps.Queue.Renew(ctx, item.ID, r.token, e.now().UTC()); err != nil {
		if errors.Is(err, domain.ErrClaimLost) {
			log.Warn("claim taken over before send; dropping item from this run")
			return
		}
		e.abandon(ctx, r, item, log, "renew claim", err)
		return
	}
	r.attempted[item.Channel]++

	start := time.Now()
	res := adapter.Send(ctx, msg)
	e.hooks.OnSend(item.Channel, res.Provider, res.Success, time.Since(start))

	if res.Success {
		e.settle(ctx, r, item, log, settlement{outcome: OutcomeSent, recipient: recipient, provider: res.Provider, detail: res.Link})
		return
	}

	attempts := item.AttemptCount + 1
	s := settlement{outcome: OutcomeFailed, reason: res.ErrorDetail, recipient: recipient, provider: res.Provider, attempts: attempts}
	if e.policy.shouldRetry(attempts) {
		s.outcome = OutcomeRequeued
		s.runAfter = e.now().UTC().Add(e.policy.backoff(attempts))
	}
	log.Warn("provider send failed",
		zap.String("provider", res.Provider),
		zap.Int("attempt", attempts),
		zap.String("error", res.ErrorDetail),
		zap.Bool("requeued", s.outcome == OutcomeRequeued),
	)
	e.settle(ctx, r, item, log, s)
}

// settlement describes how a claimed item leaves this run.
type settlement struct {
	outcome   string
	reason    string
	recipient string
	provider  string
	detail    string
	attempts  int
	runAfter  time.Time
}

func (s settlement) deliveryStatus() domain.DeliveryStatus {
	switch s.outcome {
	case OutcomeSent:
		return domain.DeliverySent
	case OutcomeCancelled:
		return domain.DeliveryCancelled
	case OutcomeFailed, OutcomeRequeued:
		return domain.DeliveryFailed
	default:
		return domain.DeliverySkipped
	}
}

// settle applies the queue transition, then counts, logs and records it.
// Nothing is counted when the transition fails.
func (e *Engine) settle(ctx context.Context, r *run, item *domain.QueueItem, log *zap.Logger, s settlement) {
	now := e.now().UTC()
	q := e.deps.Queue

	var err error
	switch s.outcome {
	case OutcomeSent:
		err = q.MarkSent(ctx, item.ID, r.token, now)
	case OutcomeCancelled:
		err = q.MarkCancelled(ctx, item.ID, r.token, s.reason, now)
	case OutcomeSkipped:
		err = q.MarkSkipped(ctx, item.ID, r.token, s.reason, now)
	case OutcomeFailed:
		err = q.MarkFailed(ctx, item.ID, r.token, s.attempts, s.reason, now)
	case OutcomeRequeued:
		err = q.Requeue(ctx, item.ID, r.token, s.attempts, s.reason, s.runAfter, now)
	}
	if err != nil {
		if errors.Is(err, domain.ErrClaimLost) {
			log.Warn("claim lost before settling", zap.String("outcome", s.outcome))
		} else {
			log.Error("failed to settle queue item", zap.String("outcome", s.outcome), zap.Error(err))
		}
		return
	}

	switch s.outcome {
	case OutcomeSent:
		r.stats.Sent++
	case OutcomeCancelled:
		r.stats.Cancelled++
	case OutcomeFailed:
		r.stats.Failed++
	case OutcomeRequeued:
		r.stats.Requeued++
	case OutcomeSkipped:
		r.stats.Skipped++
	}

	e.deps.Recorder.Record(ctx, deliverylog.Entry{
		Item:      item,
		Status:    s.deliveryStatus(),
		Attempt:   item.AttemptCount + 1,
		Recipient: s.recipient,
		Provider:  s.provider,
		Error:     s.reason,
		Detail:    s.detail,
	})
	e.hooks.OnOutcome(item.Channel, s.outcome)

	if s.outcome == OutcomeSent {
		log.Info("reminder sent", zap.String("provider", s.provider))
	} else {
		log.Info("reminder settled", zap.String("outcome", s.outcome), zap.String("reason", s.reason))
	}
}

// postpone releases an unattempted item to pending for a later run. It writes
// no delivery log since nothing was attempted.
func (e *Engine) postpone(ctx context.Context, r *run, item *domain.QueueItem, reason string) {
	log := r.log.With(zap.Int64("queue_id", item.ID), zap.String("channel", string(item.Channel)))
	if err := e.deps.Queue.Release(ctx, item.ID, r.token, e.now().UTC()); err != nil {
		if errors.Is(err, domain.ErrClaimLost) {
			log.Warn("claim lost before release")
		} else {
			log.Error("failed to release claim", zap.Error(err))
		}
		return
	}
	r.stats.Deferred++
	e.hooks.OnOutcome(item.Channel, OutcomeDeferred)
	log.Info("reminder deferred", zap.String("reason", reason))
}

// abandon hands an item back to pending after a storage read failed, so the
// next run can try again. It is not counted.
func (e *Engine) abandon(ctx context.Context, r *run, item *domain.QueueItem, log *zap.Logger, stage string, cause error) {
	log.Error("dispatch lookup failed; releasing claim", zap.String("stage", stage), zap.Error(cause))
	if err := e.deps.Queue.Release(ctx, item.ID, r.token, e.now().UTC()); err != nil {
		log.Error("failed to release claim", zap.Error(err))
	}
}
