package repository

import (
	"context"
	"time"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
)

// QueueRepository persists queue items and their state transitions.
//
// Every transition out of claimed is conditional on the claim token; when
// the row is no longer held by that token the call returns
// domain.ErrClaimLost and changes nothing.
type QueueRepository interface {
	// Insert stores a new pending item and sets item.ID.
	// Returns domain.ErrDuplicate when the (appointment, channel, event)
	// tuple is already queued.
	Insert(ctx context.Context, item *domain.QueueItem) error
	GetByID(ctx context.Context, id int64) (*domain.QueueItem, error)

	// Claim atomically moves up to limit due pending items of the business
	// to claimed under token and returns them ordered by id.
	Claim(ctx context.Context, businessID int64, limit int, token string, now time.Time) ([]*domain.QueueItem, error)
	// ReleaseStaleClaims returns claims taken before staleBefore to pending.
	// businessID 0 sweeps every business.
	ReleaseStaleClaims(ctx context.Context, businessID int64, staleBefore, now time.Time) (int64, error)

	// Renew refreshes claimed_at for an item still held by token, so the
	// lease runs from now. Called right before a send.
	Renew(ctx context.Context, id int64, token string, now time.Time) error

	MarkSent(ctx context.Context, id int64, token string, sentAt time.Time) error
	MarkCancelled(ctx context.Context, id int64, token, reason string, now time.Time) error
	MarkSkipped(ctx context.Context, id int64, token, reason string, now time.Time) error
	MarkFailed(ctx context.Context, id int64, token string, attempts int, errMsg string, now time.Time) error
	// Requeue records a failed attempt and puts the item back to pending,
	// not claimable before runAfter.
	Requeue(ctx context.Context, id int64, token string, attempts int, errMsg string, runAfter, now time.Time) error
	// Release puts a claimed item back to pending without recording an attempt.
	Release(ctx context.Context, id int64, token string, now time.Time) error

	CountByStatus(ctx context.Context, businessID int64) (map[domain.QueueStatus]int, error)
}

// DeliveryLogRepository is the append-only delivery audit trail.
type DeliveryLogRepository interface {
	Insert(ctx context.Context, log *domain.DeliveryLog) error
	// ListSince returns the business's rows with created_at >= since,
	// newest first.
	ListSince(ctx context.Context, businessID int64, since time.Time) ([]*domain.DeliveryLog, error)
	// DeleteBefore removes the business's rows with created_at < before.
	DeleteBefore(ctx context.Context, businessID int64, before time.Time) (int64, error)
}

// RuleRepository reads notification rules owned by the settings UI.
type RuleRepository interface {
	ListByBusiness(ctx context.Context, businessID int64) ([]domain.Rule, error)
}

// IntegrationRepository reads channel integrations owned by the settings UI.
type IntegrationRepository interface {
	// Get returns domain.ErrNotFound when the business has no row for ch.
	Get(ctx context.Context, businessID int64, ch domain.Channel) (*domain.Integration, error)
}

// AppointmentRepository reads bookings owned by the booking application.
type AppointmentRepository interface {
	// ListStartingBetween returns appointments with from < start_at <= to,
	// in any status.
	ListStartingBetween(ctx context.Context, businessID int64, from, to time.Time) ([]*domain.Appointment, error)
	GetByID(ctx context.Context, id int64) (*domain.Appointment, error)
}

// OptOutRepository answers whether a recipient unsubscribed from a channel.
type OptOutRepository interface {
	IsOptedOut(ctx context.Context, businessID int64, ch domain.Channel, recipient string) (bool, error)
}
