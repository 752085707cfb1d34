package domain

import "time"

// DefaultBusinessID is used whenever a caller passes an absent or
// non-positive business id.
const DefaultBusinessID int64 = 1

// NormalizeBusinessID maps non-positive ids to DefaultBusinessID.
func NormalizeBusinessID(id int64) int64 {
	if id <= 0 {
		return DefaultBusinessID
	}
	return id
}

// QueueStatus tracks the lifecycle of a queue item:
//
//	pending → claimed → sent | cancelled | failed | skipped
//
// A claimed item may also be released back to pending (stale lease,
// per-run channel cap, or retry backoff).
type QueueStatus string

const (
	QueueStatusPending   QueueStatus = "pending"
	QueueStatusClaimed   QueueStatus = "claimed"
	QueueStatusSent      QueueStatus = "sent"
	QueueStatusCancelled QueueStatus = "cancelled"
	QueueStatusFailed    QueueStatus = "failed"
	QueueStatusSkipped   QueueStatus = "skipped"
)

// QueueStatuses lists every status in lifecycle order.
func QueueStatuses() []QueueStatus {
	return []QueueStatus{
		QueueStatusPending, QueueStatusClaimed, QueueStatusSent,
		QueueStatusCancelled, QueueStatusFailed, QueueStatusSkipped,
	}
}

// IsTerminal reports whether no component will transition the item again.
func (s QueueStatus) IsTerminal() bool {
	switch s {
	case QueueStatusSent, QueueStatusCancelled, QueueStatusFailed, QueueStatusSkipped:
		return true
	}
	return false
}

// QueueItem is one planned notification.
// (AppointmentID, Channel, EventType) is unique across the table.
type QueueItem struct {
	ID                 int64       `json:"id"`
	BusinessID         int64       `json:"business_id"`
	AppointmentID      int64       `json:"appointment_id"`
	Channel            Channel     `json:"channel"`
	EventType          EventType   `json:"event_type"`
	ScheduledAt        time.Time   `json:"scheduled_at"`
	AppointmentStartAt *time.Time  `json:"appointment_start_at,omitempty"`
	RunAfter           *time.Time  `json:"run_after,omitempty"`
	Status             QueueStatus `json:"status"`
	ClaimToken         *string     `json:"claim_token,omitempty"`
	ClaimedAt          *time.Time  `json:"claimed_at,omitempty"`
	AttemptCount       int         `json:"attempt_count"`
	LastError          *string     `json:"last_error,omitempty"`
	CorrelationID      string      `json:"correlation_id"`
	SentAt             *time.Time  `json:"sent_at,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// Rule is a per business/channel/event notification setting.
// It is written by the settings UI and only read here.
type Rule struct {
	BusinessID            int64     `json:"business_id"`
	EventType             EventType `json:"event_type"`
	Channel               Channel   `json:"channel"`
	ReminderOffsetMinutes *int      `json:"reminder_offset_minutes,omitempty"`
	Enabled               bool      `json:"enabled"`
}

// Integration holds a business's credentials for one channel.
// EncryptedConfig is opaque ciphertext produced by the vault.
type Integration struct {
	BusinessID      int64   `json:"business_id"`
	Channel         Channel `json:"channel"`
	ProviderName    string  `json:"provider_name"`
	IsActive        bool    `json:"is_active"`
	EncryptedConfig string  `json:"-"`
	FromAddress     string  `json:"from_address,omitempty"`
	FromName        string  `json:"from_name,omitempty"`
}

// AppointmentStatus mirrors the booking application's status column.
type AppointmentStatus string

const (
	AppointmentPending     AppointmentStatus = "pending"
	AppointmentConfirmed   AppointmentStatus = "confirmed"
	AppointmentCancelled   AppointmentStatus = "cancelled"
	AppointmentRescheduled AppointmentStatus = "rescheduled"
	AppointmentCompleted   AppointmentStatus = "completed"
	AppointmentNoShow      AppointmentStatus = "no-show"
)

// IsActive reports whether a reminder for the appointment still makes sense.
func (s AppointmentStatus) IsActive() bool {
	return s == AppointmentPending || s == AppointmentConfirmed
}

// Appointment is the read-only view of a booking needed to plan and
// render a reminder.
type Appointment struct {
	ID                int64             `json:"id"`
	BusinessID        int64             `json:"business_id"`
	Status            AppointmentStatus `json:"status"`
	StartAt           time.Time         `json:"start_at"`
	CustomerFirstName string            `json:"customer_first_name"`
	CustomerLastName  string            `json:"customer_last_name"`
	CustomerEmail     string            `json:"customer_email"`
	CustomerPhone     string            `json:"customer_phone"`
	ServiceName       string            `json:"service_name"`
	ProviderName      string            `json:"provider_name"`
}

// RecipientFor returns the address used for ch, or "" when none is on file.
func (a *Appointment) RecipientFor(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return a.CustomerEmail
	case ChannelSMS, ChannelWhatsApp:
		return a.CustomerPhone
	}
	return ""
}
