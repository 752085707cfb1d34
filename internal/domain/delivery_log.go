package domain

import "time"

// DeliveryStatus is the outcome recorded for one delivery attempt.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryCancelled DeliveryStatus = "cancelled"
	DeliverySkipped   DeliveryStatus = "skipped"
)

// DeliveryLog is an append-only audit record. Recipient and Provider are
// snapshots taken at attempt time so the log can be read without joins.
type DeliveryLog struct {
	ID            int64          `json:"id"`
	BusinessID    int64          `json:"business_id"`
	QueueID       *int64         `json:"queue_id,omitempty"`
	AppointmentID *int64         `json:"appointment_id,omitempty"`
	Channel       Channel        `json:"channel"`
	EventType     EventType      `json:"event_type"`
	Status        DeliveryStatus `json:"status"`
	Attempt       int            `json:"attempt"`
	Recipient     *string        `json:"recipient,omitempty"`
	Provider      *string        `json:"provider,omitempty"`
	CorrelationID *string        `json:"correlation_id,omitempty"`
	ErrorMessage  *string        `json:"error_message,omitempty"`
	// Detail carries a provider result the operator acts on, such as the
	// wa.me click-to-send link. It is not part of the CSV export.
	Detail        *string        `json:"detail,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
