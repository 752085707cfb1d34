package domain

import "errors"

// Sentinel errors used throughout the application.
// Callers compare with errors.Is; repositories wrap driver errors around them.
var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicate        = errors.New("duplicate: reminder already queued for this appointment, channel and event")
	ErrInvalidChannel   = errors.New("invalid channel: must be email, sms, or whatsapp")
	ErrInvalidBusiness  = errors.New("business id must be positive")
	ErrClaimLost        = errors.New("claim lost: queue item is no longer held by this claim token")
	ErrMissingSecretKey = errors.New("encryption key is not configured")
)
