package dispatch

import (
	"time"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
)

// Policy holds the operator-tunable knobs of a dispatch run.
type Policy struct {
	// ClaimLease is how long a claim may stay unsettled before the next
	// run treats its owner as crashed. Zero disables the release.
	ClaimLease time.Duration

	// ChannelRunLimits caps sends per channel in one run. Items over the
	// cap go back to pending for the next run. Zero or missing is uncapped.
	ChannelRunLimits map[domain.Channel]int

	// MaxAttempts is the total number of send attempts per item. Values
	// below 2 disable automatic retries.
	MaxAttempts int

	// Backoff is the wait before attempt n+1, indexed by n-1 and clamped
	// to the last entry.
	Backoff []time.Duration
}

func (p Policy) shouldRetry(attempts int) bool {
	return p.MaxAttempts > 1 && attempts < p.MaxAttempts && len(p.Backoff) > 0
}

// backoff returns the delay after the given failed attempt number:
//
//	attempt 1 → Backoff[0]
//	attempt 2 → Backoff[1]
//	attempt N ≥ len(Backoff) → last entry
func (p Policy) backoff(attempts int) time.Duration {
	idx := max(attempts-1, 0)
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	return p.Backoff[idx]
}
