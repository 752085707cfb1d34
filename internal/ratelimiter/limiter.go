// Package ratelimiter throttles outbound provider calls per channel.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
)

// ChannelLimiters holds one token bucket per delivery channel. Burst equals
// the per-second rate, so a quiet period never saves up more than one
// second of sends.
type ChannelLimiters struct {
	limiters map[domain.Channel]*rate.Limiter
}

// New creates a limiter granting ratePerSec sends per second on each channel.
func New(ratePerSec int) *ChannelLimiters {
	cl := &ChannelLimiters{limiters: make(map[domain.Channel]*rate.Limiter)}
	for _, ch := range domain.Channels() {
		cl.limiters[ch] = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}
	return cl
}

// Wait blocks until ch may send. It returns an error only when ctx ends
// first. Unknown channels and a nil receiver are never throttled.
func (cl *ChannelLimiters) Wait(ctx context.Context, ch domain.Channel) error {
	if cl == nil {
		return nil
	}
	l, ok := cl.limiters[ch]
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}
