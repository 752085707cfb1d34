// Package rules answers per business/channel/event notification settings.
package rules

import (
	"context"
	"fmt"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
	"github.com/notifyhub/reminder-dispatch/internal/repository"
)

// MaxOffsetMinutes caps reminder lead time at 30 days.
const MaxOffsetMinutes = 43200

// ClampOffset bounds a stored offset to [0, MaxOffsetMinutes].
func ClampOffset(minutes int) int {
	return max(0, min(MaxOffsetMinutes, minutes))
}

// Cache memoises rule rows for the duration of a single enqueue or
// dispatch call. It is not safe for concurrent use and must not outlive
// the call that created it.
type Cache struct {
	byBusiness map[int64]map[ruleKey]domain.Rule
}

type ruleKey struct {
	eventType domain.EventType
	channel   domain.Channel
}

func NewCache() *Cache {
	return &Cache{byBusiness: make(map[int64]map[ruleKey]domain.Rule)}
}

// Resolver reads rules through a caller-supplied Cache.
type Resolver struct {
	repo repository.RuleRepository
}

func NewResolver(repo repository.RuleRepository) *Resolver {
	return &Resolver{repo: repo}
}

// Rule returns the rule row for (business, event, channel) and whether one
// exists. A nil cache reads straight through.
func (r *Resolver) Rule(ctx context.Context, cache *Cache, businessID int64, eventType domain.EventType, ch domain.Channel) (domain.Rule, bool, error) {
	if cache == nil {
		cache = NewCache()
	}
	rules, ok := cache.byBusiness[businessID]
	if !ok {
		rows, err := r.repo.ListByBusiness(ctx, businessID)
		if err != nil {
			return domain.Rule{}, false, fmt.Errorf("load rules for business %d: %w", businessID, err)
		}
		rules = make(map[ruleKey]domain.Rule, len(rows))
		for _, row := range rows {
			rules[ruleKey{row.EventType, row.Channel}] = row
		}
		cache.byBusiness[businessID] = rules
	}
	rule, ok := rules[ruleKey{eventType, ch}]
	return rule, ok, nil
}

// ResolveOffsetMinutes returns the appointment_reminder lead time for ch,
// clamped to [0, MaxOffsetMinutes]. It returns nil when no rule row exists
// or the offset is not set; callers treat that as "not configured".
func (r *Resolver) ResolveOffsetMinutes(ctx context.Context, cache *Cache, businessID int64, ch domain.Channel) (*int, error) {
	rule, ok, err := r.Rule(ctx, cache, businessID, domain.EventAppointmentReminder, ch)
	if err != nil || !ok || rule.ReminderOffsetMinutes == nil {
		return nil, err
	}
	v := ClampOffset(*rule.ReminderOffsetMinutes)
	return &v, nil
}

// IsEnabled reports whether a rule exists for the tuple and is switched on.
func (r *Resolver) IsEnabled(ctx context.Context, cache *Cache, businessID int64, eventType domain.EventType, ch domain.Channel) (bool, error) {
	rule, ok, err := r.Rule(ctx, cache, businessID, eventType, ch)
	if err != nil {
		return false, err
	}
	return ok && rule.Enabled, nil
}
