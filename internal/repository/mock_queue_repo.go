package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
)

// MockQueueRepository is a hand-written, in-memory implementation of
// QueueRepository used in unit tests. A single mutex makes Claim atomic,
// which is all the concurrency tests rely on.
type MockQueueRepository struct {
	mu     sync.Mutex
	items  map[int64]*domain.QueueItem
	unique map[queueKey]int64
	nextID int64

	// Optional error overrides, set in tests to simulate failure paths.
	InsertErr error
	ClaimErr  error
	MarkErr   error
	RenewErr  error
}

type queueKey struct {
	appointmentID int64
	channel       domain.Channel
	eventType     domain.EventType
}

func NewMockQueueRepository() *MockQueueRepository {
	return &MockQueueRepository{
		items:  make(map[int64]*domain.QueueItem),
		unique: make(map[queueKey]int64),
	}
}

func (m *MockQueueRepository) Insert(_ context.Context, item *domain.QueueItem) error {
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := queueKey{item.AppointmentID, item.Channel, item.EventType}
	if _, ok := m.unique[key]; ok {
		return domain.ErrDuplicate
	}
	m.nextID++
	item.ID = m.nextID
	clone := *item
	m.items[item.ID] = &clone
	m.unique[key] = item.ID
	return nil
}

func (m *MockQueueRepository) GetByID(_ context.Context, id int64) (*domain.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *q
	return &clone, nil
}

func (m *MockQueueRepository) Claim(_ context.Context, businessID int64, limit int, token string, now time.Time) ([]*domain.QueueItem, error) {
	if m.ClaimErr != nil {
		return nil, m.ClaimErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var claimed []*domain.QueueItem
	for _, id := range m.sortedIDs() {
		if len(claimed) >= limit {
			break
		}
		q := m.items[id]
		if q.BusinessID != businessID || q.Status != domain.QueueStatusPending {
			continue
		}
		if q.RunAfter != nil && q.RunAfter.After(now) {
			continue
		}
		tok, at := token, now
		q.Status = domain.QueueStatusClaimed
		q.ClaimToken = &tok
		q.ClaimedAt = &at
		q.UpdatedAt = now
		clone := *q
		claimed = append(claimed, &clone)
	}
	return claimed, nil
}

func (m *MockQueueRepository) ReleaseStaleClaims(_ context.Context, businessID int64, staleBefore, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, q := range m.items {
		if q.Status != domain.QueueStatusClaimed || q.ClaimedAt == nil || !q.ClaimedAt.Before(staleBefore) {
			continue
		}
		if businessID != 0 && q.BusinessID != businessID {
			continue
		}
		q.Status = domain.QueueStatusPending
		q.ClaimToken = nil
		q.ClaimedAt = nil
		q.UpdatedAt = now
		n++
	}
	return n, nil
}

func (m *MockQueueRepository) Renew(_ context.Context, id int64, token string, now time.Time) error {
	if m.RenewErr != nil {
		return m.RenewErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.items[id]
	if !ok || q.Status != domain.QueueStatusClaimed || q.ClaimToken == nil || *q.ClaimToken != token {
		return domain.ErrClaimLost
	}
	q.ClaimedAt = &now
	q.UpdatedAt = now
	return nil
}

func (m *MockQueueRepository) MarkSent(_ context.Context, id int64, token string, sentAt time.Time) error {
	return m.transition(id, token, func(q *domain.QueueItem) {
		q.Status = domain.QueueStatusSent
		q.SentAt = &sentAt
		q.LastError = nil
		q.UpdatedAt = sentAt
	})
}

func (m *MockQueueRepository) MarkCancelled(_ context.Context, id int64, token, reason string, now time.Time) error {
	return m.transition(id, token, func(q *domain.QueueItem) {
		q.Status = domain.QueueStatusCancelled
		q.LastError = &reason
		q.UpdatedAt = now
	})
}

func (m *MockQueueRepository) MarkSkipped(_ context.Context, id int64, token, reason string, now time.Time) error {
	return m.transition(id, token, func(q *domain.QueueItem) {
		q.Status = domain.QueueStatusSkipped
		q.LastError = &reason
		q.UpdatedAt = now
	})
}

func (m *MockQueueRepository) MarkFailed(_ context.Context, id int64, token string, attempts int, errMsg string, now time.Time) error {
	return m.transition(id, token, func(q *domain.QueueItem) {
		q.Status = domain.QueueStatusFailed
		q.AttemptCount = attempts
		q.LastError = &errMsg
		q.UpdatedAt = now
	})
}

func (m *MockQueueRepository) Requeue(_ context.Context, id int64, token string, attempts int, errMsg string, runAfter, now time.Time) error {
	return m.transition(id, token, func(q *domain.QueueItem) {
		q.Status = domain.QueueStatusPending
		q.AttemptCount = attempts
		q.LastError = &errMsg
		q.RunAfter = &runAfter
		q.UpdatedAt = now
	})
}

func (m *MockQueueRepository) Release(_ context.Context, id int64, token string, now time.Time) error {
	return m.transition(id, token, func(q *domain.QueueItem) {
		q.Status = domain.QueueStatusPending
		q.UpdatedAt = now
	})
}

func (m *MockQueueRepository) CountByStatus(_ context.Context, businessID int64) (map[domain.QueueStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.QueueStatus]int)
	for _, q := range m.items {
		if q.BusinessID == businessID {
			counts[q.Status]++
		}
	}
	return counts, nil
}

// All returns copies of every stored item ordered by id.
func (m *MockQueueRepository) All() []*domain.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.QueueItem, 0, len(m.items))
	for _, id := range m.sortedIDs() {
		clone := *m.items[id]
		out = append(out, &clone)
	}
	return out
}

// ForceClaim marks an item claimed at claimedAt, simulating a run that
// crashed after claiming.
func (m *MockQueueRepository) ForceClaim(id int64, token string, claimedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.items[id]; ok {
		q.Status = domain.QueueStatusClaimed
		q.ClaimToken = &token
		q.ClaimedAt = &claimedAt
	}
}

func (m *MockQueueRepository) transition(id int64, token string, apply func(*domain.QueueItem)) error {
	if m.MarkErr != nil {
		return m.MarkErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.items[id]
	if !ok || q.Status != domain.QueueStatusClaimed || q.ClaimToken == nil || *q.ClaimToken != token {
		return domain.ErrClaimLost
	}
	apply(q)
	q.ClaimToken = nil
	q.ClaimedAt = nil
	return nil
}

func (m *MockQueueRepository) sortedIDs() []int64 {
	ids := make([]int64, 0, len(m.items))
	for id := range m.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
