package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
)

// MockDeliveryLogRepository is an in-memory DeliveryLogRepository for tests.
type MockDeliveryLogRepository struct {
	mu     sync.Mutex
	logs   []*domain.DeliveryLog
	nextID int64

	InsertErr error
	ListErr   error
	DeleteErr error
}

func NewMockDeliveryLogRepository() *MockDeliveryLogRepository {
	return &MockDeliveryLogRepository{}
}

func (m *MockDeliveryLogRepository) Insert(_ context.Context, l *domain.DeliveryLog) error {
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	l.ID = m.nextID
	clone := *l
	m.logs = append(m.logs, &clone)
	return nil
}

func (m *MockDeliveryLogRepository) ListSince(_ context.Context, businessID int64, since time.Time) ([]*domain.DeliveryLog, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.DeliveryLog
	for _, l := range m.logs {
		if l.BusinessID == businessID && !l.CreatedAt.Before(since) {
			clone := *l
			out = append(out, &clone)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MockDeliveryLogRepository) DeleteBefore(_ context.Context, businessID int64, before time.Time) (int64, error) {
	if m.DeleteErr != nil {
		return 0, m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.logs[:0]
	var n int64
	for _, l := range m.logs {
		if l.BusinessID == businessID && l.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	m.logs = kept
	return n, nil
}

// All returns copies of every stored row in insertion order.
func (m *MockDeliveryLogRepository) All() []*domain.DeliveryLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.DeliveryLog, len(m.logs))
	for i, l := range m.logs {
		clone := *l
		out[i] = &clone
	}
	return out
}
