package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
)

// MockRuleRepository is an in-memory RuleRepository for tests.
// Calls counts ListByBusiness invocations so tests can assert caching.
type MockRuleRepository struct {
	mu    sync.Mutex
	rules []domain.Rule
	Calls int
}

func NewMockRuleRepository() *MockRuleRepository { return &MockRuleRepository{} }

// Put inserts or replaces the rule for (business, event, channel).
func (m *MockRuleRepository) Put(rule domain.Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rules {
		if r.BusinessID == rule.BusinessID && r.EventType == rule.EventType && r.Channel == rule.Channel {
			m.rules[i] = rule
			return
		}
	}
	m.rules = append(m.rules, rule)
}

func (m *MockRuleRepository) ListByBusiness(_ context.Context, businessID int64) ([]domain.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	var out []domain.Rule
	for _, r := range m.rules {
		if r.BusinessID == businessID {
			out = append(out, r)
		}
	}
	return out, nil
}

// MockIntegrationRepository is an in-memory IntegrationRepository for tests.
type MockIntegrationRepository struct {
	mu   sync.Mutex
	rows map[integrationKey]domain.Integration
}

type integrationKey struct {
	businessID int64
	channel    domain.Channel
}

func NewMockIntegrationRepository() *MockIntegrationRepository {
	return &MockIntegrationRepository{rows: make(map[integrationKey]domain.Integration)}
}

func (m *MockIntegrationRepository) Put(in domain.Integration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[integrationKey{in.BusinessID, in.Channel}] = in
}

func (m *MockIntegrationRepository) Get(_ context.Context, businessID int64, ch domain.Channel) (*domain.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.rows[integrationKey{businessID, ch}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &in, nil
}

// MockAppointmentRepository is an in-memory AppointmentRepository for tests.
type MockAppointmentRepository struct {
	mu    sync.Mutex
	appts map[int64]*domain.Appointment
}

func NewMockAppointmentRepository() *MockAppointmentRepository {
	return &MockAppointmentRepository{appts: make(map[int64]*domain.Appointment)}
}

func (m *MockAppointmentRepository) Put(a domain.Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appts[a.ID] = &a
}

// SetStatus changes an appointment's status, as the booking UI would.
func (m *MockAppointmentRepository) SetStatus(id int64, status domain.AppointmentStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.appts[id]; ok {
		a.Status = status
	}
}

func (m *MockAppointmentRepository) ListStartingBetween(_ context.Context, businessID int64, from, to time.Time) ([]*domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Appointment
	for _, a := range m.appts {
		if a.BusinessID == businessID && a.StartAt.After(from) && !a.StartAt.After(to) {
			clone := *a
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *MockAppointmentRepository) GetByID(_ context.Context, id int64) (*domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *a
	return &clone, nil
}

// MockOptOutRepository is an in-memory OptOutRepository for tests.
type MockOptOutRepository struct {
	mu   sync.Mutex
	rows map[string]struct{}
}

func NewMockOptOutRepository() *MockOptOutRepository {
	return &MockOptOutRepository{rows: make(map[string]struct{})}
}

func (m *MockOptOutRepository) Add(businessID int64, ch domain.Channel, recipient string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[optOutKey(businessID, ch, recipient)] = struct{}{}
}

func (m *MockOptOutRepository) IsOptedOut(_ context.Context, businessID int64, ch domain.Channel, recipient string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[optOutKey(businessID, ch, recipient)]
	return ok, nil
}

func optOutKey(businessID int64, ch domain.Channel, recipient string) string {
	return fmt.Sprintf("%d|%s|%s", businessID, ch, recipient)
}
