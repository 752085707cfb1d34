package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
)

// The tables read here belong to the settings and booking parts of the
// application; this module never writes to them.

type pgRuleRepository struct {
	pool *pgxpool.Pool
}

func NewPgRuleRepository(pool *pgxpool.Pool) RuleRepository {
	return &pgRuleRepository{pool: pool}
}

func (r *pgRuleRepository) ListByBusiness(ctx context.Context, businessID int64) ([]domain.Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT business_id, event_type, channel, reminder_offset_minutes, is_enabled
		FROM business_notification_rules
		WHERE business_id = $1`, businessID)
	if err != nil {
		return nil, fmt.Errorf("list notification rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		var rule domain.Rule
		if err := rows.Scan(&rule.BusinessID, &rule.EventType, &rule.Channel,
			&rule.ReminderOffsetMinutes, &rule.Enabled); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

type pgIntegrationRepository struct {
	pool *pgxpool.Pool
}

func NewPgIntegrationRepository(pool *pgxpool.Pool) IntegrationRepository {
	return &pgIntegrationRepository{pool: pool}
}

func (r *pgIntegrationRepository) Get(ctx context.Context, businessID int64, ch domain.Channel) (*domain.Integration, error) {
	var in domain.Integration
	err := r.pool.QueryRow(ctx, `
		SELECT business_id, channel, COALESCE(provider_name, ''), is_active,
		       COALESCE(encrypted_config, ''), COALESCE(from_address, ''), COALESCE(from_name, '')
		FROM business_integrations
		WHERE business_id = $1 AND channel = $2`, businessID, ch,
	).Scan(&in.BusinessID, &in.Channel, &in.ProviderName, &in.IsActive,
		&in.EncryptedConfig, &in.FromAddress, &in.FromName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get integration: %w", err)
	}
	return &in, nil
}

const appointmentSelect = `
	SELECT a.id, a.business_id, a.status, a.start_at,
	       COALESCE(c.first_name, ''), COALESCE(c.last_name, ''),
	       COALESCE(c.email, ''), COALESCE(c.phone, ''),
	       COALESCE(s.name, ''), COALESCE(p.name, '')
	FROM appointments a
	LEFT JOIN customers c ON c.id = a.customer_id
	LEFT JOIN services s ON s.id = a.service_id
	LEFT JOIN providers p ON p.id = a.provider_id`

type pgAppointmentRepository struct {
	pool *pgxpool.Pool
}

func NewPgAppointmentRepository(pool *pgxpool.Pool) AppointmentRepository {
	return &pgAppointmentRepository{pool: pool}
}

func (r *pgAppointmentRepository) ListStartingBetween(ctx context.Context, businessID int64, from, to time.Time) ([]*domain.Appointment, error) {
	rows, err := r.pool.Query(ctx, appointmentSelect+`
		WHERE a.business_id = $1 AND a.start_at > $2 AND a.start_at <= $3
		ORDER BY a.start_at, a.id`, businessID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var result []*domain.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *pgAppointmentRepository) GetByID(ctx context.Context, id int64) (*domain.Appointment, error) {
	a, err := scanAppointment(r.pool.QueryRow(ctx, appointmentSelect+` WHERE a.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func scanAppointment(row pgx.Row) (*domain.Appointment, error) {
	var a domain.Appointment
	err := row.Scan(&a.ID, &a.BusinessID, &a.Status, &a.StartAt,
		&a.CustomerFirstName, &a.CustomerLastName, &a.CustomerEmail, &a.CustomerPhone,
		&a.ServiceName, &a.ProviderName)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

type pgOptOutRepository struct {
	pool *pgxpool.Pool
}

func NewPgOptOutRepository(pool *pgxpool.Pool) OptOutRepository {
	return &pgOptOutRepository{pool: pool}
}

func (r *pgOptOutRepository) IsOptedOut(ctx context.Context, businessID int64, ch domain.Channel, recipient string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notification_opt_outs
			WHERE business_id = $1 AND channel = $2 AND recipient = $3
		)`, businessID, ch, recipient).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check opt-out: %w", err)
	}
	return exists, nil
}
