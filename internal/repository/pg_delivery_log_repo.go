package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
)

type pgDeliveryLogRepository struct {
	pool *pgxpool.Pool
}

// NewPgDeliveryLogRepository returns a DeliveryLogRepository backed by PostgreSQL.
func NewPgDeliveryLogRepository(pool *pgxpool.Pool) DeliveryLogRepository {
	return &pgDeliveryLogRepository{pool: pool}
}

func (r *pgDeliveryLogRepository) Insert(ctx context.Context, l *domain.DeliveryLog) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO notification_delivery_logs
			(business_id, queue_id, correlation_id, channel, event_type, appointment_id,
			 recipient, provider, status, attempt, error_message, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id`,
		l.BusinessID, l.QueueID, l.CorrelationID, l.Channel, l.EventType, l.AppointmentID,
		l.Recipient, l.Provider, l.Status, l.Attempt, l.ErrorMessage, l.Detail, l.CreatedAt,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("insert delivery log: %w", err)
	}
	return nil
}

func (r *pgDeliveryLogRepository) ListSince(ctx context.Context, businessID int64, since time.Time) ([]*domain.DeliveryLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, business_id, queue_id, correlation_id, channel, event_type, appointment_id,
		       recipient, provider, status, attempt, error_message, detail, created_at
		FROM notification_delivery_logs
		WHERE business_id = $1 AND created_at >= $2
		ORDER BY created_at DESC, id DESC`, businessID, since)
	if err != nil {
		return nil, fmt.Errorf("list delivery logs: %w", err)
	}
	defer rows.Close()

	var logs []*domain.DeliveryLog
	for rows.Next() {
		l, err := scanDeliveryLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (r *pgDeliveryLogRepository) DeleteBefore(ctx context.Context, businessID int64, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notification_delivery_logs
		WHERE business_id = $1 AND created_at < $2`, businessID, before)
	if err != nil {
		return 0, fmt.Errorf("purge delivery logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanDeliveryLog(row pgx.Row) (*domain.DeliveryLog, error) {
	var l domain.DeliveryLog
	err := row.Scan(
		&l.ID, &l.BusinessID, &l.QueueID, &l.CorrelationID, &l.Channel, &l.EventType, &l.AppointmentID,
		&l.Recipient, &l.Provider, &l.Status, &l.Attempt, &l.ErrorMessage, &l.Detail, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
