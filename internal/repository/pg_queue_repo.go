package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
)

const queueColumns = `
	id, business_id, appointment_id, channel, event_type, scheduled_at,
	appointment_start_at, run_after, status, claim_token, claimed_at,
	attempt_count, last_error, correlation_id, sent_at, created_at, updated_at`

type pgQueueRepository struct {
	pool *pgxpool.Pool
}

// NewPgQueueRepository returns a QueueRepository backed by PostgreSQL.
func NewPgQueueRepository(pool *pgxpool.Pool) QueueRepository {
	return &pgQueueRepository{pool: pool}
}

func (r *pgQueueRepository) Insert(ctx context.Context, item *domain.QueueItem) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO notification_queue
			(business_id, appointment_id, channel, event_type, scheduled_at,
			 appointment_start_at, run_after, status, attempt_count,
			 correlation_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id`,
		item.BusinessID, item.AppointmentID, item.Channel, item.EventType, item.ScheduledAt,
		item.AppointmentStartAt, item.RunAfter, item.Status, item.AttemptCount,
		item.CorrelationID, item.CreatedAt, item.UpdatedAt,
	).Scan(&item.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

func (r *pgQueueRepository) GetByID(ctx context.Context, id int64) (*domain.QueueItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM notification_queue WHERE id = $1`, id)
	item, err := scanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return item, err
}

// Claim runs as one statement: the inner SELECT locks candidate rows with
// SKIP LOCKED so concurrent callers pick disjoint sets, and the outer
// status guard keeps the update a no-op for rows already taken.
func (r *pgQueueRepository) Claim(ctx context.Context, businessID int64, limit int, token string, now time.Time) ([]*domain.QueueItem, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE notification_queue
		SET status = 'claimed', claim_token = $1, claimed_at = $2, updated_at = $2
		WHERE id IN (
			SELECT id FROM notification_queue
			WHERE business_id = $3
			  AND status = 'pending'
			  AND (run_after IS NULL OR run_after <= $2)
			ORDER BY id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		AND status = 'pending'
		RETURNING `+queueColumns,
		token, now, businessID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim queue items: %w", err)
	}
	defer rows.Close()

	items, err := scanQueueItems(rows)
	if err != nil {
		return nil, fmt.Errorf("scan claimed items: %w", err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *pgQueueRepository) ReleaseStaleClaims(ctx context.Context, businessID int64, staleBefore, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'pending', claim_token = NULL, claimed_at = NULL, updated_at = $1
		WHERE status = 'claimed'
		  AND claimed_at < $2
		  AND ($3::bigint = 0 OR business_id = $3)`,
		now, staleBefore, businessID)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgQueueRepository) Renew(ctx context.Context, id int64, token string, now time.Time) error {
	return r.transition(ctx, `
		UPDATE notification_queue
		SET claimed_at = $3, updated_at = $3
		WHERE id = $1 AND claim_token = $2 AND status = 'claimed'`,
		id, token, now)
}

func (r *pgQueueRepository) MarkSent(ctx context.Context, id int64, token string, sentAt time.Time) error {
	return r.transition(ctx, `
		UPDATE notification_queue
		SET status = 'sent', sent_at = $3, last_error = NULL,
		    claim_token = NULL, claimed_at = NULL, updated_at = $3
		WHERE id = $1 AND claim_token = $2 AND status = 'claimed'`,
		id, token, sentAt)
}

func (r *pgQueueRepository) MarkCancelled(ctx context.Context, id int64, token, reason string, now time.Time) error {
	return r.transition(ctx, `
		UPDATE notification_queue
		SET status = 'cancelled', last_error = $3,
		    claim_token = NULL, claimed_at = NULL, updated_at = $4
		WHERE id = $1 AND claim_token = $2 AND status = 'claimed'`,
		id, token, reason, now)
}

func (r *pgQueueRepository) MarkSkipped(ctx context.Context, id int64, token, reason string, now time.Time) error {
	return r.transition(ctx, `
		UPDATE notification_queue
		SET status = 'skipped', last_error = $3,
		    claim_token = NULL, claimed_at = NULL, updated_at = $4
		WHERE id = $1 AND claim_token = $2 AND status = 'claimed'`,
		id, token, reason, now)
}

func (r *pgQueueRepository) MarkFailed(ctx context.Context, id int64, token string, attempts int, errMsg string, now time.Time) error {
	return r.transition(ctx, `
		UPDATE notification_queue
		SET status = 'failed', attempt_count = $3, last_error = $4,
		    claim_token = NULL, claimed_at = NULL, updated_at = $5
		WHERE id = $1 AND claim_token = $2 AND status = 'claimed'`,
		id, token, attempts, errMsg, now)
}

func (r *pgQueueRepository) Requeue(ctx context.Context, id int64, token string, attempts int, errMsg string, runAfter, now time.Time) error {
	return r.transition(ctx, `
		UPDATE notification_queue
		SET status = 'pending', attempt_count = $3, last_error = $4, run_after = $5,
		    claim_token = NULL, claimed_at = NULL, updated_at = $6
		WHERE id = $1 AND claim_token = $2 AND status = 'claimed'`,
		id, token, attempts, errMsg, runAfter, now)
}

func (r *pgQueueRepository) Release(ctx context.Context, id int64, token string, now time.Time) error {
	return r.transition(ctx, `
		UPDATE notification_queue
		SET status = 'pending', claim_token = NULL, claimed_at = NULL, updated_at = $3
		WHERE id = $1 AND claim_token = $2 AND status = 'claimed'`,
		id, token, now)
}

func (r *pgQueueRepository) CountByStatus(ctx context.Context, businessID int64) (map[domain.QueueStatus]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM notification_queue
		WHERE business_id = $1
		GROUP BY status`, businessID)
	if err != nil {
		return nil, fmt.Errorf("count queue items: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.QueueStatus]int)
	for rows.Next() {
		var (
			status domain.QueueStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ---- helpers ----

func (r *pgQueueRepository) transition(ctx context.Context, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrClaimLost
	}
	return nil
}

// scanQueueItem reads a single queue row from any pgx row type.
func scanQueueItem(row pgx.Row) (*domain.QueueItem, error) {
	var q domain.QueueItem
	err := row.Scan(
		&q.ID, &q.BusinessID, &q.AppointmentID, &q.Channel, &q.EventType, &q.ScheduledAt,
		&q.AppointmentStartAt, &q.RunAfter, &q.Status, &q.ClaimToken, &q.ClaimedAt,
		&q.AttemptCount, &q.LastError, &q.CorrelationID, &q.SentAt, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func scanQueueItems(rows pgx.Rows) ([]*domain.QueueItem, error) {
	var result []*domain.QueueItem
	for rows.Next() {
		q, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, q)
	}
	return result, rows.Err()
}
