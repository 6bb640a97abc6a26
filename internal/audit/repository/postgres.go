package repository

import (
	"context"
	"fmt"
	"time"

	"qr-attendance/backend/internal/audit/domain"
	"qr-attendance/backend/internal/db"
)

const insertEntrySQL = `INSERT INTO audit_entries
    (id, actor_id, action, target_id, before_state, after_state, reason, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, '')::jsonb, NULLIF($6, '')::jsonb, $7, $8)`

const listEntriesSQL = `SELECT id, actor_id, action, target_id,
    COALESCE(before_state::text, ''), COALESCE(after_state::text, ''), reason, created_at
FROM audit_entries
WHERE ($1 = '' OR target_id = $1)
  AND ($2::timestamptz IS NULL OR created_at >= $2)
  AND ($3::timestamptz IS NULL OR created_at < $3)
ORDER BY created_at, id
LIMIT $4`

// PostgresLog stores audit entries in the audit_entries table. The table rejects
// UPDATE and DELETE through a trigger.
type PostgresLog struct {
	pool db.Pool
}

// NewPostgresLog returns an audit log backed by pool.
func NewPostgresLog(pool db.Pool) *PostgresLog {
	return &PostgresLog{pool: pool}
}

func (l *PostgresLog) Append(ctx context.Context, e *domain.Entry) error {
	return Insert(ctx, l.pool, e)
}

// Insert validates e and writes it through q, which may be a transaction.
// The ledger uses it to commit a correction and its audit row together.
func Insert(ctx context.Context, q db.DBTX, e *domain.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	before, err := encodeSnapshot(e.Before)
	if err != nil {
		return err
	}
	after, err := encodeSnapshot(e.After)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, insertEntrySQL,
		e.ID, e.ActorID, string(e.Action), e.TargetID, before, after, e.Reason, e.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

func (l *PostgresLog) List(ctx context.Context, f domain.Filter) ([]*domain.Entry, error) {
	var limit any
	if f.Limit > 0 {
		limit = f.Limit
	}
	rows, err := l.pool.Query(ctx, listEntriesSQL, f.TargetID, nullTime(f.From), nullTime(f.To), limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var out []*domain.Entry
	for rows.Next() {
		var (
			e             domain.Entry
			action        string
			before, after string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &action, &e.TargetID, &before, &after, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Action = domain.Action(action)
		e.CreatedAt = e.CreatedAt.UTC()
		if e.Before, err = decodeSnapshot(before); err != nil {
			return nil, err
		}
		if e.After, err = decodeSnapshot(after); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return out, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
