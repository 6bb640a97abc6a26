package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	auditdomain "qr-attendance/backend/internal/audit/domain"
	auditrepo "qr-attendance/backend/internal/audit/repository"
	"qr-attendance/backend/internal/clock"
	"qr-attendance/backend/internal/db"
	"qr-attendance/backend/internal/redemption/domain"
)

const recordColumns = `id, session_id, redeemer_id, redeemed_at, outcome, reason`

// The conflict target matches the partial unique index redemptions_accepted_uq.
const insertAcceptedSQL = `INSERT INTO redemptions (` + recordColumns + `)
VALUES ($1, $2, $3, $4, 'accepted', '')
ON CONFLICT (session_id, redeemer_id) WHERE outcome = 'accepted' DO NOTHING`

const insertRecordSQL = `INSERT INTO redemptions (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6)`

// Postgres is a ledger on the redemptions table. Uniqueness of accepted records
// is enforced by a partial unique index, so concurrent inserts race in the database.
type Postgres struct {
	pool  db.Pool
	clock clock.Clock
}

// NewPostgres returns a ledger backed by pool. Overrides are audited in the
// audit_entries table of the same database.
func NewPostgres(pool db.Pool, c clock.Clock) *Postgres {
	if c == nil {
		c = clock.Real()
	}
	return &Postgres{pool: pool, clock: c}
}

func (l *Postgres) TryInsertAccepted(ctx context.Context, sessionID, redeemerID string, at time.Time) (*domain.Record, bool, error) {
	for attempt := 1; ; attempt++ {
		rec := &domain.Record{
			ID:         uuid.NewString(),
			SessionID:  sessionID,
			RedeemerID: redeemerID,
			RedeemedAt: at.UTC(),
			Outcome:    domain.OutcomeAccepted,
		}
		tag, err := l.pool.Exec(ctx, insertAcceptedSQL, rec.ID, rec.SessionID, rec.RedeemerID, rec.RedeemedAt)
		if err != nil {
			return nil, false, fmt.Errorf("ledger: insert accepted: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return rec, true, nil
		}
		existing, err := scanRecord(l.pool.QueryRow(ctx,
			`SELECT `+recordColumns+` FROM redemptions
			 WHERE session_id = $1 AND redeemer_id = $2 AND outcome = 'accepted'`, sessionID, redeemerID))
		if err != nil {
			return nil, false, fmt.Errorf("ledger: load accepted: %w", err)
		}
		// existing is nil when an override deleted the holder after the conflict
		if existing != nil || attempt == insertAttempts {
			return existing, false, nil
		}
	}
}

func (l *Postgres) RecordRejected(ctx context.Context, sessionID, redeemerID string, reason domain.Reason, at time.Time) (*domain.Record, error) {
	rec := &domain.Record{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		RedeemerID: redeemerID,
		RedeemedAt: at.UTC(),
		Outcome:    domain.OutcomeRejected,
		Reason:     reason,
	}
	if err := insertRecord(ctx, l.pool, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns the record for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (l *Postgres) Get(ctx context.Context, id string) (*domain.Record, error) {
	rec, err := scanRecord(l.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM redemptions WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("ledger: get: %w", err)
	}
	return rec, nil
}

func (l *Postgres) ListBySession(ctx context.Context, sessionID string) ([]*domain.Record, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM redemptions WHERE session_id = $1 ORDER BY redeemed_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()
	var out []*domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: list: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	return out, nil
}

// AdminOverride runs the record change and the audit insert in one transaction.
func (l *Postgres) AdminOverride(ctx context.Context, o domain.Override) (rec *domain.Record, err error) {
	o = o.Normalize()
	if err := o.Validate(); err != nil {
		return nil, err
	}
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var current *domain.Record
	if o.Action != auditdomain.ActionCreate {
		current, err = scanRecord(tx.QueryRow(ctx,
			`SELECT `+recordColumns+` FROM redemptions WHERE id = $1 FOR UPDATE`, o.RedemptionID))
		if err != nil {
			return nil, fmt.Errorf("ledger: lock record: %w", err)
		}
		if current == nil {
			return nil, domain.ErrRedemptionNotFound
		}
	}
	after, entry, err := domain.Plan(o, current, l.clock.Now())
	if err != nil {
		return nil, err
	}

	switch {
	case after == nil:
		_, err = tx.Exec(ctx, `DELETE FROM redemptions WHERE id = $1`, current.ID)
	case current == nil:
		err = insertRecord(ctx, tx, after)
	default:
		_, err = tx.Exec(ctx,
			`UPDATE redemptions SET outcome = $2, reason = $3, redeemed_at = $4 WHERE id = $1`,
			after.ID, string(after.Outcome), string(after.Reason), after.RedeemedAt)
	}
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, domain.ErrDuplicateAccepted
		}
		return nil, fmt.Errorf("ledger: apply override: %w", err)
	}
	if err = auditrepo.Insert(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ledger: commit: %w", err)
	}
	if after == nil {
		return current, nil
	}
	return after, nil
}

func insertRecord(ctx context.Context, q db.DBTX, rec *domain.Record) error {
	_, err := q.Exec(ctx, insertRecordSQL,
		rec.ID, rec.SessionID, rec.RedeemerID, rec.RedeemedAt, string(rec.Outcome), string(rec.Reason))
	if err != nil && !db.IsUniqueViolation(err) {
		return fmt.Errorf("ledger: insert: %w", err)
	}
	return err
}

// scanRecord reads one record. A missing row yields nil, nil.
func scanRecord(row pgx.Row) (*domain.Record, error) {
	var (
		rec             domain.Record
		outcome, reason string
	)
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.RedeemerID, &rec.RedeemedAt, &outcome, &reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.RedeemedAt = rec.RedeemedAt.UTC()
	rec.Outcome = domain.Outcome(outcome)
	rec.Reason = domain.Reason(reason)
	return &rec, nil
}
