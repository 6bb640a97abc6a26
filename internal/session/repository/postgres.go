package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"qr-attendance/backend/internal/db"
	"qr-attendance/backend/internal/session/domain"
)

type PostgresRepository struct {
	pool db.Pool
}

// NewPostgresRepository returns a session repository that uses the given pool for persistence.
func NewPostgresRepository(pool db.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	err := r.pool.QueryRow(ctx,
		`SELECT id, owner_id, created_at, window_start, window_end, active, closed_at
		 FROM sessions WHERE id = $1`, id).
		Scan(&s.ID, &s.OwnerID, &s.CreatedAt, &s.WindowStart, &s.WindowEnd, &s.Active, &s.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	normalize(&s)
	return &s, nil
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (id, owner_id, created_at, window_start, window_end, active, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.OwnerID, s.CreatedAt, s.WindowStart, s.WindowEnd, s.Active, s.ClosedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *PostgresRepository) Close(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET active = FALSE, closed_at = $2 WHERE id = $1 AND active`, id, at.UTC())
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *PostgresRepository) CloseExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE sessions SET active = FALSE, closed_at = $1
		 WHERE active AND window_end < $1
		 RETURNING id`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func normalize(s *domain.Session) {
	s.CreatedAt = s.CreatedAt.UTC()
	s.WindowStart = s.WindowStart.UTC()
	s.WindowEnd = s.WindowEnd.UTC()
	if s.ClosedAt != nil {
		at := s.ClosedAt.UTC()
		s.ClosedAt = &at
	}
}
