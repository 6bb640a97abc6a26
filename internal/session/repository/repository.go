package repository

import (
	"context"
	"errors"
	"time"

	"qr-attendance/backend/internal/session/domain"
)

// Repository errors.
var (
	ErrNotFound  = errors.New("session: not found")
	ErrDuplicate = errors.New("session: duplicate id")
)

// Repository defines persistence for sessions.
type Repository interface {
	// GetByID returns the session for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	// Close marks the session inactive. It reports whether this call made the change;
	// closing an already closed session returns false and no error.
	Close(ctx context.Context, id string, at time.Time) (bool, error)
	// CloseExpired closes every active session whose window ended before now
	// and returns their ids.
	CloseExpired(ctx context.Context, now time.Time) ([]string, error)
}
