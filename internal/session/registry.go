// Package session owns the lifecycle of attendance sessions: creation with a
// fixed window, liveness checks, and the one-way close transition.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qr-attendance/backend/internal/clock"
	"qr-attendance/backend/internal/session/domain"
	"qr-attendance/backend/internal/session/repository"
	"qr-attendance/backend/internal/token"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionClosed    = errors.New("session closed")
	ErrInvalidWindow    = errors.New("session window end must be after start")
	ErrWindowOutOfRange = errors.New("session window outside the representable token time range")
	ErrOwnerRequired    = errors.New("session owner is required")
)

// Registry tracks sessions. It is safe for concurrent use when its repository is.
type Registry struct {
	repo   repository.Repository
	clock  clock.Clock
	logger *zap.Logger
}

// NewRegistry returns a Registry over repo. A nil clock uses the wall clock and a nil logger discards.
func NewRegistry(repo repository.Repository, c clock.Clock, logger *zap.Logger) *Registry {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{repo: repo, clock: c, logger: logger}
}

// Create opens a new active session for ownerID covering [windowStart, windowEnd].
func (r *Registry) Create(ctx context.Context, ownerID string, windowStart, windowEnd time.Time) (*domain.Session, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, ErrOwnerRequired
	}
	if !windowEnd.After(windowStart) {
		return nil, ErrInvalidWindow
	}
	if !token.InRange(windowStart) || !token.InRange(windowEnd) {
		return nil, ErrWindowOutOfRange
	}
	s := &domain.Session{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		CreatedAt:   r.clock.Now().UTC(),
		WindowStart: windowStart.UTC(),
		WindowEnd:   windowEnd.UTC(),
		Active:      true,
	}
	if err := r.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	r.logger.Info("session created",
		zap.String("session_id", s.ID),
		zap.String("owner_id", s.OwnerID),
		zap.Time("window_start", s.WindowStart),
		zap.Time("window_end", s.WindowEnd))
	return s, nil
}

// Get returns the session or ErrSessionNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*domain.Session, error) {
	s, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// IsActive reports whether the session exists and has not been closed.
// An unknown id is reported as inactive, not as an error.
func (r *Registry) IsActive(ctx context.Context, id string) (bool, error) {
	s, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("get session: %w", err)
	}
	return s != nil && s.Active, nil
}

// Close deactivates the session. Closing an already closed session is a no-op,
// so an explicit close may race the expiry sweep safely.
func (r *Registry) Close(ctx context.Context, id string) error {
	closed, err := r.repo.Close(ctx, id, r.clock.Now())
	if errors.Is(err, repository.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if closed {
		r.logger.Info("session closed", zap.String("session_id", id))
	}
	return nil
}

// CloseExpired closes every active session whose window ended before now and
// returns how many were closed.
func (r *Registry) CloseExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := r.repo.CloseExpired(ctx, now)
	if err != nil {
		return len(ids), fmt.Errorf("close expired sessions: %w", err)
	}
	for _, id := range ids {
		r.logger.Debug("session expired", zap.String("session_id", id))
	}
	return len(ids), nil
}
