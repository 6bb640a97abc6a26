package repository

import (
	"context"
	"sync"
	"time"

	"qr-attendance/backend/internal/session/domain"
)

// MemoryRepository keeps sessions in a map guarded by a RWMutex. Reads, which
// dominate the redemption path, share the lock.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewMemoryRepository returns an empty in-memory session repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*domain.Session)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return ErrDuplicate
	}
	r.sessions[s.ID] = s.Clone()
	return nil
}

func (r *MemoryRepository) Close(ctx context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false, ErrNotFound
	}
	if !s.Active {
		return false, nil
	}
	closeSession(s, at)
	return true, nil
}

func (r *MemoryRepository) CloseExpired(ctx context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, s := range r.sessions {
		if s.Active && s.WindowEnd.Before(now) {
			closeSession(s, now)
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func closeSession(s *domain.Session, at time.Time) {
	at = at.UTC()
	s.Active = false
	s.ClosedAt = &at
}
