package repository

import (
	"context"
	"sort"
	"sync"

	"qr-attendance/backend/internal/audit/domain"
)

// MemoryLog keeps audit entries in process memory.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []*domain.Entry
	ids     map[string]struct{}
}

// NewMemoryLog returns an empty in-memory audit log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{ids: make(map[string]struct{})}
}

func (l *MemoryLog) Append(ctx context.Context, e *domain.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.ids[e.ID]; dup {
		return ErrDuplicateEntry
	}
	l.ids[e.ID] = struct{}{}
	l.entries = append(l.entries, cloneEntry(e))
	return nil
}

func (l *MemoryLog) List(ctx context.Context, f domain.Filter) ([]*domain.Entry, error) {
	l.mu.RLock()
	out := make([]*domain.Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if f.Matches(e) {
			out = append(out, cloneEntry(e))
		}
	}
	l.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Len returns the number of stored entries.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
