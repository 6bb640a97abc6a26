package repository

import (
	"context"
	"errors"

	"qr-attendance/backend/internal/audit/domain"
)

// ErrDuplicateEntry is returned when an entry id has already been appended.
var ErrDuplicateEntry = errors.New("audit: duplicate entry id")

// Log is an append-only store of audit entries. There is no update or delete.
type Log interface {
	// Append validates e and stores it. Invalid entries are rejected with a domain error.
	Append(ctx context.Context, e *domain.Entry) error
	// List returns entries matching f, oldest first.
	List(ctx context.Context, f domain.Filter) ([]*domain.Entry, error)
}

func cloneEntry(e *domain.Entry) *domain.Entry {
	c := *e
	if e.Before != nil {
		b := *e.Before
		c.Before = &b
	}
	if e.After != nil {
		a := *e.After
		c.After = &a
	}
	return &c
}
