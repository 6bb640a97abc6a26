package domain

import "time"

// Session is a bounded time window during which presence may be recorded.
type Session struct {
	ID          string
	OwnerID     string
	CreatedAt   time.Time
	WindowStart time.Time
	WindowEnd   time.Time
	Active      bool
	ClosedAt    *time.Time // nil while active
}

// InWindow reports whether t lies in [WindowStart, WindowEnd].
func (s *Session) InWindow(t time.Time) bool {
	return !t.Before(s.WindowStart) && !t.After(s.WindowEnd)
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	c := *s
	if s.ClosedAt != nil {
		at := *s.ClosedAt
		c.ClosedAt = &at
	}
	return &c
}
