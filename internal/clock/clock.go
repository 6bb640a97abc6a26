// Package clock provides the injectable time source used by issuance, redemption and the
// session registry, plus the skew-tolerant expiry check shared by token verification.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time. Production code uses Real; tests use Fake.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// Real returns a Clock backed by time.Now. The returned time keeps its monotonic reading,
// so durations measured between two calls are unaffected by wall-clock steps.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

// FakeClock is a Clock that only moves when Set or Advance is called. Safe for concurrent use.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// Fake returns a FakeClock frozen at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{now: initial}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Source pairs a Clock with the tolerated skew between the issuing and verifying clocks.
type Source struct {
	Clock Clock
	// SkewTolerance is added to a deadline before it is considered passed. Negative values are treated as zero.
	SkewTolerance time.Duration
}

// NewSource returns a Source. A nil clock falls back to Real.
func NewSource(c Clock, skew time.Duration) Source {
	if c == nil {
		c = Real()
	}
	if skew < 0 {
		skew = 0
	}
	return Source{Clock: c, SkewTolerance: skew}
}

// Now returns the current time from the underlying clock.
func (s Source) Now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

// Expired reports whether now is past deadline plus the skew tolerance.
// A token is still valid at exactly deadline + tolerance.
func (s Source) Expired(deadline, now time.Time) bool {
	tol := s.SkewTolerance
	if tol < 0 {
		tol = 0
	}
	return now.After(deadline.Add(tol))
}
