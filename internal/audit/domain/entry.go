package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action is the kind of administrative correction an audit entry records.
type Action string

const (
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionEdit, ActionDelete:
		return true
	}
	return false
}

// Validation errors for audit entries.
var (
	ErrReasonRequired   = errors.New("audit: reason is required")
	ErrActorRequired    = errors.New("audit: actor is required")
	ErrTargetRequired   = errors.New("audit: target id is required")
	ErrInvalidAction    = errors.New("audit: invalid action")
	ErrInvalidSnapshots = errors.New("audit: before/after state does not match action")
)

// Snapshot is the state of one redemption record at a point in time.
type Snapshot struct {
	SessionID  string    `json:"session_id"`
	RedeemerID string    `json:"redeemer_id"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

// Entry is one immutable record of an administrative correction.
// Before is nil for create; After is nil for delete.
type Entry struct {
	ID        string
	ActorID   string
	Action    Action
	TargetID  string
	Before    *Snapshot
	After     *Snapshot
	Reason    string
	CreatedAt time.Time
}

// NewEntry builds an entry with a fresh id. The result still has to pass Validate.
func NewEntry(actorID string, action Action, targetID string, before, after *Snapshot, reason string, at time.Time) *Entry {
	return &Entry{
		ID:        uuid.NewString(),
		ActorID:   strings.TrimSpace(actorID),
		Action:    action,
		TargetID:  targetID,
		Before:    before,
		After:     after,
		Reason:    strings.TrimSpace(reason),
		CreatedAt: at.UTC(),
	}
}

// Validate checks the invariants every stored entry satisfies.
func (e *Entry) Validate() error {
	if strings.TrimSpace(e.Reason) == "" {
		return ErrReasonRequired
	}
	if strings.TrimSpace(e.ActorID) == "" {
		return ErrActorRequired
	}
	if e.TargetID == "" {
		return ErrTargetRequired
	}
	switch e.Action {
	case ActionCreate:
		if e.Before != nil || e.After == nil {
			return ErrInvalidSnapshots
		}
	case ActionEdit:
		if e.Before == nil || e.After == nil {
			return ErrInvalidSnapshots
		}
	case ActionDelete:
		if e.Before == nil || e.After != nil {
			return ErrInvalidSnapshots
		}
	default:
		return ErrInvalidAction
	}
	return nil
}

// Filter selects entries for read-only retrieval. Zero values are unbounded.
// From is inclusive and To is exclusive.
type Filter struct {
	TargetID string
	From     time.Time
	To       time.Time
	Limit    int
}

// Matches reports whether e passes the filter (Limit is applied by the caller).
func (f Filter) Matches(e *Entry) bool {
	if f.TargetID != "" && e.TargetID != f.TargetID {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	return true
}
