package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	auditdomain "qr-attendance/backend/internal/audit/domain"
)

// Override errors. Validation errors are returned before any store is touched.
var (
	ErrReasonRequired       = errors.New("redemption: override reason is required")
	ErrActorRequired        = errors.New("redemption: override actor is required")
	ErrInvalidAction        = errors.New("redemption: invalid override action")
	ErrRedemptionIDRequired = errors.New("redemption: redemption id is required")
	ErrNewStateRequired     = errors.New("redemption: new state is required")
	ErrInvalidState         = errors.New("redemption: invalid new state")
	ErrRedemptionNotFound   = errors.New("redemption: record not found")
	ErrDuplicateAccepted    = errors.New("redemption: an accepted record already exists for this session and redeemer")
)

// State is the target state of a create or edit override. SessionID and
// RedeemerID are only read by create; edit never moves a record to another key.
// A zero RedeemedAt means "now" for create and "unchanged" for edit.
type State struct {
	SessionID  string
	RedeemerID string
	Outcome    Outcome
	Reason     Reason
	RedeemedAt time.Time
}

// Override is an administrative correction of the ledger.
type Override struct {
	Action       auditdomain.Action
	RedemptionID string // edit and delete
	NewState     *State // create and edit
	ActorID      string
	Reason       string
}

// Normalize returns o with surrounding whitespace trimmed from its ids, the
// same normalization a presented redeemer id gets at redemption time.
func (o Override) Normalize() Override {
	o.RedemptionID = strings.TrimSpace(o.RedemptionID)
	o.ActorID = strings.TrimSpace(o.ActorID)
	if o.NewState != nil {
		st := *o.NewState
		st.SessionID = strings.TrimSpace(st.SessionID)
		st.RedeemerID = strings.TrimSpace(st.RedeemerID)
		o.NewState = &st
	}
	return o
}

// Validate checks the normalized form of o without looking at stored state.
func (o Override) Validate() error {
	o = o.Normalize()
	if strings.TrimSpace(o.Reason) == "" {
		return ErrReasonRequired
	}
	if o.ActorID == "" {
		return ErrActorRequired
	}
	switch o.Action {
	case auditdomain.ActionCreate:
		if o.NewState == nil {
			return ErrNewStateRequired
		}
		if o.NewState.SessionID == "" || o.NewState.RedeemerID == "" {
			return ErrInvalidState
		}
		return o.NewState.validateOutcome()
	case auditdomain.ActionEdit:
		if o.RedemptionID == "" {
			return ErrRedemptionIDRequired
		}
		if o.NewState == nil {
			return ErrNewStateRequired
		}
		return o.NewState.validateOutcome()
	case auditdomain.ActionDelete:
		if o.RedemptionID == "" {
			return ErrRedemptionIDRequired
		}
		return nil
	}
	return ErrInvalidAction
}

func (s *State) validateOutcome() error {
	switch s.Outcome {
	case OutcomeAccepted:
		if s.Reason != ReasonNone {
			return ErrInvalidState
		}
	case OutcomeRejected:
		if !s.Reason.Valid() {
			return ErrInvalidState
		}
	default:
		return ErrInvalidState
	}
	return nil
}

// Plan computes the effect of normalized o on current, which is nil for create and the
// stored record otherwise. It returns the record after the change (nil for
// delete) and the audit entry describing it. Backends apply both or neither.
func Plan(o Override, current *Record, now time.Time) (*Record, *auditdomain.Entry, error) {
	o = o.Normalize()
	if err := o.Validate(); err != nil {
		return nil, nil, err
	}
	now = now.UTC()

	var after *Record
	switch o.Action {
	case auditdomain.ActionCreate:
		at := o.NewState.RedeemedAt
		if at.IsZero() {
			at = now
		}
		after = &Record{
			ID:         uuid.NewString(),
			SessionID:  o.NewState.SessionID,
			RedeemerID: o.NewState.RedeemerID,
			RedeemedAt: at.UTC(),
			Outcome:    o.NewState.Outcome,
			Reason:     o.NewState.Reason,
		}
	case auditdomain.ActionEdit:
		if current == nil {
			return nil, nil, ErrRedemptionNotFound
		}
		after = current.Clone()
		after.Outcome = o.NewState.Outcome
		after.Reason = o.NewState.Reason
		if !o.NewState.RedeemedAt.IsZero() {
			after.RedeemedAt = o.NewState.RedeemedAt.UTC()
		}
	case auditdomain.ActionDelete:
		if current == nil {
			return nil, nil, ErrRedemptionNotFound
		}
	}

	target := o.RedemptionID
	if after != nil && o.Action == auditdomain.ActionCreate {
		target = after.ID
	}
	entry := auditdomain.NewEntry(o.ActorID, o.Action, target, current.Snapshot(), after.Snapshot(), o.Reason, now)
	if err := entry.Validate(); err != nil {
		return nil, nil, err
	}
	return after, entry, nil
}

// NeedsAcceptedSlot reports whether applying after over before claims the
// accepted slot of its (session, redeemer) key.
func NeedsAcceptedSlot(before, after *Record) bool {
	if after == nil || after.Outcome != OutcomeAccepted {
		return false
	}
	return before == nil || before.Outcome != OutcomeAccepted
}

// ReleasesAcceptedSlot reports whether applying after over before frees the
// accepted slot of its key.
func ReleasesAcceptedSlot(before, after *Record) bool {
	if before == nil || before.Outcome != OutcomeAccepted {
		return false
	}
	return after == nil || after.Outcome != OutcomeAccepted
}
