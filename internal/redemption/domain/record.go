package domain

import (
	"time"

	auditdomain "qr-attendance/backend/internal/audit/domain"
)

// Outcome is whether a redemption attempt was accepted.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeAccepted || o == OutcomeRejected
}

// Reason is the rejection code of a redemption attempt. It is empty for accepted attempts.
type Reason string

// Rejection reasons, in the order Redeem checks them.
const (
	ReasonNone            Reason = ""
	ReasonMalformed       Reason = "malformed"
	ReasonExpired         Reason = "expired"
	ReasonUnknownSession  Reason = "unknown_session"
	ReasonSessionClosed   Reason = "session_closed"
	ReasonOutsideWindow   Reason = "outside_window"
	ReasonAlreadyRedeemed Reason = "already_redeemed"
)

// Valid reports whether r is a known rejection code. ReasonNone is not one.
func (r Reason) Valid() bool {
	switch r {
	case ReasonMalformed, ReasonExpired, ReasonUnknownSession,
		ReasonSessionClosed, ReasonOutsideWindow, ReasonAlreadyRedeemed:
		return true
	}
	return false
}

// Retryable reports whether a client may fetch a fresh token and try again.
func (r Reason) Retryable() bool {
	return r == ReasonExpired || r == ReasonOutsideWindow
}

// Record is one redemption attempt. At most one accepted record exists per
// (SessionID, RedeemerID).
type Record struct {
	ID         string
	SessionID  string
	RedeemerID string
	RedeemedAt time.Time
	Outcome    Outcome
	Reason     Reason
}

// Clone returns a copy of r.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}

// Snapshot returns r as audit state.
func (r *Record) Snapshot() *auditdomain.Snapshot {
	if r == nil {
		return nil
	}
	return &auditdomain.Snapshot{
		SessionID:  r.SessionID,
		RedeemerID: r.RedeemerID,
		Outcome:    string(r.Outcome),
		Reason:     string(r.Reason),
		RedeemedAt: r.RedeemedAt,
	}
}

// Result is what Redeem reports to the transport layer.
type Result struct {
	Outcome Outcome
	Reason  Reason
	// Record is the accepted record, or the diagnostic record for a rejection when
	// rejections are recorded. It may be nil for rejections.
	Record *Record
}

// Accepted reports whether the attempt was accepted.
func (r Result) Accepted() bool { return r.Outcome == OutcomeAccepted }

// Rejected builds a rejection result.
func Rejected(reason Reason) Result {
	return Result{Outcome: OutcomeRejected, Reason: reason}
}
