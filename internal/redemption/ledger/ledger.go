// Package ledger stores redemption records and enforces at most one accepted
// record per (session, redeemer).
//
// Every backend implements TryInsertAccepted as a single atomic check-and-insert
// on that key, and AdminOverride so that the record change and its audit entry
// are committed together or not at all.
package ledger

import (
	"context"
	"time"

	"qr-attendance/backend/internal/redemption/domain"
)

// insertAttempts bounds TryInsertAccepted retries after the conflicting
// accepted record disappeared before it could be loaded.
const insertAttempts = 3

// Ledger is the redemption store.
type Ledger interface {
	// TryInsertAccepted inserts an accepted record for (sessionID, redeemerID)
	// unless one exists. When it does not insert, it returns the existing
	// accepted record. If that record is deleted between the conflict and the
	// reload, the insert is retried up to insertAttempts times; only after the
	// last attempt can the existing record be nil.
	TryInsertAccepted(ctx context.Context, sessionID, redeemerID string, at time.Time) (*domain.Record, bool, error)
	// RecordRejected stores a diagnostic record. It never affects TryInsertAccepted.
	RecordRejected(ctx context.Context, sessionID, redeemerID string, reason domain.Reason, at time.Time) (*domain.Record, error)
	// Get returns the record for id, or nil if not found.
	Get(ctx context.Context, id string) (*domain.Record, error)
	// ListBySession returns the session's records ordered by redemption time.
	ListBySession(ctx context.Context, sessionID string) ([]*domain.Record, error)
	// AdminOverride applies an administrative correction and appends its audit
	// entry. It returns the record after the change, or the removed record for delete.
	AdminOverride(ctx context.Context, o domain.Override) (*domain.Record, error)
}
