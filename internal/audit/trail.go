// Package audit exposes the read-only side of the administrative audit trail.
// Entries are written by the redemption ledger in the same operation as the
// correction they describe; this package only retrieves them.
package audit

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"qr-attendance/backend/internal/audit/domain"
	auditrepo "qr-attendance/backend/internal/audit/repository"
)

// ErrInvalidRange is returned when To is not after From.
var ErrInvalidRange = errors.New("audit: range end must be after start")

// Trail reads audit entries for administrators.
type Trail struct {
	log    auditrepo.Log
	logger *zap.Logger
}

// NewTrail returns a Trail over log. logger may be nil.
func NewTrail(log auditrepo.Log, logger *zap.Logger) *Trail {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trail{log: log, logger: logger}
}

// ForRecord returns every correction applied to one redemption record, oldest first.
func (t *Trail) ForRecord(ctx context.Context, redemptionID string) ([]*domain.Entry, error) {
	if redemptionID == "" {
		return nil, domain.ErrTargetRequired
	}
	entries, err := t.log.List(ctx, domain.Filter{TargetID: redemptionID})
	if err != nil {
		t.logger.Error("audit trail lookup failed", zap.String("redemption_id", redemptionID), zap.Error(err))
		return nil, err
	}
	return entries, nil
}

// Between returns entries created in [from, to), at most limit of them (0 means all).
func (t *Trail) Between(ctx context.Context, from, to time.Time, limit int) ([]*domain.Entry, error) {
	if !to.After(from) {
		return nil, ErrInvalidRange
	}
	entries, err := t.log.List(ctx, domain.Filter{From: from, To: to, Limit: limit})
	if err != nil {
		t.logger.Error("audit trail range query failed",
			zap.Time("from", from), zap.Time("to", to), zap.Error(err))
		return nil, err
	}
	return entries, nil
}
