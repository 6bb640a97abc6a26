// Package redemption validates presented tokens and commits attendance.
package redemption

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"qr-attendance/backend/internal/clock"
	"qr-attendance/backend/internal/redemption/domain"
	"qr-attendance/backend/internal/redemption/ledger"
	"qr-attendance/backend/internal/security"
	"qr-attendance/backend/internal/session"
	sessiondomain "qr-attendance/backend/internal/session/domain"
	"qr-attendance/backend/internal/telemetry"
	"qr-attendance/backend/internal/token"
)

// ErrInfrastructure wraps store failures. A redemption that fails with it has
// not been decided; it is never reported as already redeemed.
var ErrInfrastructure = errors.New("redemption: infrastructure failure")

// SessionLookup is the part of the session registry Redeem needs.
type SessionLookup interface {
	Get(ctx context.Context, id string) (*sessiondomain.Session, error)
}

// Option configures a Service.
type Option func(*Service)

// WithRecordRejections stores a diagnostic record for rejections whose token verified.
func WithRecordRejections(on bool) Option {
	return func(s *Service) { s.recordRejections = on }
}

// WithLogger sets the logger. Tokens are logged only as fingerprints.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithInstruments sets the tracer and counters.
func WithInstruments(in *telemetry.Instruments) Option {
	return func(s *Service) {
		if in != nil {
			s.inst = in
		}
	}
}

// WithEvents emits a telemetry event per decided redemption and override.
func WithEvents(e telemetry.EventEmitter) Option {
	return func(s *Service) { s.events = e }
}

// Service decides redemptions. It holds no mutable state of its own; the
// ledger provides per-key atomicity, so Redeem may be called concurrently.
type Service struct {
	codec            *token.Codec
	sessions         SessionLookup
	ledger           ledger.Ledger
	clock            clock.Source
	recordRejections bool
	logger           *zap.Logger
	inst             *telemetry.Instruments
	events           telemetry.EventEmitter
}

// NewService wires a redemption service.
func NewService(codec *token.Codec, sessions SessionLookup, l ledger.Ledger, src clock.Source, opts ...Option) *Service {
	s := &Service{
		codec:    codec,
		sessions: sessions,
		ledger:   l,
		clock:    src,
		logger:   zap.NewNop(),
		inst:     telemetry.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Redeem validates tok for redeemerID at the current time.
func (s *Service) Redeem(ctx context.Context, tok, redeemerID string) (domain.Result, error) {
	return s.RedeemAt(ctx, tok, redeemerID, s.clock.Now())
}

// RedeemAt validates tok for redeemerID at now. Checks run in order: token
// integrity, expiry (with skew tolerance), session existence and liveness,
// session window, then the ledger's atomic check-and-insert. The first
// failing check decides the rejection reason.
func (s *Service) RedeemAt(ctx context.Context, tok, redeemerID string, now time.Time) (domain.Result, error) {
	ctx, span := s.inst.Tracer.Start(ctx, "redemption.Redeem")
	defer span.End()

	redeemerID = strings.TrimSpace(redeemerID)
	res, sessionID, err := s.decide(ctx, tok, redeemerID, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "redemption undecided")
		s.logger.Error("redemption failed",
			zap.String("session_id", sessionID),
			zap.String("redeemer_id", redeemerID),
			zap.Error(err))
		return domain.Result{}, err
	}

	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("outcome", string(res.Outcome)),
		attribute.String("reason", string(res.Reason)))
	s.inst.Redemption(ctx, string(res.Outcome), string(res.Reason))
	telemetry.EmitAsync(s.events, s.logger, telemetry.Event{
		Type:       telemetry.EventRedemption,
		SessionID:  sessionID,
		RedeemerID: redeemerID,
		Outcome:    string(res.Outcome),
		Reason:     string(res.Reason),
		At:         now.UTC(),
	})
	if res.Accepted() {
		s.logger.Info("redemption accepted",
			zap.String("session_id", sessionID),
			zap.String("redeemer_id", redeemerID))
	} else {
		s.logger.Debug("redemption rejected",
			zap.String("session_id", sessionID),
			zap.String("redeemer_id", redeemerID),
			zap.String("reason", string(res.Reason)),
			zap.String("token_fp", security.TokenFingerprint(tok)))
	}
	return res, nil
}

func (s *Service) decide(ctx context.Context, tok, redeemerID string, now time.Time) (domain.Result, string, error) {
	claims, ok := s.codec.Decode(tok)
	if !ok || redeemerID == "" {
		return domain.Rejected(domain.ReasonMalformed), "", nil
	}
	sid := claims.SessionID
	if s.clock.Expired(claims.ExpiresAt, now) {
		return s.reject(ctx, sid, redeemerID, domain.ReasonExpired, now), sid, nil
	}

	sess, err := s.sessions.Get(ctx, sid)
	if errors.Is(err, session.ErrSessionNotFound) {
		return s.reject(ctx, sid, redeemerID, domain.ReasonUnknownSession, now), sid, nil
	}
	if err != nil {
		return domain.Result{}, sid, fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}
	if !sess.Active {
		return s.reject(ctx, sid, redeemerID, domain.ReasonSessionClosed, now), sid, nil
	}
	// The window is an institutional boundary; skew tolerance does not widen it.
	if !sess.InWindow(now) {
		return s.reject(ctx, sid, redeemerID, domain.ReasonOutsideWindow, now), sid, nil
	}

	rec, inserted, err := s.ledger.TryInsertAccepted(ctx, sid, redeemerID, now.UTC())
	if err != nil {
		return domain.Result{}, sid, fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}
	if !inserted {
		return s.reject(ctx, sid, redeemerID, domain.ReasonAlreadyRedeemed, now), sid, nil
	}
	return domain.Result{Outcome: domain.OutcomeAccepted, Record: rec}, sid, nil
}

// reject builds the rejection and, if enabled, stores its diagnostic record.
// A failed diagnostic write does not change the decision.
func (s *Service) reject(ctx context.Context, sessionID, redeemerID string, reason domain.Reason, now time.Time) domain.Result {
	res := domain.Rejected(reason)
	if !s.recordRejections {
		return res
	}
	rec, err := s.ledger.RecordRejected(ctx, sessionID, redeemerID, reason, now.UTC())
	if err != nil {
		s.logger.Warn("recording rejection failed",
			zap.String("session_id", sessionID),
			zap.String("redeemer_id", redeemerID),
			zap.String("reason", string(reason)),
			zap.Error(err))
		return res
	}
	res.Record = rec
	return res
}

// overrideRejections are the override errors caused by the request rather than the store.
var overrideRejections = []error{
	domain.ErrReasonRequired,
	domain.ErrActorRequired,
	domain.ErrInvalidAction,
	domain.ErrRedemptionIDRequired,
	domain.ErrNewStateRequired,
	domain.ErrInvalidState,
	domain.ErrRedemptionNotFound,
	domain.ErrDuplicateAccepted,
}

// Override applies an administrative correction. The record change and its
// audit entry are committed together by the ledger. Request errors are returned
// as-is; store failures are wrapped with ErrInfrastructure.
func (s *Service) Override(ctx context.Context, o domain.Override) (*domain.Record, error) {
	ctx, span := s.inst.Tracer.Start(ctx, "redemption.Override")
	defer span.End()
	span.SetAttributes(
		attribute.String("action", string(o.Action)),
		attribute.String("actor_id", o.ActorID))

	rec, err := s.ledger.AdminOverride(ctx, o)
	s.inst.Override(ctx, string(o.Action), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "override failed")
		for _, known := range overrideRejections {
			if errors.Is(err, known) {
				s.logger.Warn("override rejected",
					zap.String("action", string(o.Action)),
					zap.String("actor_id", o.ActorID),
					zap.String("redemption_id", o.RedemptionID),
					zap.Error(err))
				return nil, err
			}
		}
		s.logger.Error("override failed",
			zap.String("action", string(o.Action)),
			zap.String("actor_id", o.ActorID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}

	s.logger.Info("override applied",
		zap.String("action", string(o.Action)),
		zap.String("actor_id", o.ActorID),
		zap.String("redemption_id", rec.ID),
		zap.String("session_id", rec.SessionID),
		zap.String("redeemer_id", rec.RedeemerID))
	telemetry.EmitAsync(s.events, s.logger, telemetry.Event{
		Type:       telemetry.EventOverride,
		SessionID:  rec.SessionID,
		RedeemerID: rec.RedeemerID,
		ActorID:    o.ActorID,
		Outcome:    string(rec.Outcome),
		Reason:     string(o.Action),
		At:         s.clock.Now().UTC(),
	})
	return rec, nil
}

// Attendance returns a session's redemption records ordered by time.
func (s *Service) Attendance(ctx context.Context, sessionID string) ([]*domain.Record, error) {
	recs, err := s.ledger.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}
	return recs, nil
}
