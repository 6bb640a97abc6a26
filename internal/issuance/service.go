// Package issuance mints the rotating tokens displayed for a live session.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"qr-attendance/backend/internal/clock"
	"qr-attendance/backend/internal/session"
	sessiondomain "qr-attendance/backend/internal/session/domain"
	"qr-attendance/backend/internal/telemetry"
	"qr-attendance/backend/internal/token"
)

// DefaultRotationInterval is used when NewService gets a non-positive interval.
const DefaultRotationInterval = 30 * time.Second

// ErrOutsideWindow is returned by Issue when now is outside the session window.
var ErrOutsideWindow = errors.New("issuance: outside session window")

// SessionLookup is the part of the session registry issuance needs.
type SessionLookup interface {
	Get(ctx context.Context, id string) (*sessiondomain.Session, error)
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithInstruments(in *telemetry.Instruments) Option {
	return func(s *Service) {
		if in != nil {
			s.inst = in
		}
	}
}

func WithEvents(e telemetry.EventEmitter) Option {
	return func(s *Service) { s.events = e }
}

// Service issues tokens. It writes nothing, so any number of instances may
// issue for the same session.
type Service struct {
	codec    *token.Codec
	sessions SessionLookup
	clock    clock.Clock
	rotation time.Duration
	logger   *zap.Logger
	inst     *telemetry.Instruments
	events   telemetry.EventEmitter
}

// NewService returns an issuance service. A nil clock uses the wall clock.
func NewService(codec *token.Codec, sessions SessionLookup, c clock.Clock, rotation time.Duration, opts ...Option) *Service {
	if c == nil {
		c = clock.Real()
	}
	if rotation <= 0 {
		rotation = DefaultRotationInterval
	}
	s := &Service{
		codec:    codec,
		sessions: sessions,
		clock:    c,
		rotation: rotation,
		logger:   zap.NewNop(),
		inst:     telemetry.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RotationInterval is the lifetime of a freshly issued token.
func (s *Service) RotationInterval() time.Duration { return s.rotation }

// Issue mints a token for sessionID valid until the earlier of now plus the
// rotation interval and the session window end.
func (s *Service) Issue(ctx context.Context, sessionID string) (string, time.Time, error) {
	return s.IssueAt(ctx, sessionID, s.clock.Now())
}

// IssueAt is Issue at an explicit time.
func (s *Service) IssueAt(ctx context.Context, sessionID string, now time.Time) (string, time.Time, error) {
	ctx, span := s.inst.Tracer.Start(ctx, "issuance.Issue")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	tok, expiresAt, err := s.issue(ctx, sessionID, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "issue failed")
		s.logger.Debug("token not issued", zap.String("session_id", sessionID), zap.Error(err))
		return "", time.Time{}, err
	}
	s.inst.TokenIssued(ctx)
	telemetry.EmitAsync(s.events, s.logger, telemetry.Event{
		Type:      telemetry.EventTokenIssued,
		SessionID: sessionID,
		At:        now.UTC(),
	})
	s.logger.Debug("token issued", zap.String("session_id", sessionID), zap.Time("expires_at", expiresAt))
	return tok, expiresAt, nil
}

func (s *Service) issue(ctx context.Context, sessionID string, now time.Time) (string, time.Time, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return "", time.Time{}, session.ErrSessionNotFound
		}
		return "", time.Time{}, fmt.Errorf("issue token: %w", err)
	}
	if !sess.Active {
		return "", time.Time{}, session.ErrSessionClosed
	}
	if !sess.InWindow(now) {
		return "", time.Time{}, ErrOutsideWindow
	}

	now = now.UTC()
	expiresAt := now.Add(s.rotation)
	if expiresAt.After(sess.WindowEnd) {
		expiresAt = sess.WindowEnd
	}
	nonce, err := token.NewNonce()
	if err != nil {
		return "", time.Time{}, err
	}
	tok, err := s.codec.Encode(sess.ID, now, expiresAt, nonce)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("issue token: %w", err)
	}
	return tok, expiresAt.UTC(), nil
}
