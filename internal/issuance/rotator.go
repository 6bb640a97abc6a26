package issuance

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"qr-attendance/backend/internal/session"
)

// PublishFunc hands a freshly issued token to the display transport.
type PublishFunc func(ctx context.Context, tok string, expiresAt time.Time) error

// Rotator keeps one session's displayed token fresh.
type Rotator struct {
	svc       *Service
	sessionID string
	publish   PublishFunc
	logger    *zap.Logger
}

// NewRotator returns a Rotator publishing tokens for sessionID.
func NewRotator(svc *Service, sessionID string, publish PublishFunc, logger *zap.Logger) *Rotator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rotator{svc: svc, sessionID: sessionID, publish: publish, logger: logger}
}

// Run issues and publishes a token every rotation interval. It returns nil once
// the session is closed, unknown or past its window, and ctx.Err() when ctx is
// done. Store and publish failures are logged and retried on the next tick.
func (r *Rotator) Run(ctx context.Context) error {
	log := r.logger.With(zap.String("session_id", r.sessionID))
	published := 0
	for {
		delay := r.svc.rotation
		tok, expiresAt, err := r.svc.Issue(ctx, r.sessionID)
		switch {
		case err == nil:
			if perr := r.publish(ctx, tok, expiresAt); perr != nil {
				log.Warn("token publish failed", zap.Error(perr))
			} else {
				published++
			}
		case errors.Is(err, session.ErrSessionClosed), errors.Is(err, session.ErrSessionNotFound):
			log.Info("rotation stopped", zap.Int("published", published), zap.Error(err))
			return nil
		case errors.Is(err, ErrOutsideWindow):
			sess, gerr := r.svc.sessions.Get(ctx, r.sessionID)
			if gerr != nil {
				log.Warn("session lookup failed", zap.Error(gerr))
				break
			}
			now := r.svc.clock.Now()
			if now.After(sess.WindowEnd) {
				log.Info("rotation stopped", zap.Int("published", published), zap.String("reason", "window ended"))
				return nil
			}
			if wait := sess.WindowStart.Sub(now); wait < delay {
				delay = wait
			}
		default:
			log.Warn("token issue failed", zap.Error(err))
		}

		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
