package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	auditdomain "qr-attendance/backend/internal/audit/domain"
	auditrepo "qr-attendance/backend/internal/audit/repository"
	"qr-attendance/backend/internal/clock"
	"qr-attendance/backend/internal/redemption/domain"
)

// maxOverrideAttempts bounds optimistic retries when a watched key changes.
const maxOverrideAttempts = 5

// insertAcceptedScript claims the accepted slot of a key and writes the record.
// A slot whose record hash is gone is claimed as if it were free. It returns
// the id that holds the slot afterwards.
var insertAcceptedScript = redis.NewScript(`
local holder = redis.call('GET', KEYS[1])
if holder and redis.call('EXISTS', ARGV[6] .. holder) == 1 then
  return holder
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2],
  'session_id', ARGV[2], 'redeemer_id', ARGV[3], 'redeemed_at', ARGV[4],
  'outcome', 'accepted', 'reason', '')
redis.call('ZADD', KEYS[3], ARGV[5], ARGV[1])
return ARGV[1]
`)

// Redis is a ledger on Redis. Each record is a hash; a string key per
// (session, redeemer) names the accepted record; a sorted set per session
// indexes its records by redemption time. Overrides are appended to the
// audit stream of the same key prefix.
type Redis struct {
	client *redis.Client
	prefix string
	stream string
	clock  clock.Clock
}

// NewRedis returns a ledger using keys under prefix.
func NewRedis(client *redis.Client, prefix string, c clock.Clock) *Redis {
	if c == nil {
		c = clock.Real()
	}
	return &Redis{client: client, prefix: prefix, stream: auditrepo.StreamKey(prefix), clock: c}
}

func (l *Redis) recordKey(id string) string { return l.prefix + "redemption:" + id }

// acceptedKey length-prefixes the session id so that ids containing ':' cannot
// collide with another (session, redeemer) pair.
func (l *Redis) acceptedKey(sessionID, redeemerID string) string {
	return l.prefix + "accepted:" + strconv.Itoa(len(sessionID)) + ":" + sessionID + ":" + redeemerID
}

func (l *Redis) sessionKey(sessionID string) string {
	return l.prefix + "redemptions:" + sessionID
}

func (l *Redis) TryInsertAccepted(ctx context.Context, sessionID, redeemerID string, at time.Time) (*domain.Record, bool, error) {
	for attempt := 1; ; attempt++ {
		rec := &domain.Record{
			ID:         uuid.NewString(),
			SessionID:  sessionID,
			RedeemerID: redeemerID,
			RedeemedAt: at.UTC(),
			Outcome:    domain.OutcomeAccepted,
		}
		holder, err := insertAcceptedScript.Run(ctx, l.client,
			[]string{l.acceptedKey(sessionID, redeemerID), l.recordKey(rec.ID), l.sessionKey(sessionID)},
			rec.ID, sessionID, redeemerID, formatTime(rec.RedeemedAt), rec.RedeemedAt.UnixNano(),
			l.recordKey("")).Text()
		if err != nil {
			return nil, false, fmt.Errorf("ledger: insert accepted: %w", err)
		}
		if holder == rec.ID {
			return rec, true, nil
		}
		existing, err := l.Get(ctx, holder)
		if err != nil {
			return nil, false, err
		}
		// existing is nil when an override deleted the holder after the script ran
		if existing != nil || attempt == insertAttempts {
			return existing, false, nil
		}
	}
}

func (l *Redis) RecordRejected(ctx context.Context, sessionID, redeemerID string, reason domain.Reason, at time.Time) (*domain.Record, error) {
	rec := &domain.Record{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		RedeemerID: redeemerID,
		RedeemedAt: at.UTC(),
		Outcome:    domain.OutcomeRejected,
		Reason:     reason,
	}
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		l.queueWrite(ctx, p, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: record rejected: %w", err)
	}
	return rec, nil
}

// Get returns the record for id, or nil if not found.
func (l *Redis) Get(ctx context.Context, id string) (*domain.Record, error) {
	return l.get(ctx, l.client, id)
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (l *Redis) get(ctx context.Context, c hashReader, id string) (*domain.Record, error) {
	h, err := c.HGetAll(ctx, l.recordKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger: get: %w", err)
	}
	if len(h) == 0 {
		return nil, nil
	}
	at, err := time.Parse(time.RFC3339Nano, h["redeemed_at"])
	if err != nil {
		return nil, fmt.Errorf("ledger: record %s: %w", id, err)
	}
	return &domain.Record{
		ID:         id,
		SessionID:  h["session_id"],
		RedeemerID: h["redeemer_id"],
		RedeemedAt: at.UTC(),
		Outcome:    domain.Outcome(h["outcome"]),
		Reason:     domain.Reason(h["reason"]),
	}, nil
}

func (l *Redis) ListBySession(ctx context.Context, sessionID string) ([]*domain.Record, error) {
	ids, err := l.client.ZRange(ctx, l.sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	out := make([]*domain.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := l.get(ctx, l.client, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out, nil
}

// AdminOverride watches the record and its accepted slot, then applies the
// change and XADDs the audit entry in one MULTI/EXEC.
func (l *Redis) AdminOverride(ctx context.Context, o domain.Override) (*domain.Record, error) {
	o = o.Normalize()
	if err := o.Validate(); err != nil {
		return nil, err
	}

	var slot, recKey string
	if o.Action == auditdomain.ActionCreate {
		slot = l.acceptedKey(o.NewState.SessionID, o.NewState.RedeemerID)
	} else {
		current, err := l.Get(ctx, o.RedemptionID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, domain.ErrRedemptionNotFound
		}
		// session and redeemer of a record never change, so the slot key is stable
		slot = l.acceptedKey(current.SessionID, current.RedeemerID)
		recKey = l.recordKey(current.ID)
	}
	watched := []string{slot}
	if recKey != "" {
		watched = append(watched, recKey)
	}

	var result *domain.Record
	txf := func(tx *redis.Tx) error {
		var current *domain.Record
		if o.Action != auditdomain.ActionCreate {
			var err error
			if current, err = l.get(ctx, tx, o.RedemptionID); err != nil {
				return err
			}
			if current == nil {
				return domain.ErrRedemptionNotFound
			}
		}
		after, entry, err := domain.Plan(o, current, l.clock.Now())
		if err != nil {
			return err
		}
		holder, err := tx.Get(ctx, slot).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("ledger: read accepted slot: %w", err)
		}
		if domain.NeedsAcceptedSlot(current, after) && holder != "" {
			return domain.ErrDuplicateAccepted
		}
		xadd, err := auditrepo.StreamArgs(l.stream, entry)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			switch {
			case after == nil:
				p.Del(ctx, l.recordKey(current.ID))
				p.ZRem(ctx, l.sessionKey(current.SessionID), current.ID)
			default:
				l.queueWrite(ctx, p, after)
			}
			if domain.ReleasesAcceptedSlot(current, after) && holder == current.ID {
				p.Del(ctx, slot)
			}
			if domain.NeedsAcceptedSlot(current, after) {
				p.Set(ctx, slot, after.ID, 0)
			}
			p.XAdd(ctx, xadd)
			return nil
		})
		if err != nil {
			return err
		}
		if after == nil {
			result = current
		} else {
			result = after
		}
		return nil
	}

	for attempt := 0; attempt < maxOverrideAttempts; attempt++ {
		err := l.client.Watch(ctx, txf, watched...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("ledger: override of %s kept conflicting after %d attempts", o.RedemptionID, maxOverrideAttempts)
}

// queueWrite writes rec's hash and session index entry. It does not touch the accepted slot.
func (l *Redis) queueWrite(ctx context.Context, p redis.Pipeliner, rec *domain.Record) {
	p.HSet(ctx, l.recordKey(rec.ID),
		"session_id", rec.SessionID,
		"redeemer_id", rec.RedeemerID,
		"redeemed_at", formatTime(rec.RedeemedAt),
		"outcome", string(rec.Outcome),
		"reason", string(rec.Reason))
	p.ZAdd(ctx, l.sessionKey(rec.SessionID), redis.Z{Score: float64(rec.RedeemedAt.UnixNano()), Member: rec.ID})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
