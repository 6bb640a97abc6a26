package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"qr-attendance/backend/internal/session/domain"
)

var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'owner_id', ARGV[1], 'created_at', ARGV[2], 'window_start', ARGV[3],
  'window_end', ARGV[4], 'active', ARGV[5], 'closed_at', ARGV[6])
if ARGV[5] == '1' then
  redis.call('ZADD', KEYS[2], ARGV[7], ARGV[8])
end
return 1
`)

var closeScript = redis.NewScript(`
local active = redis.call('HGET', KEYS[1], 'active')
if not active then
  return -1
end
if active == '0' then
  return 0
end
redis.call('HSET', KEYS[1], 'active', '0', 'closed_at', ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[2])
return 1
`)

// RedisRepository stores each session as a hash and indexes open sessions in a
// sorted set scored by window end (unix milliseconds) for the expiry sweep.
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRepository returns a session repository using keys under prefix.
func NewRedisRepository(client *redis.Client, prefix string) *RedisRepository {
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) sessionKey(id string) string { return r.prefix + "session:" + id }
func (r *RedisRepository) openKey() string { return r.prefix + "sessions:open" }

func (r *RedisRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	fields, err := r.client.HGetAll(ctx, r.sessionKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return sessionFromHash(id, fields)
}

func (r *RedisRepository) Create(ctx context.Context, s *domain.Session) error {
	active, closedAt := "0", ""
	if s.Active {
		active = "1"
	}
	if s.ClosedAt != nil {
		closedAt = formatTime(*s.ClosedAt)
	}
	created, err := createScript.Run(ctx, r.client, []string{r.sessionKey(s.ID), r.openKey()},
		s.OwnerID, formatTime(s.CreatedAt), formatTime(s.WindowStart), formatTime(s.WindowEnd),
		active, closedAt, s.WindowEnd.UnixMilli(), s.ID).Int()
	if err != nil {
		return err
	}
	if created == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r *RedisRepository) Close(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := closeScript.Run(ctx, r.client, []string{r.sessionKey(id), r.openKey()}, formatTime(at), id).Int()
	if err != nil {
		return false, err
	}
	switch res {
	case -1:
		return false, ErrNotFound
	case 0:
		return false, nil
	}
	return true, nil
}

func (r *RedisRepository) CloseExpired(ctx context.Context, now time.Time) ([]string, error) {
	candidates, err := r.client.ZRangeByScore(ctx, r.openKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, id := range candidates {
		s, err := r.GetByID(ctx, id)
		if err != nil {
			return ids, err
		}
		if s == nil {
			// index entry without a session hash
			if err := r.client.ZRem(ctx, r.openKey(), id).Err(); err != nil {
				return ids, err
			}
			continue
		}
		// scores are truncated to milliseconds, so recheck with full precision
		if !s.Active || !s.WindowEnd.Before(now) {
			continue
		}
		closed, err := r.Close(ctx, id, now)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return ids, err
		}
		if closed {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func sessionFromHash(id string, h map[string]string) (*domain.Session, error) {
	s := &domain.Session{ID: id, OwnerID: h["owner_id"], Active: h["active"] == "1"}
	for field, dst := range map[string]*time.Time{
		"created_at":   &s.CreatedAt,
		"window_start": &s.WindowStart,
		"window_end":   &s.WindowEnd,
	} {
		t, err := time.Parse(time.RFC3339Nano, h[field])
		if err != nil {
			return nil, fmt.Errorf("session %s: field %s: %w", id, field, err)
		}
		*dst = t.UTC()
	}
	if v := h["closed_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("session %s: field closed_at: %w", id, err)
		}
		t = t.UTC()
		s.ClosedAt = &t
	}
	return s, nil
}
