package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"qr-attendance/backend/internal/audit/domain"
)

// RedisLog appends audit entries to a Redis stream. Streams have no in-place
// update, and nothing in this package trims or deletes from it.
type RedisLog struct {
	client *redis.Client
	stream string
}

// NewRedisLog returns an audit log writing to the "<prefix>audit" stream.
func NewRedisLog(client *redis.Client, prefix string) *RedisLog {
	return &RedisLog{client: client, stream: StreamKey(prefix)}
}

// StreamKey returns the audit stream name for a key prefix.
func StreamKey(prefix string) string {
	return prefix + "audit"
}

// StreamArgs validates e and builds the XADD arguments for it. The ledger queues
// them in the same MULTI block as the record mutation.
func StreamArgs(stream string, e *domain.Entry) (*redis.XAddArgs, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	before, err := encodeSnapshot(e.Before)
	if err != nil {
		return nil, err
	}
	after, err := encodeSnapshot(e.After)
	if err != nil {
		return nil, err
	}
	return &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"id":         e.ID,
			"actor_id":   e.ActorID,
			"action":     string(e.Action),
			"target_id":  e.TargetID,
			"before":     before,
			"after":      after,
			"reason":     e.Reason,
			"created_at": e.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}, nil
}

func (l *RedisLog) Append(ctx context.Context, e *domain.Entry) error {
	args, err := StreamArgs(l.stream, e)
	if err != nil {
		return err
	}
	if err := l.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("audit: xadd: %w", err)
	}
	return nil
}

// List reads the whole stream and filters by entry time. Stream ids carry the
// server's clock, which need not match CreatedAt, so they are not used as bounds.
func (l *RedisLog) List(ctx context.Context, f domain.Filter) ([]*domain.Entry, error) {
	msgs, err := l.client.XRange(ctx, l.stream, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("audit: xrange: %w", err)
	}
	out := make([]*domain.Entry, 0, len(msgs))
	for _, m := range msgs {
		e, err := entryFromStream(m.Values)
		if err != nil {
			return nil, fmt.Errorf("audit: stream message %s: %w", m.ID, err)
		}
		if !f.Matches(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func entryFromStream(v map[string]any) (*domain.Entry, error) {
	str := func(k string) string {
		s, _ := v[k].(string)
		return s
	}
	created, err := time.Parse(time.RFC3339Nano, str("created_at"))
	if err != nil {
		return nil, err
	}
	e := &domain.Entry{
		ID:        str("id"),
		ActorID:   str("actor_id"),
		Action:    domain.Action(str("action")),
		TargetID:  str("target_id"),
		Reason:    str("reason"),
		CreatedAt: created.UTC(),
	}
	if e.Before, err = decodeSnapshot(str("before")); err != nil {
		return nil, err
	}
	if e.After, err = decodeSnapshot(str("after")); err != nil {
		return nil, err
	}
	return e, nil
}
