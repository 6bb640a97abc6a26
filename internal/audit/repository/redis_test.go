package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"qr-attendance/backend/internal/audit/domain"
)

func newRedisLog(t *testing.T) (*RedisLog, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLog(client, "qr:"), server
}

func TestRedisLog(t *testing.T) {
	log, _ := newRedisLog(t)
	exerciseLog(t, log)
}

func TestRedisLog_WritesToStream(t *testing.T) {
	log, server := newRedisLog(t)
	if err := log.Append(context.Background(), entryAt("r1", base)); err != nil {
		t.Fatal(err)
	}
	if !server.Exists("qr:audit") {
		t.Fatal("expected stream qr:audit to exist")
	}
	if typ := server.Type("qr:audit"); typ != "stream" {
		t.Errorf("key type = %q, want stream", typ)
	}
}

func TestRedisLog_InvalidEntryNotWritten(t *testing.T) {
	log, server := newRedisLog(t)
	e := entryAt("r1", base)
	e.ActorID = ""
	if err := log.Append(context.Background(), e); !errors.Is(err, domain.ErrActorRequired) {
		t.Fatalf("Append err = %v, want ErrActorRequired", err)
	}
	if server.Exists("qr:audit") {
		t.Error("invalid entry should not create the stream")
	}
}

func TestRedisLog_ServerDown(t *testing.T) {
	log, server := newRedisLog(t)
	server.Close()
	if err := log.Append(context.Background(), entryAt("r1", base)); err == nil {
		t.Error("Append should fail when redis is unreachable")
	}
	if _, err := log.List(context.Background(), domain.Filter{}); err == nil {
		t.Error("List should fail when redis is unreachable")
	}
}
