package session

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestSweeper_RunOnce(t *testing.T) {
	reg, fc := newTestRegistry(t)
	ctx := context.Background()
	short, _ := reg.Create(ctx, "t", nineAM, nineAM.Add(time.Minute))
	long, _ := reg.Create(ctx, "t", nineAM, nineAM.Add(time.Hour))

	sw := NewSweeper(reg, time.Minute, zaptest.NewLogger(t))
	fc.Set(nineAM.Add(30 * time.Second))
	if n, err := sw.RunOnce(ctx); err != nil || n != 0 {
		t.Fatalf("RunOnce inside window = %d, %v", n, err)
	}
	fc.Set(nineAM.Add(2 * time.Minute))
	if n, err := sw.RunOnce(ctx); err != nil || n != 1 {
		t.Fatalf("RunOnce after short window = %d, %v; want 1", n, err)
	}
	if active, _ := reg.IsActive(ctx, short.ID); active {
		t.Error("short session should be closed")
	}
	if active, _ := reg.IsActive(ctx, long.ID); !active {
		t.Error("long session should still be active")
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	reg, fc := newTestRegistry(t)
	s, _ := reg.Create(context.Background(), "t", nineAM, nineAM.Add(time.Minute))
	fc.Set(nineAM.Add(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(reg, 10*time.Millisecond, nil).Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		active, err := reg.IsActive(context.Background(), s.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !active {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper did not close the expired session")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewSweeper_DefaultInterval(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if sw := NewSweeper(reg, 0, nil); sw.interval != time.Minute {
		t.Errorf("interval = %v, want 1m", sw.interval)
	}
}
