package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	auditdomain "qr-attendance/backend/internal/audit/domain"
	auditrepo "qr-attendance/backend/internal/audit/repository"
	"qr-attendance/backend/internal/redemption/domain"
)

var nineAM = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func auditCount(t *testing.T, log auditrepo.Log) int {
	t.Helper()
	entries, err := log.List(context.Background(), auditdomain.Filter{})
	if err != nil {
		t.Fatalf("audit List: %v", err)
	}
	return len(entries)
}

func mustInsert(t *testing.T, l Ledger, session, redeemer string, at time.Time) *domain.Record {
	t.Helper()
	rec, inserted, err := l.TryInsertAccepted(context.Background(), session, redeemer, at)
	if err != nil || !inserted {
		t.Fatalf("TryInsertAccepted(%s, %s) = %v, %v", session, redeemer, inserted, err)
	}
	return rec
}

// exerciseLedger checks the behaviour every backend shares. log must be the
// audit log the ledger appends overrides to.
func exerciseLedger(t *testing.T, l Ledger, log auditrepo.Log) {
	ctx := context.Background()

	t.Run("insert once per key", func(t *testing.T) {
		first := mustInsert(t, l, "s1", "alice", nineAM.Add(30*time.Second))
		if first.Outcome != domain.OutcomeAccepted || first.Reason != domain.ReasonNone {
			t.Errorf("first = %+v", first)
		}
		existing, inserted, err := l.TryInsertAccepted(ctx, "s1", "alice", nineAM.Add(45*time.Second))
		if err != nil || inserted {
			t.Fatalf("second insert = %v, %v; want not inserted", inserted, err)
		}
		if existing == nil || existing.ID != first.ID {
			t.Errorf("existing = %+v, want %s", existing, first.ID)
		}
		mustInsert(t, l, "s1", "bob", nineAM.Add(40*time.Second))
		mustInsert(t, l, "s2", "alice", nineAM.Add(40*time.Second))
	})

	t.Run("rejections do not take the slot", func(t *testing.T) {
		rej, err := l.RecordRejected(ctx, "s1", "carol", domain.ReasonExpired, nineAM.Add(10*time.Second))
		if err != nil {
			t.Fatalf("RecordRejected: %v", err)
		}
		if rej.Outcome != domain.OutcomeRejected || rej.Reason != domain.ReasonExpired {
			t.Errorf("rejected = %+v", rej)
		}
		mustInsert(t, l, "s1", "carol", nineAM.Add(50*time.Second))
	})

	t.Run("get and list", func(t *testing.T) {
		if rec, err := l.Get(ctx, "missing"); err != nil || rec != nil {
			t.Errorf("Get(missing) = %v, %v", rec, err)
		}
		recs, err := l.ListBySession(ctx, "s1")
		if err != nil {
			t.Fatalf("ListBySession: %v", err)
		}
		if len(recs) != 4 {
			t.Fatalf("ListBySession returned %d records, want 4", len(recs))
		}
		for i := 1; i < len(recs); i++ {
			if recs[i].RedeemedAt.Before(recs[i-1].RedeemedAt) {
				t.Errorf("records out of order at %d", i)
			}
		}
		got, err := l.Get(ctx, recs[0].ID)
		if err != nil || got == nil || got.ID != recs[0].ID || !got.RedeemedAt.Equal(recs[0].RedeemedAt) {
			t.Errorf("Get(%s) = %+v, %v", recs[0].ID, got, err)
		}
	})

	t.Run("override without reason changes nothing", func(t *testing.T) {
		before := auditCount(t, log)
		recs, _ := l.ListBySession(ctx, "s1")
		_, err := l.AdminOverride(ctx, domain.Override{
			Action:       auditdomain.ActionDelete,
			RedemptionID: recs[0].ID,
			ActorID:      "admin",
		})
		if !errors.Is(err, domain.ErrReasonRequired) {
			t.Fatalf("AdminOverride err = %v, want ErrReasonRequired", err)
		}
		if got := auditCount(t, log); got != before {
			t.Errorf("audit entries = %d, want %d", got, before)
		}
		after, _ := l.ListBySession(ctx, "s1")
		if len(after) != len(recs) {
			t.Errorf("ledger changed: %d records, want %d", len(after), len(recs))
		}
	})

	t.Run("delete frees the slot", func(t *testing.T) {
		existing, _, _ := l.TryInsertAccepted(ctx, "s1", "alice", nineAM)
		before := auditCount(t, log)
		removed, err := l.AdminOverride(ctx, domain.Override{
			Action:       auditdomain.ActionDelete,
			RedemptionID: existing.ID,
			ActorID:      "admin",
			Reason:       "scanned for a friend",
		})
		if err != nil {
			t.Fatalf("AdminOverride delete: %v", err)
		}
		if removed.ID != existing.ID {
			t.Errorf("removed = %+v", removed)
		}
		if rec, _ := l.Get(ctx, existing.ID); rec != nil {
			t.Error("deleted record still readable")
		}
		if got := auditCount(t, log); got != before+1 {
			t.Errorf("audit entries = %d, want %d", got, before+1)
		}
		entries, _ := log.List(ctx, auditdomain.Filter{TargetID: existing.ID})
		if len(entries) != 1 || entries[0].Before == nil || entries[0].After != nil || entries[0].Reason != "scanned for a friend" {
			t.Errorf("audit entry = %+v", entries)
		}
		mustInsert(t, l, "s1", "alice", nineAM.Add(4*time.Minute))
	})

	t.Run("create", func(t *testing.T) {
		before := auditCount(t, log)
		_, err := l.AdminOverride(ctx, domain.Override{
			Action:   auditdomain.ActionCreate,
			NewState: &domain.State{SessionID: "s1", RedeemerID: "bob", Outcome: domain.OutcomeAccepted},
			ActorID:  "admin",
			Reason:   "double entry",
		})
		if !errors.Is(err, domain.ErrDuplicateAccepted) {
			t.Fatalf("create duplicate err = %v, want ErrDuplicateAccepted", err)
		}
		if got := auditCount(t, log); got != before {
			t.Errorf("failed override wrote %d audit entries", got-before)
		}

		rec, err := l.AdminOverride(ctx, domain.Override{
			Action:   auditdomain.ActionCreate,
			NewState: &domain.State{SessionID: "s1", RedeemerID: "dave", Outcome: domain.OutcomeAccepted, RedeemedAt: nineAM.Add(time.Minute)},
			ActorID:  "admin",
			Reason:   "phone battery died",
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if rec.RedeemerID != "dave" || !rec.RedeemedAt.Equal(nineAM.Add(time.Minute)) {
			t.Errorf("created = %+v", rec)
		}
		if _, inserted, _ := l.TryInsertAccepted(ctx, "s1", "dave", nineAM.Add(2*time.Minute)); inserted {
			t.Error("created accepted record should hold the slot")
		}
		if got := auditCount(t, log); got != before+1 {
			t.Errorf("audit entries = %d, want %d", got, before+1)
		}
	})

	t.Run("edit", func(t *testing.T) {
		rej, err := l.RecordRejected(ctx, "s1", "bob", domain.ReasonExpired, nineAM.Add(3*time.Minute))
		if err != nil {
			t.Fatal(err)
		}
		_, err = l.AdminOverride(ctx, domain.Override{
			Action:       auditdomain.ActionEdit,
			RedemptionID: rej.ID,
			NewState:     &domain.State{Outcome: domain.OutcomeAccepted},
			ActorID:      "admin",
			Reason:       "clock drift",
		})
		if !errors.Is(err, domain.ErrDuplicateAccepted) {
			t.Fatalf("edit into duplicate err = %v, want ErrDuplicateAccepted", err)
		}

		accepted, _, _ := l.TryInsertAccepted(ctx, "s1", "bob", nineAM)
		before := auditCount(t, log)
		edited, err := l.AdminOverride(ctx, domain.Override{
			Action:       auditdomain.ActionEdit,
			RedemptionID: accepted.ID,
			NewState:     &domain.State{Outcome: domain.OutcomeRejected, Reason: domain.ReasonOutsideWindow},
			ActorID:      "admin",
			Reason:       "left before the end",
		})
		if err != nil {
			t.Fatalf("edit: %v", err)
		}
		if edited.ID != accepted.ID || edited.Outcome != domain.OutcomeRejected || !edited.RedeemedAt.Equal(accepted.RedeemedAt) {
			t.Errorf("edited = %+v", edited)
		}
		stored, _ := l.Get(ctx, accepted.ID)
		if stored == nil || stored.Outcome != domain.OutcomeRejected || stored.Reason != domain.ReasonOutsideWindow {
			t.Errorf("stored after edit = %+v", stored)
		}
		if got := auditCount(t, log); got != before+1 {
			t.Errorf("audit entries = %d, want %d", got, before+1)
		}
		mustInsert(t, l, "s1", "bob", nineAM.Add(4*time.Minute))
	})

	t.Run("unknown record", func(t *testing.T) {
		before := auditCount(t, log)
		for _, o := range []domain.Override{
			{Action: auditdomain.ActionDelete, RedemptionID: "nope", ActorID: "admin", Reason: "x"},
			{Action: auditdomain.ActionEdit, RedemptionID: "nope", NewState: &domain.State{Outcome: domain.OutcomeAccepted}, ActorID: "admin", Reason: "x"},
		} {
			if _, err := l.AdminOverride(ctx, o); !errors.Is(err, domain.ErrRedemptionNotFound) {
				t.Errorf("%s unknown err = %v, want ErrRedemptionNotFound", o.Action, err)
			}
		}
		if got := auditCount(t, log); got != before {
			t.Errorf("audit entries = %d, want %d", got, before)
		}
	})

	t.Run("concurrent redeemers", func(t *testing.T) {
		const n = 64
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			inserted int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := l.TryInsertAccepted(ctx, "race", "eve", nineAM)
				if err != nil {
					t.Errorf("TryInsertAccepted: %v", err)
					return
				}
				if ok {
					mu.Lock()
					inserted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if inserted != 1 {
			t.Errorf("%d concurrent inserts succeeded, want exactly 1", inserted)
		}
		recs, _ := l.ListBySession(ctx, "race")
		if len(recs) != 1 {
			t.Errorf("ledger holds %d records for the raced key, want 1", len(recs))
		}
	})
}
