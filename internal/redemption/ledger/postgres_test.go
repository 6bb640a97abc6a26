package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v2"

	auditdomain "qr-attendance/backend/internal/audit/domain"
	"qr-attendance/backend/internal/clock"
	"qr-attendance/backend/internal/redemption/domain"
)

var redemptionColumns = []string{"id", "session_id", "redeemer_id", "redeemed_at", "outcome", "reason"}

func newPostgresLedger(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mock.Close)
	return NewPostgres(mock, clock.Fake(nineAM.Add(time.Hour))), mock
}

func TestPostgres_TryInsertAccepted(t *testing.T) {
	l, mock := newPostgresLedger(t)
	at := nineAM.Add(30 * time.Second)
	mock.ExpectExec("INSERT INTO redemptions").
		WithArgs(pgxmock.AnyArg(), "s1", "alice", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec, inserted, err := l.TryInsertAccepted(context.Background(), "s1", "alice", at)
	if err != nil || !inserted {
		t.Fatalf("TryInsertAccepted = %v, %v", inserted, err)
	}
	if rec.ID == "" || rec.Outcome != domain.OutcomeAccepted {
		t.Errorf("record = %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgres_TryInsertAcceptedConflict(t *testing.T) {
	l, mock := newPostgresLedger(t)
	mock.ExpectExec("INSERT INTO redemptions").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("(?s)SELECT .+ FROM redemptions").
		WithArgs("s1", "alice").
		WillReturnRows(pgxmock.NewRows(redemptionColumns).AddRow("r1", "s1", "alice", nineAM, "accepted", ""))

	rec, inserted, err := l.TryInsertAccepted(context.Background(), "s1", "alice", nineAM.Add(time.Minute))
	if err != nil || inserted {
		t.Fatalf("TryInsertAccepted = %v, %v; want not inserted", inserted, err)
	}
	if rec == nil || rec.ID != "r1" {
		t.Errorf("existing = %+v, want r1", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgres_TryInsertAcceptedRetriesWhenHolderDeleted(t *testing.T) {
	l, mock := newPostgresLedger(t)
	at := nineAM.Add(time.Minute)
	mock.ExpectExec("INSERT INTO redemptions").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("(?s)SELECT .+ FROM redemptions").
		WithArgs("s1", "alice").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO redemptions").
		WithArgs(pgxmock.AnyArg(), "s1", "alice", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec, inserted, err := l.TryInsertAccepted(context.Background(), "s1", "alice", at)
	if err != nil || !inserted {
		t.Fatalf("TryInsertAccepted = %v, %v; want inserted on retry", inserted, err)
	}
	if rec == nil || rec.Outcome != domain.OutcomeAccepted {
		t.Errorf("record = %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgres_TryInsertAcceptedInfrastructureError(t *testing.T) {
	l, mock := newPostgresLedger(t)
	mock.ExpectExec("INSERT INTO redemptions").WillReturnError(errors.New("connection refused"))

	rec, inserted, err := l.TryInsertAccepted(context.Background(), "s1", "alice", nineAM)
	if err == nil {
		t.Fatal("expected an error")
	}
	if inserted || rec != nil {
		t.Errorf("infrastructure failure reported as %v, %+v", inserted, rec)
	}
}

func TestPostgres_GetMissing(t *testing.T) {
	l, mock := newPostgresLedger(t)
	mock.ExpectQuery("(?s)SELECT .+ FROM redemptions WHERE id").WithArgs("nope").WillReturnError(pgx.ErrNoRows)
	if rec, err := l.Get(context.Background(), "nope"); err != nil || rec != nil {
		t.Errorf("Get(missing) = %v, %v", rec, err)
	}
}

func TestPostgres_ListBySession(t *testing.T) {
	l, mock := newPostgresLedger(t)
	mock.ExpectQuery("(?s)SELECT .+ FROM redemptions WHERE session_id").
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows(redemptionColumns).
			AddRow("r1", "s1", "alice", nineAM, "accepted", "").
			AddRow("r2", "s1", "bob", nineAM.Add(time.Second), "rejected", "expired"))

	recs, err := l.ListBySession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(recs) != 2 || recs[1].Reason != domain.ReasonExpired || recs[1].Outcome != domain.OutcomeRejected {
		t.Errorf("records = %+v", recs)
	}
}

func TestPostgres_OverrideDelete(t *testing.T) {
	l, mock := newPostgresLedger(t)
	mock.ExpectBegin()
	mock.ExpectQuery("(?s)SELECT .+ FOR UPDATE").
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows(redemptionColumns).AddRow("r1", "s1", "alice", nineAM, "accepted", ""))
	mock.ExpectExec("DELETE FROM redemptions").WithArgs("r1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO audit_entries").
		WithArgs(pgxmock.AnyArg(), "admin", "delete", "r1", pgxmock.AnyArg(), pgxmock.AnyArg(), "duplicate", nineAM.Add(time.Hour)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	rec, err := l.AdminOverride(context.Background(), domain.Override{
		Action:       auditdomain.ActionDelete,
		RedemptionID: "r1",
		ActorID:      "admin",
		Reason:       "duplicate",
	})
	if err != nil {
		t.Fatalf("AdminOverride: %v", err)
	}
	if rec.ID != "r1" {
		t.Errorf("removed = %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgres_OverrideEdit(t *testing.T) {
	l, mock := newPostgresLedger(t)
	mock.ExpectBegin()
	mock.ExpectQuery("(?s)SELECT .+ FOR UPDATE").
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows(redemptionColumns).AddRow("r1", "s1", "alice", nineAM, "accepted", ""))
	mock.ExpectExec("UPDATE redemptions SET").
		WithArgs("r1", "rejected", "outside_window", nineAM).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO audit_entries").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	rec, err := l.AdminOverride(context.Background(), domain.Override{
		Action:       auditdomain.ActionEdit,
		RedemptionID: "r1",
		NewState:     &domain.State{Outcome: domain.OutcomeRejected, Reason: domain.ReasonOutsideWindow},
		ActorID:      "admin",
		Reason:       "left early",
	})
	if err != nil {
		t.Fatalf("AdminOverride: %v", err)
	}
	if rec.Outcome != domain.OutcomeRejected || rec.Reason != domain.ReasonOutsideWindow {
		t.Errorf("edited = %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgres_OverrideRollsBackWhenAuditFails(t *testing.T) {
	l, mock := newPostgresLedger(t)
	mock.ExpectBegin()
	mock.ExpectQuery("(?s)SELECT .+ FOR UPDATE").
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows(redemptionColumns).AddRow("r1", "s1", "alice", nineAM, "accepted", ""))
	mock.ExpectExec("DELETE FROM redemptions").WithArgs("r1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO audit_entries").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := l.AdminOverride(context.Background(), domain.Override{
		Action:       auditdomain.ActionDelete,
		RedemptionID: "r1",
		ActorID:      "admin",
		Reason:       "duplicate",
	})
	if err == nil {
		t.Fatal("override should fail when the audit insert fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgres_OverrideCreateDuplicate(t *testing.T) {
	l, mock := newPostgresLedger(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO redemptions").WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err := l.AdminOverride(context.Background(), domain.Override{
		Action:   auditdomain.ActionCreate,
		NewState: &domain.State{SessionID: "s1", RedeemerID: "alice", Outcome: domain.OutcomeAccepted},
		ActorID:  "admin",
		Reason:   "manual",
	})
	if !errors.Is(err, domain.ErrDuplicateAccepted) {
		t.Fatalf("err = %v, want ErrDuplicateAccepted", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgres_OverrideNotFound(t *testing.T) {
	l, mock := newPostgresLedger(t)
	mock.ExpectBegin()
	mock.ExpectQuery("(?s)SELECT .+ FOR UPDATE").WithArgs("nope").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := l.AdminOverride(context.Background(), domain.Override{
		Action:       auditdomain.ActionDelete,
		RedemptionID: "nope",
		ActorID:      "admin",
		Reason:       "x",
	})
	if !errors.Is(err, domain.ErrRedemptionNotFound) {
		t.Fatalf("err = %v, want ErrRedemptionNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgres_OverrideWithoutReasonTouchesNothing(t *testing.T) {
	l, mock := newPostgresLedger(t)
	_, err := l.AdminOverride(context.Background(), domain.Override{
		Action:       auditdomain.ActionDelete,
		RedemptionID: "r1",
		ActorID:      "admin",
	})
	if !errors.Is(err, domain.ErrReasonRequired) {
		t.Fatalf("err = %v, want ErrReasonRequired", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
