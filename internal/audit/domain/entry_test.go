package domain

import (
	"testing"
	"time"
)

func snap() *Snapshot {
	return &Snapshot{SessionID: "s1", RedeemerID: "alice", Outcome: "accepted", RedeemedAt: time.Date(2026, 3, 2, 9, 0, 30, 0, time.UTC)}
}

func TestEntry_Validate(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	testCases := []struct {
		name  string
		entry *Entry
		want  error
	}{
		{"create ok", NewEntry("admin", ActionCreate, "r1", nil, snap(), "late scan", now), nil},
		{"edit ok", NewEntry("admin", ActionEdit, "r1", snap(), snap(), "fix time", now), nil},
		{"delete ok", NewEntry("admin", ActionDelete, "r1", snap(), nil, "duplicate", now), nil},
		{"empty reason", NewEntry("admin", ActionEdit, "r1", snap(), snap(), "", now), ErrReasonRequired},
		{"blank reason", NewEntry("admin", ActionEdit, "r1", snap(), snap(), "  \t", now), ErrReasonRequired},
		{"no actor", NewEntry(" ", ActionEdit, "r1", snap(), snap(), "x", now), ErrActorRequired},
		{"no target", NewEntry("admin", ActionEdit, "", snap(), snap(), "x", now), ErrTargetRequired},
		{"bad action", NewEntry("admin", Action("purge"), "r1", snap(), snap(), "x", now), ErrInvalidAction},
		{"create with before", NewEntry("admin", ActionCreate, "r1", snap(), snap(), "x", now), ErrInvalidSnapshots},
		{"delete with after", NewEntry("admin", ActionDelete, "r1", snap(), snap(), "x", now), ErrInvalidSnapshots},
		{"edit without before", NewEntry("admin", ActionEdit, "r1", nil, snap(), "x", now), ErrInvalidSnapshots},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.entry.Validate(); got != tc.want {
				t.Errorf("Validate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNewEntry_AssignsIDAndUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	e := NewEntry(" admin ", ActionDelete, "r1", snap(), nil, "  reason  ", time.Date(2026, 3, 2, 18, 0, 0, 0, loc))
	if e.ID == "" {
		t.Error("ID should be set")
	}
	if e.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt location = %v, want UTC", e.CreatedAt.Location())
	}
	if e.ActorID != "admin" || e.Reason != "reason" {
		t.Errorf("fields not trimmed: actor=%q reason=%q", e.ActorID, e.Reason)
	}
	if other := NewEntry("admin", ActionDelete, "r1", snap(), nil, "x", time.Now()); other.ID == e.ID {
		t.Error("NewEntry should assign unique ids")
	}
}

func TestFilter_Matches(t *testing.T) {
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	e := &Entry{TargetID: "r1", CreatedAt: at}
	testCases := []struct {
		name string
		f    Filter
		want bool
	}{
		{"empty filter", Filter{}, true},
		{"target match", Filter{TargetID: "r1"}, true},
		{"target mismatch", Filter{TargetID: "r2"}, false},
		{"from inclusive", Filter{From: at}, true},
		{"from after", Filter{From: at.Add(time.Second)}, false},
		{"to exclusive", Filter{To: at}, false},
		{"to after", Filter{To: at.Add(time.Second)}, true},
		{"range", Filter{From: at.Add(-time.Hour), To: at.Add(time.Hour), TargetID: "r1"}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.f.Matches(e); got != tc.want {
				t.Errorf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}
