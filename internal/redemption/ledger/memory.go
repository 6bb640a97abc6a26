package ledger

import (
	"context"
	"hash/maphash"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	auditdomain "qr-attendance/backend/internal/audit/domain"
	auditrepo "qr-attendance/backend/internal/audit/repository"
	"qr-attendance/backend/internal/clock"
	"qr-attendance/backend/internal/redemption/domain"
)

const shardCount = 64

type key struct {
	sessionID  string
	redeemerID string
}

type shard struct {
	mu sync.Mutex

	// accepted maps each key to its accepted record id.
	accepted map[key]string
	records  map[string]*domain.Record
}

// Memory is an in-process ledger. Keys are spread over independently locked
// shards, so redemptions for different keys rarely contend.
type Memory struct {
	seed   maphash.Seed
	shards [shardCount]*shard
	ids    sync.Map // record id -> key
	audit  auditrepo.Log
	clock  clock.Clock
}

// NewMemory returns an empty ledger that appends overrides to audit.
func NewMemory(audit auditrepo.Log, c clock.Clock) *Memory {
	if c == nil {
		c = clock.Real()
	}
	m := &Memory{seed: maphash.MakeSeed(), audit: audit, clock: c}
	for i := range m.shards {
		m.shards[i] = &shard{accepted: make(map[key]string), records: make(map[string]*domain.Record)}
	}
	return m
}

func (m *Memory) shardFor(k key) *shard {
	var h maphash.Hash
	h.SetSeed(m.seed)
	_, _ = h.WriteString(k.sessionID)
	_ = h.WriteByte(0)
	_, _ = h.WriteString(k.redeemerID)
	return m.shards[h.Sum64()%shardCount]
}

func (m *Memory) TryInsertAccepted(ctx context.Context, sessionID, redeemerID string, at time.Time) (*domain.Record, bool, error) {
	k := key{sessionID, redeemerID}
	sh := m.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if id, ok := sh.accepted[k]; ok {
		return sh.records[id].Clone(), false, nil
	}
	rec := &domain.Record{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		RedeemerID: redeemerID,
		RedeemedAt: at.UTC(),
		Outcome:    domain.OutcomeAccepted,
	}
	m.put(sh, k, rec)
	return rec.Clone(), true, nil
}

func (m *Memory) RecordRejected(ctx context.Context, sessionID, redeemerID string, reason domain.Reason, at time.Time) (*domain.Record, error) {
	k := key{sessionID, redeemerID}
	sh := m.shardFor(k)
	rec := &domain.Record{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		RedeemerID: redeemerID,
		RedeemedAt: at.UTC(),
		Outcome:    domain.OutcomeRejected,
		Reason:     reason,
	}
	sh.mu.Lock()
	m.put(sh, k, rec)
	sh.mu.Unlock()
	return rec.Clone(), nil
}

func (m *Memory) Get(ctx context.Context, id string) (*domain.Record, error) {
	v, ok := m.ids.Load(id)
	if !ok {
		return nil, nil
	}
	sh := m.shardFor(v.(key))
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.records[id]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (m *Memory) ListBySession(ctx context.Context, sessionID string) ([]*domain.Record, error) {
	var out []*domain.Record
	for _, sh := range m.shards {
		sh.mu.Lock()
		for _, rec := range sh.records {
			if rec.SessionID == sessionID {
				out = append(out, rec.Clone())
			}
		}
		sh.mu.Unlock()
	}
	sortRecords(out)
	return out, nil
}

func (m *Memory) AdminOverride(ctx context.Context, o domain.Override) (*domain.Record, error) {
	o = o.Normalize()
	if err := o.Validate(); err != nil {
		return nil, err
	}

	var k key
	if o.Action == auditdomain.ActionCreate {
		k = key{o.NewState.SessionID, o.NewState.RedeemerID}
	} else {
		v, ok := m.ids.Load(o.RedemptionID)
		if !ok {
			return nil, domain.ErrRedemptionNotFound
		}
		k = v.(key)
	}

	sh := m.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var current *domain.Record
	if o.Action != auditdomain.ActionCreate {
		rec, ok := sh.records[o.RedemptionID]
		if !ok {
			return nil, domain.ErrRedemptionNotFound
		}
		current = rec.Clone()
	}
	after, entry, err := domain.Plan(o, current, m.clock.Now())
	if err != nil {
		return nil, err
	}
	if domain.NeedsAcceptedSlot(current, after) {
		if _, taken := sh.accepted[k]; taken {
			return nil, domain.ErrDuplicateAccepted
		}
	}

	// Nothing below can fail once the audit entry is stored.
	if err := m.audit.Append(ctx, entry); err != nil {
		return nil, err
	}
	switch {
	case after == nil:
		delete(sh.records, current.ID)
		if sh.accepted[k] == current.ID {
			delete(sh.accepted, k)
		}
		m.ids.Delete(current.ID)
		return current, nil
	case current == nil:
		m.put(sh, k, after)
	default:
		sh.records[after.ID] = after
		if domain.ReleasesAcceptedSlot(current, after) {
			delete(sh.accepted, k)
		}
		if after.Outcome == domain.OutcomeAccepted {
			sh.accepted[k] = after.ID
		}
	}
	return after.Clone(), nil
}

// put stores rec. The caller holds sh.mu.
func (m *Memory) put(sh *shard, k key, rec *domain.Record) {
	sh.records[rec.ID] = rec
	if rec.Outcome == domain.OutcomeAccepted {
		sh.accepted[k] = rec.ID
	}
	m.ids.Store(rec.ID, k)
}

func sortRecords(recs []*domain.Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].RedeemedAt.Equal(recs[j].RedeemedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].RedeemedAt.Before(recs[j].RedeemedAt)
	})
}
