// Package store provides in-process cash.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/cashbox/cash"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	entries   map[key][]cash.LedgerEntry
	opens     map[cash.TenantID][]cash.LedgerEntry
	latest    map[cash.TenantID]cash.LedgerEntry
	summaries map[cash.TenantID]map[cash.SessionID]cash.Session
	seq       int64
}

type key struct {
	TenantID  cash.TenantID
	SessionID cash.SessionID
}

func NewMemory() *Memory {
	return &Memory{
		entries:   make(map[key][]cash.LedgerEntry),
		opens:     make(map[cash.TenantID][]cash.LedgerEntry),
		latest:    make(map[cash.TenantID]cash.LedgerEntry),
		summaries: make(map[cash.TenantID]map[cash.SessionID]cash.Session),
	}
}

var _ cash.Store = (*Memory)(nil)

// Append adds a single entry and its session summary. Append-only.
func (m *Memory) Append(ctx context.Context, entry cash.LedgerEntry, summary cash.Session) (cash.EntryID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{TenantID: entry.TenantID, SessionID: entry.SessionID}
	existing := m.entries[k]
	if len(existing) != summary.EntryCount-1 {
		return "", cash.ErrConcurrentModification
	}
	last, hasLast := m.latest[entry.TenantID]
	if entry.Kind == cash.KindOpen && hasLast && last.Kind != cash.KindClose {
		return "", cash.ErrConcurrentModification
	}
	if entry.Kind != cash.KindOpen && (!hasLast || last.SessionID != entry.SessionID || last.Kind == cash.KindClose) {
		return "", cash.ErrConcurrentModification
	}

	if entry.ID == "" {
		entry.ID = cash.EntryID(uuid.NewString())
	}
	m.seq++
	entry.Seq = m.seq

	// Binary search for insertion point
	i := sort.Search(len(existing), func(i int) bool {
		return lessEntry(entry, existing[i])
	})
	existing = append(existing, cash.LedgerEntry{})
	copy(existing[i+1:], existing[i:])
	existing[i] = entry
	m.entries[k] = existing

	if entry.Kind == cash.KindOpen {
		m.opens[entry.TenantID] = append(m.opens[entry.TenantID], entry)
	}
	if !hasLast || !lessEntry(entry, last) {
		m.latest[entry.TenantID] = entry
	}

	if m.summaries[entry.TenantID] == nil {
		m.summaries[entry.TenantID] = make(map[cash.SessionID]cash.Session)
	}
	m.summaries[entry.TenantID][entry.SessionID] = summary
	return entry.ID, nil
}

func lessEntry(a, b cash.LedgerEntry) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Seq < b.Seq
}

func (m *Memory) Load(ctx context.Context, tenantID cash.TenantID, sessionID cash.SessionID) ([]cash.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := key{TenantID: tenantID, SessionID: sessionID}
	result := make([]cash.LedgerEntry, len(m.entries[k]))
	copy(result, m.entries[k])
	return result, nil
}

func (m *Memory) LatestSession(ctx context.Context, tenantID cash.TenantID) (cash.SessionID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest[tenantID].SessionID, nil
}

func (m *Memory) SessionsOpenedBetween(ctx context.Context, tenantID cash.TenantID, from, to time.Time) ([]cash.SessionID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	opens := append([]cash.LedgerEntry(nil), m.opens[tenantID]...)
	sort.SliceStable(opens, func(i, j int) bool { return lessEntry(opens[i], opens[j]) })

	var ids []cash.SessionID
	for _, e := range opens {
		if !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
			ids = append(ids, e.SessionID)
		}
	}
	return ids, nil
}

func (m *Memory) Summaries(ctx context.Context, tenantID cash.TenantID) ([]cash.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]cash.Session, 0, len(m.summaries[tenantID]))
	for _, s := range m.summaries[tenantID] {
		result = append(result, s)
	}
	sortNewestFirst(result)
	return result, nil
}

func (m *Memory) ReplaceSummaries(ctx context.Context, tenantID cash.TenantID, sessions []cash.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	fresh := make(map[cash.SessionID]cash.Session, len(sessions))
	for _, s := range sessions {
		fresh[s.ID] = s
	}
	m.summaries[tenantID] = fresh
	return nil
}

func (m *Memory) Tenants(ctx context.Context) ([]cash.TenantID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenants := make([]cash.TenantID, 0, len(m.latest))
	for t := range m.latest {
		tenants = append(tenants, t)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i] < tenants[j] })
	return tenants, nil
}

// PutSummary overwrites one cached row without touching the ledger. Used to
// simulate cache drift.
func (m *Memory) PutSummary(s cash.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.summaries[s.TenantID] == nil {
		m.summaries[s.TenantID] = make(map[cash.SessionID]cash.Session)
	}
	m.summaries[s.TenantID][s.ID] = s
}

func sortNewestFirst(sessions []cash.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i].OpenedAt, sessions[j].OpenedAt
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.After(*b)
	})
}
