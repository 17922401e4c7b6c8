/*
ledger.go - Read-side view over the append-only store

PURPOSE:
  The Ledger is the immutable source of truth for every cash movement.
  Balance is always computed by replaying entries; there's no separate
  "balance" field that can get out of sync.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, entries cannot be modified
  3. ORDERED: Reads come back in (timestamp, seq) order

CORRECTIONS:
  A wrong supply is not edited. The operator withdraws the difference (or
  supplies it) with a note; both entries remain in the ledger.

SEQUENCES:
  Entries returns an iter.Seq2 that reads the store each time it is ranged
  over, so the same value can be iterated again after new appends. Reading
  has no side effects.

SEE ALSO:
  - store.go: Low-level persistence interface
  - projection.go: Folding entries
*/
package cash

import (
	"context"
	"iter"
)

// Ledger reads entries from a Store.
type Ledger struct {
	Store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{Store: store}
}

// ReadAll returns the session's entries in fold order.
func (l *Ledger) ReadAll(ctx context.Context, tenantID TenantID, sessionID SessionID) ([]LedgerEntry, error) {
	entries, err := l.Store.Load(ctx, tenantID, sessionID)
	if err != nil {
		return nil, storageErr("load entries", err)
	}
	SortEntries(entries)
	return entries, nil
}

// Entries yields the session's entries lazily. Each range performs a fresh
// read; a read failure is yielded once as the error and stops the sequence.
func (l *Ledger) Entries(ctx context.Context, tenantID TenantID, sessionID SessionID) iter.Seq2[LedgerEntry, error] {
	return func(yield func(LedgerEntry, error) bool) {
		entries, err := l.ReadAll(ctx, tenantID, sessionID)
		if err != nil {
			yield(LedgerEntry{}, err)
			return
		}
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Project reads the session and folds it.
func (l *Ledger) Project(ctx context.Context, tenantID TenantID, sessionID SessionID) (Session, []LedgerEntry, error) {
	if sessionID == "" {
		return emptySession(), nil, nil
	}
	entries, err := l.ReadAll(ctx, tenantID, sessionID)
	if err != nil {
		return Session{}, nil, err
	}
	if len(entries) == 0 {
		return Session{}, nil, ErrSessionNotFound
	}
	return Project(entries), entries, nil
}

// Current projects the tenant's most recent session. A tenant that never
// opened the register gets the empty, closed projection.
func (l *Ledger) Current(ctx context.Context, tenantID TenantID) (Session, []LedgerEntry, error) {
	id, err := l.Store.LatestSession(ctx, tenantID)
	if err != nil {
		return Session{}, nil, storageErr("latest session", err)
	}
	return l.Project(ctx, tenantID, id)
}
