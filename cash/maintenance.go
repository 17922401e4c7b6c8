/*
maintenance.go - Session summary cache upkeep

PURPOSE:
  The sessions table is derived data. Rebuild regenerates it from the
  ledger; Verify compares it against the ledger and reports drift without
  touching anything. Neither is on the command path.
*/
package cash

import (
	"context"
	"time"
)

// Drift reasons reported by Verify.
const (
	DriftMissing  = "missing_summary" // ledger has the session, cache doesn't
	DriftOrphan   = "orphan_summary"  // cache has a session the ledger doesn't
	DriftMismatch = "mismatch"        // both have it, values differ
)

type Drift struct {
	SessionID SessionID
	Reason    string
	Cached    *Session
	Ledger    *Session
}

// allTime covers every timestamp a store can hold as unix nanoseconds.
func allTime() (time.Time, time.Time) {
	return time.Unix(0, 0).UTC(), time.Date(2200, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// projectAll folds every session of the tenant from the ledger, oldest first.
func (r *Register) projectAll(ctx context.Context, tenantID TenantID) ([]Session, error) {
	opCtx, cancel := r.opContext(ctx)
	from, to := allTime()
	ids, err := r.store.SessionsOpenedBetween(opCtx, tenantID, from, to)
	cancel()
	if err != nil {
		return nil, storageErr("list sessions", err)
	}

	sessions := make([]Session, 0, len(ids))
	for _, id := range ids {
		opCtx, cancel := r.opContext(ctx)
		s, _, err := r.ledger.Project(opCtx, tenantID, id)
		cancel()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// Rebuild replaces the tenant's cached summaries with fresh projections and
// returns how many sessions were written.
func (r *Register) Rebuild(ctx context.Context, tenantID TenantID) (int, error) {
	if tenantID == "" {
		return 0, ErrTenantRequired
	}
	lock := r.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	sessions, err := r.projectAll(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	opCtx, cancel := r.opContext(ctx)
	defer cancel()
	if err := r.store.ReplaceSummaries(opCtx, tenantID, sessions); err != nil {
		return 0, storageErr("replace summaries", err)
	}
	return len(sessions), nil
}

// Verify reports every difference between the cache and the ledger.
func (r *Register) Verify(ctx context.Context, tenantID TenantID) ([]Drift, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	lock := r.tenantLock(tenantID)
	lock.RLock()
	defer lock.RUnlock()

	fromLedger, err := r.projectAll(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := r.opContext(ctx)
	cached, err := r.store.Summaries(opCtx, tenantID)
	cancel()
	if err != nil {
		return nil, storageErr("list summaries", err)
	}

	byID := make(map[SessionID]Session, len(cached))
	for _, s := range cached {
		byID[s.ID] = s
	}

	var drifts []Drift
	for _, l := range fromLedger {
		l := l
		c, ok := byID[l.ID]
		if !ok {
			drifts = append(drifts, Drift{SessionID: l.ID, Reason: DriftMissing, Ledger: &l})
			continue
		}
		delete(byID, l.ID)
		if !c.Equal(l) {
			drifts = append(drifts, Drift{SessionID: l.ID, Reason: DriftMismatch, Cached: &c, Ledger: &l})
		}
	}
	for _, c := range cached {
		if _, orphan := byID[c.ID]; orphan {
			c := c
			drifts = append(drifts, Drift{SessionID: c.ID, Reason: DriftOrphan, Cached: &c})
		}
	}
	return drifts, nil
}
