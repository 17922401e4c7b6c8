/*
store.go - Persistence interface for ledger entries and session summaries

PURPOSE:
  Defines the interface between the register and the database. The Store
  owns durability; the Register is its only writer.

APPEND-ONLY CONTRACT:
  - Append(): the ONLY write to the ledger
  - NO Update() or Delete() for entries
  - ReplaceSummaries() rewrites the derived sessions cache only

ATOMIC APPEND:
  Append writes the entry and upserts the session summary in one unit. If it
  returns an error, neither is visible. Implementations also re-check, inside
  their write critical section, that the session still has
  summary.EntryCount-1 entries and (for open entries) that the tenant has no
  other open session, returning ErrConcurrentModification otherwise.

ORDERING:
  Load returns entries ordered by Timestamp, then Seq.

IMPLEMENTATIONS:
  - cash/store/memory.go: In-memory for tests and dev
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL

SEE ALSO:
  - ledger.go: Read-side wrapper with lazy sequences
*/
package cash

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Interface for ledger persistence (append-only)
// =============================================================================

// Store handles persistence of entries and the derived session cache.
type Store interface {
	// Append persists entry and the summary of its session after the entry.
	// Assigns entry.ID when empty and returns the id.
	Append(ctx context.Context, entry LedgerEntry, summary Session) (EntryID, error)

	// Load returns all entries of a session, ordered.
	Load(ctx context.Context, tenantID TenantID, sessionID SessionID) ([]LedgerEntry, error)

	// LatestSession returns the session of the tenant's most recent entry,
	// or "" when the tenant has never opened the register.
	LatestSession(ctx context.Context, tenantID TenantID) (SessionID, error)

	// SessionsOpenedBetween returns sessions whose open entry falls in
	// [from, to), oldest first.
	SessionsOpenedBetween(ctx context.Context, tenantID TenantID, from, to time.Time) ([]SessionID, error)

	// Summaries returns the cached session rows, newest first.
	Summaries(ctx context.Context, tenantID TenantID) ([]Session, error)

	// ReplaceSummaries swaps the tenant's cached rows for the given ones.
	ReplaceSummaries(ctx context.Context, tenantID TenantID, sessions []Session) error

	// Tenants lists every tenant with at least one entry.
	Tenants(ctx context.Context) ([]TenantID, error)
}
