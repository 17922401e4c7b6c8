/*
Package sqlite provides a SQLite-backed implementation of cash.Store.

PURPOSE:
  Durable single-node storage for the register: the CLI and the default
  server deployment run on it. Postgres (store/postgres) implements the same
  contract for shared deployments.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on ledger_entries
  - Triggers abort any UPDATE or DELETE that reaches the table anyway
  - Corrections are new entries, never edits

KEY TABLES:
  ledger_entries: Immutable movements. seq is the insertion order and breaks
                  timestamp ties.
  sessions:       Derived per-session summary. Written in the same
                  transaction as the entry it reflects; Rebuild may replace it.

COMPARE-AND-APPEND:
  Append re-checks inside the write transaction that the session still has
  EntryCount-1 entries and that the tenant's latest entry allows this kind.
  A loser of any race gets cash.ErrConcurrentModification and nothing is
  written.

TIMESTAMPS:
  Stored as INTEGER unix nanoseconds so ordering is numeric and exact.

WAL MODE:
  Opened with WAL for concurrent readers and a single writer.

USAGE:
  store, err := sqlite.New("./data/cashbox.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  reg := cash.NewRegister(store)

SEE ALSO:
  - cash/store.go: Interface definition
  - cash/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/cashbox/cash"
)

// Store implements cash.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ cash.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Ledger entries (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('open', 'supply', 'withdraw', 'close')),
		amount TEXT NOT NULL,
		notes TEXT,
		ts INTEGER NOT NULL
	);

	-- Session replay (hot path)
	CREATE INDEX IF NOT EXISTS idx_ledger_tenant_session
		ON ledger_entries(tenant_id, session_id, ts, seq);

	-- Latest entry per tenant
	CREATE INDEX IF NOT EXISTS idx_ledger_tenant_ts
		ON ledger_entries(tenant_id, ts DESC, seq DESC);

	-- History lookups by open day
	CREATE INDEX IF NOT EXISTS idx_ledger_opens
		ON ledger_entries(tenant_id, ts) WHERE kind = 'open';

	CREATE TRIGGER IF NOT EXISTS ledger_entries_no_update
		BEFORE UPDATE ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'ledger_entries is append-only'); END;

	CREATE TRIGGER IF NOT EXISTS ledger_entries_no_delete
		BEFORE DELETE ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'ledger_entries is append-only'); END;

	-- Session summaries (derived, rebuildable)
	CREATE TABLE IF NOT EXISTS sessions (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		status TEXT NOT NULL,
		opened_at INTEGER,
		closed_at INTEGER,
		balance TEXT NOT NULL,
		opening_amount TEXT NOT NULL,
		total_supplied TEXT NOT NULL,
		total_withdrawn TEXT NOT NULL,
		entry_count INTEGER NOT NULL,
		last_entry_at INTEGER,
		open_notes TEXT,
		close_notes TEXT,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_tenant_opened
		ON sessions(tenant_id, opened_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER (cash.Store interface)
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Append writes the entry and its session summary in one transaction.
func (s *Store) Append(ctx context.Context, entry cash.LedgerEntry, summary cash.Session) (cash.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = cash.EntryID(uuid.NewString())
	}

	// BEGIN IMMEDIATE: the write lock is held before the checks run, so a
	// second process sharing the file can't commit between check and insert.
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", translate(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := checkAppend(ctx, sqlTx, entry, summary); err != nil {
		return "", translate(err)
	}
	if err := appendEntry(ctx, sqlTx, entry); err != nil {
		return "", translate(err)
	}
	if err := upsertSummary(ctx, sqlTx, summary); err != nil {
		return "", translate(err)
	}

	if err := sqlTx.Commit(); err != nil {
		return "", translate(fmt.Errorf("failed to commit append: %w", err))
	}
	return entry.ID, nil
}

func checkAppend(ctx context.Context, q querier, entry cash.LedgerEntry, summary cash.Session) error {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE tenant_id = ? AND session_id = ?`,
		entry.TenantID, entry.SessionID,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to count session entries: %w", err)
	}
	if count != summary.EntryCount-1 {
		return cash.ErrConcurrentModification
	}

	var lastSession, lastKind string
	err = q.QueryRowContext(ctx, `
		SELECT session_id, kind FROM ledger_entries
		WHERE tenant_id = ?
		ORDER BY ts DESC, seq DESC
		LIMIT 1
	`, entry.TenantID).Scan(&lastSession, &lastKind)
	hasLast := true
	if errors.Is(err, sql.ErrNoRows) {
		hasLast = false
	} else if err != nil {
		return fmt.Errorf("failed to read latest entry: %w", err)
	}

	closed := cash.EntryKind(lastKind) == cash.KindClose
	if entry.Kind == cash.KindOpen && hasLast && !closed {
		return cash.ErrConcurrentModification
	}
	if entry.Kind != cash.KindOpen && (!hasLast || lastSession != string(entry.SessionID) || closed) {
		return cash.ErrConcurrentModification
	}
	return nil
}

func appendEntry(ctx context.Context, db execer, e cash.LedgerEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, tenant_id, session_id, kind, amount, notes, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.TenantID,
		e.SessionID,
		e.Kind,
		e.Amount.String(),
		nullString(e.Notes),
		e.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func upsertSummary(ctx context.Context, db execer, sess cash.Session) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions
		(tenant_id, id, status, opened_at, closed_at, balance, opening_amount,
		 total_supplied, total_withdrawn, entry_count, last_entry_at, open_notes, close_notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			status = excluded.status,
			opened_at = excluded.opened_at,
			closed_at = excluded.closed_at,
			balance = excluded.balance,
			opening_amount = excluded.opening_amount,
			total_supplied = excluded.total_supplied,
			total_withdrawn = excluded.total_withdrawn,
			entry_count = excluded.entry_count,
			last_entry_at = excluded.last_entry_at,
			open_notes = excluded.open_notes,
			close_notes = excluded.close_notes
	`,
		sess.TenantID,
		sess.ID,
		sess.Status,
		nullNanos(sess.OpenedAt),
		nullNanos(sess.ClosedAt),
		sess.Balance.String(),
		sess.OpeningAmount.String(),
		sess.TotalSupplied.String(),
		sess.TotalWithdrawn.String(),
		sess.EntryCount,
		nullTime(sess.LastEntryAt),
		nullString(sess.OpenNotes),
		nullString(sess.CloseNotes),
	)
	if err != nil {
		return fmt.Errorf("failed to write session summary: %w", err)
	}
	return nil
}

// Load returns a session's entries in (ts, seq) order.
func (s *Store) Load(ctx context.Context, tenantID cash.TenantID, sessionID cash.SessionID) ([]cash.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, tenant_id, session_id, kind, amount, notes, ts
		FROM ledger_entries
		WHERE tenant_id = ? AND session_id = ?
		ORDER BY ts ASC, seq ASC
	`, tenantID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []cash.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (cash.LedgerEntry, error) {
	var (
		e      cash.LedgerEntry
		amount string
		notes  sql.NullString
		ts     int64
	)
	err := rows.Scan(&e.Seq, &e.ID, &e.TenantID, &e.SessionID, &e.Kind, &amount, &notes, &ts)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}
	e.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return e, fmt.Errorf("entry %s: bad amount %q: %w", e.ID, amount, err)
	}
	e.Notes = notes.String
	e.Timestamp = time.Unix(0, ts).UTC()
	return e, nil
}

// LatestSession returns the session of the tenant's most recent entry.
func (s *Store) LatestSession(ctx context.Context, tenantID cash.TenantID) (cash.SessionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id cash.SessionID
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id FROM ledger_entries
		WHERE tenant_id = ?
		ORDER BY ts DESC, seq DESC
		LIMIT 1
	`, tenantID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read latest session: %w", err)
	}
	return id, nil
}

// SessionsOpenedBetween lists sessions whose open entry is in [from, to).
func (s *Store) SessionsOpenedBetween(ctx context.Context, tenantID cash.TenantID, from, to time.Time) ([]cash.SessionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id FROM ledger_entries
		WHERE tenant_id = ? AND kind = 'open' AND ts >= ? AND ts < ?
		ORDER BY ts ASC, seq ASC
	`, tenantID, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var ids []cash.SessionID
	for rows.Next() {
		var id cash.SessionID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Tenants lists every tenant with at least one entry.
func (s *Store) Tenants(ctx context.Context) ([]cash.TenantID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM ledger_entries ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []cash.TenantID
	for rows.Next() {
		var t cash.TenantID
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// =============================================================================
// SESSION SUMMARIES
// =============================================================================

// Summaries returns the cached sessions, newest first.
func (s *Store) Summaries(ctx context.Context, tenantID cash.TenantID) ([]cash.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, id, status, opened_at, closed_at, balance, opening_amount,
		       total_supplied, total_withdrawn, entry_count, last_entry_at, open_notes, close_notes
		FROM sessions
		WHERE tenant_id = ?
		ORDER BY opened_at DESC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var sessions []cash.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func scanSession(rows *sql.Rows) (cash.Session, error) {
	var (
		sess                                  cash.Session
		openedAt, closedAt, lastEntryAt       sql.NullInt64
		balance, opening, supplied, withdrawn string
		openNotes, closeNotes                 sql.NullString
	)
	err := rows.Scan(
		&sess.TenantID, &sess.ID, &sess.Status, &openedAt, &closedAt,
		&balance, &opening, &supplied, &withdrawn,
		&sess.EntryCount, &lastEntryAt, &openNotes, &closeNotes,
	)
	if err != nil {
		return sess, fmt.Errorf("failed to scan session: %w", err)
	}

	sess.OpenedAt = timePtr(openedAt)
	sess.ClosedAt = timePtr(closedAt)
	if lastEntryAt.Valid {
		sess.LastEntryAt = time.Unix(0, lastEntryAt.Int64).UTC()
	}
	sess.Balance = parseDecimal(balance)
	sess.OpeningAmount = parseDecimal(opening)
	sess.TotalSupplied = parseDecimal(supplied)
	sess.TotalWithdrawn = parseDecimal(withdrawn)
	sess.OpenNotes = openNotes.String
	sess.CloseNotes = closeNotes.String
	return sess, nil
}

// ReplaceSummaries swaps the tenant's cached sessions atomically.
func (s *Store) ReplaceSummaries(ctx context.Context, tenantID cash.TenantID, sessions []cash.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.ExecContext(ctx, `DELETE FROM sessions WHERE tenant_id = ?`, tenantID); err != nil {
		return fmt.Errorf("failed to clear summaries: %w", err)
	}
	for _, sess := range sessions {
		sess.TenantID = tenantID
		if err := upsertSummary(ctx, sqlTx, sess); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

// =============================================================================
// UTILITIES
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// translate maps SQLite failures that mean "another writer got there first"
// to cash.ErrConcurrentModification. A plain busy timeout stays a storage error.
func translate(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrBusySnapshot:
			return fmt.Errorf("%w: %v", cash.ErrConcurrentModification, err)
		}
	}
	return err
}
