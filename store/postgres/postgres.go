/*
Package postgres provides a PostgreSQL-backed implementation of cash.Store.

PURPOSE:
  Shared storage for deployments where several server processes serve the
  same tenants. The per-tenant lock in cash.Register only serializes
  commands inside one process; across processes the database decides.

COMPARE-AND-APPEND:
  Append runs at SERIALIZABLE isolation and re-checks the session's entry
  count and the tenant's latest entry before inserting. When two processes
  race, PostgreSQL aborts one with a serialization failure, which surfaces as
  cash.ErrConcurrentModification.

SCHEMA:
  Versioned SQL files under migrations/, embedded in the binary and applied
  once each, recorded in schema_migrations.

SEE ALSO:
  - store/sqlite: Single-node implementation of the same contract
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/warp/cashbox/cash"
)

// Store implements cash.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ cash.Store = (*Store)(nil)

// Open connects to dsn, verifies the connection, sizes the pool and runs
// pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db.SetMaxIdleConns(20)
	db.SetMaxOpenConns(30)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(15 * time.Minute)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// New wraps an existing, already migrated connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) Append(ctx context.Context, entry cash.LedgerEntry, summary cash.Session) (cash.EntryID, error) {
	if entry.ID == "" {
		entry.ID = cash.EntryID(uuid.NewString())
	}

	dbTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return "", fmt.Errorf("begin append: %w", err)
	}
	defer dbTx.Rollback()

	if err := checkAppend(ctx, dbTx, entry, summary); err != nil {
		return "", translate(err)
	}

	const insertEntry = `INSERT INTO ledger_entries (id, tenant_id, session_id, kind, amount, notes, ts)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = dbTx.ExecContext(ctx, insertEntry,
		entry.ID, entry.TenantID, entry.SessionID, entry.Kind,
		entry.Amount, nullString(entry.Notes), entry.Timestamp.UnixNano())
	if err != nil {
		return "", translate(fmt.Errorf("insert entry: %w", err))
	}

	if err := upsertSummary(ctx, dbTx, summary); err != nil {
		return "", translate(err)
	}

	if err := dbTx.Commit(); err != nil {
		return "", translate(fmt.Errorf("commit append: %w", err))
	}
	return entry.ID, nil
}

func checkAppend(ctx context.Context, dbTx *sql.Tx, entry cash.LedgerEntry, summary cash.Session) error {
	var count int
	const countQuery = `SELECT COUNT(1) FROM ledger_entries WHERE tenant_id = $1 AND session_id = $2`
	if err := dbTx.QueryRowContext(ctx, countQuery, entry.TenantID, entry.SessionID).Scan(&count); err != nil {
		return fmt.Errorf("count session entries: %w", err)
	}
	if count != summary.EntryCount-1 {
		return cash.ErrConcurrentModification
	}

	var lastSession, lastKind string
	const latestQuery = `SELECT session_id, kind FROM ledger_entries
	WHERE tenant_id = $1 ORDER BY ts DESC, seq DESC LIMIT 1`
	err := dbTx.QueryRowContext(ctx, latestQuery, entry.TenantID).Scan(&lastSession, &lastKind)
	hasLast := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read latest entry: %w", err)
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

func upsertSummary(ctx context.Context, dbTx *sql.Tx, sess cash.Session) error {
	const query = `INSERT INTO sessions
	(tenant_id, id, status, opened_at, closed_at, balance, opening_amount,
	 total_supplied, total_withdrawn, entry_count, last_entry_at, open_notes, close_notes)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (tenant_id, id) DO UPDATE SET
		status = EXCLUDED.status,
		opened_at = EXCLUDED.opened_at,
		closed_at = EXCLUDED.closed_at,
		balance = EXCLUDED.balance,
		opening_amount = EXCLUDED.opening_amount,
		total_supplied = EXCLUDED.total_supplied,
		total_withdrawn = EXCLUDED.total_withdrawn,
		entry_count = EXCLUDED.entry_count,
		last_entry_at = EXCLUDED.last_entry_at,
		open_notes = EXCLUDED.open_notes,
		close_notes = EXCLUDED.close_notes`

	_, err := dbTx.ExecContext(ctx, query,
		sess.TenantID, sess.ID, sess.Status,
		nullNanos(sess.OpenedAt), nullNanos(sess.ClosedAt),
		sess.Balance, sess.OpeningAmount, sess.TotalSupplied, sess.TotalWithdrawn,
		sess.EntryCount, nullNanos(nonZero(sess.LastEntryAt)),
		nullString(sess.OpenNotes), nullString(sess.CloseNotes))
	if err != nil {
		return fmt.Errorf("upsert session summary: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, tenantID cash.TenantID, sessionID cash.SessionID) ([]cash.LedgerEntry, error) {
	const query = `SELECT seq, id, tenant_id, session_id, kind, amount, notes, ts
	FROM ledger_entries
	WHERE tenant_id = $1 AND session_id = $2
	ORDER BY ts ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query, tenantID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []cash.LedgerEntry
	for rows.Next() {
		var (
			e     cash.LedgerEntry
			notes sql.NullString
			ts    int64
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.TenantID, &e.SessionID, &e.Kind, &e.Amount, &notes, &ts); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Notes = notes.String
		e.Timestamp = time.Unix(0, ts).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) LatestSession(ctx context.Context, tenantID cash.TenantID) (cash.SessionID, error) {
	const query = `SELECT session_id FROM ledger_entries
	WHERE tenant_id = $1 ORDER BY ts DESC, seq DESC LIMIT 1`

	var id cash.SessionID
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest session: %w", err)
	}
	return id, nil
}

func (s *Store) SessionsOpenedBetween(ctx context.Context, tenantID cash.TenantID, from, to time.Time) ([]cash.SessionID, error) {
	const query = `SELECT session_id FROM ledger_entries
	WHERE tenant_id = $1 AND kind = 'open' AND ts >= $2 AND ts < $3
	ORDER BY ts ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query, tenantID, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var ids []cash.SessionID
	for rows.Next() {
		var id cash.SessionID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Tenants(ctx context.Context) ([]cash.TenantID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM ledger_entries ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []cash.TenantID
	for rows.Next() {
		var t cash.TenantID
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// =============================================================================
// SESSION SUMMARIES
// =============================================================================

func (s *Store) Summaries(ctx context.Context, tenantID cash.TenantID) ([]cash.Session, error) {
	const query = `SELECT tenant_id, id, status, opened_at, closed_at, balance, opening_amount,
	       total_supplied, total_withdrawn, entry_count, last_entry_at, open_notes, close_notes
	FROM sessions
	WHERE tenant_id = $1
	ORDER BY opened_at DESC NULLS LAST`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var sessions []cash.Session
	for rows.Next() {
		var (
			sess                            cash.Session
			openedAt, closedAt, lastEntryAt sql.NullInt64
			openNotes, closeNotes           sql.NullString
		)
		err := rows.Scan(
			&sess.TenantID, &sess.ID, &sess.Status, &openedAt, &closedAt,
			&sess.Balance, &sess.OpeningAmount, &sess.TotalSupplied, &sess.TotalWithdrawn,
			&sess.EntryCount, &lastEntryAt, &openNotes, &closeNotes,
		)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.OpenedAt = timePtr(openedAt)
		sess.ClosedAt = timePtr(closedAt)
		if t := timePtr(lastEntryAt); t != nil {
			sess.LastEntryAt = *t
		}
		sess.OpenNotes = openNotes.String
		sess.CloseNotes = closeNotes.String
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *Store) ReplaceSummaries(ctx context.Context, tenantID cash.TenantID, sessions []cash.Session) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace summaries: %w", err)
	}
	defer dbTx.Rollback()

	if _, err := dbTx.ExecContext(ctx, `DELETE FROM sessions WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("clear summaries: %w", err)
	}
	for _, sess := range sessions {
		sess.TenantID = tenantID
		if err := upsertSummary(ctx, dbTx, sess); err != nil {
			return err
		}
	}
	return dbTx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

// PostgreSQL error codes that mean another writer won.
const (
	codeSerializationFailure = "40001"
	codeUniqueViolation      = "23505"
)

// translate maps lost races to cash.ErrConcurrentModification.
func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeUniqueViolation:
			return fmt.Errorf("%w: %s", cash.ErrConcurrentModification, pqErr.Message)
		}
	}
	return err
}

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

func nonZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}
