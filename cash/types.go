/*
Package cash provides the cash-register session engine.

PURPOSE:
  This package contains the types and algorithms for running a cash register
  per company: opening a session with a float, supplying and withdrawing cash
  while it is open, and closing it at the end of the day. Every movement is an
  immutable ledger entry; the current balance and status are always a fold of
  those entries, never a stored cell that can drift.

KEY CONCEPTS IN THIS FILE (types.go):
  - LedgerEntry: An immutable record of one cash movement
  - Session: The projection of one open-to-close cycle
  - Command: An intent to move the register to its next state
  - Tenant/Session/Entry IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only appended
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing tenants and sessions
  4. Single writer: Only the Register appends entries

USAGE:
  reg := cash.NewRegister(store.NewMemory())
  s, err := reg.OpenSession(ctx, "acme", decimal.NewFromInt(1000), "start")

SEE ALSO:
  - machine.go: Transition guards
  - projection.go: Folding entries into a Session
  - register.go: The command/query facade
*/
package cash

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// TenantID scopes all data to one company.
type TenantID string

type SessionID string
type EntryID string

// =============================================================================
// LEDGER ENTRY - Immutable cash movement
// =============================================================================

type EntryKind string

const (
	KindOpen     EntryKind = "open"     // Opening float, starts a session
	KindSupply   EntryKind = "supply"   // Cash added to the drawer
	KindWithdraw EntryKind = "withdraw" // Cash taken out (bank deposit, payouts)
	KindClose    EntryKind = "close"    // Ends the session, no balance effect
)

// Valid reports whether k is one of the four known kinds.
func (k EntryKind) Valid() bool {
	switch k {
	case KindOpen, KindSupply, KindWithdraw, KindClose:
		return true
	}
	return false
}

// LedgerEntry is one recorded movement. Amount is always a non-negative
// magnitude; Delta gives the signed effect on the balance.
type LedgerEntry struct {
	ID        EntryID
	TenantID  TenantID
	SessionID SessionID
	Kind      EntryKind
	Amount    decimal.Decimal
	Notes     string
	Timestamp time.Time

	// Seq is the store-assigned insertion order. Breaks timestamp ties.
	Seq int64
}

// Delta returns the signed balance effect of the entry.
func (e LedgerEntry) Delta() decimal.Decimal {
	switch e.Kind {
	case KindOpen, KindSupply:
		return e.Amount
	case KindWithdraw:
		return e.Amount.Neg()
	default:
		return decimal.Zero
	}
}

// =============================================================================
// SESSION - Projection of one open-to-close cycle
// =============================================================================

type Status string

const (
	StatusClosed Status = "closed"
	StatusOpen   Status = "open"
)

// Session is derived from its entries. Balance is never stored authoritatively;
// the sessions table in durable stores is a cache rebuilt from the ledger.
type Session struct {
	ID       SessionID
	TenantID TenantID
	Status   Status
	OpenedAt *time.Time
	ClosedAt *time.Time

	Balance        decimal.Decimal
	OpeningAmount  decimal.Decimal
	TotalSupplied  decimal.Decimal
	TotalWithdrawn decimal.Decimal

	EntryCount  int
	LastEntryAt time.Time
	OpenNotes   string
	CloseNotes  string
}

// IsOpen reports whether the register currently accepts supply/withdraw/close.
func (s Session) IsOpen() bool { return s.Status == StatusOpen }

// Equal compares two projections field by field, using decimal equality.
func (s Session) Equal(o Session) bool {
	return s.ID == o.ID &&
		s.TenantID == o.TenantID &&
		s.Status == o.Status &&
		timePtrEqual(s.OpenedAt, o.OpenedAt) &&
		timePtrEqual(s.ClosedAt, o.ClosedAt) &&
		s.Balance.Equal(o.Balance) &&
		s.OpeningAmount.Equal(o.OpeningAmount) &&
		s.TotalSupplied.Equal(o.TotalSupplied) &&
		s.TotalWithdrawn.Equal(o.TotalWithdrawn) &&
		s.EntryCount == o.EntryCount &&
		s.LastEntryAt.Equal(o.LastEntryAt) &&
		s.OpenNotes == o.OpenNotes &&
		s.CloseNotes == o.CloseNotes
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// =============================================================================
// COMMAND - Requested transition
// =============================================================================

// Command asks the register to append one entry of Kind. Amount is ignored
// for KindClose.
type Command struct {
	Kind   EntryKind
	Amount decimal.Decimal
	Notes  string
}

func OpenCommand(amount decimal.Decimal, notes string) Command {
	return Command{Kind: KindOpen, Amount: amount, Notes: notes}
}

func SupplyCommand(amount decimal.Decimal, notes string) Command {
	return Command{Kind: KindSupply, Amount: amount, Notes: notes}
}

func WithdrawCommand(amount decimal.Decimal, notes string) Command {
	return Command{Kind: KindWithdraw, Amount: amount, Notes: notes}
}

func CloseCommand(notes string) Command {
	return Command{Kind: KindClose, Notes: notes}
}
