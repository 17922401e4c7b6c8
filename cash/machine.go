/*
machine.go - Session state machine

PURPOSE:
  Enforces which commands are legal in which state and what each entry does
  to the projection. The register calls Decide before it builds an entry and
  Step after; the projector folds Step over stored entries. Because both paths
  share Step, the live snapshot and a replay of the ledger cannot disagree.

STATES:
  closed (initial, also "no session yet") and open. Cyclic, no terminal state.

TRANSITIONS:
  closed --open(amount>0)--------------------> open
  open   --supply(amount>0)------------------> open
  open   --withdraw(0<amount<=balance)-------> open
  open   --close-----------------------------> closed
  anything else: ErrInvalidTransition, state unchanged

CHECK ORDER:
  1. amount (open/supply/withdraw only): positive, at most MaxAmountScale
     decimals, at most MaxAmount
  2. transition legality
  3. balance (withdraw only)
*/
package cash

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT VALIDATION
// =============================================================================

// Amount bounds. Checked on the coefficient and exponent before any
// arithmetic, so extreme exponents never reach a rescale.
const (
	MaxAmountScale  = 8
	maxAmountDigits = 16
)

// MaxAmount is the largest amount a single command may move.
var MaxAmount = decimal.New(1, 15)

// ParseAmount parses user input into a positive finite decimal.
func ParseAmount(s string) (decimal.Decimal, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return decimal.Zero, &AmountError{Input: s, Reason: "empty"}
	}
	d, err := decimal.NewFromString(in)
	if err != nil {
		return decimal.Zero, &AmountError{Input: s, Reason: "not a number"}
	}
	if err := ValidateAmount(d); err != nil {
		var amountErr *AmountError
		if errors.As(err, &amountErr) {
			amountErr.Input = s
		}
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount rejects zero and negative amounts, more than MaxAmountScale
// decimal places, and amounts above MaxAmount.
func ValidateAmount(d decimal.Decimal) error {
	coef := d.Coefficient().String()
	if !d.IsPositive() {
		return &AmountError{Input: describe(coef, int64(d.Exponent())), Reason: "must be greater than zero"}
	}

	trimmed := strings.TrimRight(coef, "0")
	exp := int64(d.Exponent()) + int64(len(coef)-len(trimmed))
	if exp < -MaxAmountScale {
		return &AmountError{Input: describe(trimmed, exp), Reason: fmt.Sprintf("more than %d decimal places", MaxAmountScale)}
	}
	if int64(len(trimmed))+exp > maxAmountDigits || d.GreaterThan(MaxAmount) {
		return &AmountError{Input: describe(trimmed, exp), Reason: "exceeds " + MaxAmount.String()}
	}
	return nil
}

// describe renders coefficient and exponent without expanding the value.
func describe(coef string, exp int64) string {
	if len(coef) > 32 {
		coef = coef[:32] + "..."
	}
	return fmt.Sprintf("%se%d", coef, exp)
}

// =============================================================================
// GUARD
// =============================================================================

// Decide returns nil when cmd may be applied to state.
func Decide(state Session, cmd Command) error {
	if !cmd.Kind.Valid() {
		return fmt.Errorf("%w: unknown command %q", ErrInvalidTransition, cmd.Kind)
	}
	if cmd.Kind != KindClose {
		if err := ValidateAmount(cmd.Amount); err != nil {
			return err
		}
	}

	if !state.IsOpen() {
		if cmd.Kind != KindOpen {
			return &TransitionError{From: StatusClosed, Command: cmd.Kind}
		}
		return nil
	}

	switch cmd.Kind {
	case KindOpen:
		return &TransitionError{From: StatusOpen, Command: cmd.Kind}
	case KindWithdraw:
		if cmd.Amount.GreaterThan(state.Balance) {
			return &InsufficientBalanceError{
				SessionID: state.ID,
				Available: state.Balance,
				Requested: cmd.Amount,
			}
		}
	}
	return nil
}

// =============================================================================
// EFFECT
// =============================================================================

// Step applies one entry to a projection and returns the result. It does not
// validate; Decide guards writes and stored entries are trusted.
func Step(s Session, e LedgerEntry) Session {
	ts := e.Timestamp

	switch e.Kind {
	case KindOpen:
		s = Session{
			ID:             e.SessionID,
			TenantID:       e.TenantID,
			Status:         StatusOpen,
			OpenedAt:       &ts,
			Balance:        e.Amount,
			OpeningAmount:  e.Amount,
			TotalSupplied:  decimal.Zero,
			TotalWithdrawn: decimal.Zero,
			OpenNotes:      e.Notes,
		}
	case KindSupply:
		s.Balance = s.Balance.Add(e.Amount)
		s.TotalSupplied = s.TotalSupplied.Add(e.Amount)
	case KindWithdraw:
		s.Balance = s.Balance.Sub(e.Amount)
		s.TotalWithdrawn = s.TotalWithdrawn.Add(e.Amount)
	case KindClose:
		s.Status = StatusClosed
		s.ClosedAt = &ts
		s.CloseNotes = e.Notes
	}

	s.EntryCount++
	s.LastEntryAt = ts
	return s
}
