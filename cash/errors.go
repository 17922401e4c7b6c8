/*
errors.go - Centralized error types for the cash engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Adapters (HTTP, CLI, stores) map or wrap these; callers match them with
  errors.Is / errors.As, or collapse them to an ErrorCode with CodeOf.

ERROR CATEGORIES:
  1. Input errors      - InvalidAmount, InvalidRange, TenantRequired
  2. State errors      - InvalidTransition, InsufficientBalance, ConcurrentModification
  3. Durability errors - StorageUnavailable

Failed commands never append anything: every error below is raised before
the ledger write or by the ledger write itself.

SEE ALSO:
  - machine.go: Raises transition and balance errors
  - register.go: Wraps store failures in StorageError
*/
package cash

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for non-numeric, non-finite or non-positive amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidTransition is returned when a command is illegal in the current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInsufficientBalance is returned when a withdrawal exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrStorageUnavailable is returned when the durability layer fails or times out.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrConcurrentModification is returned by a store when the ledger changed
	// between the guard read and the append.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidRange is returned when a date range ends before it starts.
	ErrInvalidRange = errors.New("invalid range: end before start")

	// ErrTenantRequired is returned when a call carries no company scope.
	ErrTenantRequired = errors.New("tenant required")

	// ErrSessionNotFound is returned when a session id has no entries.
	ErrSessionNotFound = errors.New("session not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AmountError describes why an amount was rejected.
type AmountError struct {
	Input  string
	Reason string
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("invalid amount %q: %s", e.Input, e.Reason)
}

func (e *AmountError) Unwrap() error { return ErrInvalidAmount }

// TransitionError names the command that was rejected and the state it hit.
type TransitionError struct {
	From    Status
	Command EntryKind
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s a %s register", e.Command, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// InsufficientBalanceError provides details about a cash shortage.
type InsufficientBalanceError struct {
	SessionID SessionID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s, shortfall %s",
		e.Available, e.Requested, e.Shortfall())
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// StorageError wraps a durability-layer failure. It matches both
// ErrStorageUnavailable and the underlying cause.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage unavailable: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorageUnavailable, e.Err} }

// storageErr wraps err unless it already carries a domain meaning.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR CODES - Discriminated result for callers
// =============================================================================

type ErrorCode string

const (
	CodeOK                  ErrorCode = ""
	CodeInvalidAmount       ErrorCode = "invalid_amount"
	CodeInvalidTransition   ErrorCode = "invalid_transition"
	CodeInsufficientBalance ErrorCode = "insufficient_balance"
	CodeStorageUnavailable  ErrorCode = "storage_unavailable"
	CodeConflict            ErrorCode = "conflict"
	CodeInvalidRange        ErrorCode = "invalid_range"
	CodeTenantRequired      ErrorCode = "tenant_required"
	CodeNotFound            ErrorCode = "not_found"
	CodeInternal            ErrorCode = "internal"
)

// CodeOf collapses err to the code a caller renders.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidAmount):
		return CodeInvalidAmount
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrInsufficientBalance):
		return CodeInsufficientBalance
	case errors.Is(err, ErrConcurrentModification):
		return CodeConflict
	case errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return CodeStorageUnavailable
	case errors.Is(err, ErrInvalidRange):
		return CodeInvalidRange
	case errors.Is(err, ErrTenantRequired):
		return CodeTenantRequired
	case errors.Is(err, ErrSessionNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry by the caller.
// The engine itself never retries.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrTenantRequired)
}
