package cash_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cashbox/cash"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func openState(balance string) cash.Session {
	at := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	return cash.Session{
		ID:       "s-1",
		TenantID: "acme",
		Status:   cash.StatusOpen,
		OpenedAt: &at,
		Balance:  dec(balance),
	}
}

// =============================================================================
// AMOUNT PARSING
// =============================================================================

func TestParseAmount_AcceptsPositiveDecimals(t *testing.T) {
	for _, in := range []string{"1000", "0.01", " 12.50 ", "1e3", "0.00000001", "1.2300000000000", "1000000000000000"} {
		d, err := cash.ParseAmount(in)
		require.NoError(t, err, in)
		assert.True(t, d.IsPositive(), in)
	}
}

func TestParseAmount_RejectsInvalidInput(t *testing.T) {
	for _, in := range []string{
		"", "   ", "abc", "12,50", "NaN", "Inf", "-5", "0", "0.00",
		"0.000000001", "1e-300000000", "1e300000000", "1e16", "1000000000000000.5", "-1e300000000",
	} {
		_, err := cash.ParseAmount(in)
		require.Error(t, err, in)
		assert.ErrorIs(t, err, cash.ErrInvalidAmount, in)

		var amountErr *cash.AmountError
		assert.ErrorAs(t, err, &amountErr, in)
	}
}

func TestValidateAmount_ExtremeExponentsRejectedBeforeArithmetic(t *testing.T) {
	// GIVEN: Amounts whose rescale would need a 10^300000000 integer
	huge := decimal.New(1, 300_000_000)
	tiny := decimal.New(1, -300_000_000)

	// WHEN: Guarding commands against an open register
	done := make(chan [2]error, 1)
	go func() {
		done <- [2]error{
			cash.Decide(openState("900"), cash.WithdrawCommand(huge, "")),
			cash.Decide(openState("900"), cash.SupplyCommand(tiny, "")),
		}
	}()

	// THEN: Both are rejected as invalid amounts, promptly
	select {
	case errs := <-done:
		assert.ErrorIs(t, errs[0], cash.ErrInvalidAmount)
		assert.ErrorIs(t, errs[1], cash.ErrInvalidAmount)
	case <-time.After(2 * time.Second):
		t.Fatal("amount guard did not return")
	}
}

// =============================================================================
// TRANSITION GUARDS
// =============================================================================

func TestDecide_ClosedRegisterOnlyAcceptsOpen(t *testing.T) {
	closed := cash.Session{Status: cash.StatusClosed}

	assert.NoError(t, cash.Decide(closed, cash.OpenCommand(dec("100"), "")))

	for _, cmd := range []cash.Command{
		cash.SupplyCommand(dec("50"), "x"),
		cash.WithdrawCommand(dec("50"), "x"),
		cash.CloseCommand("x"),
	} {
		err := cash.Decide(closed, cmd)
		assert.ErrorIs(t, err, cash.ErrInvalidTransition, cmd.Kind)

		var trErr *cash.TransitionError
		require.ErrorAs(t, err, &trErr)
		assert.Equal(t, cash.StatusClosed, trErr.From)
		assert.Equal(t, cmd.Kind, trErr.Command)
	}
}

func TestDecide_ZeroValueSessionIsClosed(t *testing.T) {
	err := cash.Decide(cash.Session{}, cash.SupplyCommand(dec("1"), ""))
	assert.ErrorIs(t, err, cash.ErrInvalidTransition)
}

func TestDecide_OpenRegisterRejectsSecondOpen(t *testing.T) {
	err := cash.Decide(openState("100"), cash.OpenCommand(dec("100"), ""))
	assert.ErrorIs(t, err, cash.ErrInvalidTransition)
}

func TestDecide_WithdrawGuardsBalance(t *testing.T) {
	state := openState("900")

	assert.NoError(t, cash.Decide(state, cash.WithdrawCommand(dec("900"), "all of it")))

	err := cash.Decide(state, cash.WithdrawCommand(dec("900.01"), "one cent too many"))
	require.ErrorIs(t, err, cash.ErrInsufficientBalance)

	var balErr *cash.InsufficientBalanceError
	require.ErrorAs(t, err, &balErr)
	assert.True(t, balErr.Available.Equal(dec("900")))
	assert.True(t, balErr.Requested.Equal(dec("900.01")))
	assert.True(t, balErr.Shortfall().Equal(dec("0.01")))
}

func TestDecide_AmountCheckedBeforeTransition(t *testing.T) {
	// A negative supply against a closed register is an amount problem first.
	err := cash.Decide(cash.Session{}, cash.SupplyCommand(dec("-5"), ""))
	assert.ErrorIs(t, err, cash.ErrInvalidAmount)
	assert.False(t, errors.Is(err, cash.ErrInvalidTransition))
}

func TestDecide_CloseIgnoresAmount(t *testing.T) {
	assert.NoError(t, cash.Decide(openState("10"), cash.Command{Kind: cash.KindClose, Amount: dec("-1")}))
}

func TestDecide_UnknownKind(t *testing.T) {
	err := cash.Decide(openState("10"), cash.Command{Kind: "refund", Amount: dec("1")})
	assert.ErrorIs(t, err, cash.ErrInvalidTransition)
}

// =============================================================================
// EFFECTS
// =============================================================================

func TestStep_AppliesEffectTable(t *testing.T) {
	t0 := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	entries := []cash.LedgerEntry{
		{SessionID: "s-1", TenantID: "acme", Kind: cash.KindOpen, Amount: dec("1000"), Notes: "start", Timestamp: t0},
		{SessionID: "s-1", TenantID: "acme", Kind: cash.KindSupply, Amount: dec("200"), Timestamp: t0.Add(time.Hour)},
		{SessionID: "s-1", TenantID: "acme", Kind: cash.KindWithdraw, Amount: dec("300"), Timestamp: t0.Add(2 * time.Hour)},
		{SessionID: "s-1", TenantID: "acme", Kind: cash.KindClose, Notes: "end of day", Timestamp: t0.Add(3 * time.Hour)},
	}

	s := cash.Session{}
	s = cash.Step(s, entries[0])
	assert.Equal(t, cash.StatusOpen, s.Status)
	assert.True(t, s.Balance.Equal(dec("1000")))
	assert.Equal(t, "start", s.OpenNotes)

	s = cash.Step(s, entries[1])
	assert.True(t, s.Balance.Equal(dec("1200")))

	s = cash.Step(s, entries[2])
	assert.True(t, s.Balance.Equal(dec("900")))
	assert.True(t, s.TotalWithdrawn.Equal(dec("300")))

	s = cash.Step(s, entries[3])
	assert.Equal(t, cash.StatusClosed, s.Status)
	assert.True(t, s.Balance.Equal(dec("900")), "close has no balance effect")
	require.NotNil(t, s.ClosedAt)
	assert.True(t, s.ClosedAt.Equal(t0.Add(3*time.Hour)))
	assert.Equal(t, 4, s.EntryCount)
	assert.Equal(t, "end of day", s.CloseNotes)
}

func TestLedgerEntry_Delta(t *testing.T) {
	assert.True(t, cash.LedgerEntry{Kind: cash.KindOpen, Amount: dec("5")}.Delta().Equal(dec("5")))
	assert.True(t, cash.LedgerEntry{Kind: cash.KindSupply, Amount: dec("5")}.Delta().Equal(dec("5")))
	assert.True(t, cash.LedgerEntry{Kind: cash.KindWithdraw, Amount: dec("5")}.Delta().Equal(dec("-5")))
	assert.True(t, cash.LedgerEntry{Kind: cash.KindClose, Amount: dec("5")}.Delta().IsZero())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, cash.CodeOK, cash.CodeOf(nil))
	assert.Equal(t, cash.CodeInvalidAmount, cash.CodeOf(&cash.AmountError{Input: "x"}))
	assert.Equal(t, cash.CodeInvalidTransition, cash.CodeOf(&cash.TransitionError{}))
	assert.Equal(t, cash.CodeInsufficientBalance, cash.CodeOf(&cash.InsufficientBalanceError{}))
	assert.Equal(t, cash.CodeStorageUnavailable, cash.CodeOf(&cash.StorageError{Op: "x", Err: errors.New("disk")}))
	assert.Equal(t, cash.CodeConflict, cash.CodeOf(cash.ErrConcurrentModification))
	assert.Equal(t, cash.CodeTenantRequired, cash.CodeOf(cash.ErrTenantRequired))
	assert.Equal(t, cash.CodeNotFound, cash.CodeOf(cash.ErrSessionNotFound))
	assert.Equal(t, cash.CodeInternal, cash.CodeOf(errors.New("boom")))

	assert.True(t, cash.IsRetryable(&cash.StorageError{Op: "x", Err: errors.New("disk")}))
	assert.False(t, cash.IsRetryable(cash.ErrInsufficientBalance))
	assert.True(t, cash.IsClientError(cash.ErrInsufficientBalance))
}
