package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cashbox/cash"
)

func run(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--driver", "sqlite", "--db", db, "--company", "acme"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestCashctl_Day(t *testing.T) {
	// GIVEN: A fresh database file
	db := filepath.Join(t.TempDir(), "cash.db")

	// WHEN: Running a day through separate invocations
	_, err := run(t, db, "open", "100", "--notes", "float")
	require.NoError(t, err)
	_, err = run(t, db, "supply", "20.50")
	require.NoError(t, err)
	_, err = run(t, db, "withdraw", "500")

	// THEN: The overdraft is refused and the state persists between runs
	assert.ErrorIs(t, err, cash.ErrInsufficientBalance)

	out, err := run(t, db, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "(open)")
	assert.Contains(t, out, "balance    120.5")

	out, err = run(t, db, "entries", "--at", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "float")
	assert.Contains(t, out, "after 1 entries: open 100")

	out, err = run(t, db, "close")
	require.NoError(t, err)
	assert.Contains(t, out, "(closed)")

	out, err = run(t, db, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "clean")

	out, err = run(t, db, "rebuild")
	require.NoError(t, err)
	assert.Contains(t, out, "rebuilt 1 sessions")
}

func TestCashctl_Rejections(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cash.db")

	_, err := run(t, db, "open", "abc")
	assert.ErrorIs(t, err, cash.ErrInvalidAmount)

	_, err = run(t, db, "close")
	assert.ErrorIs(t, err, cash.ErrInvalidTransition)

	_, err = run(t, db, "history", "--from", "2025-03-10", "--to", "2025-03-01")
	assert.ErrorIs(t, err, cash.ErrInvalidRange)

	out, err := run(t, db, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "no sessions yet")
}

func TestHistoryRange(t *testing.T) {
	rng, err := historyRange("2025-03-01", "2025-03-07", 7)
	require.NoError(t, err)
	assert.Len(t, rng.Days(), 7)

	rng, err = historyRange("", "2025-03-07", 3)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-05", rng.From.Format("2006-01-02"))

	_, err = historyRange("March", "", 7)
	assert.ErrorIs(t, err, cash.ErrInvalidRange)
}
