/*
projection.go - Balance projector

PURPOSE:
  Recomputes a session's status and balance from its ledger entries. This is
  the read path for the live status query and for historical reconstruction
  ("what was the balance after the third movement?").

KEY INSIGHT:
  The projection is a pure left fold of Step over entries in (timestamp, seq)
  order. Stores already return that order; anything assembling entries by
  hand must call SortEntries first. Calling Project twice on the same slice
  always yields the same Session.

SEE ALSO:
  - machine.go: Step, the per-entry effect
  - history.go: Daily summaries built from projections
*/
package cash

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// emptySession is the projection of no entries: closed, zero balance.
func emptySession() Session {
	return Session{
		Status:         StatusClosed,
		Balance:        decimal.Zero,
		OpeningAmount:  decimal.Zero,
		TotalSupplied:  decimal.Zero,
		TotalWithdrawn: decimal.Zero,
	}
}

// Project folds entries into a Session.
func Project(entries []LedgerEntry) Session {
	s := emptySession()
	for _, e := range entries {
		s = Step(s, e)
	}
	return s
}

// ProjectThrough folds only the first n entries. n is clamped to [0, len].
func ProjectThrough(entries []LedgerEntry, n int) Session {
	if n < 0 {
		n = 0
	}
	if n > len(entries) {
		n = len(entries)
	}
	return Project(entries[:n])
}

// BalanceAt folds the entries with a timestamp at or before t.
func BalanceAt(entries []LedgerEntry, t time.Time) Session {
	s := emptySession()
	for _, e := range entries {
		if e.Timestamp.After(t) {
			break
		}
		s = Step(s, e)
	}
	return s
}

// SortEntries orders entries by timestamp, then insertion sequence.
func SortEntries(entries []LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entryLess(entries[i], entries[j])
	})
}

func entryLess(a, b LedgerEntry) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Seq < b.Seq
}
