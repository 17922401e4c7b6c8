/*
history.go - Daily session summaries

PURPOSE:
  Answers "what happened at the register each day?" for a date range. Each
  day lists the sessions opened on it, projected from the ledger, plus
  totals. Days without sessions are included with zero totals so callers can
  chart a continuous range.

GRAIN:
  A session belongs to the UTC day of its open entry, even when it closes
  after midnight.
*/
package cash

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MaxHistoryDays bounds a single History call.
const MaxHistoryDays = 366

type DailySummary struct {
	Date           time.Time
	Sessions       []Session
	SessionCount   int
	TotalOpening   decimal.Decimal
	TotalSupplied  decimal.Decimal
	TotalWithdrawn decimal.Decimal

	// ClosingBalance sums the latest balance of every session of the day.
	ClosingBalance decimal.Decimal
}

// History returns one summary per day of rng, oldest first.
func (r *Register) History(ctx context.Context, tenantID TenantID, rng DateRange) ([]DailySummary, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	rng = NewDateRange(rng.From, rng.To)
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	if n := rng.DayCount(); n > MaxHistoryDays {
		return nil, fmt.Errorf("%w: %d days exceeds %d", ErrInvalidRange, n, MaxHistoryDays)
	}

	lock := r.tenantLock(tenantID)
	lock.RLock()
	defer lock.RUnlock()

	opCtx, cancel := r.opContext(ctx)
	defer cancel()

	from, to := rng.Bounds()
	ids, err := r.store.SessionsOpenedBetween(opCtx, tenantID, from, to)
	if err != nil {
		return nil, storageErr("sessions in range", err)
	}

	sessions := make([]Session, 0, len(ids))
	for _, id := range ids {
		s, _, err := r.ledger.Project(opCtx, tenantID, id)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return Summarize(rng, sessions), nil
}

// Summarize buckets projected sessions into the days of rng. Sessions whose
// open day falls outside rng are ignored.
func Summarize(rng DateRange, sessions []Session) []DailySummary {
	days := rng.Days()
	out := make([]DailySummary, len(days))
	index := make(map[time.Time]int, len(days))
	for i, d := range days {
		out[i] = DailySummary{
			Date:           d,
			Sessions:       []Session{},
			TotalOpening:   decimal.Zero,
			TotalSupplied:  decimal.Zero,
			TotalWithdrawn: decimal.Zero,
			ClosingBalance: decimal.Zero,
		}
		index[d] = i
	}

	for _, s := range sessions {
		if s.OpenedAt == nil {
			continue
		}
		i, ok := index[StartOfDay(*s.OpenedAt)]
		if !ok {
			continue
		}
		d := &out[i]
		d.Sessions = append(d.Sessions, s)
		d.SessionCount++
		d.TotalOpening = d.TotalOpening.Add(s.OpeningAmount)
		d.TotalSupplied = d.TotalSupplied.Add(s.TotalSupplied)
		d.TotalWithdrawn = d.TotalWithdrawn.Add(s.TotalWithdrawn)
		d.ClosingBalance = d.ClosingBalance.Add(s.Balance)
	}
	return out
}
