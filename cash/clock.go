package cash

import (
	"time"
)

// =============================================================================
// CLOCK
// =============================================================================

// Clock abstracts time so tests can pin entry timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock returns UTC wall time truncated to microseconds, the finest
// precision every store keeps.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// =============================================================================
// DATE RANGE - Inclusive calendar days, UTC
// =============================================================================

type DateRange struct {
	From time.Time
	To   time.Time
}

// NewDateRange normalizes both ends to UTC midnight.
func NewDateRange(from, to time.Time) DateRange {
	return DateRange{From: StartOfDay(from), To: StartOfDay(to)}
}

// LastDays is the range of n calendar days ending on the day of now.
func LastDays(now time.Time, n int) DateRange {
	if n < 1 {
		n = 1
	}
	end := StartOfDay(now)
	return DateRange{From: end.AddDate(0, 0, -(n - 1)), To: end}
}

func (r DateRange) Validate() error {
	if r.To.Before(r.From) {
		return ErrInvalidRange
	}
	return nil
}

// Bounds returns the half-open instant interval [start, end) covering the range.
func (r DateRange) Bounds() (time.Time, time.Time) {
	return StartOfDay(r.From), StartOfDay(r.To).AddDate(0, 0, 1)
}

// DayCount is len(r.Days()) without building the slice.
func (r DateRange) DayCount() int {
	from, to := StartOfDay(r.From), StartOfDay(r.To)
	if to.Before(from) {
		return 0
	}
	// Unix seconds, not Duration: Sub saturates past ~292 years
	return int((to.Unix()-from.Unix())/86400) + 1
}

// Days lists each day in the range, oldest first.
func (r DateRange) Days() []time.Time {
	var days []time.Time
	for d := StartOfDay(r.From); !d.After(StartOfDay(r.To)); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string as a UTC day.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, time.UTC)
}
