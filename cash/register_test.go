package cash_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/cashbox/cash"
	"github.com/warp/cashbox/cash/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// tickClock advances one minute per reading.
type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickClock() *tickClock {
	return &tickClock{now: time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)}
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

func (c *tickClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingSink struct {
	mu     sync.Mutex
	events []cash.Event
}

func (s *recordingSink) Publish(_ context.Context, e cash.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Events() []cash.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cash.Event(nil), s.events...)
}

// failingStore wraps Memory and fails selected operations on demand.
type failingStore struct {
	*store.Memory
	failAppend atomic.Bool
	blockLoad  atomic.Bool
}

func (f *failingStore) Append(ctx context.Context, e cash.LedgerEntry, s cash.Session) (cash.EntryID, error) {
	if f.failAppend.Load() {
		return "", errors.New("disk full")
	}
	return f.Memory.Append(ctx, e, s)
}

func (f *failingStore) Load(ctx context.Context, t cash.TenantID, s cash.SessionID) ([]cash.LedgerEntry, error) {
	if f.blockLoad.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.Memory.Load(ctx, t, s)
}

func newRegister(t *testing.T, opts ...cash.Option) (*cash.Register, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	opts = append([]cash.Option{cash.WithClock(newTickClock())}, opts...)
	return cash.NewRegister(mem, opts...), mem
}

const acme cash.TenantID = "acme"

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenario_FullDay(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegister(t)

	// GIVEN: a closed register
	s, err := reg.Status(ctx, acme)
	require.NoError(t, err)
	assert.Equal(t, cash.StatusClosed, s.Status)
	assert.True(t, s.Balance.IsZero())

	// WHEN: the day runs open -> supply -> withdraw -> close
	s, err = reg.OpenSession(ctx, acme, dec("1000"), "morning float")
	require.NoError(t, err)
	assert.Equal(t, cash.StatusOpen, s.Status)
	assert.True(t, s.Balance.Equal(dec("1000")))
	sessionID := s.ID

	s, err = reg.Supply(ctx, acme, dec("200"), "change delivery")
	require.NoError(t, err)
	assert.True(t, s.Balance.Equal(dec("1200")))

	s, err = reg.Withdraw(ctx, acme, dec("300"), "bank run")
	require.NoError(t, err)
	assert.True(t, s.Balance.Equal(dec("900")))

	s, err = reg.CloseSession(ctx, acme, "end of day")
	require.NoError(t, err)

	// THEN: the closed session keeps its final balance and four entries
	assert.Equal(t, cash.StatusClosed, s.Status)
	assert.True(t, s.Balance.Equal(dec("900")))
	assert.Equal(t, sessionID, s.ID)
	require.NotNil(t, s.ClosedAt)

	entries, err := reg.Entries(ctx, acme, "")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	kinds := []cash.EntryKind{entries[0].Kind, entries[1].Kind, entries[2].Kind, entries[3].Kind}
	assert.Equal(t, []cash.EntryKind{cash.KindOpen, cash.KindSupply, cash.KindWithdraw, cash.KindClose}, kinds)
	assert.True(t, entries[3].Amount.IsZero())
}

func TestScenario_OverdraftRejected(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegister(t)

	_, err := reg.OpenSession(ctx, acme, dec("100"), "")
	require.NoError(t, err)

	// WHEN: withdrawing more than the drawer holds
	s, err := reg.Withdraw(ctx, acme, dec("150"), "")

	// THEN: rejected, balance unchanged, nothing appended
	require.ErrorIs(t, err, cash.ErrInsufficientBalance)
	assert.Equal(t, cash.CodeInsufficientBalance, cash.CodeOf(err))
	assert.True(t, s.Balance.Equal(dec("100")))

	entries, err := reg.Entries(ctx, acme, "")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestScenario_CommandsAgainstClosedRegister(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegister(t)

	_, err := reg.Supply(ctx, acme, dec("10"), "")
	assert.ErrorIs(t, err, cash.ErrInvalidTransition)

	_, err = reg.Withdraw(ctx, acme, dec("10"), "")
	assert.ErrorIs(t, err, cash.ErrInvalidTransition)

	_, err = reg.CloseSession(ctx, acme, "")
	assert.ErrorIs(t, err, cash.ErrInvalidTransition)

	tenants, err := reg.Tenants(ctx)
	require.NoError(t, err)
	assert.Empty(t, tenants, "rejections append nothing")
}

func TestScenario_DoubleOpenRejected(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegister(t)

	first, err := reg.OpenSession(ctx, acme, dec("100"), "")
	require.NoError(t, err)

	s, err := reg.OpenSession(ctx, acme, dec("500"), "")
	require.ErrorIs(t, err, cash.ErrInvalidTransition)
	assert.Equal(t, first.ID, s.ID)
	assert.True(t, s.Balance.Equal(dec("100")))
}

func TestScenario_TenantsAreIsolated(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegister(t)

	_, err := reg.OpenSession(ctx, "acme", dec("100"), "")
	require.NoError(t, err)
	_, err = reg.OpenSession(ctx, "globex", dec("5000"), "")
	require.NoError(t, err)

	_, err = reg.Withdraw(ctx, "acme", dec("1000"), "")
	assert.ErrorIs(t, err, cash.ErrInsufficientBalance, "globex money is not visible to acme")

	_, err = reg.CloseSession(ctx, "acme", "")
	require.NoError(t, err)

	g, err := reg.Status(ctx, "globex")
	require.NoError(t, err)
	assert.Equal(t, cash.StatusOpen, g.Status)
	assert.True(t, g.Balance.Equal(dec("5000")))
	assert.Equal(t, cash.TenantID("globex"), g.TenantID)
}

func TestScenario_ConcurrentWithdrawalsSerialize(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegister(t)

	_, err := reg.OpenSession(ctx, acme, dec("100"), "")
	require.NoError(t, err)

	// WHEN: two withdrawals of 60 race against a balance of 100
	var ok, insufficient atomic.Int32
	var g errgroup.Group
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			_, err := reg.Withdraw(ctx, acme, dec("60"), "")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, cash.ErrInsufficientBalance):
				insufficient.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// THEN: exactly one wins and the balance never goes negative
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(1), insufficient.Load())

	s, err := reg.Status(ctx, acme)
	require.NoError(t, err)
	assert.True(t, s.Balance.Equal(dec("40")))
}

func TestConcurrentOpensYieldOneSession(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegister(t)

	var opened atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			if _, err := reg.OpenSession(ctx, acme, dec("10"), ""); err == nil {
				opened.Add(1)
			} else if !errors.Is(err, cash.ErrInvalidTransition) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), opened.Load())

	sessions, err := reg.Sessions(ctx, acme)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

// =============================================================================
// LAWS
// =============================================================================

// Replaying the ledger always reproduces what the commands returned.
func TestRoundTrip_RandomCommandSequences(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 20; run++ {
		reg, _ := newRegister(t)
		tenant := cash.TenantID(fmt.Sprintf("t-%d", run))
		var last cash.Session

		for i := 0; i < 60; i++ {
			amount := decimal.New(rng.Int63n(50000)+1, -2)
			var cmd cash.Command
			switch rng.Intn(5) {
			case 0:
				cmd = cash.OpenCommand(amount, "")
			case 1, 2:
				cmd = cash.SupplyCommand(amount, "")
			case 3:
				cmd = cash.WithdrawCommand(amount, "")
			default:
				cmd = cash.CloseCommand("")
			}

			s, err := reg.Execute(ctx, tenant, cmd)
			if err == nil {
				last = s
			} else {
				assert.True(t, cash.IsClientError(err), "unexpected error %v", err)
			}
			assert.False(t, s.Balance.IsNegative(), "balance went negative")
		}

		status, err := reg.Status(ctx, tenant)
		require.NoError(t, err)
		if last.ID != "" {
			assert.True(t, status.Equal(last), "run %d: replay diverged from live state", run)
		}

		entries, err := reg.Entries(ctx, tenant, "")
		require.NoError(t, err)
		assert.True(t, cash.Project(entries).Equal(cash.Project(entries)))
	}
}

func TestSessionAt_ReplaysPrefix(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegister(t)

	open, err := reg.OpenSession(ctx, acme, dec("50"), "")
	require.NoError(t, err)
	_, err = reg.Supply(ctx, acme, dec("25"), "")
	require.NoError(t, err)
	_, err = reg.Withdraw(ctx, acme, dec("70"), "")
	require.NoError(t, err)

	at2, err := reg.SessionAt(ctx, acme, open.ID, 2)
	require.NoError(t, err)
	assert.True(t, at2.Balance.Equal(dec("75")))
	assert.Equal(t, 2, at2.EntryCount)

	_, err = reg.SessionAt(ctx, acme, "nope", 1)
	assert.ErrorIs(t, err, cash.ErrSessionNotFound)
}

func TestLedgerEntries_IsLazyAndRestartable(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	reg := cash.NewRegister(mem, cash.WithClock(newTickClock()))

	s, err := reg.OpenSession(ctx, acme, dec("10"), "")
	require.NoError(t, err)
	_, err = reg.Supply(ctx, acme, dec("5"), "")
	require.NoError(t, err)

	seq := cash.NewLedger(mem).Entries(ctx, acme, s.ID)

	count := func() int {
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
		}
		return n
	}
	assert.Equal(t, 2, count())

	// Ranging again sees entries appended since
	_, err = reg.Supply(ctx, acme, dec("5"), "")
	require.NoError(t, err)
	assert.Equal(t, 3, count())

	// Early break is honoured
	for e := range seq {
		assert.Equal(t, cash.KindOpen, e.Kind)
		break
	}
}

// =============================================================================
// FAILURES
// =============================================================================

func TestStorageFailure_AppendsNothing(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{Memory: store.NewMemory()}
	reg := cash.NewRegister(fs, cash.WithClock(newTickClock()))

	_, err := reg.OpenSession(ctx, acme, dec("100"), "")
	require.NoError(t, err)

	fs.failAppend.Store(true)
	s, err := reg.Supply(ctx, acme, dec("50"), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, cash.ErrStorageUnavailable)
	assert.Equal(t, cash.CodeStorageUnavailable, cash.CodeOf(err))
	assert.True(t, s.Balance.Equal(dec("100")))

	fs.failAppend.Store(false)
	s, err = reg.Status(ctx, acme)
	require.NoError(t, err)
	assert.True(t, s.Balance.Equal(dec("100")))
	assert.Equal(t, 1, s.EntryCount)
}

func TestStorageTimeout_FailsFast(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{Memory: store.NewMemory()}
	reg := cash.NewRegister(fs, cash.WithClock(newTickClock()), cash.WithOpTimeout(20*time.Millisecond))

	_, err := reg.OpenSession(ctx, acme, dec("100"), "")
	require.NoError(t, err)

	fs.blockLoad.Store(true)
	start := time.Now()
	_, err = reg.Withdraw(ctx, acme, dec("10"), "")
	assert.ErrorIs(t, err, cash.ErrStorageUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err = reg.Status(ctx, acme)
	assert.ErrorIs(t, err, cash.ErrStorageUnavailable)
}

func TestEmptyTenantRejected(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegister(t)

	_, err := reg.OpenSession(ctx, "", dec("1"), "")
	assert.ErrorIs(t, err, cash.ErrTenantRequired)
	_, err = reg.Status(ctx, "")
	assert.ErrorIs(t, err, cash.ErrTenantRequired)
	_, err = reg.History(ctx, "", cash.LastDays(time.Now(), 7))
	assert.ErrorIs(t, err, cash.ErrTenantRequired)
}

func TestTimestamps_NeverGoBackwards(t *testing.T) {
	ctx := context.Background()
	clock := newTickClock()
	reg, _ := newRegister(t, cash.WithClock(clock))

	_, err := reg.OpenSession(ctx, acme, dec("100"), "")
	require.NoError(t, err)

	// WHEN: the wall clock jumps back an hour
	clock.Set(time.Date(2025, time.March, 10, 7, 0, 0, 0, time.UTC))
	_, err = reg.Supply(ctx, acme, dec("1"), "")
	require.NoError(t, err)

	entries, err := reg.Entries(ctx, acme, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.False(t, entries[1].Timestamp.Before(entries[0].Timestamp))
	assert.Equal(t, cash.KindSupply, entries[1].Kind)
}

// =============================================================================
// EVENTS
// =============================================================================

func TestEvents_PublishedForAcceptedAndRejected(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	reg, _ := newRegister(t, cash.WithSink(sink))

	_, err := reg.OpenSession(ctx, acme, dec("100"), "float")
	require.NoError(t, err)
	_, err = reg.Withdraw(ctx, acme, dec("500"), "")
	require.Error(t, err)

	events := sink.Events()
	require.Len(t, events, 2)

	assert.Equal(t, cash.EventSessionOpened, events[0].Type)
	assert.Equal(t, acme, events[0].TenantID)
	assert.NotEmpty(t, events[0].EntryID)
	assert.True(t, events[0].Balance.Equal(dec("100")))

	assert.Equal(t, cash.EventCommandRejected, events[1].Type)
	assert.Equal(t, cash.CodeInsufficientBalance, events[1].Code)
	assert.Equal(t, cash.KindWithdraw, events[1].Command)
}

func TestEvents_OutOfBoundsAmountIsNotCarried(t *testing.T) {
	// GIVEN: A library caller passing a decimal that was never parsed
	ctx := context.Background()
	sink := &recordingSink{}
	reg, _ := newRegister(t, cash.WithSink(sink))
	_, err := reg.OpenSession(ctx, acme, dec("900"), "")
	require.NoError(t, err)

	// WHEN: Withdrawing 1e300000000
	_, err = reg.Withdraw(ctx, acme, decimal.New(1, 300_000_000), "")

	// THEN: Rejected as an invalid amount, and the event holds no amount
	assert.ErrorIs(t, err, cash.ErrInvalidAmount)
	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, cash.EventCommandRejected, events[1].Type)
	assert.Equal(t, cash.CodeInvalidAmount, events[1].Code)
	assert.True(t, events[1].Amount.IsZero())

	s, err := reg.Status(ctx, acme)
	require.NoError(t, err)
	assert.True(t, s.Balance.Equal(dec("900")))
}

func TestEvents_SinkFailureDoesNotFailCommand(t *testing.T) {
	ctx := context.Background()
	sink := cash.SinkFunc(func(context.Context, cash.Event) error { return errors.New("broker down") })
	reg, _ := newRegister(t, cash.WithSink(sink))

	s, err := reg.OpenSession(ctx, acme, dec("100"), "")
	require.NoError(t, err)
	assert.Equal(t, cash.StatusOpen, s.Status)
}

// =============================================================================
// HISTORY & MAINTENANCE
// =============================================================================

func TestHistory_GroupsSessionsByOpenDay(t *testing.T) {
	ctx := context.Background()
	clock := newTickClock()
	reg, _ := newRegister(t, cash.WithClock(clock))

	day1 := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	day3 := time.Date(2025, time.March, 12, 23, 50, 0, 0, time.UTC)

	clock.Set(day1)
	_, err := reg.OpenSession(ctx, acme, dec("100"), "")
	require.NoError(t, err)
	_, err = reg.Supply(ctx, acme, dec("20"), "")
	require.NoError(t, err)
	_, err = reg.CloseSession(ctx, acme, "")
	require.NoError(t, err)

	// Opens late on day 3, closes after midnight
	clock.Set(day3)
	_, err = reg.OpenSession(ctx, acme, dec("300"), "")
	require.NoError(t, err)
	clock.Set(day3.Add(30 * time.Minute))
	_, err = reg.Withdraw(ctx, acme, dec("50"), "")
	require.NoError(t, err)

	days, err := reg.History(ctx, acme, cash.NewDateRange(day1, day3.Add(24*time.Hour)))
	require.NoError(t, err)
	require.Len(t, days, 4)

	assert.Equal(t, 1, days[0].SessionCount)
	assert.True(t, days[0].TotalOpening.Equal(dec("100")))
	assert.True(t, days[0].TotalSupplied.Equal(dec("20")))
	assert.True(t, days[0].ClosingBalance.Equal(dec("120")))

	assert.Equal(t, 0, days[1].SessionCount)
	assert.Empty(t, days[1].Sessions)

	assert.Equal(t, 1, days[2].SessionCount)
	assert.True(t, days[2].TotalWithdrawn.Equal(dec("50")))
	assert.True(t, days[2].ClosingBalance.Equal(dec("250")))

	assert.Equal(t, 0, days[3].SessionCount)
}

func TestHistory_RejectsBadRanges(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegister(t)
	now := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

	_, err := reg.History(ctx, acme, cash.DateRange{From: now, To: now.AddDate(0, 0, -1)})
	assert.ErrorIs(t, err, cash.ErrInvalidRange)

	_, err = reg.History(ctx, acme, cash.DateRange{From: now, To: now.AddDate(2, 0, 0)})
	assert.ErrorIs(t, err, cash.ErrInvalidRange)

	ancient := time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	_, err = reg.History(ctx, acme, cash.DateRange{From: ancient, To: now})
	assert.ErrorIs(t, err, cash.ErrInvalidRange)
}

func TestDateRange_DayCount(t *testing.T) {
	from := time.Date(2025, time.March, 1, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rng  cash.DateRange
		want int
	}{
		{"single day", cash.DateRange{From: from, To: from}, 1},
		{"week", cash.DateRange{From: from, To: from.AddDate(0, 0, 6)}, 7},
		{"leap year", cash.DateRange{From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)}, 366},
		{"reversed", cash.DateRange{From: from, To: from.AddDate(0, 0, -3)}, 0},
		{"past the Duration range", cash.DateRange{From: time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC), To: time.Date(1001, 1, 1, 0, 0, 0, 0, time.UTC)}, 365243},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rng.DayCount())
			if tt.want > 0 && tt.want <= cash.MaxHistoryDays {
				assert.Len(t, tt.rng.Days(), tt.want)
			}
		})
	}
}

func TestRebuildAndVerify_DetectAndRepairDrift(t *testing.T) {
	ctx := context.Background()
	reg, mem := newRegister(t)

	first, err := reg.OpenSession(ctx, acme, dec("100"), "")
	require.NoError(t, err)
	_, err = reg.CloseSession(ctx, acme, "")
	require.NoError(t, err)
	_, err = reg.OpenSession(ctx, acme, dec("40"), "")
	require.NoError(t, err)

	drifts, err := reg.Verify(ctx, acme)
	require.NoError(t, err)
	assert.Empty(t, drifts)

	// GIVEN: a tampered summary and an orphan row
	tampered := first
	tampered.Status = cash.StatusClosed
	tampered.Balance = dec("999")
	mem.PutSummary(tampered)
	mem.PutSummary(cash.Session{ID: "ghost", TenantID: acme, Status: cash.StatusClosed})

	drifts, err = reg.Verify(ctx, acme)
	require.NoError(t, err)
	require.Len(t, drifts, 2)
	reasons := map[string]cash.SessionID{}
	for _, d := range drifts {
		reasons[d.Reason] = d.SessionID
	}
	assert.Equal(t, first.ID, reasons[cash.DriftMismatch])
	assert.Equal(t, cash.SessionID("ghost"), reasons[cash.DriftOrphan])

	// WHEN: rebuilding
	n, err := reg.Rebuild(ctx, acme)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// THEN: the cache agrees with the ledger again
	drifts, err = reg.Verify(ctx, acme)
	require.NoError(t, err)
	assert.Empty(t, drifts)

	sessions, err := reg.Sessions(ctx, acme)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.True(t, sessions[0].Balance.Equal(dec("40")), "newest first")
}
