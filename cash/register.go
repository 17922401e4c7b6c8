/*
register.go - Command/query facade over the session engine

PURPOSE:
  The Register is the only API callers (HTTP, CLI, tests) use. Every command
  is one guarded transition plus one append; every query is a projection over
  a fresh read.

COMMAND FLOW:
  1. Take the tenant's write lock
  2. Project the current session from the ledger
  3. Decide (amount, transition, balance guards)
  4. Build one entry and Step the projection
  5. Append entry + summary atomically
  6. Release the lock, publish the event, return the snapshot

CONCURRENCY:
  One RWMutex per tenant. Commands hold the write lock from the guard read to
  the append, so two withdrawals against the same session serialize and the
  second sees the first's balance. Queries hold the read lock and never see a
  half-applied command. Tenants never contend with each other.

TIMEOUTS:
  Every store call runs under OpTimeout. A timeout or any other store failure
  fails the command with ErrStorageUnavailable and appends nothing. The
  register never retries.

EVENTS:
  Published after the lock is released. A failing sink is logged, not
  returned.
*/
package cash

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/cashbox/logger"
)

const (
	DefaultOpTimeout      = 5 * time.Second
	defaultPublishTimeout = 2 * time.Second
)

// Register is the session command/query facade.
type Register struct {
	ledger  *Ledger
	store   Store
	sink    Sink
	clock   Clock
	newID   func() string
	timeout time.Duration

	mu    sync.Mutex
	locks map[TenantID]*sync.RWMutex
}

type Option func(*Register)

func WithSink(s Sink) Option { return func(r *Register) { r.sink = s } }

func WithClock(c Clock) Option { return func(r *Register) { r.clock = c } }

// WithIDs replaces the UUID generator used for entry and session ids.
func WithIDs(f func() string) Option { return func(r *Register) { r.newID = f } }

func WithOpTimeout(d time.Duration) Option {
	return func(r *Register) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewRegister(store Store, opts ...Option) *Register {
	r := &Register{
		ledger:  NewLedger(store),
		store:   store,
		sink:    NopSink{},
		clock:   SystemClock{},
		newID:   uuid.NewString,
		timeout: DefaultOpTimeout,
		locks:   make(map[TenantID]*sync.RWMutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Register) tenantLock(tenantID TenantID) *sync.RWMutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[tenantID]
	if !ok {
		l = &sync.RWMutex{}
		r.locks[tenantID] = l
	}
	return l
}

func (r *Register) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// =============================================================================
// COMMANDS
// =============================================================================

func (r *Register) OpenSession(ctx context.Context, tenantID TenantID, amount decimal.Decimal, notes string) (Session, error) {
	return r.Execute(ctx, tenantID, OpenCommand(amount, notes))
}

func (r *Register) Supply(ctx context.Context, tenantID TenantID, amount decimal.Decimal, notes string) (Session, error) {
	return r.Execute(ctx, tenantID, SupplyCommand(amount, notes))
}

func (r *Register) Withdraw(ctx context.Context, tenantID TenantID, amount decimal.Decimal, notes string) (Session, error) {
	return r.Execute(ctx, tenantID, WithdrawCommand(amount, notes))
}

func (r *Register) CloseSession(ctx context.Context, tenantID TenantID, notes string) (Session, error) {
	return r.Execute(ctx, tenantID, CloseCommand(notes))
}

// Execute applies cmd to the tenant's register. On failure the returned
// Session is the unchanged current state when it could be read.
func (r *Register) Execute(ctx context.Context, tenantID TenantID, cmd Command) (Session, error) {
	if tenantID == "" {
		return Session{}, ErrTenantRequired
	}

	s, entry, err := r.apply(ctx, tenantID, cmd)
	r.publish(ctx, newEvent(tenantID, cmd, s, entry, err, r.clock.Now()))
	if err != nil {
		logger.Info("register command rejected", logger.Fields{
			"tenant": tenantID,
			"kind":   cmd.Kind,
			"code":   CodeOf(err),
		})
	}
	return s, err
}

func (r *Register) apply(ctx context.Context, tenantID TenantID, cmd Command) (Session, LedgerEntry, error) {
	lock := r.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	opCtx, cancel := r.opContext(ctx)
	defer cancel()

	current, entries, err := r.ledger.Current(opCtx, tenantID)
	if err != nil {
		return Session{}, LedgerEntry{}, err
	}
	current.TenantID = tenantID

	if err := Decide(current, cmd); err != nil {
		return current, LedgerEntry{}, err
	}

	entry := LedgerEntry{
		ID:        EntryID(r.newID()),
		TenantID:  tenantID,
		SessionID: current.ID,
		Kind:      cmd.Kind,
		Amount:    cmd.Amount,
		Notes:     cmd.Notes,
		Timestamp: r.timestamp(entries),
	}
	if cmd.Kind == KindOpen {
		entry.SessionID = SessionID(r.newID())
	}
	if cmd.Kind == KindClose {
		entry.Amount = decimal.Zero
	}

	next := Step(current, entry)
	id, err := r.store.Append(opCtx, entry, next)
	if err != nil {
		return current, LedgerEntry{}, storageErr("append entry", err)
	}
	entry.ID = id
	return next, entry, nil
}

// timestamp keeps entry times non-decreasing across the tenant's latest
// session even if the wall clock steps backwards.
func (r *Register) timestamp(prev []LedgerEntry) time.Time {
	now := r.clock.Now().UTC()
	if n := len(prev); n > 0 && now.Before(prev[n-1].Timestamp) {
		return prev[n-1].Timestamp
	}
	return now
}

func newEvent(tenantID TenantID, cmd Command, s Session, e LedgerEntry, err error, at time.Time) Event {
	ev := Event{
		Type:       eventTypeFor(cmd.Kind),
		TenantID:   tenantID,
		SessionID:  s.ID,
		EntryID:    e.ID,
		Command:    cmd.Kind,
		Amount:     cmd.Amount,
		Balance:    s.Balance,
		Status:     s.Status,
		Notes:      cmd.Notes,
		OccurredAt: at,
	}
	if err != nil {
		ev.Type = EventCommandRejected
		ev.Code = CodeOf(err)
		ev.Error = err.Error()
		if ev.Code == CodeInvalidAmount {
			// an out-of-bounds decimal is never rendered by sinks
			ev.Amount = decimal.Zero
		}
	}
	return ev
}

func (r *Register) publish(ctx context.Context, ev Event) {
	if r.sink == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultPublishTimeout)
	defer cancel()

	if err := r.sink.Publish(pctx, ev); err != nil {
		logger.Error("publish register event", err, logger.Fields{
			"tenant": ev.TenantID,
			"type":   ev.Type,
		})
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// Status projects the tenant's most recent session.
func (r *Register) Status(ctx context.Context, tenantID TenantID) (Session, error) {
	if tenantID == "" {
		return Session{}, ErrTenantRequired
	}
	lock := r.tenantLock(tenantID)
	lock.RLock()
	defer lock.RUnlock()

	opCtx, cancel := r.opContext(ctx)
	defer cancel()

	s, _, err := r.ledger.Current(opCtx, tenantID)
	if err != nil {
		return Session{}, err
	}
	s.TenantID = tenantID
	return s, nil
}

// Entries returns the ordered movements of a session. An empty sessionID
// means the tenant's most recent session.
func (r *Register) Entries(ctx context.Context, tenantID TenantID, sessionID SessionID) ([]LedgerEntry, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	lock := r.tenantLock(tenantID)
	lock.RLock()
	defer lock.RUnlock()

	opCtx, cancel := r.opContext(ctx)
	defer cancel()

	if sessionID == "" {
		_, entries, err := r.ledger.Current(opCtx, tenantID)
		return entries, err
	}
	_, entries, err := r.ledger.Project(opCtx, tenantID, sessionID)
	return entries, err
}

// SessionAt reconstructs a session as it stood after its first n entries.
func (r *Register) SessionAt(ctx context.Context, tenantID TenantID, sessionID SessionID, n int) (Session, error) {
	entries, err := r.Entries(ctx, tenantID, sessionID)
	if err != nil {
		return Session{}, err
	}
	s := ProjectThrough(entries, n)
	s.TenantID = tenantID
	return s, nil
}

// Sessions returns the cached summaries, newest first. The cache is for
// listing only; guards always read the ledger.
func (r *Register) Sessions(ctx context.Context, tenantID TenantID) ([]Session, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	opCtx, cancel := r.opContext(ctx)
	defer cancel()

	sessions, err := r.store.Summaries(opCtx, tenantID)
	if err != nil {
		return nil, storageErr("list summaries", err)
	}
	return sessions, nil
}

// Tenants lists every company with register activity.
func (r *Register) Tenants(ctx context.Context) ([]TenantID, error) {
	opCtx, cancel := r.opContext(ctx)
	defer cancel()

	tenants, err := r.store.Tenants(opCtx)
	if err != nil {
		return nil, storageErr("list tenants", err)
	}
	return tenants, nil
}
