package cash

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DOMAIN EVENTS
// =============================================================================

type EventType string

const (
	EventSessionOpened   EventType = "session_opened"
	EventCashSupplied    EventType = "cash_supplied"
	EventCashWithdrawn   EventType = "cash_withdrawn"
	EventSessionClosed   EventType = "session_closed"
	EventCommandRejected EventType = "command_rejected"
)

// Event is emitted after every command, successful or not. Consumers render
// notifications from it; the engine does not depend on delivery.
type Event struct {
	Type       EventType       `json:"type"`
	TenantID   TenantID        `json:"tenant_id"`
	SessionID  SessionID       `json:"session_id,omitempty"`
	EntryID    EntryID         `json:"entry_id,omitempty"`
	Command    EntryKind       `json:"command"`
	Amount     decimal.Decimal `json:"amount"`
	Balance    decimal.Decimal `json:"balance"`
	Status     Status          `json:"status"`
	Notes      string          `json:"notes,omitempty"`
	Code       ErrorCode       `json:"code,omitempty"`
	Error      string          `json:"error,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func eventTypeFor(kind EntryKind) EventType {
	switch kind {
	case KindOpen:
		return EventSessionOpened
	case KindSupply:
		return EventCashSupplied
	case KindWithdraw:
		return EventCashWithdrawn
	case KindClose:
		return EventSessionClosed
	}
	return EventCommandRejected
}

// Sink receives events. Publish errors are logged by the caller and never
// fail the command that produced the event.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) error { return nil }
