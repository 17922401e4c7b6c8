// Package events holds cash.Sink implementations that don't need a broker.
package events

import (
	"context"
	"errors"
	"io"

	"github.com/warp/cashbox/cash"
	"github.com/warp/cashbox/logger"
)

// LogSink writes every event as a structured log line.
type LogSink struct{}

var _ cash.Sink = LogSink{}

func (LogSink) Publish(_ context.Context, ev cash.Event) error {
	fields := logger.Fields{
		"tenant":  ev.TenantID,
		"session": ev.SessionID,
		"command": ev.Command,
		"amount":  ev.Amount.String(),
		"balance": ev.Balance.String(),
		"status":  ev.Status,
	}
	if ev.Notes != "" {
		fields["notes"] = ev.Notes
	}
	if ev.Type == cash.EventCommandRejected {
		fields["code"] = ev.Code
		logger.Warn(string(ev.Type), fields)
		return nil
	}
	fields["entry"] = ev.EntryID
	logger.Info(string(ev.Type), fields)
	return nil
}

// Fanout publishes to every sink in order. One sink failing doesn't stop
// the others; the errors are joined.
type Fanout []cash.Sink

var _ cash.Sink = Fanout(nil)

func (f Fanout) Publish(ctx context.Context, ev cash.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (f Fanout) Close() error {
	var errs []error
	for _, s := range f {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
