// Package events provides the append-only audit log for engine activity.
//
// Every payment and escrow transition appends exactly one event. The log is
// strictly ordered by sequence number, never mutated, and can be replayed to
// reconstruct which records still hold custody.
package events

import (
	"context"
	"errors"
	"time"
)

// Event types appended by the engine.
const (
	TypePaymentCreated = "payment.created"
	TypeEscrowCreated  = "escrow.created"
	TypeEscrowReleased = "escrow.released"
	TypeEscrowRefunded = "escrow.refunded"
	TypeEscrowDisputed = "escrow.disputed"
	TypeEscrowResolved = "escrow.resolved"

	// TypeCreditFailed records an interactions-phase credit that never
	// landed. The debit or hold settlement already committed, so the amount
	// needs manual reconciliation; Payee carries the intended target.
	TypeCreditFailed = "credit.failed"
)

// Resolution outcomes carried on escrow.resolved events.
const (
	OutcomeReleasedToPayee = "released_to_payee"
	OutcomeRefundedToPayer = "refunded_to_payer"
)

var ErrNotFound = errors.New("event not found")

// Event is an immutable audit record.
type Event struct {
	Seq       int64     `json:"seq"`
	Type      string    `json:"type"`
	RecordID  string    `json:"recordId"`
	Payer     string    `json:"payer"`
	Payee     string    `json:"payee"`
	Amount    string    `json:"amount"`
	Fee       string    `json:"fee,omitempty"`
	Net       string    `json:"net,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists the append-only event log. Append assigns the sequence
// number; callers never set Seq themselves.
type Store interface {
	Append(ctx context.Context, event *Event) error
	GetByRecord(ctx context.Context, recordID string) ([]*Event, error)
	ListByAddress(ctx context.Context, address string, limit int) ([]*Event, error)
	ListAfter(ctx context.Context, afterSeq int64, limit int) ([]*Event, error)
}

// Hook is invoked after an event is durably appended.
type Hook func(event *Event)

// Log wraps a Store and fans appended events out to registered hooks
// (realtime broadcast, metrics).
type Log struct {
	store Store
	hooks []Hook
}

// NewLog creates an event log backed by the given store. Hooks must be
// registered before the log is shared across goroutines.
func NewLog(store Store) *Log {
	return &Log{store: store}
}

// OnAppend registers a hook to run after every successful append.
func (l *Log) OnAppend(hook Hook) {
	l.hooks = append(l.hooks, hook)
}

// Append stores the event and notifies hooks.
func (l *Log) Append(ctx context.Context, event *Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if err := l.store.Append(ctx, event); err != nil {
		return err
	}
	for _, hook := range l.hooks {
		hook(event)
	}
	return nil
}

// GetByRecord returns all events for a record in sequence order.
func (l *Log) GetByRecord(ctx context.Context, recordID string) ([]*Event, error) {
	return l.store.GetByRecord(ctx, recordID)
}

// ListByAddress returns the most recent events involving an address.
func (l *Log) ListByAddress(ctx context.Context, address string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.ListByAddress(ctx, address, limit)
}

// ListAfter returns events with Seq greater than afterSeq, oldest first.
func (l *Log) ListAfter(ctx context.Context, afterSeq int64, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.store.ListAfter(ctx, afterSeq, limit)
}

// OpenCustody replays the log and returns the escrow records that still hold
// funds: created but not yet released, refunded, or resolved.
func OpenCustody(events []*Event) map[string]*Event {
	open := make(map[string]*Event)
	for _, e := range events {
		switch e.Type {
		case TypeEscrowCreated:
			open[e.RecordID] = e
		case TypeEscrowReleased, TypeEscrowRefunded, TypeEscrowResolved:
			delete(open, e.RecordID)
		}
	}
	return open
}

// FailedCredits filters the replay for credits that never landed. Each entry
// is money the engine owes an address until an operator reconciles it.
func FailedCredits(events []*Event) []*Event {
	var failed []*Event
	for _, e := range events {
		if e.Type == TypeCreditFailed {
			failed = append(failed, e)
		}
	}
	return failed
}
