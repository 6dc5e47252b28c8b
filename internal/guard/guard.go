// Package guard provides the stateless validation helpers and the
// per-record re-entrancy lock shared by the payment and escrow engines.
//
// Every mutation follows checks-effects-interactions ordering: the helpers
// here run first (checks), record and balance state reach their post-
// condition next (effects), and only then does any value land on a
// counterparty (interactions). The lock table is the single concurrency
// primitive: a call that reaches a record while another call (nested
// callback or concurrent request) is still inside it is rejected, never
// queued.
package guard

import (
	"errors"
	"strings"
	"sync"

	"github.com/cardlinkhq/settle/internal/money"
)

var (
	ErrInvalidAddress = errors.New("invalid or zero address")
	ErrSelfTransfer   = errors.New("payer and payee cannot be the same address")
	ErrZeroAmount     = errors.New("amount must be greater than zero")
	ErrNotAuthorized  = errors.New("caller not authorized for this operation")
	ErrReentrancy     = errors.New("record is busy: re-entrant call rejected")
	ErrValueMismatch  = errors.New("deposited value does not equal stated amount")
)

// ZeroAddress is the null sentinel no real participant may use.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// RequireAddress fails with ErrInvalidAddress if addr is malformed or the
// zero sentinel.
func RequireAddress(addr string) error {
	if !isHexAddress(addr) || strings.EqualFold(addr, ZeroAddress) {
		return ErrInvalidAddress
	}
	return nil
}

// RequireDistinctParties fails with ErrSelfTransfer if a == b.
func RequireDistinctParties(a, b string) error {
	if strings.EqualFold(a, b) {
		return ErrSelfTransfer
	}
	return nil
}

// RequirePositiveAmount fails with ErrZeroAmount unless amount parses to a
// value strictly greater than zero.
func RequirePositiveAmount(amount string) error {
	if !money.IsPositive(amount) {
		return ErrZeroAmount
	}
	return nil
}

// RequireValue fails with ErrValueMismatch unless the value carried by the
// call equals the stated amount.
func RequireValue(value, amount string) error {
	if !money.Equal(value, amount) {
		return ErrValueMismatch
	}
	return nil
}

// Participant is anything with a payer and a payee.
type Participant interface {
	PayerAddress() string
	PayeeAddress() string
}

// RequireParticipant fails with ErrNotAuthorized unless caller is the payer
// or the payee of the record.
func RequireParticipant(p Participant, caller string) error {
	if strings.EqualFold(caller, p.PayerAddress()) || strings.EqualFold(caller, p.PayeeAddress()) {
		return nil
	}
	return ErrNotAuthorized
}

func isHexAddress(addr string) bool {
	if len(addr) != 42 || addr[0] != '0' || (addr[1] != 'x' && addr[1] != 'X') {
		return false
	}
	for _, c := range addr[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// Locks is a per-record busy-flag table. Acquire sets the flag for an id and
// fails with ErrReentrancy if it is already set; Release clears it. A nested
// callback runs on the same goroutine as the outer call, so the flag must
// reject rather than block; a blocking mutex would self-deadlock.
type Locks struct {
	mu   sync.Mutex
	busy map[string]bool
}

// NewLocks creates an empty lock table.
func NewLocks() *Locks {
	return &Locks{busy: make(map[string]bool)}
}

// Acquire marks id busy. Callers must Release with the same id on every
// path out of the critical section.
func (l *Locks) Acquire(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy[id] {
		return ErrReentrancy
	}
	l.busy[id] = true
	return nil
}

// Release clears the busy flag for id.
func (l *Locks) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.busy, id)
}
