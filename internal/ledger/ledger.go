// Package ledger tracks participant balances inside the Settle engine.
//
// Flow:
//  1. A participant deposits funds; the engine credits their balance
//  2. Payments debit the payer and credit payee plus fee recipient
//  3. Escrow funding moves payer funds into custody (held)
//  4. Release, refund, or resolution moves custody out again
package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cardlinkhq/settle/internal/money"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrDuplicateDeposit    = errors.New("deposit already processed")
	ErrHoldNotFound        = errors.New("hold not found")
)

// Entry represents a ledger entry
type Entry struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	Type        string    `json:"type"` // deposit, debit, credit, hold, hold_settled, hold_refunded
	Amount      string    `json:"amount"`
	Reference   string    `json:"reference,omitempty"` // payment ID, escrow ID, deposit reference
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Balance represents a participant's balance
type Balance struct {
	Address   string    `json:"address"`
	Available string    `json:"available"` // Can be spent
	Held      string    `json:"held"`      // Locked in escrow custody
	TotalIn   string    `json:"totalIn"`   // Lifetime credits
	TotalOut  string    `json:"totalOut"`  // Lifetime debits and settled holds
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists ledger data
type Store interface {
	GetBalance(ctx context.Context, address string) (*Balance, error)
	Deposit(ctx context.Context, address, amount, reference string) error
	HasDeposit(ctx context.Context, reference string) (bool, error)
	Debit(ctx context.Context, address, amount, reference, description string) error
	Credit(ctx context.Context, address, amount, reference, description string) error
	Hold(ctx context.Context, address, amount, recordID string) error
	SettleHold(ctx context.Context, recordID string) (address, amount string, err error)
	RefundHold(ctx context.Context, recordID string) (address, amount string, err error)
	HeldFor(ctx context.Context, recordID string) (address, amount string, err error)
	GetHistory(ctx context.Context, address string, limit int) ([]*Entry, error)
}

// CreditHook is invoked after funds land on a receiving account. Hooks run
// synchronously on the crediting goroutine but outside the store's critical
// section, so a hook may call back into the engine. Re-entrant calls against
// a record that is still mid-operation are rejected by the access guard.
type CreditHook func(address, amount, reference string)

// Ledger manages participant balances
type Ledger struct {
	store Store

	mu    sync.RWMutex
	hooks []CreditHook
}

// New creates a new ledger
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// OnCredit registers a hook to run after every successful credit.
func (l *Ledger) OnCredit(hook CreditHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook)
}

func (l *Ledger) fireCreditHooks(address, amount, reference string) {
	l.mu.RLock()
	hooks := make([]CreditHook, len(l.hooks))
	copy(hooks, l.hooks)
	l.mu.RUnlock()

	for _, hook := range hooks {
		hook(address, amount, reference)
	}
}

// GetBalance returns a participant's current balance
func (l *Ledger) GetBalance(ctx context.Context, address string) (*Balance, error) {
	return l.store.GetBalance(ctx, strings.ToLower(address))
}

// Deposit credits a participant's balance. Deposits are idempotent per
// reference: replaying the same reference returns ErrDuplicateDeposit.
func (l *Ledger) Deposit(ctx context.Context, address, amount, reference string) error {
	if !money.IsPositive(amount) {
		return ErrInvalidAmount
	}

	exists, err := l.store.HasDeposit(ctx, reference)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateDeposit
	}

	addr := strings.ToLower(address)
	if err := l.store.Deposit(ctx, addr, amount, reference); err != nil {
		return err
	}
	l.fireCreditHooks(addr, amount, reference)
	return nil
}

// Debit removes spendable funds from a participant's balance
func (l *Ledger) Debit(ctx context.Context, address, amount, reference, description string) error {
	if !money.IsPositive(amount) {
		return ErrInvalidAmount
	}
	return l.store.Debit(ctx, strings.ToLower(address), amount, reference, description)
}

// Credit adds spendable funds to a participant's balance and fires credit hooks
func (l *Ledger) Credit(ctx context.Context, address, amount, reference, description string) error {
	if !money.IsPositive(amount) {
		return ErrInvalidAmount
	}

	addr := strings.ToLower(address)
	if err := l.store.Credit(ctx, addr, amount, reference, description); err != nil {
		return err
	}
	l.fireCreditHooks(addr, amount, reference)
	return nil
}

// Hold moves spendable funds into custody for a record (escrow funding)
func (l *Ledger) Hold(ctx context.Context, address, amount, recordID string) error {
	if !money.IsPositive(amount) {
		return ErrInvalidAmount
	}
	return l.store.Hold(ctx, strings.ToLower(address), amount, recordID)
}

// SettleHold removes custody for a record and counts it as spent.
// The caller is responsible for crediting the receiving side.
// Returns the holder address and held amount.
func (l *Ledger) SettleHold(ctx context.Context, recordID string) (string, string, error) {
	return l.store.SettleHold(ctx, recordID)
}

// RefundHold returns custody for a record to the holder's available balance.
// Returns the holder address and refunded amount.
func (l *Ledger) RefundHold(ctx context.Context, recordID string) (string, string, error) {
	addr, amount, err := l.store.RefundHold(ctx, recordID)
	if err != nil {
		return "", "", err
	}
	l.fireCreditHooks(addr, amount, recordID)
	return addr, amount, nil
}

// HeldFor returns the holder and amount currently in custody for a record
func (l *Ledger) HeldFor(ctx context.Context, recordID string) (string, string, error) {
	return l.store.HeldFor(ctx, recordID)
}

// CanSpend checks if a participant has sufficient available balance
func (l *Ledger) CanSpend(ctx context.Context, address, amount string) (bool, error) {
	amountBig, ok := money.Parse(amount)
	if !ok {
		return false, ErrInvalidAmount
	}

	bal, err := l.store.GetBalance(ctx, strings.ToLower(address))
	if err != nil {
		return false, err
	}

	availableBig, _ := money.Parse(bal.Available)
	return availableBig.Cmp(amountBig) >= 0, nil
}

// GetHistory returns ledger entries for a participant
func (l *Ledger) GetHistory(ctx context.Context, address string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.GetHistory(ctx, strings.ToLower(address), limit)
}
