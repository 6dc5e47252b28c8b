package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/cardlinkhq/settle/internal/money"
)

type hold struct {
	address string
	amount  string
}

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	balances map[string]*Balance
	entries  []*Entry
	deposits map[string]bool
	holds    map[string]hold // recordID -> custody
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*Balance),
		entries:  make([]*Entry, 0),
		deposits: make(map[string]bool),
		holds:    make(map[string]hold),
	}
}

func newBalance(address string) *Balance {
	return &Balance{
		Address:   address,
		Available: "0.000000",
		Held:      "0.000000",
		TotalIn:   "0.000000",
		TotalOut:  "0.000000",
		UpdatedAt: time.Now(),
	}
}

func (m *MemoryStore) getOrCreate(address string) *Balance {
	bal, ok := m.balances[address]
	if !ok {
		bal = newBalance(address)
		m.balances[address] = bal
	}
	return bal
}

func (m *MemoryStore) GetBalance(ctx context.Context, address string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if bal, ok := m.balances[address]; ok {
		cp := *bal
		return &cp, nil
	}
	return newBalance(address), nil
}

func (m *MemoryStore) Deposit(ctx context.Context, address, amount, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deposits[reference] {
		return ErrDuplicateDeposit
	}

	bal := m.getOrCreate(address)

	avail, _ := money.Parse(bal.Available)
	totalIn, _ := money.Parse(bal.TotalIn)
	add, _ := money.Parse(amount)

	avail.Add(avail, add)
	totalIn.Add(totalIn, add)
	bal.Available = money.Format(avail)
	bal.TotalIn = money.Format(totalIn)
	bal.UpdatedAt = time.Now()

	m.deposits[reference] = true
	m.entries = append(m.entries, &Entry{
		ID:          "entry_deposit_" + reference,
		Address:     address,
		Type:        "deposit",
		Amount:      amount,
		Reference:   reference,
		Description: "deposit",
		CreatedAt:   time.Now(),
	})

	return nil
}

func (m *MemoryStore) HasDeposit(ctx context.Context, reference string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deposits[reference], nil
}

func (m *MemoryStore) Debit(ctx context.Context, address, amount, reference, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[address]
	if !ok {
		return ErrAccountNotFound
	}

	avail, _ := money.Parse(bal.Available)
	totalOut, _ := money.Parse(bal.TotalOut)
	sub, _ := money.Parse(amount)

	if avail.Cmp(sub) < 0 {
		return ErrInsufficientBalance
	}

	avail.Sub(avail, sub)
	totalOut.Add(totalOut, sub)
	bal.Available = money.Format(avail)
	bal.TotalOut = money.Format(totalOut)
	bal.UpdatedAt = time.Now()

	m.entries = append(m.entries, &Entry{
		ID:          "entry_debit_" + reference,
		Address:     address,
		Type:        "debit",
		Amount:      amount,
		Reference:   reference,
		Description: description,
		CreatedAt:   time.Now(),
	})

	return nil
}

func (m *MemoryStore) Credit(ctx context.Context, address, amount, reference, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.getOrCreate(address)

	avail, _ := money.Parse(bal.Available)
	totalIn, _ := money.Parse(bal.TotalIn)
	add, _ := money.Parse(amount)

	avail.Add(avail, add)
	totalIn.Add(totalIn, add)
	bal.Available = money.Format(avail)
	bal.TotalIn = money.Format(totalIn)
	bal.UpdatedAt = time.Now()

	m.entries = append(m.entries, &Entry{
		ID:          "entry_credit_" + reference,
		Address:     address,
		Type:        "credit",
		Amount:      amount,
		Reference:   reference,
		Description: description,
		CreatedAt:   time.Now(),
	})

	return nil
}

func (m *MemoryStore) Hold(ctx context.Context, address, amount, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[address]
	if !ok {
		return ErrAccountNotFound
	}

	avail, _ := money.Parse(bal.Available)
	held, _ := money.Parse(bal.Held)
	sub, _ := money.Parse(amount)

	if avail.Cmp(sub) < 0 {
		return ErrInsufficientBalance
	}

	avail.Sub(avail, sub)
	held.Add(held, sub)
	bal.Available = money.Format(avail)
	bal.Held = money.Format(held)
	bal.UpdatedAt = time.Now()

	m.holds[recordID] = hold{address: address, amount: money.Format(sub)}
	m.entries = append(m.entries, &Entry{
		ID:          "entry_hold_" + recordID,
		Address:     address,
		Type:        "hold",
		Amount:      amount,
		Reference:   recordID,
		Description: "custody_hold",
		CreatedAt:   time.Now(),
	})

	return nil
}

func (m *MemoryStore) SettleHold(ctx context.Context, recordID string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holds[recordID]
	if !ok {
		return "", "", ErrHoldNotFound
	}

	bal, ok := m.balances[h.address]
	if !ok {
		return "", "", ErrAccountNotFound
	}

	held, _ := money.Parse(bal.Held)
	totalOut, _ := money.Parse(bal.TotalOut)
	sub, _ := money.Parse(h.amount)

	held.Sub(held, sub)
	totalOut.Add(totalOut, sub)
	bal.Held = money.Format(held)
	bal.TotalOut = money.Format(totalOut)
	bal.UpdatedAt = time.Now()

	delete(m.holds, recordID)
	m.entries = append(m.entries, &Entry{
		ID:          "entry_hold_settled_" + recordID,
		Address:     h.address,
		Type:        "hold_settled",
		Amount:      h.amount,
		Reference:   recordID,
		Description: "custody_settled",
		CreatedAt:   time.Now(),
	})

	return h.address, h.amount, nil
}

func (m *MemoryStore) RefundHold(ctx context.Context, recordID string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holds[recordID]
	if !ok {
		return "", "", ErrHoldNotFound
	}

	bal, ok := m.balances[h.address]
	if !ok {
		return "", "", ErrAccountNotFound
	}

	avail, _ := money.Parse(bal.Available)
	held, _ := money.Parse(bal.Held)
	add, _ := money.Parse(h.amount)

	held.Sub(held, add)
	avail.Add(avail, add)
	bal.Held = money.Format(held)
	bal.Available = money.Format(avail)
	bal.UpdatedAt = time.Now()

	delete(m.holds, recordID)
	m.entries = append(m.entries, &Entry{
		ID:          "entry_hold_refunded_" + recordID,
		Address:     h.address,
		Type:        "hold_refunded",
		Amount:      h.amount,
		Reference:   recordID,
		Description: "custody_refunded",
		CreatedAt:   time.Now(),
	})

	return h.address, h.amount, nil
}

func (m *MemoryStore) HeldFor(ctx context.Context, recordID string) (string, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.holds[recordID]
	if !ok {
		return "", "", ErrHoldNotFound
	}
	return h.address, h.amount, nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, address string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].Address == address {
			result = append(result, m.entries[i])
		}
	}
	return result, nil
}
