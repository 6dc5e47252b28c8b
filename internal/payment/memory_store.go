package payment

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory payment store for demo/development mode.
type MemoryStore struct {
	payments map[string]*Payment
	order    []string
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory payment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payments: make(map[string]*Payment)}
}

func (m *MemoryStore) Insert(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.payments[p.ID] = &cp
	m.order = append(m.order, p.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListByParty(ctx context.Context, address string, limit int) ([]*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Payment
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		p := m.payments[m.order[i]]
		if strings.EqualFold(p.Payer, address) || strings.EqualFold(p.Payee, address) {
			cp := *p
			result = append(result, &cp)
		}
	}
	return result, nil
}
