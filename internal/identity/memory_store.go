package identity

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory participant store for demo/development mode.
type MemoryStore struct {
	participants map[string]*Participant
	order        []string
	mu           sync.RWMutex
}

// NewMemoryStore creates a new in-memory participant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{participants: make(map[string]*Participant)}
}

func (m *MemoryStore) Register(ctx context.Context, p *Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.participants[p.Address]; ok {
		return ErrAlreadyRegistered
	}
	cp := *p
	m.participants[p.Address] = &cp
	m.order = append(m.order, p.Address)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, address string) (*Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.participants[address]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]*Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Participant
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		cp := *m.participants[m.order[i]]
		result = append(result, &cp)
	}
	return result, nil
}
