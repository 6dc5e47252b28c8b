package events

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory event store for demo/development mode.
type MemoryStore struct {
	events  []*Event
	nextSeq int64
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextSeq: 1}
}

func (m *MemoryStore) Append(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *event
	cp.Seq = m.nextSeq
	m.nextSeq++
	m.events = append(m.events, &cp)

	event.Seq = cp.Seq
	return nil
}

func (m *MemoryStore) GetByRecord(ctx context.Context, recordID string) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Event
	for _, e := range m.events {
		if e.RecordID == recordID {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) ListByAddress(ctx context.Context, address string, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addr := strings.ToLower(address)
	var result []*Event
	for i := len(m.events) - 1; i >= 0 && len(result) < limit; i-- {
		e := m.events[i]
		if strings.EqualFold(e.Payer, addr) || strings.EqualFold(e.Payee, addr) {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) ListAfter(ctx context.Context, afterSeq int64, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Event
	for _, e := range m.events {
		if e.Seq > afterSeq {
			cp := *e
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}
