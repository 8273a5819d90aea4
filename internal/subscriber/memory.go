package subscriber

import (
	"context"
	"sync"
)

// MemoryStore keeps subscribers in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	items  []*Subscriber
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Insert(ctx context.Context, sub *Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.items {
		if s.Email == sub.Email {
			return ErrDuplicateEmail
		}
	}

	m.nextID++
	sub.ID = m.nextID
	cp := *sub
	m.items = append(m.items, &cp)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id int64) (*Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, s := range m.items {
		if s.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return s, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, id int64, status Status) (*Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.items {
		if s.ID == id {
			s.Status = status
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) List(ctx context.Context) ([]*Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Subscriber, 0, len(m.items))
	for _, s := range m.items {
		cp := *s
		result = append(result, &cp)
	}
	return result, nil
}
