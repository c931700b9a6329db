package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scope groups scene entries that share a lifecycle in the browser.
type Scope string

const (
	ScopeObject  Scope = "object"
	ScopeControl Scope = "control"
)

// Store keeps the controller-side view of the scene and the ledger of
// correlation ids that already received their reply.
type Store interface {
	Put(ctx context.Context, scope Scope, id uuid.UUID, kind string) error
	Delete(ctx context.Context, scope Scope, id uuid.UUID) error
	Clear(ctx context.Context, scope Scope) error
	List(ctx context.Context, scope Scope) (map[uuid.UUID]string, error)
	IsProcessed(ctx context.Context, id uuid.UUID) (bool, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, ttl time.Duration) error
}

type MemoryStore struct {
	mu        sync.RWMutex
	scenes    map[Scope]map[uuid.UUID]string
	processed map[uuid.UUID]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scenes:    make(map[Scope]map[uuid.UUID]string),
		processed: make(map[uuid.UUID]time.Time),
	}
}

func (m *MemoryStore) Put(_ context.Context, scope Scope, id uuid.UUID, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.scenes[scope]
	if !ok {
		entries = make(map[uuid.UUID]string)
		m.scenes[scope] = entries
	}
	entries[id] = kind
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, scope Scope, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scenes[scope], id)
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, scope Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scenes, scope)
	return nil
}

func (m *MemoryStore) List(_ context.Context, scope Scope) (map[uuid.UUID]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uuid.UUID]string, len(m.scenes[scope]))
	for id, kind := range m.scenes[scope] {
		out[id] = kind
	}
	return out, nil
}

func (m *MemoryStore) IsProcessed(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	expireAt, ok := m.processed[id]
	if !ok {
		return false, nil
	}
	return time.Now().Before(expireAt), nil
}

func (m *MemoryStore) MarkProcessed(_ context.Context, id uuid.UUID, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for key, expireAt := range m.processed {
		if !now.Before(expireAt) {
			delete(m.processed, key)
		}
	}
	m.processed[id] = now.Add(ttl)
	return nil
}
