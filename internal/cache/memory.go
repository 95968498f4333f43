package cache

import (
	"context"
	"sync"
	"time"

	"crop-planner/internal/models"
)

type memoryEntry struct {
	state     models.ViewState
	expiresAt time.Time
}

// MemoryStore is an in-process Store for single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time

	lastSweep time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (*models.ViewState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[stateKey(sessionID)]
	if !ok {
		return nil, ErrNotFound
	}
	if m.ttl > 0 && m.now().After(entry.expiresAt) {
		delete(m.entries, stateKey(sessionID))
		return nil, ErrNotFound
	}

	state := entry.state
	if state.Result != nil {
		result := *state.Result
		state.Result = &result
	}
	return &state, nil
}

func (m *MemoryStore) Save(_ context.Context, sessionID string, state *models.ViewState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *state
	if state.Result != nil {
		result := *state.Result
		stored.Result = &result
	}
	now := m.now()
	m.sweep(now)
	m.entries[stateKey(sessionID)] = memoryEntry{
		state:     stored,
		expiresAt: now.Add(m.ttl),
	}
	return nil
}

// sweep drops expired entries at most once per ttl. Caller holds mu.
func (m *MemoryStore) sweep(now time.Time) {
	if m.ttl <= 0 || now.Sub(m.lastSweep) < m.ttl {
		return
	}
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
		}
	}
	m.lastSweep = now
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, stateKey(sessionID))
	return nil
}
