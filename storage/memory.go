package storage

import (
	"context"
	"sync"
)

// MemoryProvider is an in-process storage adapter, grounded on
// crdtstorage.MemoryAdapter's map-plus-mutex shape. Used in tests and for a
// workspace that needs no durability across process restarts.
type MemoryProvider struct {
	mu      sync.RWMutex
	updates map[string]Update
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{updates: make(map[string]Update)}
}

func (p *MemoryProvider) Load(ctx context.Context, workspaceID string) (*Update, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.updates[workspaceID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (p *MemoryProvider) Persist(ctx context.Context, workspaceID string, update Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates[workspaceID] = update
	return nil
}

func (p *MemoryProvider) ListUpdates(ctx context.Context, workspaceID string, since map[string]uint64) ([]Update, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.updates[workspaceID]
	if !ok || !advancesPast(u.StateVector, since) {
		return nil, nil
	}
	return []Update{u}, nil
}
