package repository

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	expiresAt time.Time
}

// MemoryIdempotencyStore is the in-process fallback: keys survive only
// as long as the process does.
type MemoryIdempotencyStore struct {
	mu   sync.Mutex
	keys map[string]memoryEntry
	ttl  time.Duration
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		keys: make(map[string]memoryEntry),
		ttl:  ttl,
	}
}

func (r *MemoryIdempotencyStore) Acquire(ctx context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if entry, ok := r.keys[key]; ok && now.Before(entry.expiresAt) {
		return false, nil
	}
	r.keys[key] = memoryEntry{expiresAt: now.Add(r.ttl)}
	return true, nil
}

func (r *MemoryIdempotencyStore) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, key)
	return nil
}
