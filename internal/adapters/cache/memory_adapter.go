package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zatekoja/amrguard/internal/domain/providers"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryAdapter is a process-local CacheProvider used when Redis is disabled
type MemoryAdapter struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryAdapter creates an empty in-process cache
func NewMemoryAdapter() providers.CacheProvider {
	return newMemoryAdapter(time.Now)
}

func newMemoryAdapter(now func() time.Time) *MemoryAdapter {
	return &MemoryAdapter{entries: make(map[string]memoryEntry), now: now}
}

func (a *MemoryAdapter) lookup(key string) ([]byte, bool) {
	entry, ok := a.entries[key]
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && !a.now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

// Get retrieves a value from cache
func (a *MemoryAdapter) Get(_ context.Context, key string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if value, ok := a.lookup(key); ok {
		return value, nil
	}
	return nil, fmt.Errorf("key not found: %s", key)
}

// GetMulti retrieves the unexpired subset of keys
func (a *MemoryAdapter) GetMulti(_ context.Context, keys []string) (map[string][]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if value, ok := a.lookup(key); ok {
			out[key] = value
		}
	}
	return out, nil
}

// Set stores a value; a non-positive expiration never expires
func (a *MemoryAdapter) Set(_ context.Context, key string, value []byte, expirationSeconds int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[key] = a.entry(value, expirationSeconds)
	return nil
}

// SetMulti stores several values with the same expiration
func (a *MemoryAdapter) SetMulti(_ context.Context, items map[string][]byte, expirationSeconds int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, value := range items {
		a.entries[key] = a.entry(value, expirationSeconds)
	}
	return nil
}

func (a *MemoryAdapter) entry(value []byte, expirationSeconds int) memoryEntry {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if expirationSeconds > 0 {
		e.expiresAt = a.now().Add(time.Duration(expirationSeconds) * time.Second)
	}
	return e
}

// Delete removes a value from cache
func (a *MemoryAdapter) Delete(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, key)
	return nil
}
