package cache

import (
	"context"
	"sync"
	"time"

	"bookrec/internal/clock"
)

type memoryEntry struct {
	value    []byte
	storedAt time.Time
	ttl      time.Duration
}

// MemoryStore keeps entries in process memory. Entries are evicted lazily on
// read once now - storedAt exceeds their TTL; there is no background sweep.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
	clock clock.Clock
}

// NewMemoryStore creates an empty store. A nil clock means wall time.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryEntry),
		clock: clock.OrReal(clk),
	}
}

func (c *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}

	now := c.clock.Now()
	if now.Sub(entry.storedAt) > entry.ttl {
		c.mu.Lock()
		if e, exists := c.items[key]; exists && now.Sub(e.storedAt) > e.ttl {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}

	return entry.value, true, nil
}

// Set stores value under key. A non-positive ttl removes the key.
func (c *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil
	}

	// Copy to decouple from caller's buffer
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	c.mu.Lock()
	c.items[key] = memoryEntry{
		value:    valueCopy,
		storedAt: c.clock.Now(),
		ttl:      ttl,
	}
	c.mu.Unlock()

	return nil
}

func (c *MemoryStore) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// Len returns the number of entries held, expired or not.
func (c *MemoryStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear removes all entries.
func (c *MemoryStore) Clear() {
	c.mu.Lock()
	c.items = make(map[string]memoryEntry)
	c.mu.Unlock()
}
