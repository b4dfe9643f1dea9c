// internal/cache/cache.go
// Package cache provides the fast KV cache tier used for normalized
// requirements, search results, and the access token. Entries carry a TTL
// and expire lazily on read.
package cache

import (
	"strings"
	"sync"
	"time"
)

// Cache is the KV cache contract shared by the schema resolver and the
// token manager. Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the cached value for key, or false when the key is
	// absent or expired.
	Get(key string) (interface{}, bool)

	// Set stores value under key for the given TTL. A non-positive TTL
	// stores the value without expiry.
	Set(key string, value interface{}, ttl time.Duration)

	// Delete evicts a single key.
	Delete(key string)

	// DeletePrefix evicts every key beginning with prefix and returns the
	// number of evicted entries.
	DeletePrefix(prefix string) int

	// Flush evicts every entry.
	Flush()
}

// entry is a single cached value with its expiry.
type entry struct {
	value     interface{}
	expiresAt time.Time // Zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory implements Cache with a mutex-guarded map. It is the default
// in-process tier; a shared backend can be substituted behind the same
// interface without touching callers.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

func (m *Memory) Get(key string) (interface{}, bool) {
	m.mu.RLock()
	e, exists := m.entries[key]
	m.mu.RUnlock()
	if !exists {
		return nil, false
	}

	if e.expired(m.now()) {
		m.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have
		// replaced the entry.
		if cur, ok := m.entries[key]; ok && cur.expired(m.now()) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false
	}

	return e.value, true
}

func (m *Memory) Set(key string, value interface{}, ttl time.Duration) {
	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
}

func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

func (m *Memory) DeletePrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
			evicted++
		}
	}
	return evicted
}

func (m *Memory) Flush() {
	m.mu.Lock()
	m.entries = make(map[string]*entry)
	m.mu.Unlock()
}
