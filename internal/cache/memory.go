package cache

import (
	"sync"
	"time"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryService is an in-process Service, used when no memcached servers
// are configured.
type MemoryService struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryService builds an empty in-process cache.
func NewMemoryService() *MemoryService {
	return &MemoryService{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get returns the value for key or ErrMiss.
func (m *MemoryService) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, ErrMiss
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores value; a non-positive expiration never expires.
func (m *MemoryService) Set(key string, value []byte, expiration time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if expiration > 0 {
		e.expires = m.now().Add(expiration)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}
