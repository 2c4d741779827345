package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// maxRelativeExpiration is the longest expiration memcached reads as an
// offset; larger values are taken as absolute Unix times.
const maxRelativeExpiration = 30 * 24 * time.Hour

// MemcacheService implements Service using memcached.
type MemcacheService struct {
	client *memcache.Client
	now    func() time.Time
}

// NewMemcacheService creates a memcache-backed service for the given servers.
func NewMemcacheService(servers ...string) *MemcacheService {
	client := memcache.New(servers...)
	client.Timeout = 250 * time.Millisecond
	return &MemcacheService{client: client, now: time.Now}
}

// Get retrieves a value from memcache
func (m *MemcacheService) Get(key string) ([]byte, error) {
	item, err := m.client.Get(key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("memcache get: %w", err)
	}
	return item.Value, nil
}

// Set stores a value in memcache with an expiration time
func (m *MemcacheService) Set(key string, value []byte, expiration time.Duration) error {
	if err := m.client.Set(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: expirationSeconds(expiration, m.now()),
	}); err != nil {
		return fmt.Errorf("memcache set: %w", err)
	}
	return nil
}

func expirationSeconds(d time.Duration, now time.Time) int32 {
	if d <= 0 {
		return 0
	}
	if d > maxRelativeExpiration {
		return int32(now.Add(d).Unix())
	}
	return int32(d / time.Second)
}

// Ping checks connectivity to every configured server.
func (m *MemcacheService) Ping() error {
	if err := m.client.Ping(); err != nil {
		return fmt.Errorf("memcache ping: %w", err)
	}
	return nil
}
