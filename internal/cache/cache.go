// Package cache provides the advisory seen-URL cache consulted before the
// document store during detail fetching.
package cache

import (
	"errors"
	"time"
)

// ErrMiss is returned by Service.Get when the key is absent.
var ErrMiss = errors.New("cache miss")

// Service represents a generic byte cache.
type Service interface {
	// Get retrieves a value from the cache
	Get(key string) ([]byte, error)

	// Set stores a value in the cache with an expiration time
	Set(key string, value []byte, expiration time.Duration) error
}
