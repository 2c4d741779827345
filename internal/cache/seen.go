package cache

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/nextrequest-crawler/internal/hash/sha256"
)

const seenPrefix = "nr:seen:"

// SeenCache remembers item URLs already written to the store. It is
// advisory: lookup failures count as a miss and the store stays the source
// of truth for dedup. A nil *SeenCache is a valid no-op cache.
type SeenCache struct {
	svc    Service
	hasher *sha256.Hasher
	ttl    time.Duration
	logger *zap.Logger
}

// NewSeenCache wraps svc. Keys are SHA-256 digests of the URL so they fit
// memcached's key limits.
func NewSeenCache(svc Service, ttl time.Duration, logger *zap.Logger) *SeenCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SeenCache{svc: svc, hasher: sha256.New(), ttl: ttl, logger: logger}
}

// Seen reports whether url was previously marked.
func (c *SeenCache) Seen(url string) bool {
	if c == nil || c.svc == nil {
		return false
	}
	_, err := c.svc.Get(c.key(url))
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrMiss) {
		c.logger.Warn("seen cache lookup failed", zap.String("url", url), zap.Error(err))
	}
	return false
}

// MarkSeen records every url.
func (c *SeenCache) MarkSeen(urls ...string) {
	if c == nil || c.svc == nil {
		return
	}
	for _, url := range urls {
		if err := c.svc.Set(c.key(url), []byte{1}, c.ttl); err != nil {
			c.logger.Warn("seen cache write failed", zap.String("url", url), zap.Error(err))
			return
		}
	}
}

func (c *SeenCache) key(url string) string {
	return seenPrefix + c.hasher.HashString(url)
}
