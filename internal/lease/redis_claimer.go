package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces lease keys.
const DefaultRedisPrefix = "nextrequest:lease:"

var (
	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
)

// RedisClaimer holds one key per source with SET NX PX. Only the token
// that set the key can extend or delete it.
type RedisClaimer struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisClaimer builds a RedisClaimer whose keys expire after ttl.
func NewRedisClaimer(client redis.Cmdable, prefix string, ttl time.Duration) *RedisClaimer {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultWindow
	}
	return &RedisClaimer{client: client, prefix: prefix, ttl: ttl}
}

// Claim sets the key if absent.
func (c *RedisClaimer) Claim(ctx context.Context, source, token string, _ time.Time) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.key(source), token, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Renew pushes the key's expiry out by the full ttl.
func (c *RedisClaimer) Renew(ctx context.Context, source, token string, _ time.Time) error {
	res, err := extendScript.Run(ctx, c.client, []string{c.key(source)}, token, c.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis extend: %w", err)
	}
	if res == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Release deletes the key if token still owns it.
func (c *RedisClaimer) Release(ctx context.Context, source, token string) error {
	if _, err := releaseScript.Run(ctx, c.client, []string{c.key(source)}, token).Int(); err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

func (c *RedisClaimer) key(source string) string {
	return c.prefix + source
}
