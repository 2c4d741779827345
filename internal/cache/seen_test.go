package cache

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingService struct{}

func (failingService) Get(string) ([]byte, error) { return nil, errors.New("down") }
func (failingService) Set(string, []byte, time.Duration) error { return errors.New("down") }

func TestSeenCacheRoundTrip(t *testing.T) {
	t.Parallel()

	svc := NewMemoryService()
	c := NewSeenCache(svc, time.Hour, nil)
	url := "https://a.nextrequest.com/client/requests/1"

	assert.False(t, c.Seen(url))
	c.MarkSeen(url)
	assert.True(t, c.Seen(url))
	assert.False(t, c.Seen(url+"0"))

	key := c.key(url)
	assert.True(t, strings.HasPrefix(key, seenPrefix))
	assert.Len(t, key, len(seenPrefix)+64)
}

func TestSeenCacheFailuresAreMisses(t *testing.T) {
	t.Parallel()

	c := NewSeenCache(failingService{}, time.Hour, nil)
	c.MarkSeen("https://a/1")
	assert.False(t, c.Seen("https://a/1"))
}

func TestNilSeenCache(t *testing.T) {
	t.Parallel()

	var c *SeenCache
	c.MarkSeen("https://a/1")
	assert.False(t, c.Seen("https://a/1"))
}

func TestMemoryServiceExpiry(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	svc := NewMemoryService()
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.Set("k", []byte("v"), time.Minute))
	v, err := svc.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	now = now.Add(2 * time.Minute)
	_, err = svc.Get("k")
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, svc.Set("forever", []byte("v"), 0))
	now = now.Add(365 * 24 * time.Hour)
	v, err = svc.Get("forever")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}
