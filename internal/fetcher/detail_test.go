package fetcher

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nextrequest-crawler/internal/cache"
	"github.com/JakeFAU/nextrequest-crawler/internal/crawler"
	"github.com/JakeFAU/nextrequest-crawler/internal/storage/memory"
	"github.com/JakeFAU/nextrequest-crawler/internal/store"
)

type stubGetter struct {
	mu    sync.Mutex
	calls []string
	docs  map[string]crawler.Document
	err   error
}

func (s *stubGetter) Get(_ context.Context, rawURL string, _ url.Values) (crawler.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, rawURL)
	if s.err != nil {
		return nil, s.err
	}
	doc, ok := s.docs[rawURL]
	if !ok {
		return nil, nil
	}
	out := crawler.Document{}
	for k, v := range doc {
		out[k] = v
	}
	return out, nil
}

const source = "a.nextrequest.com"

func TestDetailFetcherAttachesURL(t *testing.T) {
	t.Parallel()

	getter := &stubGetter{docs: map[string]crawler.Document{
		"https://a.nextrequest.com/client/requests/1": {"title": "one"},
	}}
	f := NewDetailFetcher(source, crawler.Endpoints{}, memory.NewStore(), getter, nil, nil)

	doc, err := f.Fetch(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, crawler.Document{"title": "one", "url": "https://a.nextrequest.com/client/requests/1"}, doc)
}

func TestDetailFetcherSkipsStoredItems(t *testing.T) {
	t.Parallel()

	st := memory.NewStore()
	_, err := st.InsertItems(context.Background(), []store.Item{
		{URL: "https://a.nextrequest.com/client/requests/1", Domain: source},
	})
	require.NoError(t, err)

	getter := &stubGetter{}
	seen := cache.NewSeenCache(cache.NewMemoryService(), time.Hour, nil)
	f := NewDetailFetcher(source, crawler.Endpoints{}, st, getter, seen, nil)

	doc, err := f.Fetch(context.Background(), "1")
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.Empty(t, getter.calls, "no GET for a stored item")
	assert.True(t, seen.Seen("https://a.nextrequest.com/client/requests/1"))
}

func TestDetailFetcherConsultsSeenCacheFirst(t *testing.T) {
	t.Parallel()

	seen := cache.NewSeenCache(cache.NewMemoryService(), time.Hour, nil)
	seen.MarkSeen("https://a.nextrequest.com/client/requests/9")
	getter := &stubGetter{}
	f := NewDetailFetcher(source, crawler.Endpoints{}, memory.NewStore(), getter, seen, nil)

	doc, err := f.Fetch(context.Background(), "9")
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.Empty(t, getter.calls)
}

func TestDetailFetcherNullResponse(t *testing.T) {
	t.Parallel()

	getter := &stubGetter{}
	f := NewDetailFetcher(source, crawler.Endpoints{}, memory.NewStore(), getter, nil, nil)

	doc, err := f.Fetch(context.Background(), "404")
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.Len(t, getter.calls, 1)
}

func TestDetailFetcherPropagatesErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("rate limited forever")
	f := NewDetailFetcher(source, crawler.Endpoints{}, memory.NewStore(), &stubGetter{err: boom}, nil, nil)

	_, err := f.Fetch(context.Background(), "1")
	require.ErrorIs(t, err, boom)
}
