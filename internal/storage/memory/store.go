// Package memory provides an in-memory document store for development and tests.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/nextrequest-crawler/internal/store"
)

// Store implements store.Repository with process-local maps. All operations
// are serialized by a single mutex, so conditional updates are atomic.
type Store struct {
	mu      sync.RWMutex
	sources map[string]store.Source
	items   map[string]store.Item
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		sources: make(map[string]store.Source),
		items:   make(map[string]store.Item),
	}
}

// GetSource returns a copy of the named source.
func (s *Store) GetSource(_ context.Context, subdomain string) (store.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[subdomain]
	if !ok {
		return store.Source{}, store.ErrNotFound
	}
	return copySource(src), nil
}

// ListSources returns all sources ordered by subdomain.
func (s *Store) ListSources(_ context.Context) ([]store.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, copySource(src))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subdomain < out[j].Subdomain })
	return out, nil
}

// EnsureSource creates a key-only record if the source is unknown.
func (s *Store) EnsureSource(_ context.Context, subdomain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[subdomain]; !ok {
		s.sources[subdomain] = store.Source{Subdomain: subdomain}
	}
	return nil
}

// Heartbeat upserts last_accessed and total_count.
func (s *Store) Heartbeat(_ context.Context, subdomain string, totalCount int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.sourceLocked(subdomain)
	src.TotalCount = int64Ptr(totalCount)
	src.LastAccessed = timePtr(at)
	s.sources[subdomain] = src
	return nil
}

// ClaimSource takes the lease when the source is idle and not completed.
func (s *Store) ClaimSource(_ context.Context, subdomain, token string, at, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.sourceLocked(subdomain)
	if src.Completed {
		return false, nil
	}
	if src.LastAccessed != nil && !src.LastAccessed.Before(staleBefore) {
		return false, nil
	}
	src.LastAccessed = timePtr(at)
	src.LeaseOwner = token
	s.sources[subdomain] = src
	return true, nil
}

// ReleaseSource clears the lease owner if it still matches token.
func (s *Store) ReleaseSource(_ context.Context, subdomain, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[subdomain]
	if !ok || src.LeaseOwner != token {
		return nil
	}
	src.LeaseOwner = ""
	s.sources[subdomain] = src
	return nil
}

// IncrementCount adds delta to count and refreshes the progress fields.
func (s *Store) IncrementCount(_ context.Context, subdomain string, delta, totalCount int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.sourceLocked(subdomain)
	src.Count = int64Ptr(src.CountValue() + delta)
	src.TotalCount = int64Ptr(totalCount)
	src.Completed = false
	src.LastAccessed = timePtr(at)
	s.sources[subdomain] = src
	return nil
}

// MarkCompleted flags the source as fully crawled.
func (s *Store) MarkCompleted(_ context.Context, subdomain string, totalCount int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[subdomain]
	if !ok {
		return store.ErrNotFound
	}
	src.Completed = true
	src.TotalCount = int64Ptr(totalCount)
	src.LastAccessed = timePtr(at)
	s.sources[subdomain] = src
	return nil
}

// ResetSources strips every source back to its key.
func (s *Store) ResetSources(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.sources {
		s.sources[name] = store.Source{Subdomain: name}
	}
	return int64(len(s.sources)), nil
}

// ItemExists reports whether an item with url has been stored.
func (s *Store) ItemExists(_ context.Context, url string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[url]
	return ok, nil
}

// InsertItems stores new items and skips URLs that already exist.
func (s *Store) InsertItems(_ context.Context, items []store.Item) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted int64
	for _, item := range items {
		if _, exists := s.items[item.URL]; exists {
			continue
		}
		item.Fields = maps.Clone(item.Fields)
		s.items[item.URL] = item
		inserted++
	}
	return inserted, nil
}

// Items returns a snapshot of stored items for the given domain.
func (s *Store) Items(domain string) []store.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Item
	for _, item := range s.items {
		if item.Domain == domain {
			out = append(out, store.Item{URL: item.URL, Domain: item.Domain, Fields: maps.Clone(item.Fields)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// PutSource overwrites a source record. Intended for seeding tests.
func (s *Store) PutSource(src store.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.Subdomain] = copySource(src)
}

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) sourceLocked(subdomain string) store.Source {
	src, ok := s.sources[subdomain]
	if !ok {
		return store.Source{Subdomain: subdomain}
	}
	return src
}

func copySource(src store.Source) store.Source {
	out := src
	if src.Count != nil {
		out.Count = int64Ptr(*src.Count)
	}
	if src.TotalCount != nil {
		out.TotalCount = int64Ptr(*src.TotalCount)
	}
	if src.LastAccessed != nil {
		out.LastAccessed = timePtr(*src.LastAccessed)
	}
	return out
}

func int64Ptr(v int64) *int64 { return &v }

func timePtr(t time.Time) *time.Time {
	ts := t
	return &ts
}
