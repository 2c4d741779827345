package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("store record not found")

// Source mirrors one record of the sources collection. Pointer fields are nil
// while the underlying field is absent from the stored document.
type Source struct {
	// Subdomain is the primary key and the host the crawl targets.
	Subdomain string
	// Count is the number of item records written so far.
	Count *int64
	// TotalCount is the last known size of the remote listing.
	TotalCount *int64
	// Completed is set once the source has been finalized.
	Completed bool
	// LastAccessed is the most recent heartbeat or write.
	LastAccessed *time.Time
	// LeaseOwner is the token of the worker holding an atomic claim, if any.
	LeaseOwner string
}

// HasCounters reports whether both progress counters are present.
func (s Source) HasCounters() bool {
	return s.Count != nil && s.TotalCount != nil
}

// CountValue returns Count, defaulting to zero when absent.
func (s Source) CountValue() int64 {
	if s.Count == nil {
		return 0
	}
	return *s.Count
}

// Item is an immutable crawled record. Fields holds the full merged document,
// including the url and domain keys.
type Item struct {
	URL    string
	Domain string
	Fields map[string]any
}

// SourceRepository persists per-source crawl progress and lease fields.
type SourceRepository interface {
	// GetSource loads one source or returns ErrNotFound.
	GetSource(ctx context.Context, subdomain string) (Source, error)
	// ListSources returns every known source ordered by subdomain.
	ListSources(ctx context.Context) ([]Source, error)
	// EnsureSource creates a key-only record when none exists.
	EnsureSource(ctx context.Context, subdomain string) error
	// Heartbeat upserts last_accessed and total_count.
	Heartbeat(ctx context.Context, subdomain string, totalCount int64, at time.Time) error
	// ClaimSource atomically sets last_accessed and lease_owner when the
	// source is not completed and its last_accessed is absent or older than
	// staleBefore. It reports whether the claim was taken.
	ClaimSource(ctx context.Context, subdomain, token string, at, staleBefore time.Time) (bool, error)
	// ReleaseSource clears lease_owner when it still equals token.
	ReleaseSource(ctx context.Context, subdomain, token string) error
	// IncrementCount atomically adds delta to count and sets total_count,
	// last_accessed and completed=false.
	IncrementCount(ctx context.Context, subdomain string, delta, totalCount int64, at time.Time) error
	// MarkCompleted sets completed=true, last_accessed and total_count.
	MarkCompleted(ctx context.Context, subdomain string, totalCount int64, at time.Time) error
	// ResetSources strips every source back to its key and returns how many
	// records were touched.
	ResetSources(ctx context.Context) (int64, error)
}

// ItemRepository persists crawled item records.
type ItemRepository interface {
	// ItemExists reports whether an item with the canonical URL is stored.
	ItemExists(ctx context.Context, url string) (bool, error)
	// InsertItems bulk-inserts items, skipping URLs that already exist, and
	// returns the number of records actually inserted.
	InsertItems(ctx context.Context, items []Item) (int64, error)
}

// Repository is the full document store used by crawl workers.
type Repository interface {
	SourceRepository
	ItemRepository
	// Close releases the underlying connections.
	Close(ctx context.Context) error
}
