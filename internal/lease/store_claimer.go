package lease

import (
	"context"
	"time"

	"github.com/JakeFAU/nextrequest-crawler/internal/store"
)

// StoreClaimer claims sources with a conditional update on the source
// record. Heartbeats keep last_accessed fresh, which is what holds the claim.
type StoreClaimer struct {
	repo   store.SourceRepository
	window time.Duration
}

// NewStoreClaimer builds a StoreClaimer.
func NewStoreClaimer(repo store.SourceRepository, window time.Duration) *StoreClaimer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &StoreClaimer{repo: repo, window: window}
}

// Claim sets last_accessed and lease_owner when the source is idle.
func (c *StoreClaimer) Claim(ctx context.Context, source, token string, now time.Time) (bool, error) {
	return c.repo.ClaimSource(ctx, source, token, now, now.Add(-c.window))
}

// Renew is a no-op: the per-page heartbeat already refreshed last_accessed.
func (c *StoreClaimer) Renew(context.Context, string, string, time.Time) error {
	return nil
}

// Release clears lease_owner. last_accessed is left alone, so the source stays
// leased until the window passes.
func (c *StoreClaimer) Release(ctx context.Context, source, token string) error {
	return c.repo.ReleaseSource(ctx, source, token)
}
