package fetcher

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/nextrequest-crawler/internal/crawler"
)

// DefaultPoolSize is the number of detail fetches allowed in flight.
const DefaultPoolSize = 30

// FetchFunc resolves one id.
type FetchFunc func(ctx context.Context, id string) (crawler.Document, error)

// Pool runs FetchFuncs with bounded concurrency.
type Pool struct {
	size int
}

// NewPool returns a pool of the given size, falling back to DefaultPoolSize.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &Pool{size: size}
}

// Size reports the concurrency limit.
func (p *Pool) Size() int { return p.size }

// Map calls fn for every id and returns the results in input order, so
// results[i] belongs to ids[i]. Nil results are kept as nil. The first error
// cancels the remaining calls and is returned.
func (p *Pool) Map(ctx context.Context, ids []string, fn FetchFunc) ([]crawler.Document, error) {
	results := make([]crawler.Document, len(ids))
	if len(ids) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)
	for i, id := range ids {
		g.Go(func() error {
			doc, err := fn(gctx, id)
			if err != nil {
				return err
			}
			results[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
