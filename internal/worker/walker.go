package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/nextrequest-crawler/internal/crawler"
	"github.com/JakeFAU/nextrequest-crawler/internal/fetcher"
	"github.com/JakeFAU/nextrequest-crawler/internal/metrics"
)

// StopReason explains why a walk ended without error.
type StopReason string

// Walk stop reasons.
const (
	// StopExhausted means a page produced no new records.
	StopExhausted StopReason = "exhausted"
	// StopNullPage means the listing endpoint answered with a server error.
	StopNullPage StopReason = "null_page"
	// StopMaxPages means the configured page cap was reached.
	StopMaxPages StopReason = "max_pages"
)

// Heartbeater records per-page liveness for the source being walked.
type Heartbeater interface {
	Heartbeat(ctx context.Context, totalCount int64) error
}

// BatchWriter persists merged records for a source.
type BatchWriter interface {
	WriteBatch(ctx context.Context, source string, records []crawler.Document, total int64) (int64, error)
}

// WalkerConfig controls pagination.
type WalkerConfig struct {
	Endpoints crawler.Endpoints
	PageSize  int
	SortOrder crawler.SortOrder
	// MaxPages stops the walk after this many pages. Zero means no cap.
	MaxPages int
}

// WalkResult summarizes one walk.
type WalkResult struct {
	Pages   int
	Written int64
	// Total is the last total_count seen, nil if no page was read.
	Total *int64
	Stop  StopReason
}

// Walker pages through a source's listing, resolving each page's ids through
// the pool and writing the merged records before moving to the next page.
type Walker struct {
	client fetcher.Getter
	pool   *fetcher.Pool
	writer BatchWriter
	cfg    WalkerConfig
	logger *zap.Logger
}

// NewWalker builds a Walker.
func NewWalker(client fetcher.Getter, pool *fetcher.Pool, writer BatchWriter, cfg WalkerConfig, logger *zap.Logger) *Walker {
	if cfg.PageSize <= 0 {
		cfg.PageSize = crawler.DefaultPageSize
	}
	if cfg.SortOrder == "" {
		cfg.SortOrder = crawler.SortDesc
	}
	if pool == nil {
		pool = fetcher.NewPool(fetcher.DefaultPoolSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{client: client, pool: pool, writer: writer, cfg: cfg, logger: logger}
}

// Walk crawls source starting at page 1 until a page yields no new records,
// the listing returns nothing, or an error occurs.
func (w *Walker) Walk(ctx context.Context, source string, hb Heartbeater, detail fetcher.FetchFunc) (WalkResult, error) {
	var res WalkResult
	listingURL := w.cfg.Endpoints.Listing(source)

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if w.cfg.MaxPages > 0 && page > w.cfg.MaxPages {
			res.Stop = StopMaxPages
			return res, nil
		}

		body, err := w.client.Get(ctx, listingURL, crawler.ListingParams(page, w.cfg.PageSize, w.cfg.SortOrder))
		if err != nil {
			metrics.ObserveListingPage(source, "error")
			return res, fmt.Errorf("listing page %d: %w", page, err)
		}
		if body == nil {
			metrics.ObserveListingPage(source, "null")
			w.logger.Warn("listing page unavailable, ending walk", zap.String("source", source), zap.Int("page", page))
			res.Stop = StopNullPage
			return res, nil
		}
		metrics.ObserveListingPage(source, "ok")

		listing, err := crawler.ParseListing(body)
		if err != nil {
			return res, fmt.Errorf("listing page %d: %w", page, err)
		}
		total := listing.TotalCount
		res.Total = &total
		if err := hb.Heartbeat(ctx, total); err != nil {
			return res, err
		}

		ids := make([]string, len(listing.Entries))
		for i, e := range listing.Entries {
			ids[i] = e.ID
		}
		details, err := w.pool.Map(ctx, ids, detail)
		if err != nil {
			return res, fmt.Errorf("page %d details: %w", page, err)
		}

		batch := make([]crawler.Document, 0, len(details))
		for i, d := range details {
			if d == nil {
				continue
			}
			batch = append(batch, crawler.Merge(d, listing.Entries[i].Metadata, source))
		}
		w.logger.Info("page resolved",
			zap.String("source", source),
			zap.Int("page", page),
			zap.Int("listed", len(ids)),
			zap.Int("new", len(batch)),
			zap.Int64("total", total),
		)
		if len(batch) == 0 {
			res.Stop = StopExhausted
			return res, nil
		}

		n, err := w.writer.WriteBatch(ctx, source, batch, total)
		if err != nil {
			return res, fmt.Errorf("page %d write: %w", page, err)
		}
		res.Pages = page
		res.Written += n
	}
}
