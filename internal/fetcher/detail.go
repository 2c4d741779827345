package fetcher

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/nextrequest-crawler/internal/cache"
	"github.com/JakeFAU/nextrequest-crawler/internal/crawler"
	"github.com/JakeFAU/nextrequest-crawler/internal/metrics"
	"github.com/JakeFAU/nextrequest-crawler/internal/store"
)

// Getter performs a JSON GET. A nil document with a nil error means the
// remote answered with a server error and the item should be skipped.
type Getter interface {
	Get(ctx context.Context, rawURL string, params url.Values) (crawler.Document, error)
}

// DetailFetcher fetches one item's detail document for a source.
type DetailFetcher struct {
	source    string
	endpoints crawler.Endpoints
	items     store.ItemRepository
	client    Getter
	seen      *cache.SeenCache
	logger    *zap.Logger
}

// NewDetailFetcher builds a fetcher bound to source. seen may be nil.
func NewDetailFetcher(
	source string,
	endpoints crawler.Endpoints,
	items store.ItemRepository,
	client Getter,
	seen *cache.SeenCache,
	logger *zap.Logger,
) *DetailFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetailFetcher{
		source:    source,
		endpoints: endpoints,
		items:     items,
		client:    client,
		seen:      seen,
		logger:    logger,
	}
}

// Fetch returns the detail document for id with its canonical url attached,
// or nil when the item is already stored or the remote returned nothing.
func (f *DetailFetcher) Fetch(ctx context.Context, id string) (crawler.Document, error) {
	itemURL := f.endpoints.Detail(f.source, id)

	if f.seen.Seen(itemURL) {
		metrics.ObserveDetail(metrics.DetailDuplicate)
		return nil, nil
	}
	exists, err := f.items.ItemExists(ctx, itemURL)
	if err != nil {
		metrics.ObserveDetail(metrics.DetailError)
		return nil, fmt.Errorf("check item %s: %w", itemURL, err)
	}
	if exists {
		f.seen.MarkSeen(itemURL)
		metrics.ObserveDetail(metrics.DetailDuplicate)
		return nil, nil
	}

	doc, err := f.client.Get(ctx, itemURL, nil)
	if err != nil {
		metrics.ObserveDetail(metrics.DetailError)
		return nil, fmt.Errorf("fetch detail %s: %w", id, err)
	}
	if doc == nil {
		f.logger.Debug("detail unavailable", zap.String("source", f.source), zap.String("item_id", id))
		metrics.ObserveDetail(metrics.DetailNull)
		return nil, nil
	}
	doc["url"] = itemURL
	metrics.ObserveDetail(metrics.DetailFetched)
	return doc, nil
}
