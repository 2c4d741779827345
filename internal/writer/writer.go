// Package writer persists a page of merged item documents and advances the
// owning source's progress counters.
package writer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/nextrequest-crawler/internal/cache"
	"github.com/JakeFAU/nextrequest-crawler/internal/crawler"
	"github.com/JakeFAU/nextrequest-crawler/internal/metrics"
	"github.com/JakeFAU/nextrequest-crawler/internal/store"
)

// Repository is the slice of the store the writer needs.
type Repository interface {
	store.ItemRepository
	IncrementCount(ctx context.Context, subdomain string, delta, totalCount int64, at time.Time) error
}

// Writer inserts item batches.
type Writer struct {
	repo   Repository
	seen   *cache.SeenCache
	clock  crawler.Clock
	logger *zap.Logger
}

// New builds a Writer. seen may be nil.
func New(repo Repository, seen *cache.SeenCache, clock crawler.Clock, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{repo: repo, seen: seen, clock: clock, logger: logger}
}

// WriteBatch inserts records for source, then adds the number actually
// inserted to the source's count and refreshes total_count, last_accessed and
// completed=false. It returns the inserted count.
func (w *Writer) WriteBatch(ctx context.Context, source string, records []crawler.Document, total int64) (int64, error) {
	items := make([]store.Item, 0, len(records))
	urls := make([]string, 0, len(records))
	for _, rec := range records {
		itemURL, _ := rec["url"].(string)
		if itemURL == "" {
			w.logger.Warn("dropping record without url", zap.String("source", source))
			continue
		}
		items = append(items, store.Item{URL: itemURL, Domain: source, Fields: rec})
		urls = append(urls, itemURL)
	}

	inserted, err := w.repo.InsertItems(ctx, items)
	if err != nil {
		return 0, fmt.Errorf("insert %d items for %s: %w", len(items), source, err)
	}
	if err := w.repo.IncrementCount(ctx, source, inserted, total, w.clock.Now()); err != nil {
		return inserted, fmt.Errorf("update count for %s: %w", source, err)
	}
	w.seen.MarkSeen(urls...)
	metrics.ObserveItemsWritten(source, inserted)

	if dup := int64(len(items)) - inserted; dup > 0 {
		w.logger.Info("skipped duplicate items", zap.String("source", source), zap.Int64("duplicates", dup))
	}
	w.logger.Info("wrote batch",
		zap.String("source", source),
		zap.Int("records", len(items)),
		zap.Int64("inserted", inserted),
		zap.Int64("total", total),
	)
	return inserted, nil
}
