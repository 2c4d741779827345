// Package worker crawls a single source: it checks and claims the lease,
// walks the listing pages, and finalizes the source when its count reaches
// the remote total.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/nextrequest-crawler/internal/crawler"
	"github.com/JakeFAU/nextrequest-crawler/internal/fetcher"
	"github.com/JakeFAU/nextrequest-crawler/internal/lease"
	"github.com/JakeFAU/nextrequest-crawler/internal/metrics"
)

// DefaultSkipPause is the pause after skipping a leased source.
const DefaultSkipPause = time.Second

// Outcome is the result of one Run, reported with the metrics labels.
type Outcome string

// Run outcomes.
const (
	OutcomeCompleted        Outcome = metrics.SourceCompleted
	OutcomeIncomplete       Outcome = metrics.SourceIncomplete
	OutcomeSkippedCompleted Outcome = metrics.SourceSkippedCompleted
	OutcomeSkippedLeased    Outcome = metrics.SourceSkippedLeased
	OutcomeFailed           Outcome = metrics.SourceFailed
)

// DetailFactory returns the detail lookup for one source.
type DetailFactory func(source string) fetcher.FetchFunc

// Worker runs the full crawl of one source.
type Worker struct {
	leases    *lease.Manager
	walker    *Walker
	details   DetailFactory
	sleeper   crawler.Sleeper
	skipPause time.Duration
	logger    *zap.Logger
}

// New constructs a Worker. A negative skipPause disables the pause.
func New(
	leases *lease.Manager,
	walker *Walker,
	details DetailFactory,
	sleeper crawler.Sleeper,
	skipPause time.Duration,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		leases:    leases,
		walker:    walker,
		details:   details,
		sleeper:   sleeper,
		skipPause: skipPause,
		logger:    logger,
	}
}

// Run crawls source unless it is completed or leased by another worker.
// A walk error leaves the source unfinalized so a later run resumes it.
func (w *Worker) Run(ctx context.Context, source string) (outcome Outcome, err error) {
	log := w.logger.With(zap.String("source", source))
	defer func() {
		metrics.ObserveSource(string(outcome))
	}()

	done, err := w.leases.IsCompleted(ctx, source)
	if err != nil {
		return OutcomeFailed, err
	}
	if done {
		log.Debug("source already completed")
		return OutcomeSkippedCompleted, nil
	}

	leased, err := w.leases.IsLeased(ctx, source)
	if err != nil {
		return OutcomeFailed, err
	}
	if leased {
		log.Warn("source in use by another worker")
		return OutcomeSkippedLeased, w.pause(ctx)
	}

	l, err := w.leases.Claim(ctx, source)
	if errors.Is(err, lease.ErrLeaseHeld) {
		log.Warn("source claimed by another worker")
		return OutcomeSkippedLeased, w.pause(ctx)
	}
	if err != nil {
		return OutcomeFailed, err
	}
	defer func() {
		if relErr := l.Release(context.WithoutCancel(ctx)); relErr != nil {
			log.Warn("lease release failed", zap.Error(relErr))
		}
	}()

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	log.Info("crawling source", zap.String("token", l.Token))
	res, err := w.walker.Walk(ctx, source, l, w.details(source))
	if err != nil {
		log.Error("crawl failed", zap.Int("pages", res.Pages), zap.Int64("written", res.Written), zap.Error(err))
		return OutcomeFailed, fmt.Errorf("crawl %s: %w", source, err)
	}

	finalized, err := w.leases.Finalize(ctx, source, res.Total)
	if err != nil {
		return OutcomeFailed, err
	}
	log.Info("crawl finished",
		zap.Int("pages", res.Pages),
		zap.Int64("written", res.Written),
		zap.String("stop", string(res.Stop)),
		zap.Bool("completed", finalized),
	)
	if finalized {
		return OutcomeCompleted, nil
	}
	return OutcomeIncomplete, nil
}

func (w *Worker) pause(ctx context.Context) error {
	if w.skipPause <= 0 || w.sleeper == nil {
		return nil
	}
	if err := w.sleeper.Sleep(ctx, w.skipPause); err != nil {
		return fmt.Errorf("skip pause: %w", err)
	}
	return nil
}
