// Package dispatcher enumerates sources and hands each one to a worker,
// either in-process one at a time or as one OS process per source.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/nextrequest-crawler/internal/crawler"
	"github.com/JakeFAU/nextrequest-crawler/internal/metrics"
	"github.com/JakeFAU/nextrequest-crawler/internal/store"
	"github.com/JakeFAU/nextrequest-crawler/internal/worker"
)

// Mode selects how workers are launched.
type Mode string

// Launch modes.
const (
	ModeSequential Mode = "sequential"
	ModeProcess    Mode = "process"
)

// DefaultStagger is the delay between process launches.
const DefaultStagger = 300 * time.Millisecond

// ParseMode validates a configured mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSequential:
		return ModeSequential, nil
	case ModeProcess:
		return ModeProcess, nil
	default:
		return "", fmt.Errorf("unsupported crawl mode %q", s)
	}
}

// SourceLister enumerates the sources to crawl.
type SourceLister interface {
	ListSources(ctx context.Context) ([]store.Source, error)
}

// Runner crawls one source in-process.
type Runner interface {
	Run(ctx context.Context, source string) (worker.Outcome, error)
}

// Checker answers the lease questions asked before spawning a process.
type Checker interface {
	IsCompleted(ctx context.Context, source string) (bool, error)
	IsLeased(ctx context.Context, source string) (bool, error)
}

// Config controls the Dispatcher.
type Config struct {
	Mode    Mode
	Stagger time.Duration
	// SkipPause is slept after a leased source is skipped in process mode.
	SkipPause time.Duration
	// MaxProcesses caps concurrently running worker processes. Zero means
	// no cap.
	MaxProcesses int
}

// Summary counts what a Run did.
type Summary struct {
	Sources  int
	Launched int
	Failed   int
	Outcomes map[worker.Outcome]int
}

// Dispatcher fans sources out to workers.
type Dispatcher struct {
	sources SourceLister
	runner  Runner
	checker Checker
	spawner Spawner
	sleeper crawler.Sleeper
	cfg     Config
	logger  *zap.Logger
}

// New creates a Dispatcher. runner is required for sequential mode; checker
// and spawner for process mode.
func New(
	sources SourceLister,
	runner Runner,
	checker Checker,
	spawner Spawner,
	sleeper crawler.Sleeper,
	cfg Config,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeSequential
	}
	switch cfg.Mode {
	case ModeSequential:
		if runner == nil {
			return nil, errors.New("dispatcher: sequential mode requires a runner")
		}
	case ModeProcess:
		if checker == nil || spawner == nil {
			return nil, errors.New("dispatcher: process mode requires a checker and a spawner")
		}
	default:
		return nil, fmt.Errorf("dispatcher: unsupported mode %q", cfg.Mode)
	}
	if sleeper == nil {
		return nil, errors.New("dispatcher: sleeper is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sources: sources,
		runner:  runner,
		checker: checker,
		spawner: spawner,
		sleeper: sleeper,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Run crawls every source once and blocks until all launched workers have
// finished. A failed worker is logged and does not stop the others.
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	sources, err := d.sources.ListSources(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list sources: %w", err)
	}
	d.logger.Info("dispatching sources", zap.String("mode", string(d.cfg.Mode)), zap.Int("sources", len(sources)))

	if d.cfg.Mode == ModeProcess {
		return d.runProcesses(ctx, sources)
	}
	return d.runSequential(ctx, sources)
}

func (d *Dispatcher) runSequential(ctx context.Context, sources []store.Source) (Summary, error) {
	sum := Summary{Sources: len(sources), Outcomes: map[worker.Outcome]int{}}
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Launched++
		outcome, err := d.runner.Run(ctx, src.Subdomain)
		sum.Outcomes[outcome]++
		if err != nil {
			sum.Failed++
			d.logger.Error("worker failed", zap.String("source", src.Subdomain), zap.Error(err))
		}
	}
	d.logger.Info("done", zap.Int("launched", sum.Launched), zap.Int("failed", sum.Failed))
	return sum, nil
}

func (d *Dispatcher) runProcesses(ctx context.Context, sources []store.Source) (Summary, error) {
	sum := Summary{Sources: len(sources), Outcomes: map[worker.Outcome]int{}}
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem *semaphore.Weighted
	)
	if d.cfg.MaxProcesses > 0 {
		sem = semaphore.NewWeighted(int64(d.cfg.MaxProcesses))
	}
	fail := func() {
		mu.Lock()
		sum.Failed++
		mu.Unlock()
	}

	var runErr error
	for _, src := range sources {
		source := src.Subdomain
		skip, err := d.precheck(ctx, source)
		if err != nil {
			d.logger.Error("lease check failed", zap.String("source", source), zap.Error(err))
			fail()
			continue
		}
		if skip != "" {
			sum.Outcomes[skip]++
			metrics.ObserveSource(string(skip))
			continue
		}

		// Stagger sits between launches; the first worker starts at once.
		if sum.Launched > 0 {
			if err := d.sleeper.Sleep(ctx, d.stagger()); err != nil {
				runErr = err
				break
			}
		}
		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				runErr = err
				break
			}
		}

		proc, err := d.spawner.Start(ctx, source)
		if err != nil {
			if sem != nil {
				sem.Release(1)
			}
			d.logger.Error("worker launch failed", zap.String("source", source), zap.Error(err))
			fail()
			continue
		}
		sum.Launched++
		d.logger.Info("worker launched", zap.String("source", source), zap.Int("pid", proc.PID()))

		wg.Add(1)
		go func() {
			defer wg.Done()
			if sem != nil {
				defer sem.Release(1)
			}
			if err := proc.Wait(); err != nil {
				fail()
				d.logger.Error("worker exited with error", zap.String("source", source), zap.Error(err))
			}
		}()
	}

	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	d.logger.Info("done", zap.Int("launched", sum.Launched), zap.Int("failed", sum.Failed))
	return sum, runErr
}

func (d *Dispatcher) precheck(ctx context.Context, source string) (worker.Outcome, error) {
	done, err := d.checker.IsCompleted(ctx, source)
	if err != nil {
		return "", err
	}
	if done {
		return worker.OutcomeSkippedCompleted, nil
	}
	leased, err := d.checker.IsLeased(ctx, source)
	if err != nil {
		return "", err
	}
	if !leased {
		return "", nil
	}
	d.logger.Warn("source in use by another worker", zap.String("source", source))
	if d.cfg.SkipPause > 0 {
		if err := d.sleeper.Sleep(ctx, d.cfg.SkipPause); err != nil {
			return "", err
		}
	}
	return worker.OutcomeSkippedLeased, nil
}

func (d *Dispatcher) stagger() time.Duration {
	if d.cfg.Stagger <= 0 {
		return DefaultStagger
	}
	return d.cfg.Stagger
}
