// Package lease coordinates which worker crawls which source. Workers share
// nothing but the document store (and optionally Redis), so every check here
// reads or conditionally writes the source record.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/nextrequest-crawler/internal/crawler"
	"github.com/JakeFAU/nextrequest-crawler/internal/store"
)

// DefaultWindow is how long a heartbeat keeps a source leased.
const DefaultWindow = 5 * time.Minute

var (
	// ErrLeaseHeld is returned by Claim when another worker owns the source.
	ErrLeaseHeld = errors.New("source is leased by another worker")
	// ErrLeaseLost is returned by Renew when the claim expired or was taken.
	ErrLeaseLost = errors.New("lease lost")
)

// Claimer takes and gives up exclusive ownership of a source.
type Claimer interface {
	Claim(ctx context.Context, source, token string, now time.Time) (bool, error)
	Renew(ctx context.Context, source, token string, now time.Time) error
	Release(ctx context.Context, source, token string) error
}

// Manager implements the lease checks used by the orchestrator and workers.
type Manager struct {
	repo    store.SourceRepository
	claimer Claimer
	clock   crawler.Clock
	ids     crawler.IDGenerator
	window  time.Duration
	logger  *zap.Logger
}

// Config wires a Manager.
type Config struct {
	Repo    store.SourceRepository
	Claimer Claimer
	Clock   crawler.Clock
	IDs     crawler.IDGenerator
	Window  time.Duration
	Logger  *zap.Logger
}

// NewManager builds a Manager. A nil Claimer defaults to the store claimer.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Repo == nil {
		return nil, errors.New("lease: repository is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("lease: clock is required")
	}
	if cfg.IDs == nil {
		return nil, errors.New("lease: id generator is required")
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Claimer == nil {
		cfg.Claimer = NewStoreClaimer(cfg.Repo, cfg.Window)
	}
	return &Manager{
		repo:    cfg.Repo,
		claimer: cfg.Claimer,
		clock:   cfg.Clock,
		ids:     cfg.IDs,
		window:  cfg.Window,
		logger:  cfg.Logger,
	}, nil
}

// Window returns the lease duration.
func (m *Manager) Window() time.Duration { return m.window }

// IsCompleted reports whether the source has been finalized. An unknown
// source is created as a key-only record and reported as not completed.
func (m *Manager) IsCompleted(ctx context.Context, source string) (bool, error) {
	src, err := m.load(ctx, source)
	if err != nil {
		return false, err
	}
	return src.Completed, nil
}

// IsLeased reports whether the source was touched within the window.
func (m *Manager) IsLeased(ctx context.Context, source string) (bool, error) {
	src, err := m.load(ctx, source)
	if err != nil {
		return false, err
	}
	if src.LastAccessed == nil {
		return false, nil
	}
	age := m.clock.Now().Sub(*src.LastAccessed)
	if age < 0 {
		age = -age
	}
	return age < m.window, nil
}

// Heartbeat records liveness and the latest total for source.
func (m *Manager) Heartbeat(ctx context.Context, source string, totalCount int64) error {
	if err := m.repo.Heartbeat(ctx, source, totalCount, m.clock.Now()); err != nil {
		return fmt.Errorf("heartbeat %s: %w", source, err)
	}
	return nil
}

// Finalize marks the source completed when count has reached the total.
// totalRequests is the total observed by this run; nil falls back to the
// stored total_count. It reports whether the source was finalized. Missing
// counters are not an error.
func (m *Manager) Finalize(ctx context.Context, source string, totalRequests *int64) (bool, error) {
	src, err := m.repo.GetSource(ctx, source)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", source, err)
	}
	if !src.HasCounters() {
		m.logger.Info("source has no counters yet, not finalizing", zap.String("source", source))
		return false, nil
	}

	total := *src.TotalCount
	if totalRequests != nil {
		total = *totalRequests
	}
	if src.CountValue() < total {
		m.logger.Info("source incomplete",
			zap.String("source", source),
			zap.Int64("count", src.CountValue()),
			zap.Int64("total", total),
		)
		return false, nil
	}
	if err := m.repo.MarkCompleted(ctx, source, total, m.clock.Now()); err != nil {
		return false, fmt.Errorf("mark %s completed: %w", source, err)
	}
	return true, nil
}

// Claim atomically takes the source. It returns ErrLeaseHeld when another
// worker holds a live lease or the source is already completed.
func (m *Manager) Claim(ctx context.Context, source string) (*Lease, error) {
	token, err := m.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("lease token: %w", err)
	}
	ok, err := m.claimer.Claim(ctx, source, token, m.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", source, err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	m.logger.Debug("lease claimed", zap.String("source", source), zap.String("token", token))
	return &Lease{Source: source, Token: token, m: m}, nil
}

func (m *Manager) load(ctx context.Context, source string) (store.Source, error) {
	src, err := m.repo.GetSource(ctx, source)
	if errors.Is(err, store.ErrNotFound) {
		if err := m.repo.EnsureSource(ctx, source); err != nil {
			return store.Source{}, fmt.Errorf("create %s: %w", source, err)
		}
		return store.Source{Subdomain: source}, nil
	}
	if err != nil {
		return store.Source{}, fmt.Errorf("load %s: %w", source, err)
	}
	return src, nil
}

// Lease is a held claim on one source.
type Lease struct {
	Source string
	Token  string
	m      *Manager
}

// Heartbeat records liveness and the latest total, then renews the claim.
func (l *Lease) Heartbeat(ctx context.Context, totalCount int64) error {
	if err := l.m.Heartbeat(ctx, l.Source, totalCount); err != nil {
		return err
	}
	return l.Renew(ctx)
}

// Renew extends the claim.
func (l *Lease) Renew(ctx context.Context) error {
	if err := l.m.claimer.Renew(ctx, l.Source, l.Token, l.m.clock.Now()); err != nil {
		return fmt.Errorf("renew %s: %w", l.Source, err)
	}
	return nil
}

// Release gives up the claim.
func (l *Lease) Release(ctx context.Context) error {
	if err := l.m.claimer.Release(ctx, l.Source, l.Token); err != nil {
		return fmt.Errorf("release %s: %w", l.Source, err)
	}
	return nil
}
