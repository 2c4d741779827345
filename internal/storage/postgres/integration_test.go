//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/JakeFAU/nextrequest-crawler/internal/store"
)

type StoreIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *tcpostgres.PostgresContainer
	store     *Store
}

func (s *StoreIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := tcpostgres.Run(s.ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("nextrequest"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	st, err := NewStore(s.ctx, Config{DSN: dsn})
	s.Require().NoError(err)
	s.Require().NoError(st.EnsureSchema(s.ctx))
	s.store = st
}

func (s *StoreIntegrationSuite) TearDownSuite() {
	if s.store != nil {
		_ = s.store.Close(s.ctx)
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *StoreIntegrationSuite) SetupTest() {
	_, err := s.store.pool.Exec(s.ctx, "TRUNCATE sources, items")
	s.Require().NoError(err)
}

func TestStoreIntegrationSuite(t *testing.T) {
	suite.Run(t, new(StoreIntegrationSuite))
}

func (s *StoreIntegrationSuite) TestClaimIsExclusiveWithinWindow() {
	now := time.Now().UTC().Truncate(time.Microsecond)
	stale := now.Add(-5 * time.Minute)

	ok, err := s.store.ClaimSource(s.ctx, "a.example.com", "one", now, stale)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.ClaimSource(s.ctx, "a.example.com", "two", now, stale)
	s.Require().NoError(err)
	s.False(ok)

	src, err := s.store.GetSource(s.ctx, "a.example.com")
	s.Require().NoError(err)
	s.Equal("one", src.LeaseOwner)
}

func (s *StoreIntegrationSuite) TestCountersAndReset() {
	now := time.Now().UTC().Truncate(time.Microsecond)

	s.Require().NoError(s.store.Heartbeat(s.ctx, "b.example.com", 150, now))
	s.Require().NoError(s.store.IncrementCount(s.ctx, "b.example.com", 100, 150, now))
	s.Require().NoError(s.store.IncrementCount(s.ctx, "b.example.com", 50, 150, now))

	src, err := s.store.GetSource(s.ctx, "b.example.com")
	s.Require().NoError(err)
	s.Equal(int64(150), src.CountValue())
	s.Equal(int64(150), *src.TotalCount)

	s.Require().NoError(s.store.MarkCompleted(s.ctx, "b.example.com", 150, now))
	n, err := s.store.ResetSources(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	src, err = s.store.GetSource(s.ctx, "b.example.com")
	s.Require().NoError(err)
	s.Equal(store.Source{Subdomain: "b.example.com"}, src)
}

func (s *StoreIntegrationSuite) TestInsertItemsIsIdempotent() {
	items := []store.Item{
		{URL: "https://c/client/requests/1", Domain: "c", Fields: map[string]any{"title": "one"}},
		{URL: "https://c/client/requests/2", Domain: "c", Fields: map[string]any{"title": "two"}},
	}
	n, err := s.store.InsertItems(s.ctx, items)
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	n, err = s.store.InsertItems(s.ctx, items)
	s.Require().NoError(err)
	s.Zero(n)

	exists, err := s.store.ItemExists(s.ctx, "https://c/client/requests/2")
	s.Require().NoError(err)
	s.True(exists)
}
