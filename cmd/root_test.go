package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/nextrequest-crawler/internal/app"
	"github.com/JakeFAU/nextrequest-crawler/internal/config"
	"github.com/JakeFAU/nextrequest-crawler/internal/storage/memory"
	"github.com/JakeFAU/nextrequest-crawler/internal/store"
)

// useMemoryStore points newApp at a shared in-memory store for the duration
// of the test.
func useMemoryStore(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.NewStore()
	prev := newApp
	newApp = func(ctx context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		a, err := app.New(ctx, cfg, zap.NewNop(), app.WithRepository(st))
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	t.Cleanup(func() { newApp = prev })
	return st
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd, opts := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	opts.close(context.Background())
	return out.String(), err
}

func TestSourcesAddAndList(t *testing.T) {
	st := useMemoryStore(t)

	out, err := run(t, "sources", "add", "https://Alpha.NextRequest.com/", "beta.nextrequest.com")
	require.NoError(t, err)
	assert.Equal(t, "alpha.nextrequest.com\nbeta.nextrequest.com\n", out)

	count := int64(4)
	st.PutSource(store.Source{Subdomain: "gamma.nextrequest.com", Count: &count, TotalCount: &count, Completed: true})

	out, err = run(t, "sources", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "SUBDOMAIN")
	assert.Contains(t, out, "alpha.nextrequest.com")
	assert.Contains(t, out, "gamma.nextrequest.com")

	out, err = run(t, "sources", "list", "--pending")
	require.NoError(t, err)
	assert.NotContains(t, out, "gamma.nextrequest.com")

	_, err = run(t, "sources", "add", "bad/path")
	require.Error(t, err)
}

func TestResetRequiresConfirmation(t *testing.T) {
	st := useMemoryStore(t)
	count := int64(2)
	st.PutSource(store.Source{Subdomain: "a.nextrequest.com", Count: &count, TotalCount: &count, Completed: true})

	_, err := run(t, "reset")
	require.Error(t, err)

	out, err := run(t, "reset", "--yes")
	require.NoError(t, err)
	assert.Equal(t, "reset 1 sources\n", out)

	src, err := st.GetSource(context.Background(), "a.nextrequest.com")
	require.NoError(t, err)
	assert.False(t, src.Completed)
	assert.Nil(t, src.Count)
}

func TestWorkerCrawlsSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/client/requests" {
			entries := []map[string]any{}
			if r.URL.Query().Get("page_number") == "1" {
				entries = append(entries, map[string]any{"id": 1})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"total_count": 1, "requests": entries})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"request_text": "hello"})
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	st := useMemoryStore(t)
	t.Setenv("NEXTREQUEST_CRAWLER_SCHEME", "http")

	out, err := run(t, "worker", "--source", u.Host)
	require.NoError(t, err)
	assert.Equal(t, "completed\n", out)
	assert.Len(t, st.Items(u.Host), 1)

	_, err = run(t, "worker")
	require.Error(t, err)
}

func TestCrawlRejectsUnknownMode(t *testing.T) {
	useMemoryStore(t)

	_, err := run(t, "crawl", "--mode", "threads")
	require.Error(t, err)
}

func TestCrawlSequentialWithNoSources(t *testing.T) {
	useMemoryStore(t)

	_, err := run(t, "crawl", "--mode", "sequential")
	require.NoError(t, err)
}

func TestCredentialsSwitchToMongo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"host": "db", "port": "27017", "db": "nextrequest"}`), 0o600))

	var seen config.Config
	prev := newApp
	newApp = func(ctx context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		seen = cfg
		cfg.Store.Driver = "memory"
		a, err := app.New(ctx, cfg, zap.NewNop())
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	t.Cleanup(func() { newApp = prev })

	_, err := run(t, "--credentials", path, "sources", "list")
	require.NoError(t, err)
	assert.Equal(t, "mongo", seen.Store.Driver)
	assert.Equal(t, "mongodb://db:27017/nextrequest", seen.Store.Mongo.URI)
}

func TestForwardArgs(t *testing.T) {
	opts := &rootOptions{cfgFile: "c.yaml", envFile: ".env.prod"}
	assert.Equal(t, "--config c.yaml --env-file .env.prod", strings.Join(opts.forwardArgs(), " "))
}

func TestMissingEnvFileFails(t *testing.T) {
	useMemoryStore(t)

	_, err := run(t, "--env-file", filepath.Join(t.TempDir(), "nope.env"), "sources", "list")
	require.Error(t, err)
}
