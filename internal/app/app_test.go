package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/profilepulse/internal/browser"
	"github.com/ibeckermayer/profilepulse/internal/config"
)

type stubScorer struct{}

func (stubScorer) Score(context.Context, string) (string, error) { return "", errors.New("offline") }
func (stubScorer) Model() string                                 { return "stub" }

type failingLauncher struct{}

func (failingLauncher) Open(context.Context) (browser.Session, error) {
	return nil, errors.New("no browser in tests")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dir, "app.db")
	cfg.Scraping.CookiesPath = filepath.Join(dir, "cookies.json")
	return cfg
}

func TestNewWiresComponents(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, zerolog.Nop(),
		WithScorer(stubScorer{}), WithLauncher(failingLauncher{}), WithCacheDir(t.TempDir()))
	require.NoError(t, err)

	assert.NotNil(t, a.Store)
	assert.NotNil(t, a.Pipeline)
	assert.NotNil(t, a.Crawler)
	assert.NotNil(t, a.Queue)
	assert.NotNil(t, a.API)
	assert.Nil(t, a.Scheduler)

	// A queued crawl reaches the crawler and fails on the launcher
	job := a.Queue.Enqueue("alice")
	err = job.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no browser in tests")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))
}

func TestNewWithSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schedule.Enabled = true
	cfg.Schedule.RescrapeIntervalHours = 2

	a, err := New(context.Background(), cfg, zerolog.Nop(),
		WithScorer(stubScorer{}), WithLauncher(failingLauncher{}), WithCacheDir(t.TempDir()))
	require.NoError(t, err)
	require.NotNil(t, a.Scheduler)

	a.Start()
	jobs := a.Scheduler.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "rescrape", jobs[0].Name)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))
}

func TestNewRejectsBadTimezone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schedule.Enabled = true
	cfg.Schedule.Timezone = "Nowhere/Special"

	_, err := New(context.Background(), cfg, zerolog.Nop(), WithScorer(stubScorer{}), WithCacheDir(t.TempDir()))
	assert.Error(t, err)
}

func TestCrawlerOptions(t *testing.T) {
	cfg := config.Default().Scraping
	cfg.BaseURL = "https://x.test"
	cfg.NavigationTimeoutSeconds = 45
	cfg.SettleDelayMillis = 1500
	cfg.MaxDiscovered = 80
	cfg.FreshnessHours = 6

	opts := CrawlerOptions(cfg, "/tmp/shots")

	assert.Equal(t, "https://x.test", opts.BaseURL)
	assert.Equal(t, 45*time.Second, opts.NavigationWindow)
	assert.Equal(t, 1500*time.Millisecond, opts.ScrollSettle)
	assert.Equal(t, 80, opts.MaxDiscovered)
	assert.Equal(t, 200, opts.MaxScrolls)
	assert.Equal(t, 6*time.Hour, opts.Freshness)
	assert.Equal(t, "/tmp/shots", opts.DebugDir)
	assert.Equal(t, 5*time.Second, opts.MarkerTimeout)
}
