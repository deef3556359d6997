// Package app wires the configured components together and owns their lifetime.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/ibeckermayer/profilepulse/internal/analyzer"
	"github.com/ibeckermayer/profilepulse/internal/api"
	"github.com/ibeckermayer/profilepulse/internal/auth"
	"github.com/ibeckermayer/profilepulse/internal/browser"
	"github.com/ibeckermayer/profilepulse/internal/config"
	"github.com/ibeckermayer/profilepulse/internal/queue"
	"github.com/ibeckermayer/profilepulse/internal/scheduler"
	"github.com/ibeckermayer/profilepulse/internal/scraper"
	"github.com/ibeckermayer/profilepulse/internal/store"
)

// App holds the application state. Components are built once and shared.
type App struct {
	Config    *config.Config
	Store     *store.Store
	Cookies   *auth.CookieStore
	Pipeline  *analyzer.Pipeline
	Crawler   *scraper.Crawler
	Queue     *queue.Queue
	Scheduler *scheduler.Scheduler
	API       *api.Server

	logger zerolog.Logger
	cancel context.CancelFunc
}

// Option adjusts how New builds the app
type Option func(*buildOptions)

type buildOptions struct {
	scorer   analyzer.Scorer
	launcher browser.Launcher
	cacheDir string
}

// WithScorer replaces the configured analysis provider
func WithScorer(s analyzer.Scorer) Option {
	return func(o *buildOptions) { o.scorer = s }
}

// WithLauncher replaces the Chrome launcher
func WithLauncher(l browser.Launcher) Option {
	return func(o *buildOptions) { o.launcher = l }
}

// WithCacheDir overrides where debug artifacts are written
func WithCacheDir(dir string) Option {
	return func(o *buildOptions) { o.cacheDir = dir }
}

// New builds every component from cfg. Jobs run under a context derived from
// ctx that Close cancels.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	if bo.cacheDir == "" {
		dir, err := config.CacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve cache dir: %w", err)
		}
		bo.cacheDir = dir
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("path", dbPath).Msg("Database opened")

	cookiesPath, err := cfg.CookiesPath()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("resolve cookies path: %w", err)
	}
	cookies := auth.NewCookieStore(cookiesPath)
	if !cookies.IsValid() {
		logger.Warn().Str("path", cookiesPath).Msg("No valid X session cookies, crawling logged out")
	}

	scorer := bo.scorer
	if scorer == nil {
		if cfg.Analysis.APIKey == "" {
			logger.Warn().Msg("No analysis API key configured, post analysis will fail")
		}
		scorer, err = analyzer.NewScorer(cfg.Analysis)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	exchangeDir := ""
	if cfg.Analysis.CacheExchanges {
		exchangeDir = analyzer.ExchangeDir(bo.cacheDir)
	}
	pipeline := analyzer.New(scorer, st, exchangeDir, logger)

	launcher := bo.launcher
	if launcher == nil {
		launcher = browser.NewChrome(cfg.Scraping.Headless, cfg.Scraping.ChromePath, cookies, logger)
	}

	debugDir := ""
	if cfg.Scraping.DebugScreenshots {
		debugDir = filepath.Join(bo.cacheDir, "screenshots")
	}
	crawler := scraper.New(launcher, st, pipeline, CrawlerOptions(cfg.Scraping, debugDir), logger)

	runCtx, cancel := context.WithCancel(ctx)
	q := queue.New(runCtx, func(ctx context.Context, username string, progress *queue.Progress) error {
		return crawler.Run(ctx, username, progress)
	}, logger)

	var sched *scheduler.Scheduler
	if cfg.Schedule.Enabled {
		sched, err = scheduler.New(cfg.Schedule.Timezone, logger)
		if err != nil {
			cancel()
			st.Close()
			return nil, err
		}
		if err := sched.AddRescrapeJob(cfg.Schedule.RescrapeIntervalHours, scheduler.RequeueTracked(st, q, logger)); err != nil {
			cancel()
			st.Close()
			return nil, err
		}
	}

	apiOpts := api.Options{
		AdminToken: cfg.Server.AdminToken,
		BatchSize:  cfg.Analysis.BatchSize,
		Background: runCtx,
	}
	if sched != nil {
		apiOpts.Schedule = sched
	}

	return &App{
		Config:    cfg,
		Store:     st,
		Cookies:   cookies,
		Pipeline:  pipeline,
		Crawler:   crawler,
		Queue:     q,
		Scheduler: sched,
		API:       api.NewServer(q, st, pipeline, apiOpts, logger),
		logger:    logger,
		cancel:    cancel,
	}, nil
}

// CrawlerOptions maps scraping config onto crawler options
func CrawlerOptions(cfg config.ScrapingConfig, debugDir string) scraper.Options {
	opts := scraper.DefaultOptions()
	if cfg.BaseURL != "" {
		opts.BaseURL = cfg.BaseURL
	}
	if d := cfg.NavigationTimeout(); d > 0 {
		opts.NavigationWindow = d
	}
	if d := cfg.SettleDelay(); d > 0 {
		opts.ScrollSettle = d
	}
	if cfg.MaxDiscovered > 0 {
		opts.MaxDiscovered = cfg.MaxDiscovered
	}
	if cfg.MaxScrolls > 0 {
		opts.MaxScrolls = cfg.MaxScrolls
	}
	if cfg.FreshnessHours > 0 {
		opts.Freshness = time.Duration(cfg.FreshnessHours) * time.Hour
	}
	opts.DebugDir = debugDir
	return opts
}

// Start runs the scheduler, if enabled, and queues the first round right away
func (a *App) Start() {
	if a.Scheduler == nil {
		return
	}
	a.Scheduler.Start()

	job := scheduler.RequeueTracked(a.Store, a.Queue, a.logger)
	go func() {
		if err := a.Scheduler.RunNow("rescrape", job); err != nil {
			a.logger.Error().Err(err).Msg("Initial rescrape failed")
		}
	}()
}

// Close stops scheduling, cancels running jobs and waits for them before
// closing the store. ctx bounds the wait.
func (a *App) Close(ctx context.Context) error {
	if a.Scheduler != nil {
		<-a.Scheduler.Stop().Done()
	}
	a.cancel()

	done := make(chan struct{})
	go func() {
		a.Queue.Wait()
		a.API.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}

	return errors.Join(waitErr, a.Store.Close())
}
