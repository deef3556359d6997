// Package scraper crawls X profile timelines through a browser session.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/profilepulse/internal/browser"
	"github.com/ibeckermayer/profilepulse/internal/metrics"
	"github.com/ibeckermayer/profilepulse/internal/store"
	"github.com/ibeckermayer/profilepulse/internal/types"
)

// Store is the persistence the crawler needs
type Store interface {
	EnsureUser(ctx context.Context, username string) error
	SetUserLocation(ctx context.Context, username, location string) error
	LatestPost(ctx context.Context, profile string) (*types.Post, error)
	PostIDsForProfile(ctx context.Context, profile string) ([]string, error)
	PostExists(ctx context.Context, id string) (bool, error)
	SavePost(ctx context.Context, p *types.Post) error
	PostsWithSuspectDates(ctx context.Context, profile string, floor, ceil time.Time) ([]types.Post, error)
	UpdatePostTimestamp(ctx context.Context, id string, ts time.Time) error
	PostsMissingText(ctx context.Context, profile string) ([]types.Post, error)
	ReplyAuthorsWithoutLocation(ctx context.Context) ([]string, error)
}

// Analyzer scores posts as they are stored
type Analyzer interface {
	AnalyzeOne(ctx context.Context, postID string) error
	RecomputeUserAggregate(ctx context.Context, username string) error
}

// Progress receives human-readable status lines. Send must not block.
type Progress interface {
	Send(msg string)
}

type discardProgress struct{}

func (discardProgress) Send(string) {}

// Options tunes timings and limits of a crawl
type Options struct {
	BaseURL string
	// MarkerTimeout bounds a single wait for a page marker
	MarkerTimeout time.Duration
	// RetryDelay is the pause between reload attempts
	RetryDelay time.Duration
	// NavigationWindow bounds all reload attempts for one page
	NavigationWindow time.Duration
	ProfileSettle    time.Duration
	ScrollSettle     time.Duration
	RecoveryDelay    time.Duration
	LocationDelay    time.Duration
	MaxDiscovered    int
	MaxScrolls       int
	MaxReplyScrolls  int
	Freshness        time.Duration
	PlausibleYears   int
	// DebugDir receives a screenshot when profile navigation fails. Empty disables.
	DebugDir string
}

// DefaultOptions mirrors the pacing that keeps X from flagging the session
func DefaultOptions() Options {
	return Options{
		BaseURL:          "https://x.com",
		MarkerTimeout:    5 * time.Second,
		RetryDelay:       time.Second,
		NavigationWindow: 30 * time.Second,
		ProfileSettle:    10 * time.Second,
		ScrollSettle:     3 * time.Second,
		RecoveryDelay:    time.Second,
		LocationDelay:    3 * time.Second,
		MaxDiscovered:    50,
		MaxScrolls:       200,
		MaxReplyScrolls:  3,
		Freshness:        24 * time.Hour,
		PlausibleYears:   25,
	}
}

// Crawler drives profile crawls. One crawl at a time; the queue enforces that.
type Crawler struct {
	launcher browser.Launcher
	store    Store
	analyzer Analyzer
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a crawler
func New(launcher browser.Launcher, st Store, analyzer Analyzer, opts Options, logger zerolog.Logger) *Crawler {
	return &Crawler{
		launcher: launcher,
		store:    st,
		analyzer: analyzer,
		opts:     opts,
		logger:   logger.With().Str("component", "crawler").Logger(),
		now:      time.Now,
	}
}

// NormalizeHandle strips whitespace and a leading @ and lower-cases the
// handle, since X handles are case-insensitive
func NormalizeHandle(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}

func (c *Crawler) profileURL(username string) string {
	return c.opts.BaseURL + "/" + username
}

func (c *Crawler) postURL(username, id string) string {
	return c.opts.BaseURL + "/" + username + "/status/" + id
}

// Run crawls one profile end to end: pagination, per-post extraction and
// analysis, then date recovery across all profiles and the user aggregate. A profile whose newest
// stored post is fresher than Options.Freshness is skipped without opening a browser.
func (c *Crawler) Run(ctx context.Context, username string, progress Progress) (err error) {
	username = NormalizeHandle(username)
	if username == "" {
		return errors.New("empty username")
	}
	if progress == nil {
		progress = discardProgress{}
	}
	log := c.logger.With().Str("username", username).Logger()
	start := time.Now()

	skipped := false
	defer func() {
		result := "completed"
		switch {
		case skipped:
			result = "skipped"
		case err != nil:
			result = "failed"
		}
		metrics.ObserveCrawl(result, start)
	}()

	if err := c.store.EnsureUser(ctx, username); err != nil {
		return fmt.Errorf("ensure user %s: %w", username, err)
	}

	fresh, err := c.isFresh(ctx, username)
	if err != nil {
		return err
	}
	if fresh {
		skipped = true
		log.Info().Msg("Profile scraped recently, skipping")
		progress.Send(fmt.Sprintf("@%s was scraped less than %s ago, skipping", username, c.opts.Freshness))
		return nil
	}

	existing, err := c.store.PostIDsForProfile(ctx, username)
	if err != nil {
		return fmt.Errorf("load existing posts for %s: %w", username, err)
	}

	session, err := c.launcher.Open(ctx)
	if err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	defer session.Close()

	progress.Send(fmt.Sprintf("Navigating to profile of @%s...", username))
	if err := c.navigate(ctx, session, c.profileURL(username), PrimaryColumn); err != nil {
		c.saveScreenshot(ctx, session, "profile-"+username)
		return fmt.Errorf("open profile %s: %w", username, err)
	}
	if err := sleep(ctx, c.opts.ProfileSettle); err != nil {
		return err
	}

	c.recordLocation(ctx, session, username)

	state := newCrawlState(existing)
	if err := c.paginate(ctx, session, state, progress); err != nil {
		return fmt.Errorf("paginate %s: %w", username, err)
	}
	metrics.PostsDiscovered.Add(float64(state.len()))

	ids := state.pending()
	log.Info().
		Int("discovered", state.len()).
		Int("pending", len(ids)).
		Bool("short_circuit", state.shortCircuit).
		Msg("Pagination finished")
	progress.Send(fmt.Sprintf("Finished scrolling. Processing %d posts...", len(ids)))

	for i, id := range ids {
		progress.Send(fmt.Sprintf("Processing post %d of %d...", i+1, len(ids)))
		if err := c.processPost(ctx, session, username, id); err != nil {
			return fmt.Errorf("process post %s: %w", id, err)
		}
	}

	// Covers every profile, including ones the freshness guard keeps skipping
	progress.Send("Checking post dates...")
	if err := c.RecoverDates(ctx, session, ""); err != nil {
		return fmt.Errorf("recover dates: %w", err)
	}

	if err := c.analyzer.RecomputeUserAggregate(ctx, username); err != nil {
		log.Warn().Err(err).Msg("Failed to recompute user metrics")
	}

	log.Info().Dur("elapsed", time.Since(start)).Msg("Crawl finished")
	return nil
}

func (c *Crawler) isFresh(ctx context.Context, username string) (bool, error) {
	latest, err := c.store.LatestPost(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load latest post for %s: %w", username, err)
	}
	// A future timestamp is bogus and left to date recovery
	age := c.now().Sub(*latest.Timestamp)
	return age >= 0 && age < c.opts.Freshness, nil
}

// navigate loads url and waits for marker, reloading on each timed-out wait
// until the navigation window closes
func (c *Crawler) navigate(ctx context.Context, s browser.Session, url, marker string) error {
	if err := s.Navigate(ctx, url); err != nil {
		return err
	}

	windowCtx, cancel := context.WithTimeout(ctx, c.opts.NavigationWindow)
	defer cancel()

	step := c.opts.MarkerTimeout + c.opts.RetryDelay
	if step <= 0 {
		step = time.Second
	}
	attempts := uint(c.opts.NavigationWindow/step) + 1

	var lastErr error
	err := retry.Do(
		func() error {
			err := s.WaitVisible(windowCtx, marker, c.opts.MarkerTimeout)
			if err == nil {
				return nil
			}
			lastErr = err
			if rerr := s.Reload(windowCtx); rerr != nil {
				c.logger.Debug().Err(rerr).Str("url", url).Msg("Reload failed")
			}
			return err
		},
		retry.Attempts(attempts),
		retry.Delay(c.opts.RetryDelay),
		retry.MaxDelay(c.opts.RetryDelay),
		retry.Context(windowCtx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug().Uint("attempt", n+1).Str("url", url).Err(err).Msg("Content marker not visible, reloaded")
		}),
	)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if lastErr == nil {
		lastErr = err
	}
	if browser.IsNavigationError(lastErr) {
		return lastErr
	}
	return &browser.NavigationError{URL: url, Selector: marker, Err: lastErr}
}

func (c *Crawler) recordLocation(ctx context.Context, s browser.Session, username string) {
	var loc profileLocation
	if err := s.Evaluate(ctx, jsProfileLocation, &loc); err != nil {
		c.logger.Debug().Err(err).Str("username", username).Msg("Location extraction failed")
		return
	}
	if !loc.Found {
		return
	}
	if err := c.store.SetUserLocation(ctx, username, loc.Location); err != nil {
		c.logger.Warn().Err(err).Str("username", username).Msg("Failed to store location")
	}
}

// paginate scrolls the timeline until the feed stops growing, it reaches
// already stored posts, or the discovery cap is exceeded
func (c *Crawler) paginate(ctx context.Context, s browser.Session, state *crawlState, progress Progress) error {
	height, err := s.Height(ctx)
	if err != nil {
		return fmt.Errorf("read page height: %w", err)
	}

	for scroll := 0; scroll < c.opts.MaxScrolls; scroll++ {
		var list idList
		if err := s.Evaluate(ctx, jsPostIDs, &list); err != nil {
			return fmt.Errorf("extract post ids: %w", err)
		}
		state.merge(list.IDs)
		progress.Send(fmt.Sprintf("Found %d posts so far...", state.len()))

		if state.overlap || state.len() > c.opts.MaxDiscovered {
			state.shortCircuit = true
			return nil
		}

		if err := s.ScrollToBottom(ctx); err != nil {
			return fmt.Errorf("scroll: %w", err)
		}
		if err := sleep(ctx, c.opts.ScrollSettle); err != nil {
			return err
		}

		next, err := s.Height(ctx)
		if err != nil {
			return fmt.Errorf("read page height: %w", err)
		}
		if next == height {
			return nil
		}
		height = next
	}

	c.logger.Warn().Int("max_scrolls", c.opts.MaxScrolls).Msg("Scroll limit reached")
	return nil
}

func (c *Crawler) processPost(ctx context.Context, s browser.Session, username, id string) error {
	exists, err := c.store.PostExists(ctx, id)
	if err != nil {
		return err
	}

	if !exists {
		post, err := c.scrapePost(ctx, s, username, id)
		if err != nil {
			return err
		}
		if err := c.store.SavePost(ctx, post); err != nil {
			return err
		}
		metrics.PostsStored.Inc()
	}

	if err := c.analyzer.AnalyzeOne(ctx, id); err != nil {
		c.logger.Warn().Err(err).Str("post_id", id).Msg("Analysis failed")
	}
	return nil
}

// scrapePost opens a permalink and extracts the post and its replies
func (c *Crawler) scrapePost(ctx context.Context, s browser.Session, username, id string) (*types.Post, error) {
	url := c.postURL(username, id)
	if err := s.Navigate(ctx, url); err != nil {
		return nil, err
	}
	if err := s.WaitVisible(ctx, TweetArticle, c.opts.MarkerTimeout); err != nil {
		c.logger.Debug().Err(err).Str("post_id", id).Msg("Post article not visible, extracting anyway")
	}
	if err := sleep(ctx, c.opts.ScrollSettle); err != nil {
		return nil, err
	}
	if err := c.loadReplies(ctx, s); err != nil {
		return nil, err
	}

	html, err := s.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read post page: %w", err)
	}
	detail, err := parseDetail(html)
	if err != nil {
		return nil, err
	}

	post := detail.toPost(id, username, c.now())
	if post.Timestamp == nil {
		c.logger.Warn().Str("post_id", id).Msg("No parseable timestamp, leaving it for date recovery")
	}
	return post, nil
}

// loadReplies scrolls a permalink page until it stops growing, a bounded number of times
func (c *Crawler) loadReplies(ctx context.Context, s browser.Session) error {
	height, err := s.Height(ctx)
	if err != nil {
		return err
	}
	for i := 0; i < c.opts.MaxReplyScrolls; i++ {
		if err := s.ScrollToBottom(ctx); err != nil {
			return err
		}
		if err := sleep(ctx, c.opts.ScrollSettle); err != nil {
			return err
		}
		next, err := s.Height(ctx)
		if err != nil {
			return err
		}
		if next == height {
			return nil
		}
		height = next
	}
	return nil
}

func (c *Crawler) saveScreenshot(ctx context.Context, s browser.Session, name string) {
	if c.opts.DebugDir == "" {
		return
	}
	buf, err := s.Screenshot(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Screenshot failed")
		return
	}
	if err := os.MkdirAll(c.opts.DebugDir, 0755); err != nil {
		c.logger.Debug().Err(err).Msg("Create debug dir failed")
		return
	}
	path := filepath.Join(c.opts.DebugDir, fmt.Sprintf("%s-%s.png", name, c.now().Format("20060102-150405")))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		c.logger.Debug().Err(err).Msg("Write screenshot failed")
		return
	}
	c.logger.Info().Str("path", path).Msg("Saved failure screenshot")
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
