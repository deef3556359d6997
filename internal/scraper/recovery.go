package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/ibeckermayer/profilepulse/internal/browser"
	"github.com/ibeckermayer/profilepulse/internal/metrics"
	"github.com/ibeckermayer/profilepulse/internal/types"
)

// RecoverDates revisits posts of profile whose timestamp is missing, older
// than the plausibility floor, or in the future, and stores the first
// parseable page date when it is plausible. An empty profile covers every
// profile. Per-post failures are logged and skipped.
func (c *Crawler) RecoverDates(ctx context.Context, s browser.Session, profile string) error {
	now := c.now()
	floor := now.AddDate(-c.opts.PlausibleYears, 0, 0)

	posts, err := c.store.PostsWithSuspectDates(ctx, profile, floor, now)
	if err != nil {
		return fmt.Errorf("load posts with suspect dates: %w", err)
	}
	if len(posts) == 0 {
		return nil
	}
	c.logger.Info().Int("posts", len(posts)).Str("profile", profile).Msg("Recovering post dates")

	for i, p := range posts {
		if i > 0 {
			if err := sleep(ctx, c.opts.RecoveryDelay); err != nil {
				return err
			}
		}

		log := c.logger.With().Str("post_id", p.ID).Logger()

		ts, ok, err := c.readPostDate(ctx, s, p)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.DateRepairs.WithLabelValues("error").Inc()
			log.Warn().Err(err).Msg("Date recovery failed")
			continue
		}
		if !ok || !ts.After(floor) || ts.After(now) {
			metrics.DateRepairs.WithLabelValues("unresolved").Inc()
			log.Warn().Time("candidate", ts).Msg("No plausible date found")
			continue
		}

		if err := c.store.UpdatePostTimestamp(ctx, p.ID, ts); err != nil {
			metrics.DateRepairs.WithLabelValues("error").Inc()
			log.Warn().Err(err).Msg("Failed to store recovered date")
			continue
		}
		metrics.DateRepairs.WithLabelValues("fixed").Inc()
		log.Info().Time("timestamp", ts).Msg("Recovered post date")
	}
	return nil
}

// RecoverAllDates runs the recovery pass in its own browser session
func (c *Crawler) RecoverAllDates(ctx context.Context, profile string) error {
	session, err := c.launcher.Open(ctx)
	if err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	defer session.Close()

	return c.RecoverDates(ctx, session, NormalizeHandle(profile))
}

func (c *Crawler) readPostDate(ctx context.Context, s browser.Session, p types.Post) (time.Time, bool, error) {
	if err := s.Navigate(ctx, c.postURL(p.ProfileHandle, p.ID)); err != nil {
		return time.Time{}, false, err
	}
	if err := sleep(ctx, c.opts.ScrollSettle); err != nil {
		return time.Time{}, false, err
	}
	if err := c.loadReplies(ctx, s); err != nil {
		return time.Time{}, false, err
	}
	if err := s.WaitVisible(ctx, TimeElement, c.opts.MarkerTimeout); err != nil {
		return time.Time{}, false, err
	}

	html, err := s.HTML(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	values, err := timeValuesFromHTML(html)
	if err != nil {
		return time.Time{}, false, err
	}

	ts, ok := firstParseable(values)
	return ts, ok, nil
}
