package scraper

import (
	"context"
	"fmt"
)

// RepairText re-scrapes posts stored without text, saves their replies and
// analyzes them. An empty profile covers every profile.
func (c *Crawler) RepairText(ctx context.Context, profile string) error {
	posts, err := c.store.PostsMissingText(ctx, NormalizeHandle(profile))
	if err != nil {
		return fmt.Errorf("load posts missing text: %w", err)
	}
	if len(posts) == 0 {
		c.logger.Info().Msg("No posts missing text")
		return nil
	}

	session, err := c.launcher.Open(ctx)
	if err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	defer session.Close()

	repaired := 0
	for i, p := range posts {
		if i > 0 {
			if err := sleep(ctx, c.opts.RecoveryDelay); err != nil {
				return err
			}
		}
		log := c.logger.With().Str("post_id", p.ID).Logger()

		post, err := c.scrapePost(ctx, session, p.ProfileHandle, p.ID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Msg("Re-scrape failed")
			continue
		}
		if !post.HasText() {
			log.Warn().Msg("Post still has no text")
			continue
		}
		if err := c.store.SavePost(ctx, post); err != nil {
			log.Warn().Err(err).Msg("Failed to store repaired post")
			continue
		}
		if err := c.analyzer.AnalyzeOne(ctx, p.ID); err != nil {
			log.Warn().Err(err).Msg("Analysis failed")
		}
		repaired++
	}

	c.logger.Info().Int("repaired", repaired).Int("candidates", len(posts)).Msg("Text repair finished")
	return nil
}

// ScrapeReplierLocations visits the profile of every reply author without a
// known location and stores it. Authors are handled one at a time with a
// delay in between.
func (c *Crawler) ScrapeReplierLocations(ctx context.Context) error {
	authors, err := c.store.ReplyAuthorsWithoutLocation(ctx)
	if err != nil {
		return fmt.Errorf("load reply authors: %w", err)
	}
	if len(authors) == 0 {
		return nil
	}

	session, err := c.launcher.Open(ctx)
	if err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	defer session.Close()

	found := 0
	for i, author := range authors {
		if i > 0 {
			if err := sleep(ctx, c.opts.LocationDelay); err != nil {
				return err
			}
		}
		log := c.logger.With().Str("username", author).Logger()

		if err := c.navigate(ctx, session, c.profileURL(author), PrimaryColumn); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Msg("Could not open replier profile")
			continue
		}

		var loc profileLocation
		if err := session.Evaluate(ctx, jsProfileLocation, &loc); err != nil {
			log.Warn().Err(err).Msg("Location extraction failed")
			continue
		}
		if !loc.Found {
			log.Debug().Msg("No location on profile")
			continue
		}
		if err := c.store.SetUserLocation(ctx, author, loc.Location); err != nil {
			log.Warn().Err(err).Msg("Failed to store location")
			continue
		}
		found++
	}

	c.logger.Info().Int("found", found).Int("authors", len(authors)).Msg("Replier location scrape finished")
	return nil
}
