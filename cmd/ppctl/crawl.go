package main

import (
	"fmt"

	"github.com/ibeckermayer/profilepulse/internal/app"
	"github.com/ibeckermayer/profilepulse/internal/scraper"
)

type scrapeCommand struct {
	env *env

	Args struct {
		Usernames []string `positional-arg-name:"username" required:"1"`
	} `positional-args:"yes"`
}

func (c *scrapeCommand) Execute([]string) error {
	return c.env.withApp(func(a *app.App) error {
		var failed int
		for _, name := range c.Args.Usernames {
			job := a.Queue.Enqueue(scraper.NormalizeHandle(name))
			for msg := range job.Updates() {
				fmt.Printf("[%s] %s\n", job.Username, msg)
			}
			if err := job.Wait(c.env.ctx); err != nil {
				if c.env.ctx.Err() != nil {
					return err
				}
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d crawls failed", failed, len(c.Args.Usernames))
		}
		return nil
	})
}

type recoverDatesCommand struct {
	env *env

	Profile string `long:"profile" description:"Only posts of this profile (default: all profiles)"`
}

func (c *recoverDatesCommand) Execute([]string) error {
	return c.env.withApp(func(a *app.App) error {
		return a.Crawler.RecoverAllDates(c.env.ctx, c.Profile)
	})
}

type repairTextCommand struct {
	env *env

	Profile string `long:"profile" description:"Only posts of this profile (default: all profiles)"`
}

func (c *repairTextCommand) Execute([]string) error {
	return c.env.withApp(func(a *app.App) error {
		return a.Crawler.RepairText(c.env.ctx, c.Profile)
	})
}

type replierLocationsCommand struct {
	env *env
}

func (c *replierLocationsCommand) Execute([]string) error {
	return c.env.withApp(func(a *app.App) error {
		return a.Crawler.ScrapeReplierLocations(c.env.ctx)
	})
}
