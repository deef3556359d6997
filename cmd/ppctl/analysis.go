package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ibeckermayer/profilepulse/internal/app"
	"github.com/ibeckermayer/profilepulse/internal/scraper"
	"github.com/ibeckermayer/profilepulse/internal/stats"
	"github.com/ibeckermayer/profilepulse/internal/types"
)

type analyzeCommand struct {
	env     *env
	backlog bool

	BatchSize int `long:"batch-size" description:"Posts scored concurrently (default: analysis.batch_size)"`
}

func (c *analyzeCommand) Execute([]string) error {
	return c.env.withApp(func(a *app.App) error {
		batch := c.BatchSize
		if batch < 1 {
			batch = a.Config.Analysis.BatchSize
		}

		run := a.Pipeline.AnalyzeAll
		if c.backlog {
			run = a.Pipeline.AnalyzeBacklog
		}
		n, err := run(c.env.ctx, batch)
		fmt.Printf("Attempted %d posts\n", n)
		return err
	})
}

type usernameArg struct {
	Username string `positional-arg-name:"username" required:"yes"`
}

type userMetricsCommand struct {
	env *env

	Args usernameArg `positional-args:"yes"`
}

func (c *userMetricsCommand) Execute([]string) error {
	return c.env.withApp(func(a *app.App) error {
		username := scraper.NormalizeHandle(c.Args.Username)
		if err := a.Pipeline.RecomputeUserAggregate(c.env.ctx, username); err != nil {
			return err
		}
		m, err := a.Store.GetUserMetrics(c.env.ctx, username)
		if err != nil {
			return fmt.Errorf("no metrics for %s: %w", username, err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	})
}

type statsCommand struct {
	env *env

	Top  int         `long:"top" default:"5" description:"Number of top repliers to list"`
	Args usernameArg `positional-args:"yes"`
}

func (c *statsCommand) Execute([]string) error {
	return c.env.withApp(func(a *app.App) error {
		username := scraper.NormalizeHandle(c.Args.Username)
		reports, err := a.Store.ProfileReport(c.env.ctx, username)
		if err != nil {
			return err
		}
		posts := make([]types.Post, len(reports))
		for i := range reports {
			posts[i] = reports[i].Post
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MONTH\tPOSTS\tORIGINAL\tRETWEETS\tVIEWS\tLIKES\tREPLIES")
		for _, m := range stats.Monthly(username, posts) {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
				m.Key, m.Posts, m.OriginalPosts, m.Retweets, m.Views, m.Likes, m.Replies)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		fmt.Println()
		for i, r := range stats.TopRepliers(username, posts, c.Top) {
			fmt.Printf("%d. @%s (%d replies)\n", i+1, r.Username, r.Replies)
		}
		return nil
	})
}
