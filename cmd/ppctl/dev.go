package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/pkg/browser"

	"github.com/ibeckermayer/profilepulse/internal/app"
	chrome "github.com/ibeckermayer/profilepulse/internal/browser"
	"github.com/ibeckermayer/profilepulse/internal/config"
	"github.com/ibeckermayer/profilepulse/internal/scraper"
	"github.com/ibeckermayer/profilepulse/internal/store"
)

const botTestURL = "https://bot.sannysoft.com"

type deleteUserCommand struct {
	env *env

	Yes  bool        `short:"y" long:"yes" description:"Do not ask for confirmation"`
	Args usernameArg `positional-args:"yes"`
}

func (c *deleteUserCommand) Execute([]string) error {
	username := scraper.NormalizeHandle(c.Args.Username)
	if !c.Yes && !confirm(fmt.Sprintf("Delete @%s with all posts, replies and metrics?", username)) {
		fmt.Println("Aborted")
		return nil
	}

	return c.env.withApp(func(a *app.App) error {
		if _, err := a.Store.GetUser(c.env.ctx, username); errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("unknown user %s", username)
		} else if err != nil {
			return err
		}
		n, err := a.Store.DeleteUser(c.env.ctx, username)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted @%s (%d rows)\n", username, n)
		return nil
	})
}

func confirm(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

type botTestCommand struct {
	env *env
}

func (c *botTestCommand) Execute([]string) error {
	cfg, err := c.env.config()
	if err != nil {
		return err
	}

	// Visible window so the report can be read
	allocCtx, cancel := chromedp.NewExecAllocator(c.env.ctx, chrome.Options(false, cfg.Scraping.ChromePath)...)
	defer cancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	if err := chromedp.Run(ctx, chromedp.Navigate(botTestURL)); err != nil {
		return fmt.Errorf("navigate to %s: %w", botTestURL, err)
	}

	fmt.Println("Press Enter to close the browser...")
	enter := make(chan struct{})
	go func() {
		bufio.NewReader(os.Stdin).ReadString('\n')
		close(enter)
	}()

	select {
	case <-enter:
	case <-c.env.ctx.Done():
	}
	return nil
}

type openCommand struct {
	env *env

	Args struct {
		Target string `positional-arg-name:"config|data|cache" required:"yes"`
	} `positional-args:"yes"`
}

func (c *openCommand) Execute([]string) error {
	path, err := c.resolve()
	if err != nil {
		return err
	}
	if err := browser.OpenFile(path); err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	return nil
}

func (c *openCommand) resolve() (string, error) {
	switch c.Args.Target {
	case "config":
		if c.env.opts.Config != "" {
			return c.env.opts.Config, nil
		}
		return config.ConfigPath()
	case "data":
		cfg, err := c.env.config()
		if err != nil {
			return "", err
		}
		dbPath, err := cfg.DatabasePath()
		if err != nil {
			return "", err
		}
		return filepath.Dir(dbPath), nil
	case "cache":
		dir, err := config.CacheDir()
		if err != nil {
			return "", err
		}
		return dir, os.MkdirAll(dir, 0700)
	default:
		return "", fmt.Errorf("unknown target %q, want config, data or cache", c.Args.Target)
	}
}
