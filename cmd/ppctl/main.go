// Command ppctl runs profilepulse maintenance tasks against the local database.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/profilepulse/internal/app"
	"github.com/ibeckermayer/profilepulse/internal/config"
	"github.com/ibeckermayer/profilepulse/internal/logging"
)

const closeTimeout = 30 * time.Second

type globalOptions struct {
	Config   string `long:"config" env:"PROFILEPULSE_CONFIG" description:"Path to config.toml (default: user config dir)"`
	LogLevel string `long:"log-level" default:"info" description:"Log level"`
}

// env is shared by every command. ctx is cancelled on SIGINT or SIGTERM.
type env struct {
	ctx  context.Context
	opts globalOptions
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := &env{ctx: ctx}
	parser := flags.NewParser(&e.opts, flags.Default)

	commands := []struct {
		name, short, long string
		cmd               flags.Commander
	}{
		{"scrape", "Crawl profiles", "Queue each profile and stream crawl progress until it finishes.", &scrapeCommand{env: e}},
		{"analyze-backlog", "Score unscored posts", "Score every post that has no metrics yet.", &analyzeCommand{env: e, backlog: true}},
		{"analyze-all", "Re-score every post", "Score every stored post again, newest first.", &analyzeCommand{env: e}},
		{"recover-dates", "Repair missing post dates", "Revisit posts with missing or implausible timestamps and store the recovered date.", &recoverDatesCommand{env: e}},
		{"repair-text", "Re-scrape posts without text", "Revisit posts stored without text, store their replies and score them.", &repairTextCommand{env: e}},
		{"replier-locations", "Collect reply author locations", "Visit the profile of every reply author without a known location.", &replierLocationsCommand{env: e}},
		{"user-metrics", "Recompute a user aggregate", "Recompute and print the aggregate metrics of a profile.", &userMetricsCommand{env: e}},
		{"stats", "Print monthly statistics", "Print monthly post statistics and top repliers of a profile.", &statsCommand{env: e}},
		{"delete-user", "Delete a profile and its data", "Delete a profile with its posts, replies, metrics and analyses.", &deleteUserCommand{env: e}},
		{"bot-test", "Audit the browser fingerprint", "Open bot.sannysoft.com in a visible browser with the crawler's options.", &botTestCommand{env: e}},
		{"open", "Open a profilepulse directory", "Open the config file, data directory or cache directory.", &openCommand{env: e}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.long, c.cmd); err != nil {
			fmt.Fprintf(os.Stderr, "ppctl: %v\n", err)
			os.Exit(1)
		}
	}

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		// flags.Default prints errors, command errors included
		os.Exit(1)
	}
}

func (e *env) config() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if e.opts.Config != "" {
		cfg, err = config.LoadPath(e.opts.Config)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if e.opts.LogLevel != "" {
		cfg.Logging.Level = e.opts.LogLevel
	}
	return cfg, nil
}

func (e *env) logger(cfg *config.Config) (zerolog.Logger, error) {
	// Command output goes to stdout, logs to stderr
	return logging.NewWithWriter(cfg.Logging, os.Stderr)
}

// withApp builds the application, runs fn and closes it again
func (e *env) withApp(fn func(a *app.App) error) error {
	cfg, err := e.config()
	if err != nil {
		return err
	}
	logger, err := e.logger(cfg)
	if err != nil {
		return err
	}

	a, err := app.New(e.ctx, cfg, logger)
	if err != nil {
		return err
	}

	runErr := fn(a)

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return errors.Join(runErr, a.Close(ctx))
}
