package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ibeckermayer/profilepulse/internal/app"
	"github.com/ibeckermayer/profilepulse/internal/config"
	"github.com/ibeckermayer/profilepulse/internal/logging"
	"github.com/ibeckermayer/profilepulse/internal/metrics"
)

const shutdownTimeout = 30 * time.Second

type serverFlags struct {
	Config   string `long:"config" env:"PROFILEPULSE_CONFIG" description:"Path to config.toml (default: user config dir)"`
	Addr     string `long:"addr" description:"Listen address, overrides server.addr"`
	LogLevel string `long:"log-level" description:"Log level, overrides logging.level"`
}

func main() {
	var opts serverFlags
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "profilepulse: %v\n", err)
		os.Exit(1)
	}
}

func run(opts serverFlags) error {
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a.Start()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
	case err = <-serverErr:
		logger.Error().Err(err).Msg("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn().Err(shutdownErr).Msg("HTTP server shutdown incomplete")
	}
	if closeErr := a.Close(shutdownCtx); closeErr != nil {
		logger.Warn().Err(closeErr).Msg("Shutdown incomplete")
	}
	logger.Info().Msg("Stopped")
	return err
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadPath(path)
}
