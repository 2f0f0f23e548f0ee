// Package app provides the shared entry point for the reverie binary:
// configuration loading, component wiring, and the main signal loop.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ferrant/reverie/internal/config"
	"github.com/ferrant/reverie/internal/cron"
	"github.com/ferrant/reverie/internal/telemetry"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version is injected at build time via ldflags.
	Version string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level
}

// Run loads configuration, wires and starts all components, and blocks
// until a shutdown signal is received.
func Run(params RunParams) error {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: params.LogLevel,
	}))

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(dataDir, "reverie.db")
	}

	shutdownTraces, err := telemetry.Setup(context.Background(), telemetry.Config{
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceVersion: params.Version,
	}, logger)
	if err != nil {
		return err
	}

	c, err := wire(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = c.store.Close() }()

	if err := c.gateway.Start(); err != nil {
		return err
	}

	var scheduler *cron.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler = cron.NewScheduler(logger)
		if err := cron.RegisterAll(scheduler, c.runner, cfg.Jobs.Schedules, logger); err != nil {
			return err
		}
		if err := scheduler.Start(); err != nil {
			return err
		}
	}

	logger.Info("reverie started",
		"version", params.Version,
		"config", cfgPath,
		"scheduler", cfg.Scheduler.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	logger.Info("shutdown signal received", "signal", sig.String())

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if scheduler != nil {
		if err := scheduler.Stop(stopCtx); err != nil {
			logger.Error("scheduler stop failed", "error", err)
		}
	}
	if err := c.gateway.Stop(stopCtx); err != nil {
		logger.Error("gateway stop failed", "error", err)
	}
	if err := shutdownTraces(stopCtx); err != nil {
		logger.Error("trace export shutdown failed", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/reverie/reverie.yaml →
// ~/.config/reverie/reverie.yaml → ./reverie.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "reverie", "reverie.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "reverie", "reverie.yaml"))
	}

	candidates = append(candidates, "reverie.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/reverie if set, otherwise ~/.local/share/reverie.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "reverie")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "reverie")
}
