// Package main implements sysmonitord, the daemon that reads system metric
// snapshots from the kernel over netlink and pushes them to WebSocket and
// NATS subscribers.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/kuhl33d/ODC-Embedded-Linux/config"
	"github.com/kuhl33d/ODC-Embedded-Linux/daemon"
	"github.com/kuhl33d/ODC-Embedded-Linux/errors"
	"github.com/kuhl33d/ODC-Embedded-Linux/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "sysmonitord"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cliCfg, err := parseFlags(args, stderr)
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}
	if cliCfg.ShowHelp {
		cliCfg.usage()
		return nil
	}

	logger := setupLogger(stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		_, _ = fmt.Fprint(stdout, cfg.String())
		return nil
	}

	logger.Info("Starting sysmonitord",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"source", cfg.Input.Source,
		"ws_addr", cfg.WebSocket.Addr,
		"nats_enabled", cfg.NATS.Enabled)

	d, err := daemon.New(daemon.Deps{
		Config:          cfg,
		MetricsRegistry: metric.NewMetricsRegistry(),
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = d.Run(ctx)
	if err != nil && !errors.IsFatal(err) {
		// Release problems after a requested shutdown do not fail the process.
		logger.Warn("Shutdown finished with errors", "error", err)
		return nil
	}
	if err == nil {
		logger.Info("sysmonitord stopped")
	}
	return err
}

// loadConfig layers the config file, SYSMON_* environment and flags, then
// validates the result.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cliCfg.applyOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
