package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/kuhl33d/ODC-Embedded-Linux/config"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	Debug       bool
	ShowVersion bool
	ShowHelp    bool
	Validate    bool

	// Config overrides, applied only when the flag was given.
	Source          string
	WebSocketAddr   string
	MetricsAddr     string
	NATSURLs        string
	NATSSubject     string
	HistoryCapacity int

	set   map[string]bool
	usage func()
}

func parseFlags(args []string, output io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{set: make(map[string]bool)}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)

	// Define flags with environment variable fallback
	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("SYSMON_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: SYSMON_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("SYSMON_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: SYSMON_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("SYSMON_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: SYSMON_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("SYSMON_LOG_FORMAT", "json"),
		"Log format: json, text (env: SYSMON_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("SYSMON_DEBUG", false),
		"Enable debug logging (env: SYSMON_DEBUG)")

	fs.StringVar(&cfg.Source, "source", "", "Frame source: netlink or synthetic")
	fs.StringVar(&cfg.WebSocketAddr, "ws-addr", "", "WebSocket listen address")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Prometheus and health listen address")
	fs.StringVar(&cfg.NATSURLs, "nats-urls", "", "Comma-separated NATS URLs; enables the NATS sink")
	fs.StringVar(&cfg.NATSSubject, "nats-subject", "", "NATS subject for published snapshots")
	fs.IntVar(&cfg.HistoryCapacity, "history", 0, "History window capacity in samples")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Print the effective configuration and exit")

	fs.Usage = func() {
		printDetailedHelp(fs, output)
	}
	cfg.usage = fs.Usage

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { cfg.set[f.Name] = true })

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.set["history"] && cfg.HistoryCapacity <= 0 {
		return fmt.Errorf("invalid history capacity: %d", cfg.HistoryCapacity)
	}
	return nil
}

// applyOverrides copies explicitly given flags onto the loaded configuration.
// Flags win over the file and the environment.
func (c *CLIConfig) applyOverrides(cfg *config.Config) {
	if c.set["source"] {
		cfg.Input.Source = c.Source
	}
	if c.set["ws-addr"] {
		cfg.WebSocket.Addr = c.WebSocketAddr
	}
	if c.set["metrics-addr"] {
		cfg.Metrics.Addr = c.MetricsAddr
		cfg.Metrics.Enabled = c.MetricsAddr != ""
	}
	if c.set["nats-urls"] {
		cfg.NATS.URLs = splitList(c.NATSURLs)
		cfg.NATS.Enabled = len(cfg.NATS.URLs) > 0
	}
	if c.set["nats-subject"] {
		cfg.NATS.Subject = c.NATSSubject
	}
	if c.set["history"] {
		cfg.History.Capacity = c.HistoryCapacity
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printDetailedHelp(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - netlink system metrics broadcaster

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Run against the kernel module
  %s --config=/etc/sysmon/config.yaml

  # Run without the kernel module
  %s --source=synthetic --log-format=text

  # Publish to NATS as well
  %s --nats-urls=nats://localhost:4222 --nats-subject=sysmon.metrics

  # Show the effective configuration
  SYSMON_WS_ADDR=0.0.0.0:8765 %s --validate

Version: %s
Build: %s
`, appName, appName, appName, appName, Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
