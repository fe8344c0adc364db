package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/kuhl33d/ODC-Embedded-Linux/config"
)

func keepDefaultLogger(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestParseFlags_Overrides(t *testing.T) {
	cli, err := parseFlags([]string{
		"-source", "synthetic",
		"-ws-addr", "0.0.0.0:9001",
		"-nats-urls", "nats://a:4222, nats://b:4222",
		"-history", "60",
		"-debug",
	}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "debug", cli.LogLevel)

	cfg := config.Default()
	cli.applyOverrides(cfg)

	assert.Equal(t, "synthetic", cfg.Input.Source)
	assert.Equal(t, "0.0.0.0:9001", cfg.WebSocket.Addr)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 60, cfg.History.Capacity)
	assert.Equal(t, config.Default().Metrics, cfg.Metrics, "flags not given leave the config alone")
}

func TestParseFlags_EmptyMetricsAddrDisablesEndpoint(t *testing.T) {
	cli, err := parseFlags([]string{"-metrics-addr", ""}, io.Discard)
	require.NoError(t, err)

	cfg := config.Default()
	cli.applyOverrides(cfg)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestParseFlags_UnknownFlag(t *testing.T) {
	_, err := parseFlags([]string{"-bogus"}, io.Discard)
	assert.Error(t, err)
}

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"defaults", nil, false},
		{"bad level", []string{"-log-level", "loud"}, true},
		{"bad format", []string{"-log-format", "xml"}, true},
		{"missing config", []string{"-config", "does-not-exist.yaml"}, true},
		{"zero history", []string{"-history", "0"}, true},
		{"version skips checks", []string{"-version", "-log-level", "loud"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli, err := parseFlags(tt.args, io.Discard)
			require.NoError(t, err)
			err = validateFlags(cli)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"-version"}, &out, io.Discard))
	assert.Contains(t, out.String(), "sysmonitord version "+Version)
}

func TestRun_ValidatePrintsLayeredConfig(t *testing.T) {
	keepDefaultLogger(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("history:\n  capacity: 120\nnats:\n  password: hunter2\n"), 0o600))
	t.Setenv("SYSMON_WS_ADDR", "0.0.0.0:9100")

	var out bytes.Buffer
	err := run([]string{"-config", path, "-source", "synthetic", "-validate"}, &out, io.Discard)
	require.NoError(t, err)

	var doc struct {
		Input struct {
			Source string `yaml:"source"`
		} `yaml:"input"`
		History struct {
			Capacity int `yaml:"capacity"`
		} `yaml:"history"`
		WebSocket struct {
			Addr string `yaml:"addr"`
		} `yaml:"websocket"`
		NATS struct {
			Password string `yaml:"password"`
		} `yaml:"nats"`
	}
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &doc), out.String())
	assert.Equal(t, "synthetic", doc.Input.Source)
	assert.Equal(t, 120, doc.History.Capacity)
	assert.Equal(t, "0.0.0.0:9100", doc.WebSocket.Addr)
	assert.Equal(t, "[REDACTED]", doc.NATS.Password)
}

func TestRun_InvalidConfigFails(t *testing.T) {
	keepDefaultLogger(t)
	err := run([]string{"-ws-addr", "127.0.0.1:9200", "-metrics-addr", "127.0.0.1:9200", "-validate"}, io.Discard, io.Discard)
	assert.Error(t, err)
}

func TestRun_HelpPrintsUsage(t *testing.T) {
	var stderr bytes.Buffer
	require.NoError(t, run([]string{"-help"}, io.Discard, &stderr))
	assert.Contains(t, stderr.String(), "-ws-addr")
	assert.Contains(t, stderr.String(), "SYSMON_CONFIG")
}
