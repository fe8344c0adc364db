package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kuhl33d/ODC-Embedded-Linux/errors"
)

// DefaultEnvPrefix is the prefix of environment overrides, e.g. SYSMON_WS_ADDR.
const DefaultEnvPrefix = "SYSMON"

// durationKeys lists the configuration keys holding durations. Their string
// values ("250ms", "5s") are converted before decoding.
var durationKeys = map[string]bool{
	"idle_backoff":       true,
	"error_backoff":      true,
	"synthetic_interval": true,
	"send_timeout":       true,
	"ping_interval":      true,
	"read_timeout":       true,
	"write_timeout":      true,
	"reconnect_wait":     true,
	"drain_timeout":      true,
	"stop_timeout":       true,
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file on top of the defaults.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load applies defaults, every layer, then environment overrides.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		merged, err := l.mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("merge %s", path))
		}
		cfg = merged
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads a JSON or YAML file, chosen by extension, into a map.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}

	parseDurations(raw)
	return raw, nil
}

// parseDurations converts duration strings to nanoseconds, recursively.
func parseDurations(data map[string]any) {
	for k, v := range data {
		switch val := v.(type) {
		case map[string]any:
			parseDurations(val)
		case string:
			if !durationKeys[k] {
				continue
			}
			if d, err := time.ParseDuration(val); err == nil {
				data[k] = d.Nanoseconds()
			}
		}
	}
}

// mergeFromMap merges configuration from a raw map, only overriding fields
// present in the map. Unknown keys are rejected.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(mergedJSON))
	dec.DisallowUnknownFields()
	var merged Config
	if err := dec.Decode(&merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
// Slices are replaced, not appended.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"INPUT_SOURCE", &cfg.Input.Source},
		{"WS_ADDR", &cfg.WebSocket.Addr},
		{"NATS_SUBJECT", &cfg.NATS.Subject},
		{"NATS_USERNAME", &cfg.NATS.Username},
		{"NATS_PASSWORD", &cfg.NATS.Password},
		{"NATS_TOKEN", &cfg.NATS.Token},
		{"METRICS_ADDR", &cfg.Metrics.Addr},
	}
	for _, s := range strs {
		if val, ok := l.env(s.key); ok {
			*s.dst = val
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"NETLINK_PROTOCOL", &cfg.Input.Protocol},
		{"NETLINK_GROUP", &cfg.Input.Group},
		{"CPUS", &cfg.Input.Layout.CPUs},
		{"MAX_PROCESSES", &cfg.Input.Layout.MaxProcesses},
		{"HISTORY_CAPACITY", &cfg.History.Capacity},
	}
	for _, s := range ints {
		val, ok := l.env(s.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return l.envError(s.key, err)
		}
		*s.dst = n
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"NATS_ENABLED", &cfg.NATS.Enabled},
		{"METRICS_ENABLED", &cfg.Metrics.Enabled},
	}
	for _, s := range bools {
		val, ok := l.env(s.key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return l.envError(s.key, err)
		}
		*s.dst = b
	}

	if val, ok := l.env("NATS_URLS"); ok {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	return nil
}

// env returns a non-empty, validated override.
func (l *Loader) env(key string) (string, bool) {
	name := l.envPrefix + "_" + key
	val, ok := l.lookupEnv(name)
	if !ok || val == "" {
		return "", false
	}
	if err := validateEnvVar(name, val); err != nil {
		return "", false
	}
	return val, true
}

func (l *Loader) envError(key string, err error) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s_%s: %v", errors.ErrInvalidConfig, l.envPrefix, key, err),
		"Loader", "applyEnvOverrides", "parse environment override")
}
