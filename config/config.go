package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/kuhl33d/ODC-Embedded-Linux/broadcast"
	"github.com/kuhl33d/ODC-Embedded-Linux/errors"
	"github.com/kuhl33d/ODC-Embedded-Linux/history"
	"github.com/kuhl33d/ODC-Embedded-Linux/input/netlink"
	"github.com/kuhl33d/ODC-Embedded-Linux/output/natspub"
	"github.com/kuhl33d/ODC-Embedded-Linux/output/websocket"
)

// Config represents the complete daemon configuration
type Config struct {
	Input     netlink.Config   `json:"input"     yaml:"input"`
	History   HistoryConfig    `json:"history"   yaml:"history"`
	Broadcast broadcast.Config `json:"broadcast" yaml:"broadcast"`
	WebSocket websocket.Config `json:"websocket" yaml:"websocket"`
	NATS      NATSConfig       `json:"nats"      yaml:"nats"`
	Metrics   MetricsConfig    `json:"metrics"   yaml:"metrics"`
	Shutdown  ShutdownConfig   `json:"shutdown"  yaml:"shutdown"`
}

// HistoryConfig sizes the recent-history window.
type HistoryConfig struct {
	Capacity int `json:"capacity" yaml:"capacity"`
}

// NATSConfig defines the optional NATS sink. When disabled no connection is made.
type NATSConfig struct {
	Enabled         bool          `json:"enabled"                    yaml:"enabled"`
	URLs            []string      `json:"urls,omitempty"             yaml:"urls,omitempty"`
	Subject         string        `json:"subject"                    yaml:"subject"`
	Name            string        `json:"name,omitempty"             yaml:"name,omitempty"`
	MaxReconnects   int           `json:"max_reconnects"             yaml:"max_reconnects"`
	ReconnectWait   time.Duration `json:"reconnect_wait"             yaml:"reconnect_wait"`
	ConnectAttempts int           `json:"connect_attempts"           yaml:"connect_attempts"`
	Username        string        `json:"username,omitempty"         yaml:"username,omitempty"`
	Password        string        `json:"password,omitempty"         yaml:"password,omitempty"`
	Token           string        `json:"token,omitempty"            yaml:"token,omitempty"`
	TLS             NATSTLSConfig `json:"tls,omitempty"              yaml:"tls,omitempty"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"             yaml:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"  yaml:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"   yaml:"ca_file,omitempty"`
}

// MetricsConfig controls the /metrics and /health endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr"    yaml:"addr"`
	Path    string `json:"path"    yaml:"path"`
}

// ShutdownConfig bounds the Draining phase.
type ShutdownConfig struct {
	// DrainTimeout bounds closing every subscriber.
	DrainTimeout time.Duration `json:"drain_timeout" yaml:"drain_timeout"`
	// StopTimeout bounds each component Stop call.
	StopTimeout time.Duration `json:"stop_timeout" yaml:"stop_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Input:     netlink.DefaultConfig(),
		History:   HistoryConfig{Capacity: history.DefaultCapacity},
		Broadcast: broadcast.Config{SendTimeout: broadcast.DefaultSendTimeout},
		WebSocket: websocket.DefaultConfig(),
		NATS: NATSConfig{
			URLs:            []string{"nats://localhost:4222"},
			Subject:         natspub.DefaultSubject,
			Name:            "sysmonitord",
			MaxReconnects:   -1,
			ReconnectWait:   2 * time.Second,
			ConnectAttempts: 5,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Shutdown: ShutdownConfig{
			DrainTimeout: 5 * time.Second,
			StopTimeout:  10 * time.Second,
		},
	}
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// Validate checks the whole configuration and reports the first problem.
func (c *Config) Validate() error {
	if err := c.Input.Validate(); err != nil {
		return invalidf("input: %v", err)
	}
	if c.History.Capacity <= 0 {
		return invalidf("history.capacity must be positive, got %d", c.History.Capacity)
	}
	if c.Broadcast.SendTimeout <= 0 {
		return invalidf("broadcast.send_timeout must be positive")
	}
	if err := c.WebSocket.Validate(); err != nil {
		return invalidf("websocket: %v", err)
	}
	if err := c.validateNATS(); err != nil {
		return err
	}
	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			return invalidf("metrics.addr is required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return invalidf("metrics.path must start with '/', got %q", c.Metrics.Path)
		}
		if c.Metrics.Addr == c.WebSocket.Addr {
			return invalidf("metrics.addr and websocket.addr are both %s", c.Metrics.Addr)
		}
	}
	if c.Shutdown.DrainTimeout <= 0 || c.Shutdown.StopTimeout <= 0 {
		return invalidf("shutdown timeouts must be positive")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if len(c.NATS.URLs) == 0 {
		return invalidf("nats.urls is required when nats is enabled")
	}
	if !isValidNATSSubject(c.NATS.Subject) {
		return invalidf(
			"nats.subject '%s' is not a valid publish subject (dot separated tokens of letters, digits, '-' and '_')",
			c.NATS.Subject)
	}
	if c.NATS.ConnectAttempts <= 0 {
		return invalidf("nats.connect_attempts must be positive")
	}
	if c.NATS.Username != "" && c.NATS.Token != "" {
		return invalidf("nats.username and nats.token are mutually exclusive")
	}
	if c.NATS.TLS.Enabled && (c.NATS.TLS.CertFile == "") != (c.NATS.TLS.KeyFile == "") {
		return invalidf("nats.tls.cert_file and nats.tls.key_file must be set together")
	}
	return nil
}

// isValidNATSSubject checks a publish subject: non-empty tokens separated by
// dots, no wildcards.
func isValidNATSSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, token := range strings.Split(s, ".") {
		if token == "" {
			return false
		}
		for _, r := range token {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
				return false
			}
		}
	}
	return true
}

func invalidf(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Config", "Validate", "check configuration")
}

// Redacted returns a copy with credentials masked, for printing.
func (c *Config) Redacted() *Config {
	out := c.Clone()
	if out.NATS.Password != "" {
		out.NATS.Password = "[REDACTED]"
	}
	if out.NATS.Token != "" {
		out.NATS.Token = "[REDACTED]"
	}
	return out
}

// String renders the configuration as YAML with credentials masked.
func (c *Config) String() string {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}
