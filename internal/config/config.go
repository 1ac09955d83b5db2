// Package config handles ddpclient configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/ddpclient/config.yaml,
// /config/config.yaml, /etc/ddpclient/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "ddpclient", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/ddpclient/config.yaml")
	return paths
}

// searchPathsFunc is a package-level indirection over DefaultSearchPaths
// so tests can substitute a fake search order without touching the
// developer's real config files.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds all ddpclient configuration: which server to dial, the
// protocol versions to offer, per-operation timeouts, and the optional
// outer reconnect policy.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Versions  []string        `yaml:"versions"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	LogLevel  string          `yaml:"log_level"`
}

// ServerConfig identifies the DDP endpoint to connect to.
type ServerConfig struct {
	// URL is the WebSocket endpoint, e.g. "wss://example.com/websocket".
	URL string `yaml:"url"`
	// TLSInsecureSkipVerify disables certificate verification. Use only
	// for local/development targets.
	TLSInsecureSkipVerify bool `yaml:"tls_insecure_skip_verify"`
}

// TimeoutConfig bounds how long Connect/Call/Subscribe wait for a
// response before failing with ddp.ErrTimeout.
type TimeoutConfig struct {
	ConnectSec   int `yaml:"connect_sec"`
	CallSec      int `yaml:"call_sec"`
	SubscribeSec int `yaml:"subscribe_sec"`
}

// Connect returns the connect timeout as a time.Duration.
func (t TimeoutConfig) Connect() time.Duration { return time.Duration(t.ConnectSec) * time.Second }

// Call returns the method-call timeout as a time.Duration.
func (t TimeoutConfig) Call() time.Duration { return time.Duration(t.CallSec) * time.Second }

// Subscribe returns the subscribe timeout as a time.Duration.
func (t TimeoutConfig) Subscribe() time.Duration {
	return time.Duration(t.SubscribeSec) * time.Second
}

// ReconnectConfig configures the optional connwatch.Reconnector outer
// layer. Disabled by default: spec.md's core Facade never reconnects on
// its own.
type ReconnectConfig struct {
	Enabled         bool    `yaml:"enabled"`
	InitialDelaySec int     `yaml:"initial_delay_sec"`
	MaxDelaySec     int     `yaml:"max_delay_sec"`
	Multiplier      float64 `yaml:"multiplier"`
	MaxRetries      int     `yaml:"max_retries"`
}

// InitialDelay returns the configured initial backoff as a time.Duration.
func (r ReconnectConfig) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelaySec) * time.Second
}

// MaxDelay returns the configured backoff ceiling as a time.Duration.
func (r ReconnectConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelaySec) * time.Second
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${DDP_SERVER_URL}). This is a
	// convenience for container deployments; the recommended approach is
	// to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if len(c.Versions) == 0 {
		c.Versions = []string{"1", "pre2", "pre1"}
	}
	if c.Timeouts.ConnectSec == 0 {
		c.Timeouts.ConnectSec = 10
	}
	if c.Timeouts.CallSec == 0 {
		c.Timeouts.CallSec = 10
	}
	if c.Timeouts.SubscribeSec == 0 {
		c.Timeouts.SubscribeSec = 10
	}
	if c.Reconnect.Enabled {
		if c.Reconnect.InitialDelaySec == 0 {
			c.Reconnect.InitialDelaySec = 1
		}
		if c.Reconnect.MaxDelaySec == 0 {
			c.Reconnect.MaxDelaySec = 30
		}
		if c.Reconnect.Multiplier == 0 {
			c.Reconnect.Multiplier = 2.0
		}
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	if len(c.Versions) == 0 {
		return fmt.Errorf("versions must not be empty")
	}
	if c.Reconnect.MaxDelaySec > 0 && c.Reconnect.InitialDelaySec > c.Reconnect.MaxDelaySec {
		return fmt.Errorf("reconnect.initial_delay_sec (%d) exceeds reconnect.max_delay_sec (%d)",
			c.Reconnect.InitialDelaySec, c.Reconnect.MaxDelaySec)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration pointing at a local Meteor
// development server. All defaults are already applied.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{URL: "ws://localhost:3000/websocket"},
	}
	cfg.applyDefaults()
	return cfg
}
