// Package config handles Prestabot configuration loading.
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
// Then: ./config.yaml, ~/.config/prestabot/config.yaml,
// /etc/prestabot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "prestabot", "config.yaml"))
	}

	paths = append(paths, "/etc/prestabot/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Prestabot configuration.
type Config struct {
	Gateway     GatewayConfig `yaml:"gateway"`
	Engine      EngineConfig  `yaml:"engine"`
	Events      EventsConfig  `yaml:"events"`
	CountryCode string        `yaml:"country_code"`
	DataDir     string        `yaml:"data_dir"`
	DBPath      string        `yaml:"db_path"`
	// SessionTimeoutMinutes controls how long a sender stays in an
	// active session. Zero falls back to the default.
	SessionTimeoutMinutes int    `yaml:"session_timeout_minutes"`
	LogLevel              string `yaml:"log_level"`
}

// GatewayConfig defines the WhatsApp gateway connection.
type GatewayConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	// RateLimit caps messages per sender per minute; 0 = unlimited.
	RateLimit int `yaml:"rate_limit"`
}

// EngineConfig defines the conversational engine service.
type EngineConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// EventsConfig defines the domain-event broker connection.
type EventsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

const defaultSessionTimeout = 30 * time.Minute

// SessionTimeout returns the configured session timeout.
func (c *Config) SessionTimeout() time.Duration {
	if c.SessionTimeoutMinutes <= 0 {
		return defaultSessionTimeout
	}
	return time.Duration(c.SessionTimeoutMinutes) * time.Minute
}

// DatabasePath returns the SQLite path, derived from DataDir when not
// set explicitly.
func (c *Config) DatabasePath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.DataDir, "prestabot.db")
}

// Load reads configuration from a YAML file. Environment variable
// references in the file ($VAR or ${VAR}) are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if cfg.Gateway.URL == "" {
		return nil, fmt.Errorf("gateway.url is required")
	}
	if cfg.Engine.URL == "" {
		return nil, fmt.Errorf("engine.url is required")
	}
	if cfg.Events.Enabled && cfg.Events.URL == "" {
		return nil, fmt.Errorf("events.url is required when events are enabled")
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Events:      EventsConfig{Exchange: "prestabot"},
		CountryCode: "1",
		DataDir:     ".",
		LogLevel:    "info",
	}
}
