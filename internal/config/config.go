// Package config loads the crewd daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the daemon configuration.
type Config struct {
	// Listen is the HTTP API listen address.
	Listen string `yaml:"listen"`
	// DBPath is the SQLite database location.
	DBPath string `yaml:"db_path"`
	// AuthToken, when set, is required as a bearer credential on every API
	// call. The daemon compares it, never interprets it.
	AuthToken string `yaml:"auth_token"`
	// SweepInterval is how often the daemon runs the reclamation pass.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// StaleThreshold is how long an agent may miss heartbeats before the
	// sweep declares it dead.
	StaleThreshold time.Duration `yaml:"stale_threshold"`
	// DefaultLockTTLSeconds is the lock TTL applied when an acquire call
	// omits one.
	DefaultLockTTLSeconds int `yaml:"default_lock_ttl_seconds"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Listen:         "127.0.0.1:7467",
		DBPath:         filepath.Join(homeDir, ".crewd", "crewd.db"),
		SweepInterval:  30 * time.Second,
		StaleThreshold: 15 * time.Minute,
	}
}

// Load reads a YAML config file, applying defaults for absent fields. A
// missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Listen == "" {
		cfg.Listen = Default().Listen
	}
	if cfg.DBPath == "" {
		cfg.DBPath = Default().DBPath
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = Default().SweepInterval
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = Default().StaleThreshold
	}
	return cfg, nil
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".crewd", "config.yaml")
}
