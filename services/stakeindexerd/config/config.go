package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config drives the stake indexer daemon.
type Config struct {
	// NodeWS is the websocket URL of the node's event stream.
	NodeWS string `yaml:"node_ws"`
	// Listen is the address of the indexer's query API.
	Listen   string         `yaml:"listen"`
	Database DatabaseConfig `yaml:"database"`
	Audit    AuditConfig    `yaml:"audit"`
}

// DatabaseConfig selects the projection store backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// DSN is the sqlite file path or the postgres connection string.
	DSN string `yaml:"dsn"`
}

// AuditConfig controls periodic parquet exports of the event journal.
type AuditConfig struct {
	// Directory receives the export files. Empty disables exports.
	Directory string `yaml:"directory"`
	// Interval is the export cadence; defaults to one hour.
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		NodeWS: "ws://127.0.0.1:8545/ws/events",
		Listen: "127.0.0.1:8741",
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "stake-indexer.db",
		},
		Audit: AuditConfig{Interval: time.Hour},
	}
}

// Load reads the YAML file at path, filling unset fields from Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unusable configurations before any connection is opened.
func (c Config) Validate() error {
	if strings.TrimSpace(c.NodeWS) == "" {
		return fmt.Errorf("node_ws is required")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres (got %q)", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Audit.Interval < 0 {
		return fmt.Errorf("audit.interval must not be negative")
	}
	return nil
}
