package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"stakeledger/crypto"
)

// Config is the daemon configuration, loaded from TOML.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	GatewayAddress string `toml:"GatewayAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`

	// Controller is the bech32 account installed as ledger controller on
	// first start. Ignored once a ledger exists.
	Controller string `toml:"Controller"`
	// LockDurationMillis is the withdrawal lock. Zero keeps the one-minute
	// deployment default.
	LockDurationMillis uint64 `toml:"LockDurationMillis"`

	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
	LogMaxAgeDays int    `toml:"LogMaxAgeDays"`

	Telemetry TelemetryConfig `toml:"Telemetry"`

	Gateway GatewayConfig `toml:"Gateway"`
}

// TelemetryConfig wires the optional OTLP exporters.
type TelemetryConfig struct {
	Enabled     bool   `toml:"Enabled"`
	Endpoint    string `toml:"Endpoint"`
	Insecure    bool   `toml:"Insecure"`
	Environment string `toml:"Environment"`
	Headers     string `toml:"Headers"`
}

// GatewayConfig tunes the REST edge in front of the JSON-RPC server.
type GatewayConfig struct {
	Enabled           bool     `toml:"Enabled"`
	JWTSecret         string   `toml:"JWTSecret"`
	JWTIssuer         string   `toml:"JWTIssuer"`
	JWTAudience       string   `toml:"JWTAudience"`
	AllowedOrigins    []string `toml:"AllowedOrigins"`
	RequestsPerMinute float64  `toml:"RequestsPerMinute"`
	Burst             int      `toml:"Burst"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown keys: %v", path, undecoded)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = "127.0.0.1:8546"
	}
	if strings.TrimSpace(c.MetricsAddress) == "" {
		c.MetricsAddress = "127.0.0.1:9464"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
}

// Validate checks the parts of the configuration that cannot be defaulted.
func (c *Config) Validate() error {
	if trimmed := strings.TrimSpace(c.Controller); trimmed != "" {
		if _, err := crypto.DecodeAddress(trimmed); err != nil {
			return fmt.Errorf("config: invalid Controller address: %w", err)
		}
	}
	if c.Gateway.Enabled {
		if strings.TrimSpace(c.GatewayAddress) == "" {
			return fmt.Errorf("config: GatewayAddress required when the gateway is enabled")
		}
		if strings.TrimSpace(c.Gateway.JWTSecret) == "" {
			return fmt.Errorf("config: Gateway.JWTSecret required when the gateway is enabled")
		}
	}
	return nil
}

// ControllerAddress decodes the configured controller, returning the zero
// address when unset.
func (c *Config) ControllerAddress() ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(c.Controller)
	if trimmed == "" {
		return out, nil
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return out, err
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
