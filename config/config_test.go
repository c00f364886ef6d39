package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress == "" || cfg.DataDir == "" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("Bogus = true\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown-key error")
	}
}

func TestValidateGatewayRequirements(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Gateway.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for enabled gateway without address/secret")
	}
	cfg.GatewayAddress = "127.0.0.1:8080"
	cfg.Gateway.JWTSecret = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsBadControllerAddress(t *testing.T) {
	cfg := &Config{Controller: "not-a-bech32-address"}
	cfg.applyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected controller address error")
	}
}
