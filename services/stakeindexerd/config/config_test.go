package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "indexer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
node_ws: ws://node.internal:8545/ws/events
database:
  driver: postgres
  dsn: postgres://indexer@db/stake
audit:
  directory: /var/lib/stake-indexer/audit
  interval: 30m
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "ws://node.internal:8545/ws/events", cfg.NodeWS)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, 30*time.Minute, cfg.Audit.Interval)
	// Unset fields keep their defaults.
	require.Equal(t, Default().Listen, cfg.Listen)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: oracle
  dsn: whatever
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "database.driver")
}

func TestValidateRequiresDSN(t *testing.T) {
	cfg := Default()
	cfg.Database.DSN = " "
	require.ErrorContains(t, cfg.Validate(), "database.dsn")
}

func TestValidateRejectsNegativeInterval(t *testing.T) {
	cfg := Default()
	cfg.Audit.Interval = -time.Minute
	require.ErrorContains(t, cfg.Validate(), "audit.interval")
}
