package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100*time.Millisecond, cfg.RPC.ExitPollInterval)
	assert.Equal(t, filepath.Join("ledger", "snapshot.tgz"), cfg.SnapshotPath())
	assert.Equal(t, filepath.Join("ledger", "genesis.yaml"), cfg.GenesisConfigPath())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ledger_dir: /var/lib/staker
aggregation_workers: 3
rpc:
  listen: 0.0.0.0:9000
  allowed_origins: [https://explorer.example]
metrics:
  listen: 127.0.0.1:9100
snapshot:
  interval: 0
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/staker", cfg.LedgerDir)
	assert.Equal(t, 3, cfg.AggregationWorkers)
	assert.Equal(t, "0.0.0.0:9000", cfg.RPC.Listen)
	assert.Equal(t, []string{"https://explorer.example"}, cfg.RPC.AllowedOrigins)
	assert.Equal(t, 100*time.Millisecond, cfg.RPC.ExitPollInterval)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Listen)
	assert.Zero(t, cfg.Snapshot.Interval)
	assert.Equal(t, "/var/lib/staker/accounts", cfg.AccountsDbDir())

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("ledger_dri: x\n"))
	require.Error(t, err)

	_, err = Parse([]byte("aggregation_workers: 0\n"))
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Parse([]byte("ledger_dir: \"\"\n"))
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Parse([]byte("rpc:\n  exit_poll_interval: 0s\n"))
	require.ErrorIs(t, err, ErrInvalidConfig)
}
