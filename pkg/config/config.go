// Package config holds the settings of a staker node.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid node config")

type RPC struct {
	// Listen is the address of the query server. Empty disables it.
	Listen         string   `yaml:"listen"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// ExitPollInterval is how often the server checks its exit flag.
	ExitPollInterval time.Duration `yaml:"exit_poll_interval"`
}

type Metrics struct {
	Listen string `yaml:"listen"`
}

type Snapshot struct {
	// Interval is the number of slots between snapshots. Zero disables
	// periodic snapshots.
	Interval uint64 `yaml:"interval"`
}

type Config struct {
	LedgerDir          string   `yaml:"ledger_dir"`
	AggregationWorkers int      `yaml:"aggregation_workers"`
	RPC                RPC      `yaml:"rpc"`
	Metrics            Metrics  `yaml:"metrics"`
	Snapshot           Snapshot `yaml:"snapshot"`
}

func Default() *Config {
	return &Config{
		LedgerDir:          "ledger",
		AggregationWorkers: runtime.NumCPU(),
		RPC: RPC{
			Listen:           "127.0.0.1:8899",
			AllowedOrigins:   []string{"*"},
			ExitPollInterval: 100 * time.Millisecond,
		},
		Snapshot: Snapshot{Interval: 1000},
	}
}

// Load reads a YAML node config. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	err := decoder.Decode(cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing node config: %w", err)
	}
	err = cfg.Validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	if cfg.LedgerDir == "" {
		return fmt.Errorf("%w: ledger_dir not set", ErrInvalidConfig)
	}
	if cfg.AggregationWorkers <= 0 {
		return fmt.Errorf("%w: aggregation_workers must be positive", ErrInvalidConfig)
	}
	if cfg.RPC.Listen != "" && cfg.RPC.ExitPollInterval <= 0 {
		return fmt.Errorf("%w: rpc.exit_poll_interval must be positive", ErrInvalidConfig)
	}
	return nil
}

func (cfg *Config) GenesisConfigPath() string {
	return filepath.Join(cfg.LedgerDir, "genesis.yaml")
}

func (cfg *Config) SnapshotPath() string {
	return filepath.Join(cfg.LedgerDir, "snapshot.tgz")
}

// AccountsDbDir is where committed accounts are mirrored.
func (cfg *Config) AccountsDbDir() string {
	return filepath.Join(cfg.LedgerDir, "accounts")
}
