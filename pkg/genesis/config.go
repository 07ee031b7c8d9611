// Package genesis describes a cluster's initial state and builds the bank
// that starts from it.
package genesis

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.firedancer.io/staker/pkg/bank"
	"go.firedancer.io/staker/pkg/sealevel"
	"gopkg.in/yaml.v3"
)

const (
	ConfigFileName  = "genesis.yaml"
	ArchiveFileName = "genesis.tgz"

	DefaultRewardsPoolSeed = "rewards_pool"
)

var ErrInvalidGenesis = errors.New("invalid genesis config")

type RewardRate struct {
	Numerator   uint64 `yaml:"numerator"`
	Denominator uint64 `yaml:"denominator"`
}

type Cluster struct {
	SlotsPerEpoch    uint64        `yaml:"slots_per_epoch"`
	SlotDuration     time.Duration `yaml:"slot_duration"`
	HistoryRetention int           `yaml:"history_retention"`
	ComputeBudget    uint64        `yaml:"compute_budget"`
	RewardRate       RewardRate    `yaml:"reward_rate"`
}

type Rent struct {
	LamportsPerByteYear uint64  `yaml:"lamports_per_byte_year"`
	ExemptionThreshold  float64 `yaml:"exemption_threshold"`
	BurnPercent         uint8   `yaml:"burn_percent"`
}

type Mint struct {
	Pubkey   solana.PublicKey `yaml:"pubkey"`
	Lamports uint64           `yaml:"lamports"`
}

// BootstrapValidator is the validator whose stake is effective from the
// first epoch. The node key is also its voter, withdrawer and staker.
type BootstrapValidator struct {
	Node          solana.PublicKey `yaml:"node"`
	Vote          solana.PublicKey `yaml:"vote"`
	Stake         solana.PublicKey `yaml:"stake"`
	Commission    uint8            `yaml:"commission"`
	NodeLamports  uint64           `yaml:"node_lamports"`
	VoteLamports  uint64           `yaml:"vote_lamports"`
	StakeLamports uint64           `yaml:"stake_lamports"`
}

// RewardsPool lives at the address derived from the mint and Seed under the
// stake program.
type RewardsPool struct {
	Seed     string `yaml:"seed"`
	Lamports uint64 `yaml:"lamports"`
}

// Account is an additional system account funded at genesis.
type Account struct {
	Pubkey   solana.PublicKey `yaml:"pubkey"`
	Lamports uint64           `yaml:"lamports"`
}

type Config struct {
	CreationTime       time.Time          `yaml:"creation_time"`
	Cluster            Cluster            `yaml:"cluster"`
	Rent               Rent               `yaml:"rent"`
	Mint               Mint               `yaml:"mint"`
	BootstrapValidator BootstrapValidator `yaml:"bootstrap_validator"`
	RewardsPool        RewardsPool        `yaml:"rewards_pool"`
	Features           map[string]uint64  `yaml:"features,omitempty"`
	Accounts           []Account          `yaml:"accounts,omitempty"`
}

func DefaultConfig() *Config {
	bankCfg := bank.DefaultConfig()
	return &Config{
		CreationTime: time.Unix(0, 0).UTC(),
		Cluster: Cluster{
			SlotsPerEpoch:    bankCfg.SlotsPerEpoch,
			SlotDuration:     bankCfg.SlotDuration,
			HistoryRetention: bankCfg.HistoryRetention,
			ComputeBudget:    bankCfg.ComputeBudget,
			RewardRate: RewardRate{
				Numerator:   bankCfg.RewardPolicy.RateNumerator,
				Denominator: bankCfg.RewardPolicy.RateDenominator,
			},
		},
		Rent: Rent{
			LamportsPerByteYear: 3480,
			ExemptionThreshold:  2.0,
			BurnPercent:         50,
		},
		Mint: Mint{Lamports: 500_000_000_000_000_000},
		BootstrapValidator: BootstrapValidator{
			Commission:    100,
			NodeLamports:  1_000_000_000,
			VoteLamports:  1_000_000_000,
			StakeLamports: 500_000_000_000,
		},
		RewardsPool: RewardsPool{
			Seed:     DefaultRewardsPoolSeed,
			Lamports: 1_000_000_000_000_000,
		},
	}
}

// LoadConfig reads a YAML genesis config. Fields absent from the file keep
// their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	err := decoder.Decode(cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing genesis config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(cfg)
}

// FillKeys assigns fresh keys to the mint and bootstrap validator keys left
// unset.
func (cfg *Config) FillKeys() {
	for _, key := range []*solana.PublicKey{
		&cfg.Mint.Pubkey,
		&cfg.BootstrapValidator.Node,
		&cfg.BootstrapValidator.Vote,
		&cfg.BootstrapValidator.Stake,
	} {
		if key.IsZero() {
			*key = solana.NewWallet().PublicKey()
		}
	}
}

// BankConfig returns the bank parameters of the cluster.
func (cfg *Config) BankConfig(aggregationWorkers int) bank.Config {
	return bank.Config{
		SlotsPerEpoch:    cfg.Cluster.SlotsPerEpoch,
		SlotDuration:     cfg.Cluster.SlotDuration,
		HistoryRetention: cfg.Cluster.HistoryRetention,
		ComputeBudget:    cfg.Cluster.ComputeBudget,
		RewardPolicy: sealevel.RewardPolicy{
			RateNumerator:   cfg.Cluster.RewardRate.Numerator,
			RateDenominator: cfg.Cluster.RewardRate.Denominator,
		},
		AggregationWorkers: aggregationWorkers,
	}
}

func (cfg *Config) SysvarRent() sealevel.SysvarRent {
	return sealevel.SysvarRent{
		LamportsPerUint8Year: cfg.Rent.LamportsPerByteYear,
		ExemptionThreshold:   cfg.Rent.ExemptionThreshold,
		BurnPercent:          cfg.Rent.BurnPercent,
	}
}

// RewardsPoolAddress derives the rewards pool address from the mint.
func (cfg *Config) RewardsPoolAddress() (solana.PublicKey, error) {
	return solana.CreateWithSeed(cfg.Mint.Pubkey, cfg.RewardsPool.Seed, sealevel.StakeProgramAddr)
}

func (cfg *Config) Validate() error {
	bankCfg := cfg.BankConfig(1)
	err := bankCfg.Validate()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidGenesis, err)
	}
	if cfg.Rent.BurnPercent > 100 {
		return fmt.Errorf("%w: burn percent %d above 100", ErrInvalidGenesis, cfg.Rent.BurnPercent)
	}

	validator := &cfg.BootstrapValidator
	keys := []struct {
		name string
		key  solana.PublicKey
	}{
		{"mint", cfg.Mint.Pubkey},
		{"bootstrap validator node", validator.Node},
		{"bootstrap validator vote", validator.Vote},
		{"bootstrap validator stake", validator.Stake},
	}
	seen := make(map[solana.PublicKey]string)
	for _, named := range keys {
		if named.key.IsZero() {
			return fmt.Errorf("%w: %s key not set", ErrInvalidGenesis, named.name)
		}
		if other, ok := seen[named.key]; ok {
			return fmt.Errorf("%w: %s and %s share key %s", ErrInvalidGenesis, named.name, other, named.key)
		}
		seen[named.key] = named.name
	}
	if validator.Commission > 100 {
		return fmt.Errorf("%w: commission %d above 100", ErrInvalidGenesis, validator.Commission)
	}

	rent := cfg.SysvarRent()
	if validator.VoteLamports < rent.MinimumBalance(sealevel.VoteStateSize) {
		return fmt.Errorf("%w: vote account needs at least %d lamports", ErrInvalidGenesis, rent.MinimumBalance(sealevel.VoteStateSize))
	}
	if validator.StakeLamports <= rent.MinimumBalance(sealevel.StakeStateV2Size) {
		return fmt.Errorf("%w: stake account needs more than %d lamports", ErrInvalidGenesis, rent.MinimumBalance(sealevel.StakeStateV2Size))
	}

	if cfg.RewardsPool.Seed == "" || len(cfg.RewardsPool.Seed) > solana.MaxSeedLength {
		return fmt.Errorf("%w: rewards pool seed must be 1 to %d bytes", ErrInvalidGenesis, solana.MaxSeedLength)
	}
	return nil
}
