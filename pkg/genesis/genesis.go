package genesis

import (
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
	"go.firedancer.io/staker/pkg/accounts"
	"go.firedancer.io/staker/pkg/archive"
	"go.firedancer.io/staker/pkg/bank"
	"go.firedancer.io/staker/pkg/features"
	"go.firedancer.io/staker/pkg/metrics"
	"go.firedancer.io/staker/pkg/sealevel"
	"k8s.io/klog/v2"
)

// Genesis is the ledger state at slot zero.
type Genesis struct {
	Config      *Config
	Accounts    accounts.MemAccounts
	Features    *features.Features
	RewardsPool solana.PublicKey
}

type builder struct {
	accts accounts.MemAccounts
}

func (b *builder) add(acct *accounts.Account) error {
	key := [32]byte(acct.Key)
	if _, err := b.accts.GetAccount(&key); err == nil {
		return fmt.Errorf("%w: account %s defined twice", ErrInvalidGenesis, acct.Key)
	}
	return b.accts.SetAccount(&key, acct)
}

// Build creates the genesis accounts described by cfg: the native
// programs, the rent and stake history sysvars, the mint, the bootstrap
// validator and the rewards pool.
func Build(cfg *Config) (*Genesis, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	featureSet := features.NewFeaturesDefault()
	for name, epoch := range cfg.Features {
		gate, ok := features.GateByName(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown feature %q", ErrInvalidGenesis, name)
		}
		featureSet.EnableFeature(gate, epoch)
	}

	b := &builder{accts: accounts.NewMemAccounts()}
	for _, addr := range sealevel.NativeProgramAddrs {
		err = b.add(&accounts.Account{Key: addr, Lamports: 1, Owner: sealevel.NativeLoaderAddr, Executable: true})
		if err != nil {
			return nil, err
		}
	}

	rent := cfg.SysvarRent()
	_, err = sealevel.WriteRentSysvar(b.accts, rent)
	if err != nil {
		return nil, err
	}
	_, err = sealevel.WriteStakeHistorySysvar(b.accts, sealevel.SysvarStakeHistory{})
	if err != nil {
		return nil, err
	}

	err = b.add(&accounts.Account{Key: cfg.Mint.Pubkey, Lamports: cfg.Mint.Lamports, Owner: sealevel.SystemProgramAddr})
	if err != nil {
		return nil, err
	}

	err = addBootstrapValidator(b, &cfg.BootstrapValidator, &rent)
	if err != nil {
		return nil, err
	}

	pool, err := cfg.RewardsPoolAddress()
	if err != nil {
		return nil, fmt.Errorf("%w: deriving rewards pool address: %w", ErrInvalidGenesis, err)
	}
	poolData, err := sealevel.MarshalStakeState(&sealevel.StakeStateV2{Status: sealevel.StakeStateV2StatusRewardsPool})
	if err != nil {
		return nil, err
	}
	err = b.add(&accounts.Account{Key: pool, Lamports: cfg.RewardsPool.Lamports, Data: poolData, Owner: sealevel.StakeProgramAddr})
	if err != nil {
		return nil, err
	}

	for _, extra := range cfg.Accounts {
		err = b.add(&accounts.Account{Key: extra.Pubkey, Lamports: extra.Lamports, Owner: sealevel.SystemProgramAddr})
		if err != nil {
			return nil, err
		}
	}

	return &Genesis{Config: cfg, Accounts: b.accts, Features: featureSet, RewardsPool: pool}, nil
}

func addBootstrapValidator(b *builder, validator *BootstrapValidator, rent *sealevel.SysvarRent) error {
	if validator.NodeLamports > 0 {
		err := b.add(&accounts.Account{Key: validator.Node, Lamports: validator.NodeLamports, Owner: sealevel.SystemProgramAddr})
		if err != nil {
			return err
		}
	}

	voteData, err := sealevel.MarshalVoteState(sealevel.NewVoteState(sealevel.VoteInstrVoteInit{
		NodePubkey:           validator.Node,
		AuthorizedVoter:      validator.Node,
		AuthorizedWithdrawer: validator.Node,
		Commission:           validator.Commission,
	}))
	if err != nil {
		return err
	}
	err = b.add(&accounts.Account{Key: validator.Vote, Lamports: validator.VoteLamports, Data: voteData, Owner: sealevel.VoteProgramAddr})
	if err != nil {
		return err
	}

	reserve := rent.MinimumBalance(sealevel.StakeStateV2Size)
	stakeData, err := sealevel.MarshalStakeState(&sealevel.StakeStateV2{
		Status: sealevel.StakeStateV2StatusStake,
		Stake: sealevel.StakeStateV2Stake{
			Meta: sealevel.Meta{
				RentExemptReserve: reserve,
				Authorized:        sealevel.Authorized{Staker: validator.Node, Withdrawer: validator.Node},
			},
			Stake: sealevel.Stake{
				Delegation: sealevel.Delegation{
					VoterPubkey:       validator.Vote,
					Stake:             validator.StakeLamports - reserve,
					ActivationEpoch:   math.MaxUint64,
					DeactivationEpoch: math.MaxUint64,
				},
			},
		},
	})
	if err != nil {
		return err
	}
	return b.add(&accounts.Account{Key: validator.Stake, Lamports: validator.StakeLamports, Data: stakeData, Owner: sealevel.StakeProgramAddr})
}

// NewBank starts a bank at slot zero from the genesis state.
func (g *Genesis) NewBank(aggregationWorkers int, db *accounts.PersistentAccountsDb, m *metrics.Metrics) (*bank.Bank, error) {
	klog.Infof("creating bank from genesis: mint %s, bootstrap vote %s, rewards pool %s",
		g.Config.Mint.Pubkey, g.Config.BootstrapValidator.Vote, g.RewardsPool)
	return bank.New(bank.Options{
		Config:      g.Config.BankConfig(aggregationWorkers),
		Accounts:    g.Accounts,
		Features:    g.Features,
		GenesisTime: g.Config.CreationTime.Unix(),
		Db:          db,
		Metrics:     m,
	})
}

// WriteArchive publishes cfg as genesis.tgz at path.
func WriteArchive(path string, cfg *Config) error {
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	return archive.WriteFile(path, []archive.Entry{{Name: ConfigFileName, Data: data}})
}

// ReadArchive returns the config held in the genesis.tgz at path.
func ReadArchive(path string) (*Config, error) {
	entries, err := archive.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, ok := entries[ConfigFileName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", archive.ErrMissingEntry, ConfigFileName)
	}
	return ParseConfig(data)
}
