package bank

import (
	"math"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.firedancer.io/staker/pkg/accounts"
	"go.firedancer.io/staker/pkg/features"
	"go.firedancer.io/staker/pkg/metrics"
	"go.firedancer.io/staker/pkg/sealevel"
)

func newTestPubkey(t *testing.T) solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SlotsPerEpoch = 4
	cfg.SlotDuration = time.Second
	cfg.AggregationWorkers = 2
	cfg.RewardPolicy = sealevel.RewardPolicy{RateNumerator: 1, RateDenominator: 1}
	return cfg
}

func setAccount(t *testing.T, accts accounts.MemAccounts, acct *accounts.Account) {
	key := [32]byte(acct.Key)
	require.NoError(t, accts.SetAccount(&key, acct))
}

// newTestAccounts holds the native programs, a free rent sysvar and a
// funded mint.
func newTestAccounts(t *testing.T, mint solana.PublicKey) accounts.MemAccounts {
	accts := accounts.NewMemAccounts()
	for _, addr := range sealevel.NativeProgramAddrs {
		setAccount(t, accts, &accounts.Account{Key: addr, Lamports: 1, Owner: sealevel.NativeLoaderAddr, Executable: true})
	}
	_, err := sealevel.WriteRentSysvar(accts, sealevel.SysvarRent{LamportsPerUint8Year: 0, ExemptionThreshold: 2.0, BurnPercent: 50})
	require.NoError(t, err)
	setAccount(t, accts, &accounts.Account{Key: mint, Lamports: 1_000_000_000, Owner: sealevel.SystemProgramAddr})
	return accts
}

// addBootstrapValidator stores a vote account and a stake account with
// bootstrap stake delegated to it.
func addBootstrapValidator(t *testing.T, accts accounts.MemAccounts, stake uint64) (solana.PublicKey, solana.PublicKey) {
	node := newTestPubkey(t)
	votePubkey := newTestPubkey(t)
	voteData, err := sealevel.MarshalVoteState(sealevel.NewVoteState(sealevel.VoteInstrVoteInit{
		NodePubkey: node, AuthorizedVoter: node, AuthorizedWithdrawer: node,
	}))
	require.NoError(t, err)
	setAccount(t, accts, &accounts.Account{Key: votePubkey, Lamports: 1, Data: voteData, Owner: sealevel.VoteProgramAddr})

	stakePubkey := newTestPubkey(t)
	stakeData, err := sealevel.MarshalStakeState(&sealevel.StakeStateV2{
		Status: sealevel.StakeStateV2StatusStake,
		Stake: sealevel.StakeStateV2Stake{
			Meta: sealevel.Meta{Authorized: sealevel.Authorized{Staker: node, Withdrawer: node}},
			Stake: sealevel.Stake{Delegation: sealevel.Delegation{
				VoterPubkey:       votePubkey,
				Stake:             stake,
				ActivationEpoch:   math.MaxUint64,
				DeactivationEpoch: math.MaxUint64,
			}},
		},
	})
	require.NoError(t, err)
	setAccount(t, accts, &accounts.Account{Key: stakePubkey, Lamports: stake, Data: stakeData, Owner: sealevel.StakeProgramAddr})
	return votePubkey, stakePubkey
}

func newTestBank(t *testing.T, opts Options) *Bank {
	if opts.Config.SlotsPerEpoch == 0 {
		opts.Config = testConfig()
	}
	b, err := New(opts)
	require.NoError(t, err)
	return b
}

func advanceEpoch(t *testing.T, b *Bank) {
	epoch := b.Epoch()
	for b.Epoch() == epoch {
		require.NoError(t, b.AdvanceSlot())
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	for _, mutate := range []func(*Config){
		func(c *Config) { c.SlotsPerEpoch = 0 },
		func(c *Config) { c.SlotDuration = 0 },
		func(c *Config) { c.HistoryRetention = 0 },
		func(c *Config) { c.ComputeBudget = 0 },
		func(c *Config) { c.AggregationWorkers = 0 },
		func(c *Config) { c.RewardPolicy.RateDenominator = 0 },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	}
}

func TestNew_MissingRent(t *testing.T) {
	_, err := New(Options{Config: testConfig(), Accounts: accounts.NewMemAccounts()})
	require.ErrorIs(t, err, ErrMissingRent)
}

func TestBank_ProcessTransaction(t *testing.T) {
	mint := newTestPubkey(t)
	b := newTestBank(t, Options{Accounts: newTestAccounts(t, mint)})
	to := newTestPubkey(t)

	tx := &sealevel.Transaction{Instructions: []sealevel.Instruction{sealevel.NewTransferInstruction(mint, to, 500)}, Signers: []solana.PublicKey{mint}}
	require.NoError(t, b.ProcessTransaction(tx))
	assert.Equal(t, uint64(500), b.Balance(to))
	assert.Equal(t, uint64(1_000_000_000-500), b.Balance(mint))

	// the second instruction overdraws, so neither transfer lands
	tx = &sealevel.Transaction{Instructions: []sealevel.Instruction{
		sealevel.NewTransferInstruction(to, mint, 100),
		sealevel.NewTransferInstruction(to, mint, 500),
	}, Signers: []solana.PublicKey{to}}
	require.ErrorIs(t, b.ProcessTransaction(tx), sealevel.SystemProgErrResultWithNegativeLamports)
	assert.Equal(t, uint64(500), b.Balance(to))
	assert.Equal(t, uint64(1), b.EpochInfo().TransactionCount)

	_, err := b.GetAccount(newTestPubkey(t))
	require.ErrorIs(t, err, accounts.ErrAccountNotFound)
}

func TestBank_GetAccountReturnsCopy(t *testing.T) {
	mint := newTestPubkey(t)
	b := newTestBank(t, Options{Accounts: newTestAccounts(t, mint)})

	acct, err := b.GetAccount(mint)
	require.NoError(t, err)
	acct.Lamports = 0
	assert.Equal(t, uint64(1_000_000_000), b.Balance(mint))
}

func TestBank_AdvanceSlot(t *testing.T) {
	mint := newTestPubkey(t)
	b := newTestBank(t, Options{Accounts: newTestAccounts(t, mint), GenesisTime: 1000})

	for i := 0; i < 5; i++ {
		require.NoError(t, b.AdvanceSlot())
	}
	info := b.EpochInfo()
	assert.Equal(t, EpochInfo{AbsoluteSlot: 5, Epoch: 1, SlotIndex: 1, SlotsInEpoch: 4}, info)

	clockAcct, err := b.GetAccount(sealevel.SysvarClockAddr)
	require.NoError(t, err)
	clock, err := sealevel.ReadClockSysvar(b.accts)
	require.NoError(t, err)
	assert.NotEmpty(t, clockAcct.Data)
	assert.Equal(t, sealevel.SysvarClock{Slot: 5, EpochStartTimestamp: 1004, Epoch: 1, LeaderScheduleEpoch: 2, UnixTimestamp: 1005}, clock)

	history := b.StakeHistory()
	require.Len(t, history, 1)
	assert.Equal(t, uint64(0), history[0].Epoch)
}

// TestBank_WarmupCooldown runs a delegation through warmup and cooldown
// against a bootstrap validator of equal stake.
func TestBank_WarmupCooldown(t *testing.T) {
	mint := newTestPubkey(t)
	accts := newTestAccounts(t, mint)
	votePubkey, bootstrapStake := addBootstrapValidator(t, accts, 20000)
	m, err := metrics.New()
	require.NoError(t, err)
	b := newTestBank(t, Options{Accounts: accts, Metrics: m})

	authority := newTestPubkey(t)
	stakePubkey := newTestPubkey(t)
	authorized := sealevel.Authorized{Staker: authority, Withdrawer: authority}
	tx := &sealevel.Transaction{
		Instructions: sealevel.CreateStakeAccountAndDelegate(mint, stakePubkey, votePubkey, authorized, 20000),
		Signers:      []solana.PublicKey{mint, stakePubkey, authority},
	}
	require.NoError(t, b.ProcessTransaction(tx))

	expected := []uint64{0, 5000, 11250, 19062, 20000}
	for epoch, want := range expected {
		status, err := b.StakeActivation(stakePubkey, uint64(epoch))
		require.NoError(t, err)
		assert.Equal(t, want, status.Effective, "epoch %d", epoch)
		assert.Equal(t, 20000-want, status.Activating, "epoch %d", epoch)
		if epoch < len(expected)-1 {
			advanceEpoch(t, b)
		}
	}

	history := b.StakeHistory()
	require.Len(t, history, 4)
	assert.Equal(t, sealevel.StakeHistoryPair{Epoch: 0, Entry: sealevel.StakeHistoryEntry{Effective: 20000, Activating: 20000}}, history[3])
	assert.Equal(t, sealevel.StakeHistoryPair{Epoch: 3, Entry: sealevel.StakeHistoryEntry{Effective: 39062, Activating: 938}}, history[0])

	bootstrap, err := b.StakeActivation(bootstrapStake, 4)
	require.NoError(t, err)
	assert.Equal(t, sealevel.StakeActivationStatus{Effective: 20000}, bootstrap)

	advanceEpoch(t, b)
	require.Equal(t, uint64(5), b.Epoch())
	tx = &sealevel.Transaction{Instructions: []sealevel.Instruction{sealevel.NewStakeDeactivateInstruction(stakePubkey)}, Signers: []solana.PublicKey{authority}}
	require.NoError(t, b.ProcessTransaction(tx))

	cooldown := map[uint64]uint64{5: 20000, 6: 10000, 7: 2500, 8: 0}
	for epoch := uint64(5); epoch <= 8; epoch++ {
		status, err := b.StakeActivation(stakePubkey, epoch)
		require.NoError(t, err)
		assert.Equal(t, cooldown[epoch], status.Effective, "epoch %d", epoch)
		assert.Equal(t, cooldown[epoch], status.Deactivating, "epoch %d", epoch)
		if epoch < 8 {
			advanceEpoch(t, b)
		}
	}

	status, err := b.StakeActivation(stakePubkey, 8)
	require.NoError(t, err)
	assert.Equal(t, sealevel.StakeActivationStateInactive, status.ActivationState())
}

func TestBank_StakeActivation_Errors(t *testing.T) {
	mint := newTestPubkey(t)
	accts := newTestAccounts(t, mint)
	_, stakePubkey := addBootstrapValidator(t, accts, 100)
	b := newTestBank(t, Options{Accounts: accts})

	_, err := b.StakeActivation(mint, 0)
	require.ErrorIs(t, err, ErrNotStakeAccount)

	_, err = b.StakeActivation(stakePubkey, 1)
	require.ErrorIs(t, err, ErrEpochNotRecorded)

	_, err = b.StakeActivation(newTestPubkey(t), 0)
	require.ErrorIs(t, err, accounts.ErrAccountNotFound)

	uninitialized := newTestPubkey(t)
	setAccount(t, accts, &accounts.Account{Key: uninitialized, Lamports: 10, Data: make([]byte, sealevel.StakeStateV2Size), Owner: sealevel.StakeProgramAddr})
	status, err := b.StakeActivation(uninitialized, 0)
	require.NoError(t, err)
	assert.Equal(t, sealevel.StakeActivationStatus{}, status)
}

func TestBank_ReducedWarmupRateFeature(t *testing.T) {
	mint := newTestPubkey(t)
	accts := newTestAccounts(t, mint)
	votePubkey, _ := addBootstrapValidator(t, accts, 20000)
	featureSet := features.NewFeaturesDefault()
	featureSet.EnableFeature(features.ReduceStakeWarmupCooldown, 0)
	b := newTestBank(t, Options{Accounts: accts, Features: featureSet})

	authority := newTestPubkey(t)
	stakePubkey := newTestPubkey(t)
	tx := &sealevel.Transaction{
		Instructions: sealevel.CreateStakeAccountAndDelegate(mint, stakePubkey, votePubkey, sealevel.Authorized{Staker: authority, Withdrawer: authority}, 20000),
		Signers:      []solana.PublicKey{mint, stakePubkey, authority},
	}
	require.NoError(t, b.ProcessTransaction(tx))
	advanceEpoch(t, b)

	status, err := b.StakeActivation(stakePubkey, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1800), status.Effective)
}

func TestBank_AggregateStakeAcrossChunks(t *testing.T) {
	mint := newTestPubkey(t)
	accts := newTestAccounts(t, mint)
	votePubkey, _ := addBootstrapValidator(t, accts, 1)

	var delegations []sealevel.Delegation
	for i := 0; i < 3*aggregationChunkSize+7; i++ {
		delegation := sealevel.Delegation{VoterPubkey: votePubkey, Stake: uint64(i + 1), ActivationEpoch: 0, DeactivationEpoch: math.MaxUint64}
		if i%5 == 0 {
			delegation.ActivationEpoch = math.MaxUint64
		}
		delegations = append(delegations, delegation)
		data, err := sealevel.MarshalStakeState(&sealevel.StakeStateV2{
			Status: sealevel.StakeStateV2StatusStake,
			Stake:  sealevel.StakeStateV2Stake{Stake: sealevel.Stake{Delegation: delegation}},
		})
		require.NoError(t, err)
		setAccount(t, accts, &accounts.Account{Key: newTestPubkey(t), Lamports: uint64(i + 1), Data: data, Owner: sealevel.StakeProgramAddr})
	}
	b := newTestBank(t, Options{Accounts: accts})

	entry, err := b.aggregateStake(0)
	require.NoError(t, err)

	bootstrap := sealevel.Delegation{Stake: 1, ActivationEpoch: math.MaxUint64, DeactivationEpoch: math.MaxUint64}
	want := sealevel.AccumulateStakeHistoryEntry(sealevel.StakeHistoryEntry{}, append(delegations, bootstrap), 0, b.history.Snapshot(), nil)
	assert.Equal(t, want, entry)
}

func TestBank_HashIsDeterministic(t *testing.T) {
	mint := newTestPubkey(t)
	build := func() *Bank {
		accts := newTestAccounts(t, mint)
		return newTestBank(t, Options{Accounts: accts, GenesisTime: 7})
	}

	first, second := build(), build()
	advanceEpoch(t, first)
	advanceEpoch(t, second)
	assert.Equal(t, first.Hash(), second.Hash())
	assert.NotEqual(t, [32]byte{}, first.Hash())

	to := newTestPubkey(t)
	tx := &sealevel.Transaction{Instructions: []sealevel.Instruction{sealevel.NewTransferInstruction(mint, to, 1)}, Signers: []solana.PublicKey{mint}}
	require.NoError(t, first.ProcessTransaction(tx))
	advanceEpoch(t, first)
	advanceEpoch(t, second)
	assert.NotEqual(t, first.Hash(), second.Hash())
}

func TestBank_PersistsCommittedAccounts(t *testing.T) {
	dir := t.TempDir()
	db, err := accounts.OpenAccountsDb(dir)
	require.NoError(t, err)

	mint := newTestPubkey(t)
	b := newTestBank(t, Options{Accounts: newTestAccounts(t, mint), Db: db})
	to := newTestPubkey(t)
	tx := &sealevel.Transaction{Instructions: []sealevel.Instruction{sealevel.NewTransferInstruction(mint, to, 42)}, Signers: []solana.PublicKey{mint}}
	require.NoError(t, b.ProcessTransaction(tx))
	require.NoError(t, db.Close())

	db, err = accounts.OpenAccountsDb(dir)
	require.NoError(t, err)
	defer db.Close()

	key := [32]byte(to)
	acct, err := db.GetAccount(&key)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), acct.Lamports)

	_, err = sealevel.ReadRentSysvar(db)
	require.NoError(t, err)
}

func TestBank_EpochBoundaryRetriesAfterPersistFailure(t *testing.T) {
	dir := t.TempDir()
	db, err := accounts.OpenAccountsDb(dir)
	require.NoError(t, err)

	mint := newTestPubkey(t)
	accts := newTestAccounts(t, mint)
	addBootstrapValidator(t, accts, 20000)
	b := newTestBank(t, Options{Accounts: accts, Db: db})
	for b.Slot() < 3 {
		require.NoError(t, b.AdvanceSlot())
	}
	require.NoError(t, db.Close())

	err = b.AdvanceSlot()
	require.Error(t, err)
	assert.False(t, sealevel.IsFatal(err))
	assert.Equal(t, uint64(3), b.Slot())
	assert.Equal(t, uint64(0), b.Epoch())
	assert.Empty(t, b.StakeHistory())
	_, err = sealevel.ReadStakeHistorySysvar(b.accts)
	require.ErrorIs(t, err, sealevel.InstrErrUnsupportedSysvar)

	b.db, err = accounts.OpenAccountsDb(dir)
	require.NoError(t, err)
	defer b.db.Close()

	require.NoError(t, b.AdvanceSlot())
	assert.Equal(t, uint64(1), b.Epoch())
	history := b.StakeHistory()
	require.Len(t, history, 1)
	assert.Equal(t, sealevel.StakeHistoryPair{Epoch: 0, Entry: sealevel.StakeHistoryEntry{Effective: 20000}}, history[0])

	persisted, err := sealevel.ReadStakeHistorySysvar(b.db)
	require.NoError(t, err)
	assert.Equal(t, history, persisted)
}

func TestBank_Snapshot(t *testing.T) {
	mint := newTestPubkey(t)
	featureSet := features.NewFeaturesDefault()
	featureSet.EnableFeature(features.RequireCustodianForLockedStakeAuthorize, 3)
	b := newTestBank(t, Options{Accounts: newTestAccounts(t, mint), Features: featureSet})
	advanceEpoch(t, b)

	snap := b.Snapshot()
	assert.Equal(t, uint64(4), snap.Slot)
	assert.Equal(t, uint64(1), snap.Epoch)
	assert.Equal(t, b.Hash(), snap.Hash)
	assert.Equal(t, map[string]uint64{features.RequireCustodianForLockedStakeAuthorize.Name: 3}, snap.Features)
	assert.Len(t, snap.StakeHistory, 1)
	assert.Equal(t, b.accts.Len(), len(snap.Accounts))

	// the snapshot does not alias live accounts
	snap.Accounts[0].Lamports = 12345
	acct, err := b.GetAccount(snap.Accounts[0].Key)
	require.NoError(t, err)
	assert.NotEqual(t, uint64(12345), acct.Lamports)
}
