package bank

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.firedancer.io/staker/pkg/accounts"
	"go.firedancer.io/staker/pkg/cu"
	"go.firedancer.io/staker/pkg/features"
	"go.firedancer.io/staker/pkg/metrics"
	"go.firedancer.io/staker/pkg/sealevel"
	"k8s.io/klog/v2"
)

var (
	ErrInvalidConfig    = errors.New("invalid bank config")
	ErrNotStakeAccount  = errors.New("account is not a stake account")
	ErrMissingRent      = errors.New("rent sysvar missing from accounts")
	ErrEpochNotRecorded = errors.New("epoch is in the future")
)

type Config struct {
	SlotsPerEpoch      uint64
	SlotDuration       time.Duration
	HistoryRetention   int
	ComputeBudget      uint64
	RewardPolicy       sealevel.RewardPolicy
	AggregationWorkers int
}

func DefaultConfig() Config {
	return Config{
		SlotsPerEpoch:      432000,
		SlotDuration:       400 * time.Millisecond,
		HistoryRetention:   sealevel.DefaultStakeHistoryRetention,
		ComputeBudget:      cu.DefaultTransactionBudget,
		RewardPolicy:       sealevel.RewardPolicy{RateNumerator: 1, RateDenominator: 1_000_000},
		AggregationWorkers: 8,
	}
}

func (cfg *Config) Validate() error {
	if cfg.SlotsPerEpoch == 0 {
		return fmt.Errorf("%w: slots per epoch must be positive", ErrInvalidConfig)
	}
	if cfg.SlotDuration <= 0 {
		return fmt.Errorf("%w: slot duration must be positive", ErrInvalidConfig)
	}
	if cfg.HistoryRetention <= 0 {
		return fmt.Errorf("%w: history retention must be positive", ErrInvalidConfig)
	}
	if cfg.ComputeBudget == 0 {
		return fmt.Errorf("%w: compute budget must be positive", ErrInvalidConfig)
	}
	if cfg.AggregationWorkers <= 0 {
		return fmt.Errorf("%w: aggregation workers must be positive", ErrInvalidConfig)
	}
	if err := cfg.RewardPolicy.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Options describe the state a bank starts from: a genesis ledger or a
// loaded snapshot.
type Options struct {
	Config           Config
	Accounts         accounts.MemAccounts
	Features         *features.Features
	History          *sealevel.StakeHistory
	Slot             uint64
	GenesisTime      int64
	Hash             [32]byte
	TransactionCount uint64

	// Db mirrors every committed account when set.
	Db      *accounts.PersistentAccountsDb
	Metrics *metrics.Metrics
}

// Bank owns the ledger state: accounts, clock, stake history and feature
// set. Transactions are applied atomically under the write lock; queries
// take the read lock.
type Bank struct {
	mu sync.RWMutex

	cfg              Config
	accts            accounts.MemAccounts
	db               *accounts.PersistentAccountsDb
	features         *features.Features
	history          *sealevel.StakeHistory
	rent             sealevel.SysvarRent
	slot             uint64
	epoch            uint64
	genesisTime      int64
	hash             [32]byte
	transactionCount uint64
	metrics          *metrics.Metrics
}

func New(opts Options) (*Bank, error) {
	err := opts.Config.Validate()
	if err != nil {
		return nil, err
	}

	rent, err := sealevel.ReadRentSysvar(opts.Accounts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingRent, err)
	}

	featureSet := opts.Features
	if featureSet == nil {
		featureSet = features.NewFeaturesDefault()
	}

	history := opts.History
	if history == nil {
		history, err = loadHistory(opts.Accounts, opts.Config.HistoryRetention)
		if err != nil {
			return nil, err
		}
	}

	b := &Bank{
		cfg:              opts.Config,
		accts:            opts.Accounts,
		db:               opts.Db,
		features:         featureSet,
		history:          history,
		rent:             rent,
		slot:             opts.Slot,
		epoch:            opts.Slot / opts.Config.SlotsPerEpoch,
		genesisTime:      opts.GenesisTime,
		hash:             opts.Hash,
		transactionCount: opts.TransactionCount,
		metrics:          opts.Metrics,
	}

	_, err = sealevel.WriteClockSysvar(b.accts, b.clock())
	if err != nil {
		return nil, err
	}
	if b.db != nil {
		err = b.db.CommitAccounts(b.accts.Sorted())
		if err != nil {
			return nil, fmt.Errorf("persisting initial accounts: %w", err)
		}
	}

	b.metrics.SetSlot(b.slot, b.epoch)
	for _, enabled := range b.features.AllEnabled() {
		klog.Infof("%s", enabled)
	}
	klog.Infof("bank ready at slot %d, epoch %d with %d accounts", b.slot, b.epoch, b.accts.Len())
	return b, nil
}

func loadHistory(accts accounts.Accounts, retention int) (*sealevel.StakeHistory, error) {
	sysvar, err := sealevel.ReadStakeHistorySysvar(accts)
	if errors.Is(err, sealevel.InstrErrUnsupportedSysvar) {
		return sealevel.NewStakeHistory(retention)
	} else if err != nil {
		return nil, fmt.Errorf("reading stake history sysvar: %w", err)
	}
	return sealevel.NewStakeHistoryFromSysvar(sysvar, retention)
}

// clock derives the clock sysvar from the slot. Must be called with the
// lock held.
func (b *Bank) clock() sealevel.SysvarClock {
	elapsed := time.Duration(b.slot) * b.cfg.SlotDuration
	epochStart := time.Duration(b.epoch*b.cfg.SlotsPerEpoch) * b.cfg.SlotDuration
	return sealevel.SysvarClock{
		Slot:                b.slot,
		EpochStartTimestamp: b.genesisTime + int64(epochStart/time.Second),
		Epoch:               b.epoch,
		LeaderScheduleEpoch: b.epoch + 1,
		UnixTimestamp:       b.genesisTime + int64(elapsed/time.Second),
	}
}

func (b *Bank) newExecCtx(tx *sealevel.Transaction, txAccts *sealevel.TransactionAccounts) *sealevel.ExecutionCtx {
	execCtx := &sealevel.ExecutionCtx{
		TransactionContext: sealevel.NewTransactionCtx(*txAccts, tx.Signers),
		ComputeMeter:       cu.NewComputeMeter(b.cfg.ComputeBudget),
		Features:           b.features,
		StakeHistory:       b.history,
		RewardPolicy:       b.cfg.RewardPolicy,
	}
	execCtx.SysvarCache.SetClock(b.clock())
	execCtx.SysvarCache.SetRent(b.rent)
	return execCtx
}

// ProcessTransaction executes tx against a private copy of its accounts and
// commits every touched account if and only if all instructions succeed.
// Errors for which sealevel.IsFatal holds mean the ledger is inconsistent
// and the caller must stop.
func (b *Bank) ProcessTransaction(tx *sealevel.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	txAccts, err := sealevel.LoadTransactionAccounts(b.accts, tx)
	if err != nil {
		return err
	}

	execCtx := b.newExecCtx(tx, txAccts)
	err = execCtx.ExecuteTransaction(tx)
	b.observeTransaction(tx, err)
	if err != nil {
		if sealevel.IsFatal(err) {
			klog.Errorf("fatal ledger error at slot %d: %s", b.slot, err)
		} else {
			klog.V(2).Infof("transaction rejected at slot %d: %s", b.slot, err)
		}
		return err
	}

	touched := execCtx.TransactionContext.Accounts.TouchedAccounts()
	if b.db != nil {
		err = b.db.CommitAccounts(touched)
		if err != nil {
			return fmt.Errorf("persisting transaction accounts: %w", err)
		}
	}

	b.metrics.AddRewardsPaid(b.rewardsPaid(touched))
	for _, acct := range touched {
		key := [32]byte(acct.Key)
		_ = b.accts.SetAccount(&key, acct)
	}
	b.transactionCount++
	return nil
}

// rewardsPaid sums the lamports that left rewards pools in touched.
func (b *Bank) rewardsPaid(touched []*accounts.Account) uint64 {
	var paid uint64
	for _, acct := range touched {
		if acct.Owner != sealevel.StakeProgramAddr {
			continue
		}
		state, err := sealevel.UnmarshalStakeState(acct.Data)
		if err != nil || state.Status != sealevel.StakeStateV2StatusRewardsPool {
			continue
		}
		key := [32]byte(acct.Key)
		prev, err := b.accts.GetAccount(&key)
		if err != nil || prev.Lamports < acct.Lamports {
			continue
		}
		paid += prev.Lamports - acct.Lamports
	}
	return paid
}

func (b *Bank) observeTransaction(tx *sealevel.Transaction, err error) {
	b.metrics.ObserveTransaction(err)
	for _, instr := range tx.Instructions {
		b.metrics.ObserveInstruction(programName(instr.ProgramId), err)
	}
}

func programName(programId [32]byte) string {
	switch programId {
	case sealevel.SystemProgramAddr:
		return "system"
	case sealevel.StakeProgramAddr:
		return "stake"
	case sealevel.VoteProgramAddr:
		return "vote"
	default:
		return "unknown"
	}
}

// AdvanceSlot moves the bank to the next slot, crossing into a new epoch
// when the slot is the first of one.
func (b *Bank) AdvanceSlot() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := time.Now()

	nextSlot := b.slot + 1
	nextEpoch := nextSlot / b.cfg.SlotsPerEpoch
	if nextEpoch != b.epoch {
		err := b.processEpochBoundary(nextEpoch)
		if err != nil {
			return err
		}
	}
	b.slot = nextSlot

	clockAcct, err := sealevel.WriteClockSysvar(b.accts, b.clock())
	if err != nil {
		return err
	}
	if b.db != nil {
		err = b.db.CommitAccounts([]*accounts.Account{clockAcct})
		if err != nil {
			return fmt.Errorf("persisting clock: %w", err)
		}
	}
	b.metrics.SetSlot(b.slot, b.epoch)
	b.metrics.ObserveSlotTime(time.Since(start))
	return nil
}

// processEpochBoundary records the cluster stake of the epoch being left,
// rewrites the stake history sysvar and freezes the bank hash.
func (b *Bank) processEpochBoundary(nextEpoch uint64) error {
	entry, err := b.aggregateStake(b.epoch)
	if err != nil {
		return fmt.Errorf("aggregating stake for epoch %d: %w", b.epoch, err)
	}

	update, err := b.history.Prepare(sealevel.StakeHistoryPair{Epoch: b.epoch, Entry: entry})
	if err != nil {
		klog.Errorf("fatal ledger error at epoch %d: %s", b.epoch, err)
		return err
	}

	// nothing is published until the new sysvar is persisted
	historyAcct, err := sealevel.StakeHistorySysvarAccount(b.accts, update.Snapshot().Sysvar())
	if err != nil {
		return err
	}
	if b.db != nil {
		err = b.db.CommitAccounts([]*accounts.Account{historyAcct})
		if err != nil {
			return fmt.Errorf("persisting stake history: %w", err)
		}
	}
	err = b.history.Commit(update)
	if err != nil {
		klog.Errorf("fatal ledger error at epoch %d: %s", b.epoch, err)
		return err
	}
	historyKey := [32]byte(historyAcct.Key)
	_ = b.accts.SetAccount(&historyKey, historyAcct)

	b.hash = calculateBankHash(calculateAccountsHash(b.accts.Sorted()), b.hash, b.slot, b.transactionCount)
	b.metrics.SetStakeHistory(entry.Effective, entry.Activating, entry.Deactivating)
	klog.Infof("epoch %d closed: effective=%d activating=%d deactivating=%d, bank hash %x",
		b.epoch, entry.Effective, entry.Activating, entry.Deactivating, b.hash)

	b.epoch = nextEpoch
	return nil
}

// GetAccount returns a copy of the account stored under pubkey.
func (b *Bank) GetAccount(pubkey [32]byte) (*accounts.Account, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	acct, err := b.accts.GetAccount(&pubkey)
	if err != nil {
		return nil, err
	}
	return acct.Clone(), nil
}

func (b *Bank) Balance(pubkey [32]byte) uint64 {
	acct, err := b.GetAccount(pubkey)
	if err != nil {
		return 0
	}
	return acct.Lamports
}

type EpochInfo struct {
	AbsoluteSlot     uint64 `json:"absoluteSlot"`
	Epoch            uint64 `json:"epoch"`
	SlotIndex        uint64 `json:"slotIndex"`
	SlotsInEpoch     uint64 `json:"slotsInEpoch"`
	TransactionCount uint64 `json:"transactionCount"`
}

func (b *Bank) EpochInfo() EpochInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return EpochInfo{
		AbsoluteSlot:     b.slot,
		Epoch:            b.epoch,
		SlotIndex:        b.slot % b.cfg.SlotsPerEpoch,
		SlotsInEpoch:     b.cfg.SlotsPerEpoch,
		TransactionCount: b.transactionCount,
	}
}

func (b *Bank) Slot() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.slot
}

func (b *Bank) Epoch() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.epoch
}

func (b *Bank) Hash() [32]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hash
}

func (b *Bank) Config() Config {
	return b.cfg
}

func (b *Bank) Features() *features.Features {
	return b.features
}

// StakeHistory returns the recorded history, newest epoch first.
func (b *Bank) StakeHistory() sealevel.SysvarStakeHistory {
	return b.history.Sysvar()
}

// StakeActivation reports the warmup/cooldown state of a stake account at
// epoch. Accounts without a delegation are inactive.
func (b *Bank) StakeActivation(pubkey [32]byte, epoch uint64) (sealevel.StakeActivationStatus, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if epoch > b.epoch {
		return sealevel.StakeActivationStatus{}, fmt.Errorf("%w: %d > %d", ErrEpochNotRecorded, epoch, b.epoch)
	}

	acct, err := b.accts.GetAccount(&pubkey)
	if err != nil {
		return sealevel.StakeActivationStatus{}, err
	}
	if acct.Owner != sealevel.StakeProgramAddr {
		return sealevel.StakeActivationStatus{}, ErrNotStakeAccount
	}
	state, err := sealevel.UnmarshalStakeState(acct.Data)
	if err != nil {
		return sealevel.StakeActivationStatus{}, fmt.Errorf("%w: %w", ErrNotStakeAccount, err)
	}

	delegation, ok := state.Delegation()
	if !ok {
		return sealevel.StakeActivationStatus{}, nil
	}
	newRateEpoch := b.features.ActivationEpoch(features.ReduceStakeWarmupCooldown)
	return delegation.StakeActivatingAndDeactivating(epoch, b.history.Snapshot(), newRateEpoch), nil
}

// Snapshot is a consistent copy of the bank state for archiving.
type Snapshot struct {
	Slot             uint64
	Epoch            uint64
	Hash             [32]byte
	GenesisTime      int64
	TransactionCount uint64
	StakeHistory     sealevel.SysvarStakeHistory
	Features         map[string]uint64
	Accounts         []*accounts.Account
}

func (b *Bank) Snapshot() *Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sorted := b.accts.Sorted()
	accts := make([]*accounts.Account, len(sorted))
	for idx, acct := range sorted {
		accts[idx] = acct.Clone()
	}

	enabled := make(map[string]uint64)
	for _, gate := range features.AllFeatureGates {
		if epoch := b.features.ActivationEpoch(gate); epoch != nil {
			enabled[gate.Name] = *epoch
		}
	}

	return &Snapshot{
		Slot:             b.slot,
		Epoch:            b.epoch,
		Hash:             b.hash,
		GenesisTime:      b.genesisTime,
		TransactionCount: b.transactionCount,
		StakeHistory:     b.history.Sysvar(),
		Features:         enabled,
		Accounts:         accts,
	}
}
