package bank

import (
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/samber/lo"
	"go.firedancer.io/staker/pkg/accounts"
	"go.firedancer.io/staker/pkg/features"
	"go.firedancer.io/staker/pkg/sealevel"
)

const aggregationChunkSize = 256

type aggregationTask struct {
	idx   int
	accts []*accounts.Account
}

// stakeAccounts returns every account owned by the stake program.
func (b *Bank) stakeAccounts() []*accounts.Account {
	var stakeAccts []*accounts.Account
	for item := range b.accts.Map.IterBuffered() {
		if item.Val.Owner == sealevel.StakeProgramAddr {
			stakeAccts = append(stakeAccts, item.Val)
		}
	}
	return stakeAccts
}

// delegationsOf decodes the delegations held by accts. Accounts that are
// not delegated, or whose data does not decode, contribute nothing.
func delegationsOf(accts []*accounts.Account) []sealevel.Delegation {
	delegations := make([]sealevel.Delegation, 0, len(accts))
	for _, acct := range accts {
		state, err := sealevel.UnmarshalStakeState(acct.Data)
		if err != nil {
			continue
		}
		if delegation, ok := state.Delegation(); ok {
			delegations = append(delegations, *delegation)
		}
	}
	return delegations
}

// aggregateStake sums the effective, activating and deactivating stake of
// every delegation at epoch. Stake accounts are decoded and evaluated in
// chunks on a worker pool; the partial sums are added afterwards.
func (b *Bank) aggregateStake(epoch uint64) (sealevel.StakeHistoryEntry, error) {
	chunks := lo.Chunk(b.stakeAccounts(), aggregationChunkSize)
	if len(chunks) == 0 {
		return sealevel.StakeHistoryEntry{}, nil
	}

	history := b.history.Snapshot()
	newRateEpoch := b.features.ActivationEpoch(features.ReduceStakeWarmupCooldown)
	partials := make([]sealevel.StakeHistoryEntry, len(chunks))

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(b.cfg.AggregationWorkers, func(i interface{}) {
		defer wg.Done()
		task := i.(aggregationTask)
		partials[task.idx] = sealevel.AccumulateStakeHistoryEntry(sealevel.StakeHistoryEntry{}, delegationsOf(task.accts), epoch, history, newRateEpoch)
	})
	if err != nil {
		return sealevel.StakeHistoryEntry{}, err
	}
	defer pool.Release()

	for idx, chunk := range chunks {
		wg.Add(1)
		err = pool.Invoke(aggregationTask{idx: idx, accts: chunk})
		if err != nil {
			wg.Done()
			wg.Wait()
			return sealevel.StakeHistoryEntry{}, err
		}
	}
	wg.Wait()

	var total sealevel.StakeHistoryEntry
	for _, partial := range partials {
		total = total.Add(partial)
	}
	return total, nil
}
