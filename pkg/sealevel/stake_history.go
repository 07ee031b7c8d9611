package sealevel

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tidwall/btree"
)

// DefaultStakeHistoryRetention is the number of epochs of stake history
// kept before the oldest entry is evicted.
const DefaultStakeHistoryRetention = 512

// StakeHistoryReader is the read side of the stake history used by the
// warmup/cooldown computation.
type StakeHistoryReader interface {
	Get(epoch uint64) (StakeHistoryEntry, bool)
}

// StakeHistory is the cluster-wide record of effective, activating and
// deactivating stake per epoch. Readers work on immutable snapshots and
// never block; a single writer publishes a new snapshot per append.
type StakeHistory struct {
	writeMu   sync.Mutex
	entries   atomic.Pointer[btree.Map[uint64, StakeHistoryEntry]]
	retention int
}

// StakeHistorySnapshot is an immutable view of the stake history.
type StakeHistorySnapshot struct {
	entries *btree.Map[uint64, StakeHistoryEntry]
}

func NewStakeHistory(retention int) (*StakeHistory, error) {
	if retention <= 0 {
		return nil, StakeErrInvalidStakeHistoryRetention
	}
	sh := &StakeHistory{retention: retention}
	sh.entries.Store(new(btree.Map[uint64, StakeHistoryEntry]))
	return sh, nil
}

// NewStakeHistoryFromSysvar rebuilds the history from its account form.
func NewStakeHistoryFromSysvar(sysvar SysvarStakeHistory, retention int) (*StakeHistory, error) {
	sh, err := NewStakeHistory(retention)
	if err != nil {
		return nil, err
	}
	for idx := len(sysvar) - 1; idx >= 0; idx-- {
		err = sh.Append(sysvar[idx])
		if err != nil {
			return nil, fmt.Errorf("rebuilding stake history: %w", err)
		}
	}
	return sh, nil
}

func (sh *StakeHistory) Retention() int {
	return sh.retention
}

// StakeHistoryUpdate is an append prepared against the current history and
// not yet visible to readers.
type StakeHistoryUpdate struct {
	pair StakeHistoryPair
	base *btree.Map[uint64, StakeHistoryEntry]
	next *btree.Map[uint64, StakeHistoryEntry]
}

// Snapshot is the history as it will read once the update is committed.
func (update *StakeHistoryUpdate) Snapshot() StakeHistorySnapshot {
	return StakeHistorySnapshot{entries: update.next}
}

// Prepare validates pair against the current history and builds the
// resulting history without publishing it. Entries must arrive in strictly
// increasing epoch order without gaps; the first entry may have any epoch.
func (sh *StakeHistory) Prepare(pair StakeHistoryPair) (*StakeHistoryUpdate, error) {
	sh.writeMu.Lock()
	defer sh.writeMu.Unlock()

	current := sh.entries.Load()
	if latest, _, ok := current.Max(); ok && pair.Epoch != latest+1 {
		return nil, fmt.Errorf("%w: appending epoch %d after %d", StakeErrHistoryEpochGap, pair.Epoch, latest)
	}

	next := current.Copy()
	next.Set(pair.Epoch, pair.Entry)
	for next.Len() > sh.retention {
		next.PopMin()
	}
	return &StakeHistoryUpdate{pair: pair, base: current, next: next}, nil
}

// Commit publishes a prepared update. It fails if the history changed after
// the update was prepared.
func (sh *StakeHistory) Commit(update *StakeHistoryUpdate) error {
	sh.writeMu.Lock()
	defer sh.writeMu.Unlock()

	if !sh.entries.CompareAndSwap(update.base, update.next) {
		return fmt.Errorf("%w: stake history changed before epoch %d was committed", StakeErrHistoryEpochGap, update.pair.Epoch)
	}
	return nil
}

// Append records the totals for an epoch.
func (sh *StakeHistory) Append(pair StakeHistoryPair) error {
	update, err := sh.Prepare(pair)
	if err != nil {
		return err
	}
	return sh.Commit(update)
}

func (sh *StakeHistory) Get(epoch uint64) (StakeHistoryEntry, bool) {
	return sh.entries.Load().Get(epoch)
}

func (sh *StakeHistory) Snapshot() StakeHistorySnapshot {
	return StakeHistorySnapshot{entries: sh.entries.Load()}
}

func (sh *StakeHistory) Len() int {
	return sh.entries.Load().Len()
}

// Latest returns the newest entry.
func (sh *StakeHistory) Latest() (StakeHistoryPair, bool) {
	epoch, entry, ok := sh.entries.Load().Max()
	if !ok {
		return StakeHistoryPair{}, false
	}
	return StakeHistoryPair{Epoch: epoch, Entry: entry}, true
}

// Sysvar returns the history in account form, newest first.
func (sh *StakeHistory) Sysvar() SysvarStakeHistory {
	return sh.Snapshot().Sysvar()
}

func (snap StakeHistorySnapshot) Get(epoch uint64) (StakeHistoryEntry, bool) {
	return snap.entries.Get(epoch)
}

func (snap StakeHistorySnapshot) Sysvar() SysvarStakeHistory {
	sysvar := make(SysvarStakeHistory, 0, snap.entries.Len())
	snap.entries.Reverse(func(epoch uint64, entry StakeHistoryEntry) bool {
		sysvar = append(sysvar, StakeHistoryPair{Epoch: epoch, Entry: entry})
		return true
	})
	return sysvar
}
