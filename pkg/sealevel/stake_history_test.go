package sealevel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.firedancer.io/staker/pkg/accounts"
	"golang.org/x/sync/errgroup"
)

func entryFor(epoch uint64) StakeHistoryPair {
	return StakeHistoryPair{Epoch: epoch, Entry: StakeHistoryEntry{Effective: epoch * 10, Activating: epoch, Deactivating: 1}}
}

func TestStakeHistory_AppendGet(t *testing.T) {
	history, err := NewStakeHistory(DefaultStakeHistoryRetention)
	require.NoError(t, err)

	_, ok := history.Latest()
	assert.False(t, ok)

	// the first entry may start at any epoch
	for epoch := uint64(7); epoch < 10; epoch++ {
		require.NoError(t, history.Append(entryFor(epoch)))
	}
	assert.Equal(t, 3, history.Len())

	entry, ok := history.Get(8)
	require.True(t, ok)
	assert.Equal(t, entryFor(8).Entry, entry)

	_, ok = history.Get(6)
	assert.False(t, ok)

	latest, ok := history.Latest()
	require.True(t, ok)
	assert.Equal(t, entryFor(9), latest)
}

func TestStakeHistory_Gap(t *testing.T) {
	history, err := NewStakeHistory(DefaultStakeHistoryRetention)
	require.NoError(t, err)
	require.NoError(t, history.Append(entryFor(0)))

	err = history.Append(entryFor(2))
	require.ErrorIs(t, err, StakeErrHistoryEpochGap)
	assert.True(t, IsFatal(err))

	err = history.Append(entryFor(0))
	require.ErrorIs(t, err, StakeErrHistoryEpochGap)
	assert.Equal(t, 1, history.Len())
}

func TestStakeHistory_PrepareCommit(t *testing.T) {
	history, err := NewStakeHistory(DefaultStakeHistoryRetention)
	require.NoError(t, err)
	require.NoError(t, history.Append(entryFor(0)))

	update, err := history.Prepare(entryFor(1))
	require.NoError(t, err)
	assert.Equal(t, 1, history.Len())
	_, ok := history.Get(1)
	assert.False(t, ok)
	assert.Equal(t, SysvarStakeHistory{entryFor(1), entryFor(0)}, update.Snapshot().Sysvar())

	// an abandoned update can be prepared again
	update, err = history.Prepare(entryFor(1))
	require.NoError(t, err)
	require.NoError(t, history.Commit(update))
	assert.Equal(t, 2, history.Len())

	stale, err := history.Prepare(entryFor(2))
	require.NoError(t, err)
	require.NoError(t, history.Append(entryFor(2)))
	err = history.Commit(stale)
	require.ErrorIs(t, err, StakeErrHistoryEpochGap)
	assert.Equal(t, 3, history.Len())
}

func TestStakeHistory_Eviction(t *testing.T) {
	history, err := NewStakeHistory(3)
	require.NoError(t, err)
	assert.Equal(t, 3, history.Retention())

	for epoch := uint64(0); epoch < 5; epoch++ {
		require.NoError(t, history.Append(entryFor(epoch)))
	}
	assert.Equal(t, 3, history.Len())
	_, ok := history.Get(1)
	assert.False(t, ok)
	_, ok = history.Get(2)
	assert.True(t, ok)
}

func TestStakeHistory_InvalidRetention(t *testing.T) {
	_, err := NewStakeHistory(0)
	require.ErrorIs(t, err, StakeErrInvalidStakeHistoryRetention)
	_, err = NewStakeHistory(-1)
	require.ErrorIs(t, err, StakeErrInvalidStakeHistoryRetention)
}

func TestStakeHistory_SysvarRoundTrip(t *testing.T) {
	history, err := NewStakeHistory(DefaultStakeHistoryRetention)
	require.NoError(t, err)
	for epoch := uint64(0); epoch < 4; epoch++ {
		require.NoError(t, history.Append(entryFor(epoch)))
	}

	sysvar := history.Sysvar()
	require.Len(t, sysvar, 4)
	assert.Equal(t, uint64(3), sysvar[0].Epoch)
	assert.Equal(t, uint64(0), sysvar[3].Epoch)

	rebuilt, err := NewStakeHistoryFromSysvar(sysvar, DefaultStakeHistoryRetention)
	require.NoError(t, err)
	assert.Equal(t, sysvar, rebuilt.Sysvar())

	// an out of order sysvar cannot be rebuilt
	sysvar[1], sysvar[2] = sysvar[2], sysvar[1]
	_, err = NewStakeHistoryFromSysvar(sysvar, DefaultStakeHistoryRetention)
	require.ErrorIs(t, err, StakeErrHistoryEpochGap)
}

func TestStakeHistory_SysvarAccount(t *testing.T) {
	accts := accounts.NewMemAccounts()
	_, err := ReadStakeHistorySysvar(accts)
	require.ErrorIs(t, err, InstrErrUnsupportedSysvar)

	sysvar := SysvarStakeHistory{entryFor(2), entryFor(1)}
	acct, err := WriteStakeHistorySysvar(accts, sysvar)
	require.NoError(t, err)
	assert.Equal(t, 8+2*32, len(acct.Data))

	decoded, err := ReadStakeHistorySysvar(accts)
	require.NoError(t, err)
	assert.Equal(t, sysvar, decoded)

	entry, ok := decoded.Get(1)
	require.True(t, ok)
	assert.Equal(t, entryFor(1).Entry, entry)
}

func TestStakeHistory_SnapshotIsolation(t *testing.T) {
	history, err := NewStakeHistory(2)
	require.NoError(t, err)
	require.NoError(t, history.Append(entryFor(0)))

	snap := history.Snapshot()
	require.NoError(t, history.Append(entryFor(1)))
	require.NoError(t, history.Append(entryFor(2)))

	_, ok := snap.Get(0)
	assert.True(t, ok, "evicted entry still visible to an older snapshot")
	_, ok = snap.Get(1)
	assert.False(t, ok)
	assert.Len(t, snap.Sysvar(), 1)
}

func TestStakeHistory_ConcurrentReaders(t *testing.T) {
	history, err := NewStakeHistory(64)
	require.NoError(t, err)
	require.NoError(t, history.Append(entryFor(0)))

	var group errgroup.Group
	group.Go(func() error {
		for epoch := uint64(1); epoch < 500; epoch++ {
			if err := history.Append(entryFor(epoch)); err != nil {
				return err
			}
		}
		return nil
	})
	for reader := 0; reader < 4; reader++ {
		group.Go(func() error {
			for iter := 0; iter < 500; iter++ {
				snap := history.Snapshot()
				sysvar := snap.Sysvar()
				for idx := 1; idx < len(sysvar); idx++ {
					if sysvar[idx-1].Epoch != sysvar[idx].Epoch+1 {
						return assert.AnError
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())
	assert.Equal(t, 64, history.Len())
}
