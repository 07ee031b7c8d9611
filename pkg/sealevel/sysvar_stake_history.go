package sealevel

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"go.firedancer.io/staker/pkg/accounts"
	"go.firedancer.io/staker/pkg/base58"
)

const SysvarStakeHistoryAddrStr = "SysvarStakeHistory1111111111111111111111111"

var SysvarStakeHistoryAddr = base58.MustDecodeFromString(SysvarStakeHistoryAddrStr)

type StakeHistoryEntry struct {
	Effective    uint64
	Activating   uint64
	Deactivating uint64
}

type StakeHistoryPair struct {
	Epoch uint64
	Entry StakeHistoryEntry
}

// SysvarStakeHistory is the account form of the stake history, newest
// epoch first.
type SysvarStakeHistory []StakeHistoryPair

func (sh *SysvarStakeHistory) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	entriesLen, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read length of entries when decoding SysvarStakeHistory: %w", err)
	}
	if entriesLen > uint64(decoder.Remaining()/32) {
		return fmt.Errorf("invalid entry count %d when decoding SysvarStakeHistory", entriesLen)
	}

	stakeHistory := make(SysvarStakeHistory, 0, entriesLen)

	for count := uint64(0); count < entriesLen; count++ {
		var pair StakeHistoryPair

		pair.Epoch, err = decoder.ReadUint64(bin.LE)
		if err != nil {
			return fmt.Errorf("failed to read Epoch when decoding SysvarStakeHistory: %w", err)
		}

		pair.Entry.Effective, err = decoder.ReadUint64(bin.LE)
		if err != nil {
			return fmt.Errorf("failed to read Effective when decoding SysvarStakeHistory: %w", err)
		}

		pair.Entry.Activating, err = decoder.ReadUint64(bin.LE)
		if err != nil {
			return fmt.Errorf("failed to read Activating when decoding SysvarStakeHistory: %w", err)
		}

		pair.Entry.Deactivating, err = decoder.ReadUint64(bin.LE)
		if err != nil {
			return fmt.Errorf("failed to read Deactivating when decoding SysvarStakeHistory: %w", err)
		}

		stakeHistory = append(stakeHistory, pair)
	}

	*sh = stakeHistory

	return
}

func (sh *SysvarStakeHistory) MarshalWithEncoder(encoder *bin.Encoder) error {
	err := encoder.WriteUint64(uint64(len(*sh)), bin.LE)
	if err != nil {
		return fmt.Errorf("failed to serialize len of StakeHistory for StakeHistory sysvar: %w", err)
	}
	for _, pair := range *sh {
		_ = encoder.WriteUint64(pair.Epoch, bin.LE)
		_ = encoder.WriteUint64(pair.Entry.Effective, bin.LE)
		_ = encoder.WriteUint64(pair.Entry.Activating, bin.LE)
		err = encoder.WriteUint64(pair.Entry.Deactivating, bin.LE)
		if err != nil {
			return fmt.Errorf("failed to serialize StakeHistory entry for epoch %d: %w", pair.Epoch, err)
		}
	}
	return nil
}

func (sh SysvarStakeHistory) Get(epoch uint64) (StakeHistoryEntry, bool) {
	for _, pair := range sh {
		if pair.Epoch == epoch {
			return pair.Entry, true
		}
	}
	return StakeHistoryEntry{}, false
}

func ReadStakeHistorySysvar(accts accounts.Accounts) (SysvarStakeHistory, error) {
	acct, err := readSysvarAccount(accts, SysvarStakeHistoryAddr)
	if err != nil {
		return nil, err
	}

	var stakeHistory SysvarStakeHistory
	err = stakeHistory.UnmarshalWithDecoder(bin.NewBinDecoder(acct.Data))
	if err != nil {
		return nil, err
	}
	return stakeHistory, nil
}

// StakeHistorySysvarAccount builds the sysvar account for stakeHistory
// without storing it.
func StakeHistorySysvarAccount(accts accounts.Accounts, stakeHistory SysvarStakeHistory) (*accounts.Account, error) {
	acct, err := sysvarAccount(accts, SysvarStakeHistoryAddr, &stakeHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to encode StakeHistory sysvar: %w", err)
	}
	return acct, nil
}

func WriteStakeHistorySysvar(accts accounts.Accounts, stakeHistory SysvarStakeHistory) (*accounts.Account, error) {
	acct, err := writeSysvarAccount(accts, SysvarStakeHistoryAddr, &stakeHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to write StakeHistory sysvar: %w", err)
	}
	return acct, nil
}
