package sealevel

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"go.firedancer.io/staker/pkg/accounts"
	"go.firedancer.io/staker/pkg/base58"
)

const SysvarRentAddrStr = "SysvarRent111111111111111111111111111111111"

var SysvarRentAddr = base58.MustDecodeFromString(SysvarRentAddrStr)

const SysvarRentStructLen = 17

// AccountStorageOverhead is the per-account size charged on top of the data
// length when computing the rent exempt minimum.
const AccountStorageOverhead = 128

type SysvarRent struct {
	LamportsPerUint8Year uint64
	ExemptionThreshold   float64
	BurnPercent          byte
}

func (sr *SysvarRent) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	sr.LamportsPerUint8Year, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read LamportsPerUint8Year when decoding SysvarRent: %w", err)
	}

	sr.ExemptionThreshold, err = decoder.ReadFloat64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read ExemptionThreshold when decoding SysvarRent: %w", err)
	}

	sr.BurnPercent, err = decoder.ReadByte()
	if err != nil {
		return fmt.Errorf("failed to read BurnPercent when decoding SysvarRent: %w", err)
	}

	return
}

func (sr *SysvarRent) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteUint64(sr.LamportsPerUint8Year, bin.LE)
	_ = encoder.WriteFloat64(sr.ExemptionThreshold, bin.LE)
	return encoder.WriteByte(sr.BurnPercent)
}

// MinimumBalance returns the balance an account holding dataLen bytes needs
// to be rent exempt.
func (sr *SysvarRent) MinimumBalance(dataLen uint64) uint64 {
	bytes := dataLen + AccountStorageOverhead
	return uint64(float64(bytes*sr.LamportsPerUint8Year) * sr.ExemptionThreshold)
}

func ReadRentSysvar(accts accounts.Accounts) (SysvarRent, error) {
	rentAcct, err := readSysvarAccount(accts, SysvarRentAddr)
	if err != nil {
		return SysvarRent{}, err
	}

	var rent SysvarRent
	err = rent.UnmarshalWithDecoder(bin.NewBinDecoder(rentAcct.Data))
	if err != nil {
		return SysvarRent{}, err
	}
	return rent, nil
}

func WriteRentSysvar(accts accounts.Accounts, rent SysvarRent) (*accounts.Account, error) {
	acct, err := writeSysvarAccount(accts, SysvarRentAddr, &rent)
	if err != nil {
		return nil, fmt.Errorf("failed to write Rent sysvar: %w", err)
	}
	return acct, nil
}
