package sealevel

import (
	"bytes"
	"math"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/samber/lo"
)

// StakeStateV2Size is the fixed data length of a stake account.
const StakeStateV2Size = 200

type Authorized struct {
	Staker     solana.PublicKey
	Withdrawer solana.PublicKey
}

type StakeLockup struct {
	UnixTimestamp int64
	Epoch         uint64
	Custodian     solana.PublicKey
}

type Meta struct {
	RentExemptReserve uint64
	Authorized        Authorized
	Lockup            StakeLockup
}

// Delegation binds stake to a vote account. An ActivationEpoch of
// math.MaxUint64 marks bootstrap stake, which is effective from genesis. A
// DeactivationEpoch of math.MaxUint64 means the stake was never deactivated.
type Delegation struct {
	VoterPubkey       solana.PublicKey
	Stake             uint64
	ActivationEpoch   uint64
	DeactivationEpoch uint64
}

type Stake struct {
	Delegation      Delegation
	CreditsObserved uint64
}

const (
	StakeStateV2StatusUninitialized = iota
	StakeStateV2StatusInitialized
	StakeStateV2StatusStake
	StakeStateV2StatusRewardsPool
)

type StakeStateV2Initialized struct {
	Meta Meta
}

type StakeStateV2Stake struct {
	Meta  Meta
	Stake Stake
}

type StakeStateV2 struct {
	Status      uint32
	Initialized StakeStateV2Initialized
	Stake       StakeStateV2Stake
}

const (
	StakeAuthorizeStaker = iota
	StakeAuthorizeWithdrawer
)

func (authorized *Authorized) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	pk, err := decoder.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	copy(authorized.Staker[:], pk)

	pk, err = decoder.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	copy(authorized.Withdrawer[:], pk)
	return nil
}

func (authorized *Authorized) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteBytes(authorized.Staker[:], false)
	return encoder.WriteBytes(authorized.Withdrawer[:], false)
}

func (lockup *StakeLockup) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	var err error
	lockup.UnixTimestamp, err = decoder.ReadInt64(bin.LE)
	if err != nil {
		return err
	}

	lockup.Epoch, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}

	pk, err := decoder.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	copy(lockup.Custodian[:], pk)

	return nil
}

func (lockup *StakeLockup) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteInt64(lockup.UnixTimestamp, bin.LE)
	_ = encoder.WriteUint64(lockup.Epoch, bin.LE)
	return encoder.WriteBytes(lockup.Custodian[:], false)
}

func (meta *Meta) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	var err error
	meta.RentExemptReserve, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}

	err = meta.Authorized.UnmarshalWithDecoder(decoder)
	if err != nil {
		return err
	}

	return meta.Lockup.UnmarshalWithDecoder(decoder)
}

func (meta *Meta) MarshalWithEncoder(encoder *bin.Encoder) error {
	err := encoder.WriteUint64(meta.RentExemptReserve, bin.LE)
	if err != nil {
		return err
	}
	err = meta.Authorized.MarshalWithEncoder(encoder)
	if err != nil {
		return err
	}
	return meta.Lockup.MarshalWithEncoder(encoder)
}

func (delegation *Delegation) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	voterPubkey, err := decoder.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	copy(delegation.VoterPubkey[:], voterPubkey)

	delegation.Stake, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}

	delegation.ActivationEpoch, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}

	delegation.DeactivationEpoch, err = decoder.ReadUint64(bin.LE)
	return err
}

func (delegation *Delegation) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteBytes(delegation.VoterPubkey[:], false)
	_ = encoder.WriteUint64(delegation.Stake, bin.LE)
	_ = encoder.WriteUint64(delegation.ActivationEpoch, bin.LE)
	return encoder.WriteUint64(delegation.DeactivationEpoch, bin.LE)
}

func (stake *Stake) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	err := stake.Delegation.UnmarshalWithDecoder(decoder)
	if err != nil {
		return err
	}

	stake.CreditsObserved, err = decoder.ReadUint64(bin.LE)
	return err
}

func (stake *Stake) MarshalWithEncoder(encoder *bin.Encoder) error {
	err := stake.Delegation.MarshalWithEncoder(encoder)
	if err != nil {
		return err
	}
	return encoder.WriteUint64(stake.CreditsObserved, bin.LE)
}

func (state *StakeStateV2) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	status, err := decoder.ReadUint32(bin.LE)
	if err != nil {
		return err
	}
	state.Status = status

	switch status {
	case StakeStateV2StatusUninitialized:
		{
			// nothing to deserialize
		}

	case StakeStateV2StatusInitialized:
		{
			err = state.Initialized.Meta.UnmarshalWithDecoder(decoder)
		}

	case StakeStateV2StatusStake:
		{
			err = state.Stake.Meta.UnmarshalWithDecoder(decoder)
			if err == nil {
				err = state.Stake.Stake.UnmarshalWithDecoder(decoder)
			}
		}

	case StakeStateV2StatusRewardsPool:
		{
			// nothing to deserialize
		}

	default:
		{
			err = InstrErrInvalidAccountData
		}
	}

	return err
}

func (state *StakeStateV2) MarshalWithEncoder(encoder *bin.Encoder) error {
	err := encoder.WriteUint32(state.Status, bin.LE)
	if err != nil {
		return err
	}

	switch state.Status {
	case StakeStateV2StatusInitialized:
		{
			err = state.Initialized.Meta.MarshalWithEncoder(encoder)
		}

	case StakeStateV2StatusStake:
		{
			err = state.Stake.Meta.MarshalWithEncoder(encoder)
			if err == nil {
				err = state.Stake.Stake.MarshalWithEncoder(encoder)
			}
		}
	}

	return err
}

// Meta returns the account metadata for initialized and delegated accounts.
func (state *StakeStateV2) Meta() (*Meta, bool) {
	switch state.Status {
	case StakeStateV2StatusInitialized:
		return &state.Initialized.Meta, true
	case StakeStateV2StatusStake:
		return &state.Stake.Meta, true
	}
	return nil, false
}

// Delegation returns the delegation of a delegated account.
func (state *StakeStateV2) Delegation() (*Delegation, bool) {
	if state.Status != StakeStateV2StatusStake {
		return nil, false
	}
	return &state.Stake.Stake.Delegation, true
}

func unmarshalStakeState(data []byte) (*StakeStateV2, error) {
	state := new(StakeStateV2)
	err := state.UnmarshalWithDecoder(bin.NewBinDecoder(data))
	if err != nil {
		return nil, InstrErrInvalidAccountData
	}
	return state, nil
}

func marshalStakeState(state *StakeStateV2) ([]byte, error) {
	buf := new(bytes.Buffer)
	err := state.MarshalWithEncoder(bin.NewBinEncoder(buf))
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalStakeState decodes the data of a stake account.
func UnmarshalStakeState(data []byte) (*StakeStateV2, error) {
	return unmarshalStakeState(data)
}

// MarshalStakeState encodes state into a buffer of exactly StakeStateV2Size
// bytes.
func MarshalStakeState(state *StakeStateV2) ([]byte, error) {
	encoded, err := marshalStakeState(state)
	if err != nil {
		return nil, err
	}
	if len(encoded) > StakeStateV2Size {
		return nil, InstrErrAccountDataTooSmall
	}
	data := make([]byte, StakeStateV2Size)
	copy(data, encoded)
	return data, nil
}

func getStakeAccountState(stakeAcct *BorrowedAccount) (*StakeStateV2, error) {
	return unmarshalStakeState(stakeAcct.Data())
}

func setStakeAccountState(stakeAcct *BorrowedAccount, state *StakeStateV2) error {
	encoded, err := marshalStakeState(state)
	if err != nil {
		return err
	}
	return stakeAcct.SetState(encoded)
}

func newDelegation(voterPubkey solana.PublicKey, stake uint64, activationEpoch uint64) Delegation {
	return Delegation{
		VoterPubkey:       voterPubkey,
		Stake:             stake,
		ActivationEpoch:   activationEpoch,
		DeactivationEpoch: math.MaxUint64,
	}
}

// IsInForce reports whether the lockup still restricts the account. A
// signature from the custodian lifts the lockup.
func (lockup *StakeLockup) IsInForce(clock *SysvarClock, custodian *solana.PublicKey) bool {
	if custodian != nil && *custodian == lockup.Custodian {
		return false
	}
	return lockup.UnixTimestamp > clock.UnixTimestamp || lockup.Epoch > clock.Epoch
}

func (authorized *Authorized) Check(signers []solana.PublicKey, stakeAuthorize uint32) error {
	switch stakeAuthorize {
	case StakeAuthorizeStaker:
		{
			if !lo.Contains(signers, authorized.Staker) {
				return InstrErrMissingRequiredSignature
			}
		}
	case StakeAuthorizeWithdrawer:
		{
			if !lo.Contains(signers, authorized.Withdrawer) {
				return InstrErrMissingRequiredSignature
			}
		}
	default:
		{
			return InstrErrInvalidArgument
		}
	}
	return nil
}

// lockupCustodianArgs carries the lockup check inputs for a withdrawer
// change. A nil value skips the check.
type lockupCustodianArgs struct {
	lockup    *StakeLockup
	clock     *SysvarClock
	custodian *solana.PublicKey
}

// Authorize replaces the authority of kind stakeAuthorize. The withdrawer
// outranks the staker and may reassign either.
func (authorized *Authorized) Authorize(signers []solana.PublicKey, newAuthorized solana.PublicKey, stakeAuthorize uint32, lockupArgs *lockupCustodianArgs) error {
	switch stakeAuthorize {
	case StakeAuthorizeStaker:
		{
			if !lo.Contains(signers, authorized.Staker) && !lo.Contains(signers, authorized.Withdrawer) {
				return InstrErrMissingRequiredSignature
			}
			authorized.Staker = newAuthorized
		}
	case StakeAuthorizeWithdrawer:
		{
			if lockupArgs != nil && lockupArgs.lockup.IsInForce(lockupArgs.clock, nil) {
				if lockupArgs.custodian == nil {
					return StakeErrCustodianMissing
				}
				if !lo.Contains(signers, *lockupArgs.custodian) {
					return StakeErrCustodianSignatureMissing
				}
				if lockupArgs.lockup.IsInForce(lockupArgs.clock, lockupArgs.custodian) {
					return StakeErrLockupInForce
				}
			}
			err := authorized.Check(signers, stakeAuthorize)
			if err != nil {
				return err
			}
			authorized.Withdrawer = newAuthorized
		}
	default:
		{
			return InstrErrInvalidArgument
		}
	}
	return nil
}
