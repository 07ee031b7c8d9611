package sealevel

import (
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/samber/lo"
	"go.firedancer.io/staker/pkg/features"
	"go.firedancer.io/staker/pkg/safemath"
	"k8s.io/klog/v2"
)

const (
	StakeProgramInstrTypeInitialize = iota
	StakeProgramInstrTypeAuthorize
	StakeProgramInstrTypeDelegateStake
	StakeProgramInstrTypeRedeemVoteCredits
	StakeProgramInstrTypeWithdraw
	StakeProgramInstrTypeDeactivate
)

type StakeInstrInitialize struct {
	Authorized Authorized
	Lockup     StakeLockup
}

type StakeInstrAuthorize struct {
	Pubkey         solana.PublicKey
	StakeAuthorize uint32
}

type StakeInstrWithdraw struct {
	Lamports uint64
}

func (initialize *StakeInstrInitialize) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	err := initialize.Authorized.UnmarshalWithDecoder(decoder)
	if err != nil {
		return err
	}
	return initialize.Lockup.UnmarshalWithDecoder(decoder)
}

func (initialize *StakeInstrInitialize) MarshalWithEncoder(encoder *bin.Encoder) error {
	err := encoder.WriteUint32(StakeProgramInstrTypeInitialize, bin.LE)
	if err != nil {
		return err
	}
	err = initialize.Authorized.MarshalWithEncoder(encoder)
	if err != nil {
		return err
	}
	return initialize.Lockup.MarshalWithEncoder(encoder)
}

func (auth *StakeInstrAuthorize) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	pk, err := decoder.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	copy(auth.Pubkey[:], pk)

	auth.StakeAuthorize, err = decoder.ReadUint32(bin.LE)
	if err != nil {
		return err
	}

	if auth.StakeAuthorize != StakeAuthorizeStaker && auth.StakeAuthorize != StakeAuthorizeWithdrawer {
		return InstrErrInvalidInstructionData
	}
	return nil
}

func (auth *StakeInstrAuthorize) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteUint32(StakeProgramInstrTypeAuthorize, bin.LE)
	_ = encoder.WriteBytes(auth.Pubkey[:], false)
	return encoder.WriteUint32(auth.StakeAuthorize, bin.LE)
}

func (withdraw *StakeInstrWithdraw) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	var err error
	withdraw.Lamports, err = decoder.ReadUint64(bin.LE)
	return err
}

func (withdraw *StakeInstrWithdraw) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteUint32(StakeProgramInstrTypeWithdraw, bin.LE)
	return encoder.WriteUint64(withdraw.Lamports, bin.LE)
}

func getOptionalPubkey(txCtx *TransactionCtx, instrCtx *InstructionCtx, instrAcctIdx uint64, mustBeSigner bool) (*solana.PublicKey, error) {
	if instrAcctIdx < instrCtx.NumberOfInstructionAccounts() {
		isSigner, err := instrCtx.IsInstructionAccountSigner(instrAcctIdx)
		if err != nil {
			return nil, err
		}

		if mustBeSigner && !isSigner {
			return nil, InstrErrMissingRequiredSignature
		}

		idxInTx, err := instrCtx.IndexOfInstructionAccountInTransaction(instrAcctIdx)
		if err != nil {
			return nil, err
		}

		pubkey, err := txCtx.KeyOfAccountAtIndex(idxInTx)
		if err != nil {
			return nil, err
		}
		return &pubkey, nil
	} else { // no pubkey, not an error
		return nil, nil
	}
}

// newRateActivationEpoch returns the epoch from which the reduced
// warmup/cooldown rate applies, or nil.
func (execCtx *ExecutionCtx) newRateActivationEpoch() *uint64 {
	if execCtx.Features == nil {
		return nil
	}
	return execCtx.Features.ActivationEpoch(features.ReduceStakeWarmupCooldown)
}

func (execCtx *ExecutionCtx) stakeHistoryView() StakeHistoryReader {
	if execCtx.StakeHistory == nil {
		return SysvarStakeHistory{}
	}
	return execCtx.StakeHistory.Snapshot()
}

func StakeProgramExecute(execCtx *ExecutionCtx) error {
	err := execCtx.ComputeMeter.Consume(CUStakeProgramDefaultComputeUnits)
	if err != nil {
		return InstrErrComputationalBudgetExceeded
	}

	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	getStakeAccount := func() (*BorrowedAccount, error) {
		acct, err := instrCtx.BorrowInstructionAccount(txCtx, 0)
		if err != nil {
			return nil, err
		}
		if acct.Owner() != StakeProgramAddr {
			return nil, InstrErrInvalidAccountOwner
		}
		return acct, nil
	}

	signers := txCtx.Signers

	decoder := bin.NewBinDecoder(instrCtx.Data)
	instructionType, err := decoder.ReadUint32(bin.LE)
	if err != nil {
		return InstrErrInvalidInstructionData
	}

	switch instructionType {
	case StakeProgramInstrTypeInitialize:
		{
			var initialize StakeInstrInitialize
			err = initialize.UnmarshalWithDecoder(decoder)
			if err != nil {
				return InstrErrInvalidInstructionData
			}

			me, err := getStakeAccount()
			if err != nil {
				return err
			}

			rent, err := execCtx.SysvarCache.Rent()
			if err != nil {
				return err
			}

			return StakeProgramInitialize(me, initialize.Authorized, initialize.Lockup, rent)
		}

	case StakeProgramInstrTypeAuthorize:
		{
			var authorize StakeInstrAuthorize
			err = authorize.UnmarshalWithDecoder(decoder)
			if err != nil {
				return InstrErrInvalidInstructionData
			}

			me, err := getStakeAccount()
			if err != nil {
				return err
			}

			clock, err := execCtx.SysvarCache.Clock()
			if err != nil {
				return err
			}

			custodianPubkey, err := getOptionalPubkey(txCtx, instrCtx, 1, false)
			if err != nil {
				return err
			}

			requireCustodian := execCtx.Features != nil &&
				execCtx.Features.IsActiveAt(features.RequireCustodianForLockedStakeAuthorize, clock.Epoch)

			return StakeProgramAuthorize(me, signers, authorize.Pubkey, authorize.StakeAuthorize, clock, custodianPubkey, requireCustodian)
		}

	case StakeProgramInstrTypeDelegateStake:
		{
			_, err := getStakeAccount()
			if err != nil {
				return err
			}

			err = instrCtx.CheckNumOfInstructionAccounts(2)
			if err != nil {
				return err
			}

			clock, err := execCtx.SysvarCache.Clock()
			if err != nil {
				return err
			}

			custodianPubkey, err := getOptionalPubkey(txCtx, instrCtx, 2, true)
			if err != nil {
				return err
			}

			return StakeProgramDelegate(execCtx, txCtx, instrCtx, 0, 1, clock, signers, custodianPubkey)
		}

	case StakeProgramInstrTypeRedeemVoteCredits:
		{
			me, err := getStakeAccount()
			if err != nil {
				return err
			}

			err = instrCtx.CheckNumOfInstructionAccounts(3)
			if err != nil {
				return err
			}

			voteAcct, err := instrCtx.BorrowInstructionAccount(txCtx, 1)
			if err != nil {
				return err
			}

			poolAcct, err := instrCtx.BorrowInstructionAccount(txCtx, 2)
			if err != nil {
				return err
			}
			pool, err := newRewardsPool(poolAcct)
			if err != nil {
				return err
			}

			clock, err := execCtx.SysvarCache.Clock()
			if err != nil {
				return err
			}

			paid, err := RedeemVoteCredits(me, voteAcct, pool, execCtx.RewardPolicy, clock, execCtx.stakeHistoryView(), execCtx.newRateActivationEpoch())
			if err != nil {
				return err
			}
			klog.V(2).Infof("redeemed %d lamports for stake account %s", paid, me.Key())
			return nil
		}

	case StakeProgramInstrTypeWithdraw:
		{
			var withdraw StakeInstrWithdraw
			err = withdraw.UnmarshalWithDecoder(decoder)
			if err != nil {
				return InstrErrInvalidInstructionData
			}

			_, err := getStakeAccount()
			if err != nil {
				return err
			}

			err = instrCtx.CheckNumOfInstructionAccounts(2)
			if err != nil {
				return err
			}

			clock, err := execCtx.SysvarCache.Clock()
			if err != nil {
				return err
			}

			custodianPubkey, err := getOptionalPubkey(txCtx, instrCtx, 2, true)
			if err != nil {
				return err
			}

			return StakeProgramWithdraw(execCtx, txCtx, instrCtx, 0, withdraw.Lamports, 1, clock, signers, custodianPubkey)
		}

	case StakeProgramInstrTypeDeactivate:
		{
			me, err := getStakeAccount()
			if err != nil {
				return err
			}

			clock, err := execCtx.SysvarCache.Clock()
			if err != nil {
				return err
			}

			return StakeProgramDeactivate(me, clock, signers)
		}

	default:
		{
			return InstrErrInvalidInstructionData
		}
	}
}

func StakeProgramInitialize(stakeAcct *BorrowedAccount, authorized Authorized, lockup StakeLockup, rent *SysvarRent) error {
	if len(stakeAcct.Data()) != StakeStateV2Size {
		return InstrErrInvalidAccountData
	}

	state, err := getStakeAccountState(stakeAcct)
	if err != nil {
		return err
	}

	if state.Status != StakeStateV2StatusUninitialized {
		return InstrErrAccountAlreadyInitialized
	}

	rentExemptReserve := rent.MinimumBalance(uint64(len(stakeAcct.Data())))
	if stakeAcct.Lamports() < rentExemptReserve {
		return InstrErrInsufficientFunds
	}

	newStakeState := &StakeStateV2{
		Status:      StakeStateV2StatusInitialized,
		Initialized: StakeStateV2Initialized{Meta: Meta{RentExemptReserve: rentExemptReserve, Authorized: authorized, Lockup: lockup}},
	}
	return setStakeAccountState(stakeAcct, newStakeState)
}

func StakeProgramAuthorize(stakeAcct *BorrowedAccount, signers []solana.PublicKey, newAuthority solana.PublicKey, stakeAuthorize uint32, clock *SysvarClock, custodianPubkey *solana.PublicKey, requireCustodian bool) error {
	state, err := getStakeAccountState(stakeAcct)
	if err != nil {
		return err
	}

	meta, ok := state.Meta()
	if !ok {
		if state.Status == StakeStateV2StatusUninitialized {
			return InstrErrUninitializedAccount
		}
		return InstrErrInvalidAccountData
	}

	var lockupArgs *lockupCustodianArgs
	if requireCustodian {
		lockupArgs = &lockupCustodianArgs{lockup: &meta.Lockup, clock: clock, custodian: custodianPubkey}
	}

	err = meta.Authorized.Authorize(signers, newAuthority, stakeAuthorize, lockupArgs)
	if err != nil {
		return err
	}

	return setStakeAccountState(stakeAcct, state)
}

// delegatedAmount is the balance above the rent reserve.
func delegatedAmount(stakeAcct *BorrowedAccount, meta *Meta) (uint64, error) {
	stakeAmount := safemath.SaturatingSubU64(stakeAcct.Lamports(), meta.RentExemptReserve)
	if stakeAmount == 0 {
		return 0, InstrErrInsufficientFunds
	}
	return stakeAmount, nil
}

func StakeProgramDelegate(execCtx *ExecutionCtx, txCtx *TransactionCtx, instrCtx *InstructionCtx, stakeAcctIdx uint64, voteAcctIdx uint64, clock *SysvarClock, signers []solana.PublicKey, custodian *solana.PublicKey) error {
	voteAcct, err := instrCtx.BorrowInstructionAccount(txCtx, voteAcctIdx)
	if err != nil {
		return err
	}

	if voteAcct.Owner() != VoteProgramAddr {
		return StakeErrInvalidVoteAccount
	}

	voteState, err := voteStateFromAccount(voteAcct)
	if err != nil {
		return StakeErrInvalidVoteAccount
	}
	votePubkey := voteAcct.Key()

	stakeAcct, err := instrCtx.BorrowInstructionAccount(txCtx, stakeAcctIdx)
	if err != nil {
		return err
	}

	stakeState, err := getStakeAccountState(stakeAcct)
	if err != nil {
		return err
	}

	var meta *Meta
	switch stakeState.Status {
	case StakeStateV2StatusInitialized:
		{
			meta = &stakeState.Initialized.Meta
		}

	case StakeStateV2StatusStake:
		{
			meta = &stakeState.Stake.Meta
			delegation := &stakeState.Stake.Stake.Delegation
			if !delegation.IsDeactivated() ||
				delegation.EffectiveStake(clock.Epoch, execCtx.stakeHistoryView(), execCtx.newRateActivationEpoch()) != 0 {
				return StakeErrNotDelegatable
			}
		}

	default:
		{
			return StakeErrNotDelegatable
		}
	}

	err = meta.Authorized.Check(signers, StakeAuthorizeStaker)
	if err != nil {
		return err
	}

	if meta.Lockup.IsInForce(clock, custodian) {
		return StakeErrLockupInForce
	}

	stakeAmount, err := delegatedAmount(stakeAcct, meta)
	if err != nil {
		return err
	}

	stake := Stake{
		Delegation:      newDelegation(votePubkey, stakeAmount, clock.Epoch),
		CreditsObserved: voteState.Credits(),
	}
	stakeState.Stake = StakeStateV2Stake{Meta: *meta, Stake: stake}
	stakeState.Initialized = StakeStateV2Initialized{}
	stakeState.Status = StakeStateV2StatusStake

	return setStakeAccountState(stakeAcct, stakeState)
}

func StakeProgramDeactivate(stakeAcct *BorrowedAccount, clock *SysvarClock, signers []solana.PublicKey) error {
	state, err := getStakeAccountState(stakeAcct)
	if err != nil {
		return err
	}

	if state.Status != StakeStateV2StatusStake {
		return StakeErrNotDelegatable
	}

	err = state.Stake.Meta.Authorized.Check(signers, StakeAuthorizeStaker)
	if err != nil {
		return err
	}

	delegation := &state.Stake.Stake.Delegation
	if delegation.IsDeactivated() {
		return StakeErrAlreadyDeactivated
	}
	delegation.DeactivationEpoch = clock.Epoch

	return setStakeAccountState(stakeAcct, state)
}

func StakeProgramWithdraw(execCtx *ExecutionCtx, txCtx *TransactionCtx, instrCtx *InstructionCtx, stakeAcctIdx uint64, lamports uint64, toIdx uint64, clock *SysvarClock, signers []solana.PublicKey, custodian *solana.PublicKey) error {
	stakeAcct, err := instrCtx.BorrowInstructionAccount(txCtx, stakeAcctIdx)
	if err != nil {
		return err
	}

	state, err := getStakeAccountState(stakeAcct)
	if err != nil {
		return err
	}

	var lockup *StakeLockup
	var reserve, staked uint64

	switch state.Status {
	case StakeStateV2StatusStake:
		{
			meta := &state.Stake.Meta
			err = meta.Authorized.Check(signers, StakeAuthorizeWithdrawer)
			if err != nil {
				return err
			}
			delegation := &state.Stake.Stake.Delegation
			if clock.Epoch >= delegation.DeactivationEpoch {
				staked = delegation.EffectiveStake(clock.Epoch, execCtx.stakeHistoryView(), execCtx.newRateActivationEpoch())
			} else {
				staked = delegation.Stake
			}
			lockup = &meta.Lockup
			reserve = meta.RentExemptReserve
		}

	case StakeStateV2StatusInitialized:
		{
			meta := &state.Initialized.Meta
			err = meta.Authorized.Check(signers, StakeAuthorizeWithdrawer)
			if err != nil {
				return err
			}
			lockup = &meta.Lockup
			reserve = meta.RentExemptReserve
		}

	case StakeStateV2StatusUninitialized:
		{
			if !lo.Contains(signers, stakeAcct.Key()) {
				return InstrErrMissingRequiredSignature
			}
		}

	default:
		{
			return InstrErrInvalidAccountData
		}
	}

	if lockup != nil && lockup.IsInForce(clock, custodian) {
		return StakeErrLockupInForce
	}

	if lamports == stakeAcct.Lamports() && staked == 0 {
		// draining an undelegated account closes it
		if state.Status != StakeStateV2StatusUninitialized {
			err = setStakeAccountState(stakeAcct, &StakeStateV2{Status: StakeStateV2StatusUninitialized})
			if err != nil {
				return err
			}
		}
	} else {
		lockedAndReserve, err := safemath.CheckedAddU64(staked, reserve)
		if err != nil {
			return InstrErrInsufficientFunds
		}
		required, err := safemath.CheckedAddU64(lamports, lockedAndReserve)
		if err != nil || required > stakeAcct.Lamports() {
			return InstrErrInsufficientFunds
		}

		// only fully cooled stake is clamped to the remaining balance
		if state.Status == StakeStateV2StatusStake && staked == 0 {
			delegation := &state.Stake.Stake.Delegation
			remaining := stakeAcct.Lamports() - lamports - reserve
			if delegation.Stake > remaining {
				delegation.Stake = remaining
				err = setStakeAccountState(stakeAcct, state)
				if err != nil {
					return err
				}
			}
		}
	}

	toAcct, err := instrCtx.BorrowInstructionAccount(txCtx, toIdx)
	if err != nil {
		return err
	}

	err = stakeAcct.CheckedSubLamports(lamports)
	if err != nil {
		return err
	}

	return toAcct.CheckedAddLamports(lamports)
}
