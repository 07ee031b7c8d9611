package sealevel

import (
	"errors"
	"fmt"
)

// instruction errors
var (
	InstrErrInvalidInstructionData      = errors.New("InstrErrInvalidInstructionData")
	InstrErrNotEnoughAccountKeys        = errors.New("InstrErrNotEnoughAccountKeys")
	InstrErrComputationalBudgetExceeded = errors.New("InstrErrComputationalBudgetExceeded")
	InstrErrMissingAccount              = errors.New("InstrErrMissingAccount")
	InstrErrInvalidAccountOwner         = errors.New("InstrErrInvalidAccountOwner")
	InstrErrInvalidAccountData          = errors.New("InstrErrInvalidAccountData")
	InstrErrMissingRequiredSignature    = errors.New("InstrErrMissingRequiredSignature")
	InstrErrInvalidArgument             = errors.New("InstrErrInvalidArgument")
	InstrErrExecutableDataModified      = errors.New("InstrErrExecutableDataModified")
	InstrErrReadonlyDataModified        = errors.New("InstrErrReadonlyDataModified")
	InstrErrExternalAccountDataModified = errors.New("InstrErrExternalAccountDataModified")
	InstrErrAccountNotExecutable        = errors.New("InstrErrAccountNotExecutable")
	InstrErrModifiedProgramId           = errors.New("InstrErrModifiedProgramId")
	InstrErrUnsupportedProgramId        = errors.New("InstrErrUnsupportedProgramId")
	InstrErrArithmeticOverflow          = errors.New("InstrErrArithmeticOverflow")
	InstrErrUnbalancedInstruction       = errors.New("InstrErrUnbalancedInstruction")
	InstrErrAccountDataTooSmall         = errors.New("InstrErrAccountDataTooSmall")
	InstrErrExternalAccountLamportSpend = errors.New("InstrErrExternalAccountLamportSpend")
	InstrErrReadonlyLamportChange       = errors.New("InstrErrReadonlyLamportChange")
	InstrErrExecutableLamportChange     = errors.New("InstrErrExecutableLamportChange")
	InstrErrInsufficientFunds           = errors.New("InstrErrInsufficientFunds")
	InstrErrAccountAlreadyInitialized   = errors.New("InstrErrAccountAlreadyInitialized")
	InstrErrUninitializedAccount        = errors.New("InstrErrUninitializedAccount")
	InstrErrUnsupportedSysvar           = errors.New("InstrErrUnsupportedSysvar")
	InstrErrInvalidSeeds                = errors.New("InstrErrInvalidSeeds")
)

// system program errors
var (
	SystemProgErrAccountAlreadyInUse        = errors.New("SystemProgErrAccountAlreadyInUse")
	SystemProgErrResultWithNegativeLamports = errors.New("SystemProgErrResultWithNegativeLamports")
	SystemProgErrInvalidAccountDataLength   = errors.New("SystemProgErrInvalidAccountDataLength")
	SystemProgErrAddressWithSeedMismatch    = errors.New("SystemProgErrAddressWithSeedMismatch")
)

// vote program errors
var (
	VoteErrVoteTooOld               = errors.New("VoteErrVoteTooOld")
	VoteErrEmptySlots               = errors.New("VoteErrEmptySlots")
	VoteErrCommissionTooHigh        = errors.New("VoteErrCommissionTooHigh")
	VoteErrUnsupportedStateVersion  = errors.New("VoteErrUnsupportedStateVersion")
	VoteErrInvalidVoteAccountLength = errors.New("VoteErrInvalidVoteAccountLength")
)

// stake program errors
var (
	StakeErrNotDelegatable               = errors.New("StakeErrNotDelegatable")
	StakeErrInvalidVoteAccount           = errors.New("StakeErrInvalidVoteAccount")
	StakeErrLockupInForce                = errors.New("StakeErrLockupInForce")
	StakeErrCustodianMissing             = errors.New("StakeErrCustodianMissing")
	StakeErrCustodianSignatureMissing    = errors.New("StakeErrCustodianSignatureMissing")
	StakeErrNothingToRedeem              = errors.New("StakeErrNothingToRedeem")
	StakeErrRewardsPoolInsufficient      = errors.New("StakeErrRewardsPoolInsufficient")
	StakeErrHistoryEpochGap              = errors.New("StakeErrHistoryEpochGap")
	StakeErrInvalidRewardsPool           = errors.New("StakeErrInvalidRewardsPool")
	StakeErrInvalidStakeHistoryRetention = errors.New("StakeErrInvalidStakeHistoryRetention")
	StakeErrInvalidRewardRate            = errors.New("StakeErrInvalidRewardRate")
)

// StakeErrAlreadyDeactivated is a StakeErrNotDelegatable.
var StakeErrAlreadyDeactivated = fmt.Errorf("StakeErrAlreadyDeactivated: %w", StakeErrNotDelegatable)

// IsFatal reports whether err signals a broken ledger invariant rather than
// a rejected instruction. Fatal errors must halt block production.
func IsFatal(err error) bool {
	return errors.Is(err, StakeErrRewardsPoolInsufficient) ||
		errors.Is(err, StakeErrHistoryEpochGap)
}
