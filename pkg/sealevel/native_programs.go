package sealevel

import (
	"go.firedancer.io/staker/pkg/base58"
)

const NativeLoaderAddrStr = "NativeLoader1111111111111111111111111111111"

var NativeLoaderAddr = base58.MustDecodeFromString(NativeLoaderAddrStr)

const SystemProgramAddrStr = "11111111111111111111111111111111"

var SystemProgramAddr = base58.MustDecodeFromString(SystemProgramAddrStr)

const StakeProgramAddrStr = "Stake11111111111111111111111111111111111111"

var StakeProgramAddr = base58.MustDecodeFromString(StakeProgramAddrStr)

const VoteProgramAddrStr = "Vote111111111111111111111111111111111111111"

var VoteProgramAddr = base58.MustDecodeFromString(VoteProgramAddrStr)

// NativeProgramAddrs lists the builtin programs, in the order genesis
// creates their accounts.
var NativeProgramAddrs = [][32]byte{SystemProgramAddr, StakeProgramAddr, VoteProgramAddr}

func resolveNativeProgramById(programId [32]byte) (func(ctx *ExecutionCtx) error, error) {
	switch programId {
	case SystemProgramAddr:
		return SystemProgramExecute, nil
	case StakeProgramAddr:
		return StakeProgramExecute, nil
	case VoteProgramAddr:
		return VoteProgramExecute, nil
	}

	return nil, InstrErrUnsupportedProgramId
}
