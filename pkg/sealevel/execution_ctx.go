package sealevel

import (
	"fmt"

	"github.com/holiman/uint256"
	"go.firedancer.io/staker/pkg/cu"
	"go.firedancer.io/staker/pkg/features"
	"k8s.io/klog/v2"
)

type ExecutionCtx struct {
	TransactionContext *TransactionCtx
	ComputeMeter       cu.ComputeMeter
	SysvarCache        SysvarCache
	Features           *features.Features
	StakeHistory       *StakeHistory
	RewardPolicy       RewardPolicy
}

// PrepareInstruction resolves the account metas of a top-level instruction
// against the transaction's accounts. Signer status is taken from the
// transaction's signature set.
func (execCtx *ExecutionCtx) PrepareInstruction(ix Instruction) ([]InstructionAccount, []uint64, error) {
	txCtx := execCtx.TransactionContext

	dedupInstructionAccounts := make([]InstructionAccount, 0)
	duplicateIndices := make([]uint64, 0)

	for instructionAcctIndex, accountMeta := range ix.Accounts {
		indexInTx, err := txCtx.IndexOfAccount(accountMeta.Pubkey)
		if err != nil {
			klog.Errorf("instruction references unknown account %s", accountMeta.Pubkey)
			return nil, nil, err
		}

		signed := txCtx.IsSigner(accountMeta.Pubkey)
		if accountMeta.IsSigner && !signed {
			return nil, nil, InstrErrMissingRequiredSignature
		}

		duplicateIndex := -1
		for index, instrAcct := range dedupInstructionAccounts {
			if instrAcct.IndexInTransaction == indexInTx {
				duplicateIndex = index
				break
			}
		}

		if duplicateIndex != -1 {
			duplicateIndices = append(duplicateIndices, uint64(duplicateIndex))
			dedupInstructionAccounts[duplicateIndex].IsWritable = dedupInstructionAccounts[duplicateIndex].IsWritable || accountMeta.IsWritable
		} else {
			duplicateIndices = append(duplicateIndices, uint64(len(dedupInstructionAccounts)))
			dedupInstructionAccounts = append(dedupInstructionAccounts, InstructionAccount{
				IndexInTransaction: indexInTx,
				IndexInCaller:      indexInTx,
				IndexInCallee:      uint64(instructionAcctIndex),
				IsSigner:           signed,
				IsWritable:         accountMeta.IsWritable,
			})
		}
	}

	instructionAccounts := make([]InstructionAccount, 0, len(duplicateIndices))
	for _, duplicateIndex := range duplicateIndices {
		instructionAccounts = append(instructionAccounts, dedupInstructionAccounts[duplicateIndex])
	}

	programAcctIdx, err := txCtx.IndexOfAccount(ix.ProgramId)
	if err != nil {
		klog.Errorf("unknown program %s", ix.ProgramId)
		return nil, nil, err
	}
	programAcct, err := txCtx.Accounts.GetAccount(programAcctIdx)
	if err != nil {
		return nil, nil, err
	}
	if !programAcct.Executable {
		klog.Errorf("account %s is not executable", ix.ProgramId)
		return nil, nil, InstrErrAccountNotExecutable
	}

	return instructionAccounts, []uint64{programAcctIdx}, nil
}

func (execCtx *ExecutionCtx) ProcessInstruction(instrData []byte, instructionAccts []InstructionAccount, programIndices []uint64) error {
	var instrCtx InstructionCtx
	instrCtx.Configure(programIndices, instructionAccts, instrData)

	preBalance, err := execCtx.instructionLamports(instructionAccts)
	if err != nil {
		return err
	}

	err = execCtx.Push(instrCtx)
	if err != nil {
		return err
	}

	err1 := execCtx.ExecuteInstruction()

	err2 := execCtx.Pop()

	if err1 != nil {
		return err1
	} else if err2 != nil {
		return err2
	}

	postBalance, err := execCtx.instructionLamports(instructionAccts)
	if err != nil {
		return err
	}
	if !preBalance.Eq(postBalance) {
		return InstrErrUnbalancedInstruction
	}

	return nil
}

// instructionLamports sums the balances of the distinct accounts of an
// instruction.
func (execCtx *ExecutionCtx) instructionLamports(instructionAccts []InstructionAccount) (*uint256.Int, error) {
	sum := uint256.NewInt(0)
	seen := make(map[uint64]struct{}, len(instructionAccts))
	for _, instrAcct := range instructionAccts {
		if _, ok := seen[instrAcct.IndexInTransaction]; ok {
			continue
		}
		seen[instrAcct.IndexInTransaction] = struct{}{}
		acct, err := execCtx.TransactionContext.Accounts.GetAccount(instrAcct.IndexInTransaction)
		if err != nil {
			return nil, err
		}
		sum.Add(sum, uint256.NewInt(acct.Lamports))
	}
	return sum, nil
}

func (execCtx *ExecutionCtx) ExecuteInstruction() error {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	programId, err := instrCtx.LastProgramKey(txCtx)
	if err != nil {
		return InstrErrUnsupportedProgramId
	}

	klog.V(3).Infof("resolving native program (%s)", programId)
	nativeProgramFn, err := resolveNativeProgramById(programId)
	if err != nil {
		return err
	}

	return nativeProgramFn(execCtx)
}

func (execCtx *ExecutionCtx) Push(instrCtx InstructionCtx) error {
	txCtx := execCtx.TransactionContext

	programId, err := instrCtx.LastProgramKey(txCtx)
	if err != nil {
		return InstrErrUnsupportedProgramId
	}
	instrCtx.programId = programId

	txCtx.PushInstructionCtx(instrCtx)
	return nil
}

func (execCtx *ExecutionCtx) Pop() error {
	return execCtx.TransactionContext.PopInstructionCtx()
}

// InvokeInstruction prepares and processes a single top-level instruction.
func (execCtx *ExecutionCtx) InvokeInstruction(instruction Instruction) error {
	instrAccts, programIndices, err := execCtx.PrepareInstruction(instruction)
	if err != nil {
		return err
	}
	return execCtx.ProcessInstruction(instruction.Data, instrAccts, programIndices)
}

// ExecuteTransaction runs the instructions of tx in order and stops at the
// first failure. The caller discards the working set on error.
func (execCtx *ExecutionCtx) ExecuteTransaction(tx *Transaction) error {
	for idx, instr := range tx.Instructions {
		err := execCtx.InvokeInstruction(instr)
		if err != nil {
			return fmt.Errorf("instruction %d: %w", idx, err)
		}
	}
	return nil
}
