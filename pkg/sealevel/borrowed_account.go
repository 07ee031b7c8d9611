package sealevel

import (
	"github.com/gagliardetto/solana-go"
	"go.firedancer.io/staker/pkg/accounts"
	"go.firedancer.io/staker/pkg/safemath"
)

type BorrowedAccount struct {
	TxCtx              *TransactionCtx
	InstrCtx           *InstructionCtx
	IndexInTransaction uint64
	IndexInInstruction uint64
	Account            *accounts.Account
}

func (acct *BorrowedAccount) Key() solana.PublicKey {
	return acct.Account.Key
}

func (acct *BorrowedAccount) Owner() solana.PublicKey {
	return acct.Account.Owner
}

func (acct *BorrowedAccount) Lamports() uint64 {
	return acct.Account.Lamports
}

func (acct *BorrowedAccount) Data() []byte {
	return acct.Account.Data
}

func (acct *BorrowedAccount) IsExecutable() bool {
	return acct.Account.Executable
}

func (acct *BorrowedAccount) Touch() error {
	return acct.TxCtx.Accounts.Touch(acct.IndexInTransaction)
}

func (acct *BorrowedAccount) instructionAccountIndex() (uint64, bool) {
	numProgramAccts := acct.InstrCtx.NumberOfProgramAccounts()
	if acct.IndexInInstruction < numProgramAccts {
		return 0, false
	}
	return safemath.SaturatingSubU64(acct.IndexInInstruction, numProgramAccts), true
}

func (acct *BorrowedAccount) IsSigner() bool {
	instrAcctIdx, ok := acct.instructionAccountIndex()
	if !ok {
		return false
	}
	isSigner, err := acct.InstrCtx.IsInstructionAccountSigner(instrAcctIdx)
	if err != nil {
		return false
	}
	return isSigner
}

func (acct *BorrowedAccount) IsWritable() bool {
	instrAcctIdx, ok := acct.instructionAccountIndex()
	if !ok {
		return false
	}
	writable, err := acct.InstrCtx.IsInstructionAccountWritable(instrAcctIdx)
	if err != nil {
		return false
	}
	return writable
}

func (acct *BorrowedAccount) IsOwnedByCurrentProgram() bool {
	lastProgramKey, err := acct.InstrCtx.LastProgramKey(acct.TxCtx)
	if err != nil {
		return false
	}
	return lastProgramKey == acct.Owner()
}

func (acct *BorrowedAccount) DataCanBeChanged() error {
	if acct.IsExecutable() {
		return InstrErrExecutableDataModified
	}
	if !acct.IsWritable() {
		return InstrErrReadonlyDataModified
	}
	if !acct.IsOwnedByCurrentProgram() {
		return InstrErrExternalAccountDataModified
	}
	return nil
}

func (acct *BorrowedAccount) SetData(data []byte) error {
	err := acct.DataCanBeChanged()
	if err != nil {
		return err
	}
	err = acct.Touch()
	if err != nil {
		return err
	}
	acct.Account.SetData(data)
	return nil
}

// SetState overwrites the head of the account data with state, leaving the
// account size unchanged.
func (acct *BorrowedAccount) SetState(state []byte) error {
	if len(state) > len(acct.Data()) {
		return InstrErrAccountDataTooSmall
	}
	data := make([]byte, len(acct.Data()))
	copy(data, state)
	return acct.SetData(data)
}

func (acct *BorrowedAccount) SetDataLength(newLength uint64) error {
	if uint64(len(acct.Data())) == newLength {
		return nil
	}
	err := acct.DataCanBeChanged()
	if err != nil {
		return err
	}
	err = acct.Touch()
	if err != nil {
		return err
	}
	data := make([]byte, newLength)
	copy(data, acct.Data())
	acct.Account.SetData(data)
	return nil
}

func (acct *BorrowedAccount) SetOwner(owner solana.PublicKey) error {
	if !acct.IsOwnedByCurrentProgram() || !acct.IsWritable() || acct.IsExecutable() {
		return InstrErrModifiedProgramId
	}
	if acct.Owner() == owner {
		return nil
	}
	err := acct.Touch()
	if err != nil {
		return err
	}
	acct.Account.Owner = owner
	return nil
}

func (acct *BorrowedAccount) SetLamports(lamports uint64) error {
	if !acct.IsOwnedByCurrentProgram() && lamports < acct.Lamports() {
		return InstrErrExternalAccountLamportSpend
	}
	if !acct.IsWritable() {
		return InstrErrReadonlyLamportChange
	}
	if acct.IsExecutable() {
		return InstrErrExecutableLamportChange
	}
	if acct.Lamports() == lamports {
		return nil
	}
	err := acct.Touch()
	if err != nil {
		return err
	}
	acct.Account.Lamports = lamports
	return nil
}

func (acct *BorrowedAccount) CheckedAddLamports(lamports uint64) error {
	newLamports, err := safemath.CheckedAddU64(acct.Lamports(), lamports)
	if err != nil {
		return InstrErrArithmeticOverflow
	}
	return acct.SetLamports(newLamports)
}

func (acct *BorrowedAccount) CheckedSubLamports(lamports uint64) error {
	newLamports, err := safemath.CheckedSubU64(acct.Lamports(), lamports)
	if err != nil {
		return InstrErrArithmeticOverflow
	}
	return acct.SetLamports(newLamports)
}
