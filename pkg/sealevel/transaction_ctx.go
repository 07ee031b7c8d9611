package sealevel

import (
	"github.com/gagliardetto/solana-go"
	"github.com/samber/lo"
)

type TransactionCtx struct {
	Accounts         TransactionAccounts
	Signers          []solana.PublicKey
	instructionStack []InstructionCtx
}

func NewTransactionCtx(txAccts TransactionAccounts, signers []solana.PublicKey) *TransactionCtx {
	return &TransactionCtx{Accounts: txAccts, Signers: signers}
}

func (txCtx *TransactionCtx) PushInstructionCtx(ixCtx InstructionCtx) {
	txCtx.instructionStack = append(txCtx.instructionStack, ixCtx)
}

func (txCtx *TransactionCtx) PopInstructionCtx() error {
	if len(txCtx.instructionStack) == 0 {
		return InstrErrInvalidArgument
	}
	txCtx.instructionStack = txCtx.instructionStack[:len(txCtx.instructionStack)-1]
	return nil
}

func (txCtx *TransactionCtx) CurrentInstructionCtx() (*InstructionCtx, error) {
	if len(txCtx.instructionStack) == 0 {
		return nil, InstrErrInvalidArgument
	}
	return &txCtx.instructionStack[len(txCtx.instructionStack)-1], nil
}

func (txCtx *TransactionCtx) KeyOfAccountAtIndex(index uint64) (solana.PublicKey, error) {
	acct, err := txCtx.Accounts.GetAccount(index)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return acct.Key, nil
}

func (txCtx *TransactionCtx) IndexOfAccount(pubkey solana.PublicKey) (uint64, error) {
	for idx, acct := range txCtx.Accounts.Accounts {
		if acct.Key == pubkey {
			return uint64(idx), nil
		}
	}
	return 0, InstrErrMissingAccount
}

func (txCtx *TransactionCtx) IsSigner(pubkey solana.PublicKey) bool {
	return lo.Contains(txCtx.Signers, pubkey)
}
