package sealevel

import (
	"github.com/gagliardetto/solana-go"
)

type Instruction struct {
	Accounts  []AccountMeta
	Data      []byte
	ProgramId solana.PublicKey
}

type AccountMeta struct {
	Pubkey     solana.PublicKey
	IsSigner   bool
	IsWritable bool
}

type InstructionAccount struct {
	IndexInTransaction uint64
	IndexInCaller      uint64
	IndexInCallee      uint64
	IsSigner           bool
	IsWritable         bool
}

// Transaction is an ordered list of instructions executed atomically.
// Signers lists the keys whose signatures the transaction carries.
type Transaction struct {
	Instructions []Instruction
	Signers      []solana.PublicKey
}

// AccountKeys returns the unique account keys referenced by tx, in order of
// first appearance. Program ids are included.
func (tx *Transaction) AccountKeys() []solana.PublicKey {
	var keys []solana.PublicKey
	seen := make(map[solana.PublicKey]struct{})
	add := func(k solana.PublicKey) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for _, instr := range tx.Instructions {
		for _, meta := range instr.Accounts {
			add(meta.Pubkey)
		}
		add(instr.ProgramId)
	}
	return keys
}
