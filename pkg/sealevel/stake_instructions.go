package sealevel

import (
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Stake program instruction builders. Authorities sign through the
// transaction's signer set and are not listed as instruction accounts; the
// optional trailing account of Authorize, DelegateStake and Withdraw is the
// lockup custodian.

// stakeInstrTypeOnly is an instruction without arguments.
type stakeInstrTypeOnly uint32

func (instrType stakeInstrTypeOnly) MarshalWithEncoder(encoder *bin.Encoder) error {
	return encoder.WriteUint32(uint32(instrType), bin.LE)
}

func withCustodian(accountMetas []AccountMeta, custodian *solana.PublicKey) []AccountMeta {
	if custodian == nil {
		return accountMetas
	}
	return append(accountMetas, AccountMeta{Pubkey: *custodian, IsSigner: true, IsWritable: false})
}

func NewStakeInitializeInstruction(stakePubkey solana.PublicKey, authorized Authorized, lockup StakeLockup) Instruction {
	initialize := StakeInstrInitialize{Authorized: authorized, Lockup: lockup}
	return Instruction{
		Accounts:  []AccountMeta{{Pubkey: stakePubkey, IsWritable: true}},
		Data:      encodeInstruction(&initialize),
		ProgramId: StakeProgramAddr,
	}
}

func NewStakeAuthorizeInstruction(stakePubkey solana.PublicKey, newAuthority solana.PublicKey, stakeAuthorize uint32, custodian *solana.PublicKey) Instruction {
	authorize := StakeInstrAuthorize{Pubkey: newAuthority, StakeAuthorize: stakeAuthorize}
	accountMetas := []AccountMeta{{Pubkey: stakePubkey, IsWritable: true}}
	return Instruction{
		Accounts:  withCustodian(accountMetas, custodian),
		Data:      encodeInstruction(&authorize),
		ProgramId: StakeProgramAddr,
	}
}

func NewStakeDelegateInstruction(stakePubkey solana.PublicKey, votePubkey solana.PublicKey, custodian *solana.PublicKey) Instruction {
	accountMetas := []AccountMeta{
		{Pubkey: stakePubkey, IsWritable: true},
		{Pubkey: votePubkey, IsWritable: false},
	}
	return Instruction{
		Accounts:  withCustodian(accountMetas, custodian),
		Data:      encodeInstruction(stakeInstrTypeOnly(StakeProgramInstrTypeDelegateStake)),
		ProgramId: StakeProgramAddr,
	}
}

func NewStakeRedeemVoteCreditsInstruction(stakePubkey solana.PublicKey, votePubkey solana.PublicKey, poolPubkey solana.PublicKey) Instruction {
	return Instruction{
		Accounts: []AccountMeta{
			{Pubkey: stakePubkey, IsWritable: true},
			{Pubkey: votePubkey, IsWritable: true},
			{Pubkey: poolPubkey, IsWritable: true},
		},
		Data:      encodeInstruction(stakeInstrTypeOnly(StakeProgramInstrTypeRedeemVoteCredits)),
		ProgramId: StakeProgramAddr,
	}
}

func NewStakeWithdrawInstruction(stakePubkey solana.PublicKey, toPubkey solana.PublicKey, lamports uint64, custodian *solana.PublicKey) Instruction {
	withdraw := StakeInstrWithdraw{Lamports: lamports}
	accountMetas := []AccountMeta{
		{Pubkey: stakePubkey, IsWritable: true},
		{Pubkey: toPubkey, IsWritable: true},
	}
	return Instruction{
		Accounts:  withCustodian(accountMetas, custodian),
		Data:      encodeInstruction(&withdraw),
		ProgramId: StakeProgramAddr,
	}
}

func NewStakeDeactivateInstruction(stakePubkey solana.PublicKey) Instruction {
	return Instruction{
		Accounts:  []AccountMeta{{Pubkey: stakePubkey, IsWritable: true}},
		Data:      encodeInstruction(stakeInstrTypeOnly(StakeProgramInstrTypeDeactivate)),
		ProgramId: StakeProgramAddr,
	}
}

// CreateStakeAccount funds and initializes a stake account at stakePubkey.
// Both from and stakePubkey sign.
func CreateStakeAccount(from solana.PublicKey, stakePubkey solana.PublicKey, authorized Authorized, lockup StakeLockup, lamports uint64) []Instruction {
	return []Instruction{
		NewCreateAccountInstruction(from, stakePubkey, lamports, StakeStateV2Size, StakeProgramAddr),
		NewStakeInitializeInstruction(stakePubkey, authorized, lockup),
	}
}

// CreateStakeAccountWithSeed is CreateStakeAccount at the address derived
// from base and seed.
func CreateStakeAccountWithSeed(from solana.PublicKey, stakePubkey solana.PublicKey, base solana.PublicKey, seed string, authorized Authorized, lockup StakeLockup, lamports uint64) []Instruction {
	return []Instruction{
		NewCreateAccountWithSeedInstruction(from, stakePubkey, base, seed, lamports, StakeStateV2Size, StakeProgramAddr),
		NewStakeInitializeInstruction(stakePubkey, authorized, lockup),
	}
}

// CreateStakeAccountAndDelegate creates a stake account and delegates all
// of it above the rent reserve to votePubkey. The staker authority signs.
func CreateStakeAccountAndDelegate(from solana.PublicKey, stakePubkey solana.PublicKey, votePubkey solana.PublicKey, authorized Authorized, lamports uint64) []Instruction {
	instrs := CreateStakeAccount(from, stakePubkey, authorized, StakeLockup{}, lamports)
	return append(instrs, NewStakeDelegateInstruction(stakePubkey, votePubkey, nil))
}
