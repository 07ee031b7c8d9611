package sealevel

import (
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/samber/lo"
)

const (
	VoteProgramInstrTypeInitializeAccount = iota
	VoteProgramInstrTypeAuthorize
	VoteProgramInstrTypeVote
	VoteProgramInstrTypeWithdraw
)

// MaxVoteSlots bounds the number of slots in one Vote instruction.
const MaxVoteSlots = 35

type VoteInstrVoteInit struct {
	NodePubkey           solana.PublicKey
	AuthorizedVoter      solana.PublicKey
	AuthorizedWithdrawer solana.PublicKey
	Commission           byte
}

type VoteInstrVote struct {
	Slots []uint64
	Hash  [32]byte
}

type VoteInstrWithdraw struct {
	Lamports uint64
}

func (voteInit *VoteInstrVoteInit) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	nodePk, err := decoder.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	copy(voteInit.NodePubkey[:], nodePk)

	authVoter, err := decoder.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	copy(voteInit.AuthorizedVoter[:], authVoter)

	authWithdrawer, err := decoder.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	copy(voteInit.AuthorizedWithdrawer[:], authWithdrawer)

	voteInit.Commission, err = decoder.ReadByte()
	return err
}

func (voteInit *VoteInstrVoteInit) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteUint32(VoteProgramInstrTypeInitializeAccount, bin.LE)
	_ = encoder.WriteBytes(voteInit.NodePubkey[:], false)
	_ = encoder.WriteBytes(voteInit.AuthorizedVoter[:], false)
	_ = encoder.WriteBytes(voteInit.AuthorizedWithdrawer[:], false)
	return encoder.WriteByte(voteInit.Commission)
}

func (vote *VoteInstrVote) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	slotsLen, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}

	if slotsLen > MaxVoteSlots {
		return InstrErrInvalidInstructionData
	}

	for count := uint64(0); count < slotsLen; count++ {
		slot, err := decoder.ReadUint64(bin.LE)
		if err != nil {
			return err
		}
		vote.Slots = append(vote.Slots, slot)
	}

	hash, err := decoder.ReadBytes(32)
	if err != nil {
		return err
	}
	copy(vote.Hash[:], hash)
	return nil
}

func (vote *VoteInstrVote) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteUint32(VoteProgramInstrTypeVote, bin.LE)
	_ = encoder.WriteUint64(uint64(len(vote.Slots)), bin.LE)
	for _, slot := range vote.Slots {
		_ = encoder.WriteUint64(slot, bin.LE)
	}
	return encoder.WriteBytes(vote.Hash[:], false)
}

func (withdraw *VoteInstrWithdraw) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	var err error
	withdraw.Lamports, err = decoder.ReadUint64(bin.LE)
	return err
}

func (withdraw *VoteInstrWithdraw) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteUint32(VoteProgramInstrTypeWithdraw, bin.LE)
	return encoder.WriteUint64(withdraw.Lamports, bin.LE)
}

func VoteProgramExecute(execCtx *ExecutionCtx) error {
	err := execCtx.ComputeMeter.Consume(CUVoteProgramDefaultComputeUnits)
	if err != nil {
		return InstrErrComputationalBudgetExceeded
	}

	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	me, err := instrCtx.BorrowInstructionAccount(txCtx, 0)
	if err != nil {
		return err
	}

	if me.Owner() != VoteProgramAddr {
		return InstrErrInvalidAccountOwner
	}

	signers := txCtx.Signers

	decoder := bin.NewBinDecoder(instrCtx.Data)

	instructionType, err := decoder.ReadUint32(bin.LE)
	if err != nil {
		return InstrErrInvalidInstructionData
	}

	switch instructionType {
	case VoteProgramInstrTypeInitializeAccount:
		{
			var voteInit VoteInstrVoteInit
			err = voteInit.UnmarshalWithDecoder(decoder)
			if err != nil {
				return InstrErrInvalidInstructionData
			}

			rent, err := execCtx.SysvarCache.Rent()
			if err != nil {
				return err
			}

			if me.Lamports() < rent.MinimumBalance(uint64(len(me.Data()))) {
				return InstrErrInsufficientFunds
			}

			return VoteProgramInitializeAccount(me, voteInit, signers)
		}

	case VoteProgramInstrTypeVote:
		{
			var vote VoteInstrVote
			err = vote.UnmarshalWithDecoder(decoder)
			if err != nil {
				return InstrErrInvalidInstructionData
			}

			clock, err := execCtx.SysvarCache.Clock()
			if err != nil {
				return err
			}

			return VoteProgramProcessVote(me, vote.Slots, signers, clock)
		}

	case VoteProgramInstrTypeWithdraw:
		{
			var withdraw VoteInstrWithdraw
			err = withdraw.UnmarshalWithDecoder(decoder)
			if err != nil {
				return InstrErrInvalidInstructionData
			}

			err = instrCtx.CheckNumOfInstructionAccounts(2)
			if err != nil {
				return err
			}

			rent, err := execCtx.SysvarCache.Rent()
			if err != nil {
				return err
			}

			return VoteProgramWithdraw(txCtx, instrCtx, me, withdraw.Lamports, 1, signers, rent)
		}

	default:
		{
			return InstrErrInvalidInstructionData
		}
	}
}

func verifySigner(authorized solana.PublicKey, signers []solana.PublicKey) error {
	if lo.Contains(signers, authorized) {
		return nil
	}
	return InstrErrMissingRequiredSignature
}

func VoteProgramInitializeAccount(voteAccount *BorrowedAccount, voteInit VoteInstrVoteInit, signers []solana.PublicKey) error {
	if len(voteAccount.Data()) != VoteStateSize {
		return InstrErrInvalidAccountData
	}

	if _, initialized := voteStateVersion(voteAccount.Data()); initialized {
		return InstrErrAccountAlreadyInitialized
	}

	if voteInit.Commission > 100 {
		return VoteErrCommissionTooHigh
	}

	err := verifySigner(voteInit.NodePubkey, signers)
	if err != nil {
		return err
	}

	return setVoteAccountState(voteAccount, NewVoteState(voteInit))
}

func VoteProgramProcessVote(voteAcct *BorrowedAccount, slots []uint64, signers []solana.PublicKey, clock *SysvarClock) error {
	voteState, err := voteStateFromAccount(voteAcct)
	if err != nil {
		return err
	}

	err = verifySigner(voteState.AuthorizedVoter, signers)
	if err != nil {
		return err
	}

	err = voteState.ProcessVote(slots, clock.Epoch)
	if err != nil {
		return err
	}

	return setVoteAccountState(voteAcct, voteState)
}

// VoteProgramWithdraw moves lamports out of a vote account. The account
// must stay rent exempt unless it is drained, which also clears its state.
func VoteProgramWithdraw(txCtx *TransactionCtx, instrCtx *InstructionCtx, voteAcct *BorrowedAccount, lamports uint64, toIdx uint64, signers []solana.PublicKey, rent *SysvarRent) error {
	voteState, err := voteStateFromAccount(voteAcct)
	if err != nil {
		return err
	}

	err = verifySigner(voteState.AuthorizedWithdrawer, signers)
	if err != nil {
		return err
	}

	if lamports > voteAcct.Lamports() {
		return InstrErrInsufficientFunds
	}
	remaining := voteAcct.Lamports() - lamports

	if remaining == 0 {
		err = voteAcct.SetData(make([]byte, len(voteAcct.Data())))
		if err != nil {
			return err
		}
	} else if remaining < rent.MinimumBalance(uint64(len(voteAcct.Data()))) {
		return InstrErrInsufficientFunds
	}

	err = voteAcct.CheckedSubLamports(lamports)
	if err != nil {
		return err
	}

	toAcct, err := instrCtx.BorrowInstructionAccount(txCtx, toIdx)
	if err != nil {
		return err
	}
	return toAcct.CheckedAddLamports(lamports)
}

// CreateVoteAccount funds and initializes a vote account. The node key
// signs along with from and votePubkey.
func CreateVoteAccount(from solana.PublicKey, votePubkey solana.PublicKey, voteInit VoteInstrVoteInit, lamports uint64) []Instruction {
	initAccount := Instruction{
		Accounts:  []AccountMeta{{Pubkey: votePubkey, IsWritable: true}},
		Data:      encodeInstruction(&voteInit),
		ProgramId: VoteProgramAddr,
	}
	return []Instruction{
		NewCreateAccountInstruction(from, votePubkey, lamports, VoteStateSize, VoteProgramAddr),
		initAccount,
	}
}

func NewVoteInstruction(votePubkey solana.PublicKey, slots []uint64) Instruction {
	vote := VoteInstrVote{Slots: slots}
	return Instruction{
		Accounts:  []AccountMeta{{Pubkey: votePubkey, IsWritable: true}},
		Data:      encodeInstruction(&vote),
		ProgramId: VoteProgramAddr,
	}
}

func NewVoteWithdrawInstruction(votePubkey solana.PublicKey, toPubkey solana.PublicKey, lamports uint64) Instruction {
	withdraw := VoteInstrWithdraw{Lamports: lamports}
	return Instruction{
		Accounts: []AccountMeta{
			{Pubkey: votePubkey, IsWritable: true},
			{Pubkey: toPubkey, IsWritable: true},
		},
		Data:      encodeInstruction(&withdraw),
		ProgramId: VoteProgramAddr,
	}
}
