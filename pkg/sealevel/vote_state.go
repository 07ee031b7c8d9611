package sealevel

import (
	"bytes"
	"encoding/binary"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gammazero/deque"
	"go.firedancer.io/staker/pkg/safemath"
)

const (
	VoteStateVersionV0_23_5 = iota
	VoteStateVersionV1_14_11
	VoteStateVersionCurrent
)

// VoteStateSize is the fixed data length of a vote account.
const VoteStateSize = 3762

const (
	MaxLockoutHistory      = 31
	MaxEpochCreditsHistory = 64
)

type EpochCredits struct {
	Epoch       uint64
	Credits     uint64
	PrevCredits uint64
}

// VoteState is the content of a vote account. Votes holds the lockout
// queue, oldest slot first.
type VoteState struct {
	NodePubkey           solana.PublicKey
	AuthorizedVoter      solana.PublicKey
	AuthorizedWithdrawer solana.PublicKey
	Commission           byte
	Votes                *deque.Deque[uint64]
	RootSlot             *uint64
	EpochCredits         []EpochCredits
}

func (epochCredits *EpochCredits) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	var err error
	epochCredits.Epoch, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}

	epochCredits.Credits, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}

	epochCredits.PrevCredits, err = decoder.ReadUint64(bin.LE)
	return err
}

func (epochCredits *EpochCredits) MarshalWithEncoder(encoder *bin.Encoder) error {
	var err error

	err = encoder.WriteUint64(epochCredits.Epoch, bin.LE)
	if err != nil {
		return err
	}

	err = encoder.WriteUint64(epochCredits.Credits, bin.LE)
	if err != nil {
		return err
	}

	err = encoder.WriteUint64(epochCredits.PrevCredits, bin.LE)
	return err
}

// NewVoteState returns the state of a freshly initialized vote account.
func NewVoteState(voteInit VoteInstrVoteInit) *VoteState {
	return &VoteState{
		NodePubkey:           voteInit.NodePubkey,
		AuthorizedVoter:      voteInit.AuthorizedVoter,
		AuthorizedWithdrawer: voteInit.AuthorizedWithdrawer,
		Commission:           voteInit.Commission,
		Votes:                deque.New[uint64](),
	}
}

func (voteState *VoteState) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	pk, err := decoder.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	copy(voteState.NodePubkey[:], pk)

	pk, err = decoder.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	copy(voteState.AuthorizedVoter[:], pk)

	pk, err = decoder.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	copy(voteState.AuthorizedWithdrawer[:], pk)

	voteState.Commission, err = decoder.ReadByte()
	if err != nil {
		return err
	}

	votesLen, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	if votesLen > MaxLockoutHistory {
		return InstrErrInvalidAccountData
	}
	voteState.Votes = deque.New[uint64]()
	for count := uint64(0); count < votesLen; count++ {
		slot, err := decoder.ReadUint64(bin.LE)
		if err != nil {
			return err
		}
		voteState.Votes.PushBack(slot)
	}

	hasRootSlot, err := decoder.ReadBool()
	if err != nil {
		return err
	}
	if hasRootSlot {
		rootSlot, err := decoder.ReadUint64(bin.LE)
		if err != nil {
			return err
		}
		voteState.RootSlot = &rootSlot
	}

	epochCreditsLen, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	if epochCreditsLen > MaxEpochCreditsHistory {
		return InstrErrInvalidAccountData
	}
	voteState.EpochCredits = make([]EpochCredits, epochCreditsLen)
	for idx := range voteState.EpochCredits {
		err = voteState.EpochCredits[idx].UnmarshalWithDecoder(decoder)
		if err != nil {
			return err
		}
	}

	return nil
}

func (voteState *VoteState) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteBytes(voteState.NodePubkey[:], false)
	_ = encoder.WriteBytes(voteState.AuthorizedVoter[:], false)
	_ = encoder.WriteBytes(voteState.AuthorizedWithdrawer[:], false)
	err := encoder.WriteByte(voteState.Commission)
	if err != nil {
		return err
	}

	var votesLen int
	if voteState.Votes != nil {
		votesLen = voteState.Votes.Len()
	}
	err = encoder.WriteUint64(uint64(votesLen), bin.LE)
	if err != nil {
		return err
	}
	for idx := 0; idx < votesLen; idx++ {
		err = encoder.WriteUint64(voteState.Votes.At(idx), bin.LE)
		if err != nil {
			return err
		}
	}

	err = encoder.WriteBool(voteState.RootSlot != nil)
	if err != nil {
		return err
	}
	if voteState.RootSlot != nil {
		err = encoder.WriteUint64(*voteState.RootSlot, bin.LE)
		if err != nil {
			return err
		}
	}

	err = encoder.WriteUint64(uint64(len(voteState.EpochCredits)), bin.LE)
	if err != nil {
		return err
	}
	for idx := range voteState.EpochCredits {
		err = voteState.EpochCredits[idx].MarshalWithEncoder(encoder)
		if err != nil {
			return err
		}
	}
	return nil
}

// Credits returns the total vote credits earned by the account.
func (voteState *VoteState) Credits() uint64 {
	if len(voteState.EpochCredits) == 0 {
		return 0
	}
	return voteState.EpochCredits[len(voteState.EpochCredits)-1].Credits
}

func (voteState *VoteState) LastVotedSlot() (uint64, bool) {
	if voteState.Votes == nil || voteState.Votes.Len() == 0 {
		return 0, false
	}
	return voteState.Votes.Back(), true
}

func (voteState *VoteState) IncrementCredits(epoch uint64, credits uint64) {
	if len(voteState.EpochCredits) == 0 {
		voteState.EpochCredits = append(voteState.EpochCredits, EpochCredits{Epoch: epoch})
	} else if last := voteState.EpochCredits[len(voteState.EpochCredits)-1]; epoch != last.Epoch {
		if last.Credits != last.PrevCredits {
			voteState.EpochCredits = append(voteState.EpochCredits, EpochCredits{Epoch: epoch, Credits: last.Credits, PrevCredits: last.Credits})
		} else {
			voteState.EpochCredits[len(voteState.EpochCredits)-1].Epoch = epoch
		}

		if len(voteState.EpochCredits) > MaxEpochCreditsHistory {
			voteState.EpochCredits = voteState.EpochCredits[1:]
		}
	}

	last := &voteState.EpochCredits[len(voteState.EpochCredits)-1]
	last.Credits = safemath.SaturatingAddU64(last.Credits, credits)
}

func (voteState *VoteState) processNextVoteSlot(slot uint64, epoch uint64) {
	voteState.Votes.PushBack(slot)
	if voteState.Votes.Len() > MaxLockoutHistory {
		rootSlot := voteState.Votes.PopFront()
		voteState.RootSlot = &rootSlot
		voteState.IncrementCredits(epoch, 1)
	}
}

// ProcessVote records slots newer than the last vote. A vote pushing the
// lockout queue past capacity roots the oldest slot and earns one credit.
func (voteState *VoteState) ProcessVote(slots []uint64, epoch uint64) error {
	if len(slots) == 0 {
		return VoteErrEmptySlots
	}

	var processed bool
	for _, slot := range slots {
		if lastSlot, ok := voteState.LastVotedSlot(); ok && slot <= lastSlot {
			continue
		}
		if voteState.RootSlot != nil && slot <= *voteState.RootSlot {
			continue
		}
		voteState.processNextVoteSlot(slot, epoch)
		processed = true
	}

	if !processed {
		return VoteErrVoteTooOld
	}
	return nil
}

// voteStateVersion reads the version tag of vote account data. Zeroed data
// belongs to an account that was never initialized.
func voteStateVersion(data []byte) (uint32, bool) {
	if len(data) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(data[:4]), !isZeroed(data)
}

func isZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// UnmarshalVoteState decodes initialized vote account data.
func UnmarshalVoteState(data []byte) (*VoteState, error) {
	version, initialized := voteStateVersion(data)
	if !initialized {
		return nil, InstrErrUninitializedAccount
	}
	if version != VoteStateVersionCurrent {
		return nil, VoteErrUnsupportedStateVersion
	}

	decoder := bin.NewBinDecoder(data[4:])
	voteState := new(VoteState)
	err := voteState.UnmarshalWithDecoder(decoder)
	if err != nil {
		return nil, InstrErrInvalidAccountData
	}
	return voteState, nil
}

// MarshalVoteState encodes voteState into a buffer of exactly VoteStateSize
// bytes.
func MarshalVoteState(voteState *VoteState) ([]byte, error) {
	buffer := new(bytes.Buffer)
	encoder := bin.NewBinEncoder(buffer)

	err := encoder.WriteUint32(VoteStateVersionCurrent, bin.LE)
	if err != nil {
		return nil, err
	}
	err = voteState.MarshalWithEncoder(encoder)
	if err != nil {
		return nil, err
	}
	if buffer.Len() > VoteStateSize {
		return nil, InstrErrAccountDataTooSmall
	}

	data := make([]byte, VoteStateSize)
	copy(data, buffer.Bytes())
	return data, nil
}

func voteStateFromAccount(voteAcct *BorrowedAccount) (*VoteState, error) {
	return UnmarshalVoteState(voteAcct.Data())
}

func setVoteAccountState(voteAcct *BorrowedAccount, voteState *VoteState) error {
	data, err := MarshalVoteState(voteState)
	if err != nil {
		return err
	}
	if len(voteAcct.Data()) != len(data) {
		return VoteErrInvalidVoteAccountLength
	}
	return voteAcct.SetData(data)
}
