package sealevel

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.firedancer.io/staker/pkg/accounts"
)

func TestVoteState_MarshalUnmarshal(t *testing.T) {
	voteState := NewVoteState(VoteInstrVoteInit{
		NodePubkey:           newTestPubkey(t),
		AuthorizedVoter:      newTestPubkey(t),
		AuthorizedWithdrawer: newTestPubkey(t),
		Commission:           10,
	})
	for slot := uint64(1); slot <= 40; slot++ {
		require.NoError(t, voteState.ProcessVote([]uint64{slot}, slot/32))
	}

	data, err := MarshalVoteState(voteState)
	require.NoError(t, err)
	assert.Equal(t, VoteStateSize, len(data))

	decoded, err := UnmarshalVoteState(data)
	require.NoError(t, err)
	assert.Equal(t, voteState.NodePubkey, decoded.NodePubkey)
	assert.Equal(t, voteState.Commission, decoded.Commission)
	assert.Equal(t, voteState.EpochCredits, decoded.EpochCredits)
	assert.Equal(t, *voteState.RootSlot, *decoded.RootSlot)
	assert.Equal(t, MaxLockoutHistory, decoded.Votes.Len())
	assert.Equal(t, voteState.Credits(), decoded.Credits())
}

func TestVoteState_Unmarshal_Uninitialized(t *testing.T) {
	_, err := UnmarshalVoteState(make([]byte, VoteStateSize))
	require.ErrorIs(t, err, InstrErrUninitializedAccount)

	data := make([]byte, VoteStateSize)
	data[0] = VoteStateVersionV1_14_11
	data[10] = 1
	_, err = UnmarshalVoteState(data)
	require.ErrorIs(t, err, VoteErrUnsupportedStateVersion)
}

func TestVoteState_Credits(t *testing.T) {
	voteState := NewVoteState(VoteInstrVoteInit{})

	// the lockout queue holds 31 votes, the 32nd roots the first and earns a credit
	for slot := uint64(0); slot < 32; slot++ {
		require.NoError(t, voteState.ProcessVote([]uint64{slot}, 0))
	}
	assert.Equal(t, uint64(1), voteState.Credits())
	assert.Equal(t, MaxLockoutHistory, voteState.Votes.Len())
	require.NotNil(t, voteState.RootSlot)
	assert.Equal(t, uint64(0), *voteState.RootSlot)

	// credits carry over into a new epoch entry
	require.NoError(t, voteState.ProcessVote([]uint64{32, 33}, 1))
	assert.Equal(t, uint64(3), voteState.Credits())
	require.Len(t, voteState.EpochCredits, 2)
	assert.Equal(t, EpochCredits{Epoch: 1, Credits: 3, PrevCredits: 1}, voteState.EpochCredits[1])
}

func TestVoteState_ProcessVote_Errors(t *testing.T) {
	voteState := NewVoteState(VoteInstrVoteInit{})
	require.ErrorIs(t, voteState.ProcessVote(nil, 0), VoteErrEmptySlots)

	require.NoError(t, voteState.ProcessVote([]uint64{5}, 0))
	require.ErrorIs(t, voteState.ProcessVote([]uint64{3, 5}, 0), VoteErrVoteTooOld)

	// stale slots mixed with a new one are skipped
	require.NoError(t, voteState.ProcessVote([]uint64{4, 6}, 0))
	last, ok := voteState.LastVotedSlot()
	require.True(t, ok)
	assert.Equal(t, uint64(6), last)
	assert.Equal(t, 2, voteState.Votes.Len())
}

func TestVoteState_EpochCreditsHistoryBounded(t *testing.T) {
	voteState := NewVoteState(VoteInstrVoteInit{})
	for epoch := uint64(0); epoch < 2*MaxEpochCreditsHistory; epoch++ {
		voteState.IncrementCredits(epoch, 1)
	}
	assert.Len(t, voteState.EpochCredits, MaxEpochCreditsHistory)
	assert.Equal(t, uint64(2*MaxEpochCreditsHistory), voteState.Credits())
}

func TestExecute_Tx_Vote_Program_InitializeAccount_Success(t *testing.T) {
	l := newTestLedger(t)
	node := newTestPubkey(t)
	votePubkey := l.createVoteAccount(node, 50, 10)

	acct := l.account(votePubkey)
	assert.Equal(t, solana.PublicKey(VoteProgramAddr), acct.Owner)
	assert.Equal(t, uint64(10), acct.Lamports)

	voteState := l.voteState(votePubkey)
	assert.Equal(t, node, voteState.NodePubkey)
	assert.Equal(t, byte(50), voteState.Commission)
	assert.Equal(t, uint64(0), voteState.Credits())
}

func TestExecute_Tx_Vote_Program_InitializeAccount_Failures(t *testing.T) {
	l := newTestLedger(t)
	node := newTestPubkey(t)
	payer := newTestPubkey(t)
	votePubkey := newTestPubkey(t)
	l.fund(payer, 100)

	voteInit := VoteInstrVoteInit{NodePubkey: node, AuthorizedVoter: node, AuthorizedWithdrawer: node, Commission: 101}
	err := l.process([]solana.PublicKey{payer, votePubkey, node}, CreateVoteAccount(payer, votePubkey, voteInit, 100)...)
	require.ErrorIs(t, err, VoteErrCommissionTooHigh)

	voteInit.Commission = 0
	err = l.process([]solana.PublicKey{payer, votePubkey}, CreateVoteAccount(payer, votePubkey, voteInit, 100)...)
	require.ErrorIs(t, err, InstrErrMissingRequiredSignature)

	require.NoError(t, l.process([]solana.PublicKey{payer, votePubkey, node}, CreateVoteAccount(payer, votePubkey, voteInit, 100)...))

	instrs := CreateVoteAccount(payer, votePubkey, voteInit, 0)
	err = l.process([]solana.PublicKey{node}, instrs[1])
	require.ErrorIs(t, err, InstrErrAccountAlreadyInitialized)
}

func TestExecute_Tx_Vote_Program_InitializeAccount_Rent_Failure(t *testing.T) {
	l := newTestLedger(t)
	l.rent = SysvarRent{LamportsPerUint8Year: 10, ExemptionThreshold: 2.0}
	node := newTestPubkey(t)
	payer := newTestPubkey(t)
	votePubkey := newTestPubkey(t)
	lamports := l.rent.MinimumBalance(VoteStateSize) - 1
	l.fund(payer, lamports)

	voteInit := VoteInstrVoteInit{NodePubkey: node, AuthorizedVoter: node, AuthorizedWithdrawer: node}
	err := l.process([]solana.PublicKey{payer, votePubkey, node}, CreateVoteAccount(payer, votePubkey, voteInit, lamports)...)
	require.ErrorIs(t, err, InstrErrInsufficientFunds)
}

func TestExecute_Tx_Vote_Program_Vote_Success(t *testing.T) {
	l := newTestLedger(t)
	node := newTestPubkey(t)
	votePubkey := l.createVoteAccount(node, 0, 10)

	for slot := uint64(0); slot < 32; slot++ {
		l.clock.Slot = slot
		require.NoError(t, l.process([]solana.PublicKey{node}, NewVoteInstruction(votePubkey, []uint64{slot})))
	}
	assert.Equal(t, uint64(1), l.voteState(votePubkey).Credits())

	err := l.process([]solana.PublicKey{newTestPubkey(t)}, NewVoteInstruction(votePubkey, []uint64{100}))
	require.ErrorIs(t, err, InstrErrMissingRequiredSignature)

	err = l.process([]solana.PublicKey{node}, NewVoteInstruction(votePubkey, []uint64{31}))
	require.ErrorIs(t, err, VoteErrVoteTooOld)
}

func TestExecute_Tx_Vote_Program_Vote_Uninitialized_Failure(t *testing.T) {
	l := newTestLedger(t)
	votePubkey := newTestPubkey(t)
	l.setAccount(accounts.Account{Key: votePubkey, Lamports: 10, Data: make([]byte, VoteStateSize), Owner: VoteProgramAddr})

	err := l.process(nil, NewVoteInstruction(votePubkey, []uint64{1}))
	require.ErrorIs(t, err, InstrErrUninitializedAccount)
}

func TestExecute_Tx_Vote_Program_Withdraw(t *testing.T) {
	l := newTestLedger(t)
	l.rent = SysvarRent{LamportsPerUint8Year: 10, ExemptionThreshold: 2.0}
	minimum := l.rent.MinimumBalance(VoteStateSize)

	node := newTestPubkey(t)
	votePubkey := l.createVoteAccount(node, 0, minimum+100)
	recipient := newTestPubkey(t)

	err := l.process([]solana.PublicKey{node}, NewVoteWithdrawInstruction(votePubkey, recipient, 101))
	require.ErrorIs(t, err, InstrErrInsufficientFunds)

	err = l.process([]solana.PublicKey{recipient}, NewVoteWithdrawInstruction(votePubkey, recipient, 100))
	require.ErrorIs(t, err, InstrErrMissingRequiredSignature)

	require.NoError(t, l.process([]solana.PublicKey{node}, NewVoteWithdrawInstruction(votePubkey, recipient, 100)))
	assert.Equal(t, uint64(100), l.lamports(recipient))

	// draining closes the account
	require.NoError(t, l.process([]solana.PublicKey{node}, NewVoteWithdrawInstruction(votePubkey, recipient, minimum)))
	assert.Equal(t, uint64(0), l.lamports(votePubkey))
	_, err = UnmarshalVoteState(l.account(votePubkey).Data)
	require.ErrorIs(t, err, InstrErrUninitializedAccount)
}
