package query

import (
	"fmt"
	"io"
	"math"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.firedancer.io/staker/pkg/rpcserver"
	"go.firedancer.io/staker/pkg/sealevel"
)

const lamportsPerSol = 1_000_000_000

func formatLamports(lamports uint64) string {
	return fmt.Sprintf("%d.%09d SOL", lamports/lamportsPerSol, lamports%lamportsPerSol)
}

func formatEpoch(epoch uint64) string {
	if epoch == math.MaxUint64 {
		return "bootstrap"
	}
	return fmt.Sprintf("%d", epoch)
}

func printBalance(w io.Writer, lamports uint64) {
	fmt.Fprintf(w, "%s (%d lamports)\n", formatLamports(lamports), lamports)
}

func printActivation(w io.Writer, activation *rpc.GetStakeActivationResult) {
	fmt.Fprintf(w, "state:    %s\n", activation.State)
	fmt.Fprintf(w, "active:   %s\n", formatLamports(activation.Active))
	fmt.Fprintf(w, "inactive: %s\n", formatLamports(activation.Inactive))
}

func printEpochInfo(w io.Writer, info *rpc.GetEpochInfoResult) {
	fmt.Fprintf(w, "slot:        %d\n", info.AbsoluteSlot)
	fmt.Fprintf(w, "epoch:       %d\n", info.Epoch)
	fmt.Fprintf(w, "slot index:  %d/%d\n", info.SlotIndex, info.SlotsInEpoch)
	if info.TransactionCount != nil {
		fmt.Fprintf(w, "transactions: %d\n", *info.TransactionCount)
	}
}

func printHistory(w io.Writer, history rpcserver.StakeHistoryResult) {
	if len(history) == 0 {
		fmt.Fprintln(w, "no epochs recorded")
		return
	}
	for _, entry := range history {
		fmt.Fprintf(w, "epoch %d: effective=%d activating=%d deactivating=%d\n",
			entry.Epoch, entry.Effective, entry.Activating, entry.Deactivating)
	}
}

func printAccount(w io.Writer, pubkey solana.PublicKey, slot uint64, acct *rpc.Account) {
	fmt.Fprintf(w, "account:    %s (slot %d)\n", pubkey, slot)
	fmt.Fprintf(w, "balance:    %s\n", formatLamports(acct.Lamports))
	fmt.Fprintf(w, "owner:      %s\n", acct.Owner)
	fmt.Fprintf(w, "executable: %t\n", acct.Executable)

	data := acct.Data.GetBinary()
	fmt.Fprintf(w, "data:       %d bytes\n", len(data))
	switch [32]byte(acct.Owner) {
	case sealevel.StakeProgramAddr:
		printStakeState(w, data)
	case sealevel.VoteProgramAddr:
		printVoteState(w, data)
	}
}

func printStakeState(w io.Writer, data []byte) {
	state, err := sealevel.UnmarshalStakeState(data)
	if err != nil {
		fmt.Fprintf(w, "stake state: undecodable: %s\n", err)
		return
	}
	switch state.Status {
	case sealevel.StakeStateV2StatusUninitialized:
		fmt.Fprintln(w, "stake state: uninitialized")
		return
	case sealevel.StakeStateV2StatusRewardsPool:
		fmt.Fprintln(w, "stake state: rewards pool")
		return
	}

	meta, _ := state.Meta()
	fmt.Fprintf(w, "reserve:    %s\n", formatLamports(meta.RentExemptReserve))
	fmt.Fprintf(w, "staker:     %s\n", meta.Authorized.Staker)
	fmt.Fprintf(w, "withdrawer: %s\n", meta.Authorized.Withdrawer)
	delegation, ok := state.Delegation()
	if !ok {
		fmt.Fprintln(w, "stake state: initialized")
		return
	}
	fmt.Fprintln(w, "stake state: delegated")
	fmt.Fprintf(w, "voter:      %s\n", delegation.VoterPubkey)
	fmt.Fprintf(w, "stake:      %s\n", formatLamports(delegation.Stake))
	fmt.Fprintf(w, "activated:  %s\n", formatEpoch(delegation.ActivationEpoch))
	if delegation.DeactivationEpoch != math.MaxUint64 {
		fmt.Fprintf(w, "deactivated: %d\n", delegation.DeactivationEpoch)
	}
}

func printVoteState(w io.Writer, data []byte) {
	voteState, err := sealevel.UnmarshalVoteState(data)
	if err != nil {
		fmt.Fprintf(w, "vote state: undecodable: %s\n", err)
		return
	}
	fmt.Fprintf(w, "node:       %s\n", voteState.NodePubkey)
	fmt.Fprintf(w, "voter:      %s\n", voteState.AuthorizedVoter)
	fmt.Fprintf(w, "withdrawer: %s\n", voteState.AuthorizedWithdrawer)
	fmt.Fprintf(w, "commission: %d%%\n", voteState.Commission)
	fmt.Fprintf(w, "credits:    %d\n", voteState.Credits())
}
