package query

import (
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
	"go.firedancer.io/staker/pkg/rpcclient"
	"k8s.io/klog/v2"
)

var (
	Cmd = cobra.Command{
		Use:   "query",
		Short: "Query a running node over JSON-RPC",
	}

	rpcURL string
)

func init() {
	Cmd.PersistentFlags().StringVarP(&rpcURL, "rpc", "r", "http://127.0.0.1:8899", "RPC endpoint of the node")

	Cmd.AddCommand(
		&activationCmd,
		&accountCmd,
		&balanceCmd,
		&epochCmd,
		&historyCmd,
	)
}

func client() *rpcclient.RpcClient {
	return rpcclient.NewRpcClient(rpcURL)
}

func parsePubkey(arg string) solana.PublicKey {
	pubkey, err := solana.PublicKeyFromBase58(arg)
	if err != nil {
		klog.Exitf("invalid pubkey %q: %s", arg, err)
	}
	return pubkey
}

var (
	activationCmd = cobra.Command{
		Use:   "activation <stake pubkey>",
		Short: "Show the activation of a stake account",
		Args:  cobra.ExactArgs(1),
		Run:   runActivation,
	}

	activationEpoch int64
)

func init() {
	activationCmd.Flags().Int64VarP(&activationEpoch, "epoch", "e", -1, "Epoch to query (current when negative)")
}

func runActivation(c *cobra.Command, args []string) {
	stake := parsePubkey(args[0])
	var epoch *uint64
	if activationEpoch >= 0 {
		e := uint64(activationEpoch)
		epoch = &e
	}
	activation, err := client().GetStakeActivation(c.Context(), stake, epoch)
	if err != nil {
		klog.Exitf("getStakeActivation %s: %s", stake, err)
	}
	printActivation(os.Stdout, activation)
}

var accountCmd = cobra.Command{
	Use:   "account <pubkey>",
	Short: "Show an account, decoding stake and vote state",
	Args:  cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		pubkey := parsePubkey(args[0])
		acct, slot, err := client().GetAccountInfo(c.Context(), pubkey)
		if err != nil {
			klog.Exitf("getAccountInfo %s: %s", pubkey, err)
		}
		printAccount(os.Stdout, pubkey, slot, acct)
	},
}

var balanceCmd = cobra.Command{
	Use:   "balance <pubkey>",
	Short: "Show the lamport balance of an account",
	Args:  cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		pubkey := parsePubkey(args[0])
		balance, err := client().GetBalance(c.Context(), pubkey)
		if err != nil {
			klog.Exitf("getBalance %s: %s", pubkey, err)
		}
		printBalance(os.Stdout, balance)
	},
}

var epochCmd = cobra.Command{
	Use:   "epoch",
	Short: "Show the node's current epoch",
	Args:  cobra.NoArgs,
	Run: func(c *cobra.Command, args []string) {
		info, err := client().GetEpochInfo(c.Context())
		if err != nil {
			klog.Exitf("getEpochInfo: %s", err)
		}
		printEpochInfo(os.Stdout, info)
	},
}

var historyCmd = cobra.Command{
	Use:   "history",
	Short: "Show the recorded stake history",
	Args:  cobra.NoArgs,
	Run: func(c *cobra.Command, args []string) {
		history, err := client().GetStakeHistory(c.Context())
		if err != nil {
			klog.Exitf("getStakeHistory: %s", err)
		}
		printHistory(os.Stdout, history)
	},
}
