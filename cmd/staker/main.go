package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.firedancer.io/staker/cmd/staker/genesis"
	"go.firedancer.io/staker/cmd/staker/node"
	"go.firedancer.io/staker/cmd/staker/query"
	"go.firedancer.io/staker/cmd/staker/snapshot"
	"k8s.io/klog/v2"
)

var cmd = cobra.Command{
	Use:   "staker",
	Short: "Stake program ledger node",
}

func init() {
	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)
	cmd.PersistentFlags().AddGoFlagSet(klogFlags)

	cmd.AddCommand(
		&genesis.Cmd,
		&node.Cmd,
		&query.Cmd,
		&snapshot.Cmd,
	)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	cobra.CheckErr(cmd.ExecuteContext(ctx))
}
