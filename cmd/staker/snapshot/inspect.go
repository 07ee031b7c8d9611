package snapshot

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/segmentio/textio"
	"github.com/spf13/cobra"
	"go.firedancer.io/staker/pkg/base58"
	"go.firedancer.io/staker/pkg/snapshot"
	"k8s.io/klog/v2"
)

var inspectCmd = cobra.Command{
	Use:   "inspect <snapshot.tgz>",
	Short: "Print the manifest of a snapshot",
	Args:  cobra.ExactArgs(1),
	Run:   runInspect,
}

func runInspect(c *cobra.Command, args []string) {
	manifest, err := snapshot.ReadManifest(args[0])
	if err != nil {
		klog.Exitf("failed to read snapshot %s: %s", args[0], err)
	}
	printManifest(os.Stdout, manifest)
}

func printManifest(w io.Writer, manifest *snapshot.Manifest) {
	fmt.Fprintf(w, "slot:              %d\n", manifest.Slot)
	fmt.Fprintf(w, "epoch:             %d\n", manifest.Epoch)
	fmt.Fprintf(w, "bank hash:         %s\n", base58.Encode(manifest.Hash[:]))
	fmt.Fprintf(w, "genesis time:      %s\n", time.Unix(manifest.GenesisTime, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "transactions:      %d\n", manifest.TransactionCount)
	fmt.Fprintf(w, "slots per epoch:   %d\n", manifest.Cluster.SlotsPerEpoch)
	fmt.Fprintf(w, "slot duration:     %s\n", time.Duration(manifest.Cluster.SlotDurationNanos))
	fmt.Fprintf(w, "reward rate:       %d/%d\n", manifest.Cluster.RewardRateNumerator, manifest.Cluster.RewardRateDenominator)

	for _, activation := range manifest.Features {
		fmt.Fprintf(w, "feature:           %s at epoch %d\n", activation.Name, activation.Epoch)
	}

	var accountCount uint64
	for _, file := range manifest.AccountFiles {
		accountCount += file.Count
	}
	fmt.Fprintf(w, "accounts:          %d in %d files\n", accountCount, len(manifest.AccountFiles))

	fmt.Fprintf(w, "stake history:\n")
	history := textio.NewPrefixWriter(w, "  ")
	for _, pair := range manifest.StakeHistory {
		fmt.Fprintf(history, "epoch %d: effective=%d activating=%d deactivating=%d\n",
			pair.Epoch, pair.Entry.Effective, pair.Entry.Activating, pair.Entry.Deactivating)
	}
	_ = history.Flush()
}
