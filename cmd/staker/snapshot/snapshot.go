package snapshot

import (
	"github.com/spf13/cobra"
)

var Cmd = cobra.Command{
	Use:   "snapshot",
	Short: "Inspect and fetch ledger snapshots",
}

func init() {
	Cmd.AddCommand(
		&inspectCmd,
		&fetchCmd,
	)
}
