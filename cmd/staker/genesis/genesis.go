package genesis

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.firedancer.io/staker/pkg/genesis"
	"k8s.io/klog/v2"
)

var (
	Cmd = cobra.Command{
		Use:   "genesis",
		Short: "Create the genesis ledger of a new cluster",
		Args:  cobra.NoArgs,
		Run:   run,
	}

	configPath string
	ledgerDir  string
	force      bool
)

func init() {
	Cmd.Flags().StringVarP(&configPath, "config", "c", "", "Genesis config YAML (defaults when unset)")
	Cmd.Flags().StringVarP(&ledgerDir, "ledger", "l", "ledger", "Ledger directory to create")
	Cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing genesis")
}

func run(c *cobra.Command, args []string) {
	cfg := genesis.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = genesis.LoadConfig(configPath)
		if err != nil {
			klog.Exitf("failed to load genesis config %s: %s", configPath, err)
		}
	}
	cfg.FillKeys()

	gen, err := genesis.Build(cfg)
	if err != nil {
		klog.Exitf("invalid genesis: %s", err)
	}

	configOut := filepath.Join(ledgerDir, genesis.ConfigFileName)
	if _, err := os.Stat(configOut); err == nil && !force {
		klog.Exitf("%s already exists, pass --force to overwrite", configOut)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		klog.Exitf("stat %s: %s", configOut, err)
	}

	err = os.MkdirAll(ledgerDir, 0o755)
	if err != nil {
		klog.Exitf("failed to create ledger dir %s: %s", ledgerDir, err)
	}
	data, err := cfg.Marshal()
	if err != nil {
		klog.Exitf("failed to encode genesis config: %s", err)
	}
	err = os.WriteFile(configOut, data, 0o644)
	if err != nil {
		klog.Exitf("failed to write %s: %s", configOut, err)
	}
	archiveOut := filepath.Join(ledgerDir, genesis.ArchiveFileName)
	err = genesis.WriteArchive(archiveOut, cfg)
	if err != nil {
		klog.Exitf("failed to write %s: %s", archiveOut, err)
	}

	klog.Infof("created genesis in %s with %d accounts", ledgerDir, gen.Accounts.Len())
	klog.Infof("mint: %s", cfg.Mint.Pubkey)
	klog.Infof("bootstrap node: %s vote: %s stake: %s",
		cfg.BootstrapValidator.Node, cfg.BootstrapValidator.Vote, cfg.BootstrapValidator.Stake)
	klog.Infof("rewards pool: %s", gen.RewardsPool)
}
