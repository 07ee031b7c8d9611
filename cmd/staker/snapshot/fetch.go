package snapshot

import (
	"context"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"go.firedancer.io/staker/pkg/genesis"
	"go.firedancer.io/staker/pkg/rpcclient"
	"go.firedancer.io/staker/pkg/snapshot"
	"k8s.io/klog/v2"
)

var (
	fetchCmd = cobra.Command{
		Use:   "fetch",
		Short: "Download the snapshot or genesis archive of a node",
		Args:  cobra.NoArgs,
		Run:   runFetch,
	}

	rpcURL       string
	outPath      string
	fetchGenesis bool
)

func init() {
	fetchCmd.Flags().StringVarP(&rpcURL, "rpc", "r", "http://127.0.0.1:8899", "RPC endpoint of the node")
	fetchCmd.Flags().StringVarP(&outPath, "out", "o", "", "Output path (defaults to the archive name)")
	fetchCmd.Flags().BoolVar(&fetchGenesis, "genesis", false, "Fetch genesis.tgz instead of snapshot.tgz")
}

func runFetch(c *cobra.Command, args []string) {
	name := snapshot.FileName
	if fetchGenesis {
		name = genesis.ArchiveFileName
	}
	if outPath == "" {
		outPath = name
	}

	client := rpcclient.NewRpcClient(rpcURL)
	var bars *progressBars
	if isatty.IsTerminal(os.Stderr.Fd()) {
		bars = newProgressBars(c.Context())
		client.SetProgress(bars.wrap)
	}
	size, err := client.DownloadArchive(c.Context(), name, outPath)
	bars.wait(err)
	if err != nil {
		klog.Exitf("failed to fetch %s: %s", name, err)
	}

	if fetchGenesis {
		cfg, err := genesis.ReadArchive(outPath)
		if err != nil {
			klog.Exitf("downloaded genesis is invalid: %s", err)
		}
		klog.Infof("fetched genesis of cluster with mint %s from %s (%d bytes)", cfg.Mint.Pubkey, client.Endpoint(), size)
		return
	}
	manifest, err := snapshot.ReadManifest(outPath)
	if err != nil {
		klog.Exitf("downloaded snapshot is invalid: %s", err)
	}
	klog.Infof("fetched snapshot of slot %d from %s (%d bytes)", manifest.Slot, client.Endpoint(), size)
}

// progressBars renders archive downloads on a terminal.
type progressBars struct {
	progress *mpb.Progress
	bars     []*mpb.Bar
}

func newProgressBars(ctx context.Context) *progressBars {
	return &progressBars{progress: mpb.NewWithContext(ctx, mpb.WithOutput(os.Stderr))}
}

func (p *progressBars) wrap(name string, size int64, body io.Reader) io.ReadCloser {
	if size <= 0 {
		return io.NopCloser(body)
	}
	bar := p.progress.AddBar(size,
		mpb.PrependDecorators(decor.Name(name, decor.WCSyncSpaceR)),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f"),
			decor.Percentage(decor.WCSyncSpace),
		),
	)
	p.bars = append(p.bars, bar)
	return bar.ProxyReader(body)
}

// wait flushes the bars. Bars of a failed download are dropped.
func (p *progressBars) wait(err error) {
	if p == nil {
		return
	}
	if err != nil {
		for _, bar := range p.bars {
			bar.Abort(true)
		}
	}
	p.progress.Wait()
}
