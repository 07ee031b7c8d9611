package rpcclient

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.firedancer.io/staker/pkg/bank"
	"go.firedancer.io/staker/pkg/genesis"
	"go.firedancer.io/staker/pkg/rpcserver"
	"go.firedancer.io/staker/pkg/snapshot"
)

type testNode struct {
	cfg       *genesis.Config
	bank      *bank.Bank
	ledgerDir string
	client    *RpcClient
}

func newTestNode(t *testing.T) *testNode {
	cfg := genesis.DefaultConfig()
	cfg.Cluster.SlotsPerEpoch = 2
	cfg.Cluster.SlotDuration = 10 * time.Millisecond
	cfg.FillKeys()
	gen, err := genesis.Build(cfg)
	require.NoError(t, err)
	b, err := gen.NewBank(1, nil, nil)
	require.NoError(t, err)

	ledgerDir := t.TempDir()
	server, err := rpcserver.New(rpcserver.Config{
		LedgerDir:        ledgerDir,
		ExitPollInterval: 10 * time.Millisecond,
	}, b, nil)
	require.NoError(t, err)
	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(httpServer.Close)

	return &testNode{cfg: cfg, bank: b, ledgerDir: ledgerDir, client: NewRpcClient(httpServer.URL)}
}

func TestRpcClient_Queries(t *testing.T) {
	node := newTestNode(t)
	ctx := context.Background()
	for node.bank.Epoch() < 1 {
		require.NoError(t, node.bank.AdvanceSlot())
	}

	balance, err := node.client.GetBalance(ctx, node.cfg.Mint.Pubkey)
	require.NoError(t, err)
	assert.Equal(t, node.cfg.Mint.Lamports, balance)

	acct, slot, err := node.client.GetAccountInfo(ctx, node.cfg.BootstrapValidator.Vote)
	require.NoError(t, err)
	assert.Equal(t, node.bank.Slot(), slot)
	assert.Equal(t, node.cfg.BootstrapValidator.VoteLamports, acct.Lamports)

	_, _, err = node.client.GetAccountInfo(ctx, solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, rpc.ErrNotFound)

	info, err := node.client.GetEpochInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Epoch)

	activation, err := node.client.GetStakeActivation(ctx, node.cfg.BootstrapValidator.Stake, nil)
	require.NoError(t, err)
	assert.Equal(t, rpc.ActivationStateActive, activation.State)

	history, err := node.client.GetStakeHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, uint64(0), history[0].Epoch)
	assert.Equal(t, activation.Active, history[0].Effective)
}

func TestRpcClient_DownloadSnapshot(t *testing.T) {
	node := newTestNode(t)
	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "fetched.tgz")

	_, err := node.client.DownloadSnapshot(ctx, out)
	require.ErrorIs(t, err, ErrArchiveNotFound)
	_, err = os.Stat(out)
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, node.bank.AdvanceSlot())
	published := filepath.Join(node.ledgerDir, snapshot.FileName)
	require.NoError(t, snapshot.Write(published, node.bank.Snapshot(), node.bank.Config()))

	size, err := node.client.DownloadSnapshot(ctx, out)
	require.NoError(t, err)
	stat, err := os.Stat(published)
	require.NoError(t, err)
	assert.Equal(t, stat.Size(), size)

	manifest, err := snapshot.ReadManifest(out)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), manifest.Slot)
	assert.Equal(t, node.bank.Hash(), manifest.Hash)
}

func TestRpcClient_DownloadGenesis(t *testing.T) {
	node := newTestNode(t)
	require.NoError(t, genesis.WriteArchive(filepath.Join(node.ledgerDir, genesis.ArchiveFileName), node.cfg))

	var observed struct {
		name string
		size int64
	}
	node.client.SetProgress(func(name string, size int64, body io.Reader) io.ReadCloser {
		observed.name, observed.size = name, size
		return io.NopCloser(body)
	})

	out := filepath.Join(t.TempDir(), genesis.ArchiveFileName)
	size, err := node.client.DownloadGenesis(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, genesis.ArchiveFileName, observed.name)
	assert.Equal(t, size, observed.size)

	cfg, err := genesis.ReadArchive(out)
	require.NoError(t, err)
	assert.Equal(t, node.cfg, cfg)
}
