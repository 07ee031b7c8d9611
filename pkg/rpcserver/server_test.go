package rpcserver

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.firedancer.io/staker/pkg/bank"
	"go.firedancer.io/staker/pkg/genesis"
	"go.firedancer.io/staker/pkg/sealevel"
	"go.firedancer.io/staker/pkg/snapshot"
)

type testEnv struct {
	cfg       *genesis.Config
	bank      *bank.Bank
	ledgerDir string
	server    *Server
	http      *httptest.Server
	client    *solanarpc.Client
}

func newTestEnv(t *testing.T) *testEnv {
	cfg := genesis.DefaultConfig()
	cfg.Cluster.SlotsPerEpoch = 4
	cfg.Cluster.SlotDuration = 10 * time.Millisecond
	cfg.FillKeys()
	gen, err := genesis.Build(cfg)
	require.NoError(t, err)
	b, err := gen.NewBank(2, nil, nil)
	require.NoError(t, err)

	env := &testEnv{cfg: cfg, bank: b, ledgerDir: t.TempDir()}
	env.server, err = New(Config{
		AllowedOrigins:   []string{"*"},
		LedgerDir:        env.ledgerDir,
		ExitPollInterval: 10 * time.Millisecond,
	}, b, nil)
	require.NoError(t, err)

	env.http = httptest.NewServer(env.server.Handler())
	t.Cleanup(env.http.Close)
	env.client = solanarpc.New(env.http.URL)
	return env
}

type rawResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (env *testEnv) rawCall(t *testing.T, method string, params string) *rawResponse {
	body := `{"jsonrpc":"2.0","id":1,"method":"` + method + `","params":` + params + `}`
	resp, err := http.Post(env.http.URL, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	out := new(rawResponse)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return out
}

func rpcErrorCode(t *testing.T, err error) int {
	var rpcErr *jsonrpc.RPCError
	require.ErrorAs(t, err, &rpcErr)
	return rpcErr.Code
}

func TestServer_GetBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	balance, err := env.client.GetBalance(ctx, env.cfg.Mint.Pubkey, "")
	require.NoError(t, err)
	assert.Equal(t, env.cfg.Mint.Lamports, balance.Value)
	assert.Equal(t, uint64(0), balance.Context.Slot)

	balance, err = env.client.GetBalance(ctx, solana.NewWallet().PublicKey(), solanarpc.CommitmentFinalized)
	require.NoError(t, err)
	assert.Zero(t, balance.Value)
}

func TestServer_GetAccountInfo(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	stake := env.cfg.BootstrapValidator.Stake

	info, err := env.client.GetAccountInfo(ctx, stake)
	require.NoError(t, err)
	expected, err := env.bank.GetAccount(stake)
	require.NoError(t, err)
	assert.Equal(t, expected.Lamports, info.Value.Lamports)
	assert.Equal(t, solana.PublicKey(sealevel.StakeProgramAddr), info.Value.Owner)
	assert.Equal(t, expected.Data, info.Value.Data.GetBinary())
	assert.False(t, info.Value.Executable)

	state, err := sealevel.UnmarshalStakeState(info.Value.Data.GetBinary())
	require.NoError(t, err)
	delegation, ok := state.Delegation()
	require.True(t, ok)
	assert.Equal(t, env.cfg.BootstrapValidator.Vote, delegation.VoterPubkey)

	offset, length := uint64(4), uint64(8)
	info, err = env.client.GetAccountInfoWithOpts(ctx, stake, &solanarpc.GetAccountInfoOpts{
		DataSlice: &solanarpc.DataSlice{Offset: &offset, Length: &length},
	})
	require.NoError(t, err)
	assert.Equal(t, expected.Data[4:12], info.Value.Data.GetBinary())

	_, err = env.client.GetAccountInfo(ctx, solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, solanarpc.ErrNotFound)

	_, err = env.client.GetAccountInfoWithOpts(ctx, stake, &solanarpc.GetAccountInfoOpts{Encoding: solana.EncodingJSONParsed})
	assert.Equal(t, -32602, rpcErrorCode(t, err))
}

func TestServer_GetEpochInfo(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 6; i++ {
		require.NoError(t, env.bank.AdvanceSlot())
	}

	info, err := env.client.GetEpochInfo(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, uint64(6), info.AbsoluteSlot)
	assert.Equal(t, uint64(1), info.Epoch)
	assert.Equal(t, uint64(2), info.SlotIndex)
	assert.Equal(t, uint64(4), info.SlotsInEpoch)
	require.NotNil(t, info.TransactionCount)
	assert.Zero(t, *info.TransactionCount)
}

func TestServer_GetStakeActivation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	validator := env.cfg.BootstrapValidator
	rent := env.cfg.SysvarRent()
	reserve := rent.MinimumBalance(sealevel.StakeStateV2Size)

	activation, err := env.client.GetStakeActivation(ctx, validator.Stake, "", nil)
	require.NoError(t, err)
	assert.Equal(t, solanarpc.ActivationStateActive, activation.State)
	assert.Equal(t, validator.StakeLamports-reserve, activation.Active)
	assert.Zero(t, activation.Inactive)

	epoch := uint64(0)
	activation, err = env.client.GetStakeActivation(ctx, validator.Stake, "", &epoch)
	require.NoError(t, err)
	assert.Equal(t, solanarpc.ActivationStateActive, activation.State)

	epoch = 3
	_, err = env.client.GetStakeActivation(ctx, validator.Stake, "", &epoch)
	assert.Equal(t, -32602, rpcErrorCode(t, err), "epoch not reached")

	_, err = env.client.GetStakeActivation(ctx, solana.NewWallet().PublicKey(), "", nil)
	assert.Equal(t, -32602, rpcErrorCode(t, err), "missing account")

	_, err = env.client.GetStakeActivation(ctx, env.cfg.Mint.Pubkey, "", nil)
	assert.Equal(t, -32602, rpcErrorCode(t, err), "not a stake account")
}

func TestServer_GetStakeHistory(t *testing.T) {
	env := newTestEnv(t)
	var history StakeHistoryResult
	require.NoError(t, env.client.RPCCallForInto(context.Background(), &history, "getStakeHistory", nil))
	assert.Empty(t, history)

	for env.bank.Epoch() < 2 {
		require.NoError(t, env.bank.AdvanceSlot())
	}
	require.NoError(t, env.client.RPCCallForInto(context.Background(), &history, "getStakeHistory", []interface{}{}))
	require.Len(t, history, 2)
	assert.Equal(t, uint64(1), history[0].Epoch)
	assert.Equal(t, uint64(0), history[1].Epoch)
	assert.Equal(t, env.bank.StakeHistory()[0].Entry.Effective, history[0].Effective)
}

func TestServer_Errors(t *testing.T) {
	env := newTestEnv(t)

	for _, tc := range []struct {
		name   string
		method string
		params string
		code   int
	}{
		{"unknown method", "getFoo", `[]`, -32601},
		{"qualified name", "staker.GetBalance", `["` + env.cfg.Mint.Pubkey.String() + `"]`, -32601},
		{"bad pubkey", "getBalance", `["not-a-key"]`, -32602},
		{"missing pubkey", "getBalance", `[]`, -32602},
		{"too many params", "getEpochInfo", `[{}, {}]`, -32602},
		{"min context slot", "getEpochInfo", `[{"minContextSlot": 100}]`, int(errMinContextSlot)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.rawCall(t, tc.method, tc.params)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.code, resp.Error.Code, resp.Error.Message)
		})
	}

	resp, err := http.Get(env.http.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_Archives(t *testing.T) {
	env := newTestEnv(t)

	for _, name := range []string{snapshot.FileName, genesis.ArchiveFileName} {
		resp, err := http.Get(env.http.URL + "/" + name)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, name)
	}

	genesisPath := filepath.Join(env.ledgerDir, genesis.ArchiveFileName)
	require.NoError(t, genesis.WriteArchive(genesisPath, env.cfg))
	expected, err := os.ReadFile(genesisPath)
	require.NoError(t, err)

	resp, err := http.Get(env.http.URL + "/" + genesis.ArchiveFileName)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/gzip", resp.Header.Get("Content-Type"))
	assert.Equal(t, expected, body)

	// a directory in place of the archive cannot be served
	require.NoError(t, os.Mkdir(filepath.Join(env.ledgerDir, snapshot.FileName), 0o755))
	resp, err = http.Get(env.http.URL + "/" + snapshot.FileName)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestServer_CORS(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodOptions, env.http.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://explorer.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_Exit(t *testing.T) {
	env := newTestEnv(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- env.server.Serve(context.Background(), listener)
	}()

	client := solanarpc.New("http://" + listener.Addr().String())
	_, err = client.GetEpochInfo(context.Background(), "")
	require.NoError(t, err)

	env.server.Exit()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not exit")
	}
}

func TestServer_ContextCancel(t *testing.T) {
	env := newTestEnv(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- env.server.Serve(ctx, listener)
	}()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	require.Error(t, err)
}
