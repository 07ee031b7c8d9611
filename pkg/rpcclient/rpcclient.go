// Package rpcclient queries a staker node over JSON-RPC and fetches its
// bootstrap archives.
package rpcclient

import (
	"context"
	"io"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.firedancer.io/staker/pkg/rpcserver"
)

// ProgressFunc wraps the body of an archive download. size is -1 when the
// node does not announce it.
type ProgressFunc func(name string, size int64, body io.Reader) io.ReadCloser

type RpcClient struct {
	endpoint string
	client   *rpc.Client
	http     *http.Client
	progress ProgressFunc
}

func NewRpcClient(endpoint string) *RpcClient {
	client := rpc.New(endpoint)
	return &RpcClient{endpoint: endpoint, client: client, http: http.DefaultClient}
}

func (c *RpcClient) Endpoint() string {
	return c.endpoint
}

// SetProgress installs fn to observe archive downloads.
func (c *RpcClient) SetProgress(fn ProgressFunc) {
	c.progress = fn
}

// GetStakeActivation queries the activation of a stake account. A nil epoch
// selects the node's current epoch.
func (c *RpcClient) GetStakeActivation(ctx context.Context, stake solana.PublicKey, epoch *uint64) (*rpc.GetStakeActivationResult, error) {
	return c.client.GetStakeActivation(ctx, stake, "", epoch)
}

// GetAccountInfo returns rpc.ErrNotFound for accounts the node does not
// hold.
func (c *RpcClient) GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.Account, uint64, error) {
	result, err := c.client.GetAccountInfo(ctx, pubkey)
	if err != nil {
		return nil, 0, err
	}
	return result.Value, result.Context.Slot, nil
}

func (c *RpcClient) GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	result, err := c.client.GetBalance(ctx, pubkey, "")
	if err != nil {
		return 0, err
	}
	return result.Value, nil
}

func (c *RpcClient) GetEpochInfo(ctx context.Context) (*rpc.GetEpochInfoResult, error) {
	return c.client.GetEpochInfo(ctx, "")
}

// GetStakeHistory returns the node's recorded stake history, newest epoch
// first.
func (c *RpcClient) GetStakeHistory(ctx context.Context) (rpcserver.StakeHistoryResult, error) {
	var history rpcserver.StakeHistoryResult
	err := c.client.RPCCallForInto(ctx, &history, "getStakeHistory", nil)
	if err != nil {
		return nil, err
	}
	return history, nil
}
