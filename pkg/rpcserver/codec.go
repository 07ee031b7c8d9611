package rpcserver

import (
	"net/http"
	"strings"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"github.com/pkg/errors"
	"go.firedancer.io/staker/pkg/accounts"
	"go.firedancer.io/staker/pkg/bank"
)

// errMinContextSlot mirrors the validator RPC error for requests that ask
// for a slot the node has not reached.
const errMinContextSlot json2.ErrorCode = -32016

var errInvalidParams = errors.New("invalid params")

// codec serves flat JSON-RPC method names such as "getBalance" from the
// service methods registered under serviceName ("staker.GetBalance").
type codec struct {
	json   *json2.Codec
	server *rpc.Server
}

func newCodec(server *rpc.Server) *codec {
	return &codec{
		json:   json2.NewCustomCodecWithErrorMapper(rpc.DefaultEncoderSelector, mapError),
		server: server,
	}
}

func (c *codec) NewRequest(r *http.Request) rpc.CodecRequest {
	return &codecRequest{CodecRequest: c.json.NewRequest(r), server: c.server}
}

type codecRequest struct {
	rpc.CodecRequest
	server *rpc.Server
}

func serviceMethod(method string) string {
	if method == "" {
		return ""
	}
	return serviceName + "." + strings.ToUpper(method[:1]) + method[1:]
}

func (r *codecRequest) Method() (string, error) {
	method, err := r.CodecRequest.Method()
	if err != nil {
		return "", err
	}
	qualified := serviceMethod(method)
	if strings.Contains(method, ".") || !r.server.HasMethod(qualified) {
		return "", &json2.Error{Code: json2.E_NO_METHOD, Message: "Method not found: " + method}
	}
	return qualified, nil
}

// ReadRequest reports malformed params as invalid params rather than as an
// invalid request.
func (r *codecRequest) ReadRequest(args interface{}) error {
	err := r.CodecRequest.ReadRequest(args)
	var jsonErr *json2.Error
	if errors.As(err, &jsonErr) && jsonErr.Code == json2.E_INVALID_REQ {
		return &json2.Error{Code: json2.E_BAD_PARAMS, Message: "Invalid params: " + jsonErr.Message}
	}
	return err
}

// mapError assigns JSON-RPC codes to errors returned by service methods.
func mapError(err error) error {
	switch {
	case errors.Is(err, errInvalidParams),
		errors.Is(err, accounts.ErrAccountNotFound),
		errors.Is(err, bank.ErrNotStakeAccount),
		errors.Is(err, bank.ErrEpochNotRecorded):
		return &json2.Error{Code: json2.E_BAD_PARAMS, Message: "Invalid param: " + err.Error()}
	}
	return &json2.Error{Code: json2.E_INTERNAL, Message: err.Error()}
}
