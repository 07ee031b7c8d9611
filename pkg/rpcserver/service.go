package rpcserver

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"github.com/pkg/errors"
	"go.firedancer.io/staker/pkg/accounts"
	"go.firedancer.io/staker/pkg/bank"
	"go.firedancer.io/staker/pkg/sealevel"
)

const serviceName = "staker"

// Ledger is the read-only view of the bank served over RPC.
type Ledger interface {
	GetAccount(pubkey [32]byte) (*accounts.Account, error)
	EpochInfo() bank.EpochInfo
	StakeActivation(pubkey [32]byte, epoch uint64) (sealevel.StakeActivationStatus, error)
	StakeHistory() sealevel.SysvarStakeHistory
	Slot() uint64
}

// unmarshalPositional decodes a JSON-RPC params array into targets. The
// first required targets must be present.
func unmarshalPositional(data []byte, required int, targets ...interface{}) error {
	var params []json.RawMessage
	err := json.Unmarshal(data, &params)
	if err != nil {
		return errors.Wrap(errInvalidParams, "params must be an array")
	}
	if len(params) < required || len(params) > len(targets) {
		return errors.Wrapf(errInvalidParams, "expected %d to %d params, got %d", required, len(targets), len(params))
	}
	for idx, param := range params {
		err = json.Unmarshal(param, targets[idx])
		if err != nil {
			return errors.Wrapf(errInvalidParams, "param %d: %v", idx, err)
		}
	}
	return nil
}

type commitmentOpts struct {
	Commitment     solanarpc.CommitmentType `json:"commitment"`
	MinContextSlot *uint64                  `json:"minContextSlot"`
}

func (opts *commitmentOpts) check(ledger Ledger) error {
	if opts.MinContextSlot != nil && *opts.MinContextSlot > ledger.Slot() {
		return &json2.Error{
			Code:    errMinContextSlot,
			Message: fmt.Sprintf("Minimum context slot has not been reached: %d", *opts.MinContextSlot),
		}
	}
	return nil
}

// pubkeyParam is the leading account param of a request. The json2 codec
// retries failed decodes as a single element array, which leaves an empty
// params array undecoded; parsed tells the two apart.
type pubkeyParam struct {
	Pubkey solana.PublicKey
	parsed bool
}

func (param *pubkeyParam) UnmarshalJSON(data []byte) error {
	err := param.Pubkey.UnmarshalJSON(data)
	if err != nil {
		return err
	}
	param.parsed = true
	return nil
}

func (param *pubkeyParam) validate() error {
	if !param.parsed {
		return errors.Wrap(errInvalidParams, "missing account pubkey")
	}
	return nil
}

// ConfigArgs are the params of methods taking only an optional config
// object.
type ConfigArgs struct {
	commitmentOpts
}

func (args *ConfigArgs) UnmarshalJSON(data []byte) error {
	return unmarshalPositional(data, 0, &args.commitmentOpts)
}

// PubkeyArgs are the params [pubkey, {commitment}].
type PubkeyArgs struct {
	pubkeyParam
	commitmentOpts
}

func (args *PubkeyArgs) UnmarshalJSON(data []byte) error {
	return unmarshalPositional(data, 1, &args.pubkeyParam, &args.commitmentOpts)
}

// AccountInfoArgs are the params [pubkey, {encoding, dataSlice}].
type AccountInfoArgs struct {
	pubkeyParam
	Opts struct {
		commitmentOpts
		Encoding  solana.EncodingType  `json:"encoding"`
		DataSlice *solanarpc.DataSlice `json:"dataSlice"`
	}
}

func (args *AccountInfoArgs) UnmarshalJSON(data []byte) error {
	return unmarshalPositional(data, 1, &args.pubkeyParam, &args.Opts)
}

// StakeActivationArgs are the params [pubkey, {epoch}]. The epoch defaults
// to the current one.
type StakeActivationArgs struct {
	pubkeyParam
	Opts struct {
		commitmentOpts
		Epoch *uint64 `json:"epoch"`
	}
}

func (args *StakeActivationArgs) UnmarshalJSON(data []byte) error {
	return unmarshalPositional(data, 1, &args.pubkeyParam, &args.Opts)
}

// validateArgs runs before every method call.
func validateArgs(_ *rpc.RequestInfo, args interface{}) error {
	if v, ok := args.(interface{ validate() error }); ok {
		return v.validate()
	}
	return nil
}

type StakeHistoryEntry struct {
	Epoch        uint64 `json:"epoch"`
	Effective    uint64 `json:"effective"`
	Activating   uint64 `json:"activating"`
	Deactivating uint64 `json:"deactivating"`
}

// StakeHistoryResult lists the recorded epochs, newest first.
type StakeHistoryResult []StakeHistoryEntry

type service struct {
	ledger Ledger
}

func (s *service) GetBalance(r *http.Request, args *PubkeyArgs, reply *solanarpc.GetBalanceResult) error {
	err := args.check(s.ledger)
	if err != nil {
		return err
	}
	reply.Context.Slot = s.ledger.Slot()
	acct, err := s.ledger.GetAccount(args.Pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	reply.Value = acct.Lamports
	return nil
}

func (s *service) GetAccountInfo(r *http.Request, args *AccountInfoArgs, reply *solanarpc.GetAccountInfoResult) error {
	err := args.Opts.check(s.ledger)
	if err != nil {
		return err
	}
	switch args.Opts.Encoding {
	case "", solana.EncodingBase64:
	default:
		return errors.Wrapf(errInvalidParams, "unsupported encoding %q", args.Opts.Encoding)
	}

	reply.Context.Slot = s.ledger.Slot()
	acct, err := s.ledger.GetAccount(args.Pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	data := acct.Data
	if slice := args.Opts.DataSlice; slice != nil {
		var offset, length uint64
		if slice.Offset != nil {
			offset = *slice.Offset
		}
		offset = min(offset, uint64(len(data)))
		length = uint64(len(data)) - offset
		if slice.Length != nil {
			length = min(length, *slice.Length)
		}
		data = data[offset : offset+length]
	}

	reply.Value = &solanarpc.Account{
		Lamports:   acct.Lamports,
		Owner:      acct.Owner,
		Data:       solanarpc.DataBytesOrJSONFromBytes(data),
		Executable: acct.Executable,
		RentEpoch:  new(big.Int).SetUint64(acct.RentEpoch),
	}
	return nil
}

func (s *service) GetEpochInfo(r *http.Request, args *ConfigArgs, reply *solanarpc.GetEpochInfoResult) error {
	err := args.check(s.ledger)
	if err != nil {
		return err
	}
	info := s.ledger.EpochInfo()
	*reply = solanarpc.GetEpochInfoResult{
		AbsoluteSlot:     info.AbsoluteSlot,
		BlockHeight:      info.AbsoluteSlot,
		Epoch:            info.Epoch,
		SlotIndex:        info.SlotIndex,
		SlotsInEpoch:     info.SlotsInEpoch,
		TransactionCount: &info.TransactionCount,
	}
	return nil
}

// GetStakeActivation reports the stake of a stake account that is active at
// the epoch. Inactive stake is the balance left after the rent exempt
// reserve and the active stake.
func (s *service) GetStakeActivation(r *http.Request, args *StakeActivationArgs, reply *solanarpc.GetStakeActivationResult) error {
	err := args.Opts.check(s.ledger)
	if err != nil {
		return err
	}
	epoch := s.ledger.EpochInfo().Epoch
	if args.Opts.Epoch != nil {
		epoch = *args.Opts.Epoch
	}

	acct, err := s.ledger.GetAccount(args.Pubkey)
	if err != nil {
		return err
	}
	if acct.Owner != sealevel.StakeProgramAddr {
		return bank.ErrNotStakeAccount
	}
	state, err := sealevel.UnmarshalStakeState(acct.Data)
	if err != nil {
		return errors.Wrap(bank.ErrNotStakeAccount, err.Error())
	}
	meta, ok := state.Meta()
	if !ok {
		return errors.Wrap(errInvalidParams, "stake account not initialized")
	}

	status, err := s.ledger.StakeActivation(args.Pubkey, epoch)
	if err != nil {
		return err
	}

	inactive := acct.Lamports
	for _, sub := range []uint64{status.Effective, meta.RentExemptReserve} {
		if inactive < sub {
			inactive = 0
			break
		}
		inactive -= sub
	}

	*reply = solanarpc.GetStakeActivationResult{
		State:    solanarpc.ActivationStateType(status.ActivationState()),
		Active:   status.Effective,
		Inactive: inactive,
	}
	return nil
}

func (s *service) GetStakeHistory(r *http.Request, args *ConfigArgs, reply *StakeHistoryResult) error {
	err := args.check(s.ledger)
	if err != nil {
		return err
	}
	history := s.ledger.StakeHistory()
	entries := make(StakeHistoryResult, 0, len(history))
	for _, pair := range history {
		entries = append(entries, StakeHistoryEntry{
			Epoch:        pair.Epoch,
			Effective:    pair.Entry.Effective,
			Activating:   pair.Entry.Activating,
			Deactivating: pair.Entry.Deactivating,
		})
	}
	*reply = entries
	return nil
}
