package sealevel

import (
	"bytes"
	"errors"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"go.firedancer.io/staker/pkg/accounts"
	"go.firedancer.io/staker/pkg/base58"
)

const SysvarOwnerAddrStr = "Sysvar1111111111111111111111111111111111111"

var SysvarOwnerAddr = base58.MustDecodeFromString(SysvarOwnerAddrStr)

type sysvarEncoder interface {
	MarshalWithEncoder(encoder *bin.Encoder) error
}

func readSysvarAccount(accts accounts.Accounts, addr [32]byte) (*accounts.Account, error) {
	acct, err := accts.GetAccount(&addr)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, InstrErrUnsupportedSysvar
	} else if err != nil {
		return nil, err
	}
	if acct.Lamports == 0 {
		return nil, InstrErrUnsupportedSysvar
	}
	return acct, nil
}

// sysvarAccount encodes sysvar into a copy of the account at addr, or a new
// account if there is none. accts is left unchanged.
func sysvarAccount(accts accounts.Accounts, addr [32]byte, sysvar sysvarEncoder) (*accounts.Account, error) {
	data := new(bytes.Buffer)
	enc := bin.NewBinEncoder(data)
	err := sysvar.MarshalWithEncoder(enc)
	if err != nil {
		return nil, err
	}

	acct, err := accts.GetAccount(&addr)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		acct = &accounts.Account{Key: solana.PublicKey(addr), Owner: SysvarOwnerAddr, Lamports: 1}
	} else if err != nil {
		return nil, err
	} else {
		acct = acct.Clone()
	}
	acct.Data = data.Bytes()
	return acct, nil
}

// writeSysvarAccount stores the encoding of sysvar under addr, creating the
// account on first write.
func writeSysvarAccount(accts accounts.Accounts, addr [32]byte, sysvar sysvarEncoder) (*accounts.Account, error) {
	acct, err := sysvarAccount(accts, addr, sysvar)
	if err != nil {
		return nil, err
	}
	err = accts.SetAccount(&addr, acct)
	if err != nil {
		return nil, err
	}
	return acct, nil
}
