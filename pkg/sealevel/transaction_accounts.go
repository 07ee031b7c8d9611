package sealevel

import (
	"errors"
	"fmt"

	"go.firedancer.io/staker/pkg/accounts"
)

// TransactionAccounts is the working set of a transaction. Accounts are
// cloned on construction, so nothing reaches committed state until the
// touched accounts are written back.
type TransactionAccounts struct {
	Accounts []*accounts.Account
	Touched  []bool
}

func NewTransactionAccounts(accts []accounts.Account) *TransactionAccounts {
	txAccounts := new(TransactionAccounts)
	for idx := range accts {
		txAccounts.Accounts = append(txAccounts.Accounts, accts[idx].Clone())
	}
	txAccounts.Touched = make([]bool, len(accts))
	return txAccounts
}

func (txAccounts *TransactionAccounts) GetAccount(idx uint64) (*accounts.Account, error) {
	if idx >= uint64(len(txAccounts.Accounts)) {
		return nil, InstrErrMissingAccount
	}
	return txAccounts.Accounts[idx], nil
}

func (txAccounts *TransactionAccounts) Touch(idx uint64) error {
	if idx >= uint64(len(txAccounts.Touched)) {
		return InstrErrNotEnoughAccountKeys
	}
	txAccounts.Touched[idx] = true
	return nil
}

// TouchedAccounts returns the accounts modified during execution.
func (txAccounts *TransactionAccounts) TouchedAccounts() []*accounts.Account {
	var touched []*accounts.Account
	for idx, acct := range txAccounts.Accounts {
		if txAccounts.Touched[idx] {
			touched = append(touched, acct)
		}
	}
	return touched
}

// LoadTransactionAccounts resolves every key referenced by tx against the
// store. Unknown keys load as empty system-owned accounts.
func LoadTransactionAccounts(accts accounts.Accounts, tx *Transaction) (*TransactionAccounts, error) {
	keys := tx.AccountKeys()
	loaded := make([]accounts.Account, 0, len(keys))
	for _, key := range keys {
		acct, err := accts.GetAccount((*[32]byte)(&key))
		if errors.Is(err, accounts.ErrAccountNotFound) {
			loaded = append(loaded, accounts.Account{Key: key, Owner: SystemProgramAddr})
			continue
		} else if err != nil {
			return nil, fmt.Errorf("loading account %s: %w", key, err)
		}
		loaded = append(loaded, *acct)
	}
	return NewTransactionAccounts(loaded), nil
}
