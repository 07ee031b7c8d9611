package accounts

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"go.firedancer.io/staker/pkg/base58"
)

type PersistentAccountsDb struct {
	db *leveldb.DB
}

func OpenAccountsDb(dir string) (*PersistentAccountsDb, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening accounts db at %s: %w", dir, err)
	}
	return &PersistentAccountsDb{db: db}, nil
}

func (m *PersistentAccountsDb) Close() error {
	return m.db.Close()
}

func (m *PersistentAccountsDb) GetAccount(pubkey *[32]byte) (*Account, error) {
	acctBytes, err := m.db.Get(pubkey[:], nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error whilst retrieving account %s: %w", base58.Encode(pubkey[:]), err)
	}

	acct, err := Unmarshal(*pubkey, acctBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize account %s from accounts db: %w", base58.Encode(pubkey[:]), err)
	}
	return acct, nil
}

func (m *PersistentAccountsDb) SetAccount(pubkey *[32]byte, acct *Account) error {
	acctBytes, err := acct.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize account for storage in accounts db: %w", err)
	}

	err = m.db.Put(pubkey[:], acctBytes, nil)
	if err != nil {
		return fmt.Errorf("error setting account for %s: %w", base58.Encode(pubkey[:]), err)
	}
	return nil
}

// CommitAccounts writes all of accts in a single leveldb batch, so either
// every account of a committed transaction is durable or none is.
func (m *PersistentAccountsDb) CommitAccounts(accts []*Account) error {
	batch := new(leveldb.Batch)
	for _, acct := range accts {
		acctBytes, err := acct.Marshal()
		if err != nil {
			return fmt.Errorf("failed to serialize account %s: %w", acct.Key, err)
		}
		batch.Put(acct.Key[:], acctBytes)
	}
	return m.db.Write(batch, &opt.WriteOptions{Sync: true})
}

// ForEach visits every stored account in key order.
func (m *PersistentAccountsDb) ForEach(fn func(acct *Account) error) error {
	iter := m.db.NewIterator(nil, nil)
	defer iter.Release()

	for iter.Next() {
		acct, err := Unmarshal(solana.PublicKeyFromBytes(iter.Key()), iter.Value())
		if err != nil {
			return fmt.Errorf("failed to deserialize account %s: %w", base58.Encode(iter.Key()), err)
		}
		err = fn(acct)
		if err != nil {
			return err
		}
	}
	return iter.Error()
}
