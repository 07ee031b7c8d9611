package accounts

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccount(t *testing.T, lamports uint64) *Account {
	return &Account{
		Key:       solana.NewWallet().PublicKey(),
		Lamports:  lamports,
		Data:      []byte{1, 2, 3, 4},
		Owner:     solana.SystemProgramID,
		RentEpoch: 7,
	}
}

func TestAccount_MarshalUnmarshal(t *testing.T) {
	acct := newTestAccount(t, 1234)
	data, err := acct.Marshal()
	require.NoError(t, err)

	decoded, err := Unmarshal(acct.Key, data)
	require.NoError(t, err)
	assert.Equal(t, acct, decoded)

	_, err = Unmarshal(acct.Key, data[:10])
	assert.Error(t, err)
}

func TestAccount_CloneIsIndependent(t *testing.T) {
	acct := newTestAccount(t, 10)
	clone := acct.Clone()
	clone.Data[0] = 99
	clone.Lamports = 5

	assert.Equal(t, byte(1), acct.Data[0])
	assert.Equal(t, uint64(10), acct.Lamports)
}

func TestMemAccounts_GetSetSorted(t *testing.T) {
	m := NewMemAccounts()
	a := newTestAccount(t, 1)
	b := newTestAccount(t, 2)

	key := [32]byte(a.Key)
	_, err := m.GetAccount(&key)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	require.NoError(t, m.SetAccount(&key, a))
	keyB := [32]byte(b.Key)
	require.NoError(t, m.SetAccount(&keyB, b))

	got, err := m.GetAccount(&key)
	require.NoError(t, err)
	assert.Equal(t, a, got)
	assert.Equal(t, 2, m.Len())

	sorted := m.Sorted()
	require.Len(t, sorted, 2)
	assert.True(t, string(sorted[0].Key[:]) < string(sorted[1].Key[:]))
}

func TestPersistentAccountsDb_CommitAndReload(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenAccountsDb(dir)
	require.NoError(t, err)

	a := newTestAccount(t, 100)
	b := newTestAccount(t, 200)
	require.NoError(t, db.CommitAccounts([]*Account{a, b}))

	missing := [32]byte(solana.NewWallet().PublicKey())
	_, err = db.GetAccount(&missing)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	require.NoError(t, db.Close())

	db, err = OpenAccountsDb(dir)
	require.NoError(t, err)
	defer db.Close()

	key := [32]byte(a.Key)
	got, err := db.GetAccount(&key)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	var seen int
	err = db.ForEach(func(acct *Account) error {
		seen++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seen)
}
