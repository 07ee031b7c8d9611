package accounts

import (
	"slices"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// MemAccounts is the in-memory working set of a bank. Shards are keyed by
// the first bytes of the pubkey, which are uniformly distributed.
type MemAccounts struct {
	Map cmap.ConcurrentMap[[32]byte, *Account]
}

func shardPubkey(key [32]byte) uint32 {
	return uint32(key[0]) | uint32(key[1])<<8 | uint32(key[2])<<16 | uint32(key[3])<<24
}

func NewMemAccounts() MemAccounts {
	return MemAccounts{
		Map: cmap.NewWithCustomShardingFunction[[32]byte, *Account](shardPubkey),
	}
}

func (m MemAccounts) GetAccount(pubkey *[32]byte) (*Account, error) {
	acct, ok := m.Map.Get(*pubkey)
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acct, nil
}

func (m MemAccounts) SetAccount(pubkey *[32]byte, acc *Account) error {
	m.Map.Set(*pubkey, acc)
	return nil
}

func (m MemAccounts) Len() int {
	return m.Map.Count()
}

// Sorted returns every account ordered by pubkey bytes.
func (m MemAccounts) Sorted() []*Account {
	accts := make([]*Account, 0, m.Map.Count())
	for item := range m.Map.IterBuffered() {
		accts = append(accts, item.Val)
	}
	slices.SortFunc(accts, func(a, b *Account) int {
		return slices.Compare(a.Key[:], b.Key[:])
	})
	return accts
}
