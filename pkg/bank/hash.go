package bank

import (
	"encoding/binary"

	sha256 "github.com/minio/sha256-simd"
	"github.com/zeebo/blake3"
	"go.firedancer.io/staker/pkg/accounts"
)

const merkleFanout = 16

func calculateAccountHash(acct *accounts.Account) []byte {
	hasher := blake3.New()

	var lamportBytes [8]byte
	binary.LittleEndian.PutUint64(lamportBytes[:], acct.Lamports)
	_, _ = hasher.Write(lamportBytes[:])

	var rentEpochBytes [8]byte
	binary.LittleEndian.PutUint64(rentEpochBytes[:], acct.RentEpoch)
	_, _ = hasher.Write(rentEpochBytes[:])

	_, _ = hasher.Write(acct.Data)

	if acct.Executable {
		_, _ = hasher.Write([]byte{1})
	} else {
		_, _ = hasher.Write([]byte{0})
	}

	_, _ = hasher.Write(acct.Owner[:])
	_, _ = hasher.Write(acct.Key[:])

	return hasher.Sum(nil)
}

func divCeil(x uint64, y uint64) uint64 {
	result := x / y
	if (x % y) != 0 {
		result++
	}
	return result
}

func computeMerkleRoot(hashes [][]byte) []byte {
	if len(hashes) == 0 {
		return make([]byte, 32)
	}

	total := uint64(len(hashes))
	chunks := divCeil(total, merkleFanout)
	results := make([][]byte, chunks)

	for i := uint64(0); i < chunks; i++ {
		startIdx := i * merkleFanout
		endIdx := min(startIdx+merkleFanout, total)

		hasher := sha256.New()
		for _, h := range hashes[startIdx:endIdx] {
			hasher.Write(h)
		}
		results[i] = hasher.Sum(nil)
	}

	if len(results) == 1 {
		return results[0]
	}
	return computeMerkleRoot(results)
}

// calculateAccountsHash is the merkle root over the hashes of accts, which
// must be sorted by pubkey. Zero-lamport accounts are left out.
func calculateAccountsHash(accts []*accounts.Account) []byte {
	hashes := make([][]byte, 0, len(accts))
	for _, acct := range accts {
		if acct.Lamports == 0 {
			continue
		}
		hashes = append(hashes, calculateAccountHash(acct))
	}
	return computeMerkleRoot(hashes)
}

func calculateBankHash(accountsHash []byte, parentBankHash [32]byte, slot uint64, transactionCount uint64) [32]byte {
	hasher := sha256.New()
	hasher.Write(parentBankHash[:])
	hasher.Write(accountsHash)

	var slotBytes [8]byte
	binary.LittleEndian.PutUint64(slotBytes[:], slot)
	hasher.Write(slotBytes[:])

	var countBytes [8]byte
	binary.LittleEndian.PutUint64(countBytes[:], transactionCount)
	hasher.Write(countBytes[:])

	var bankHash [32]byte
	copy(bankHash[:], hasher.Sum(nil))
	return bankHash
}
