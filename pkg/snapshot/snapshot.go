// Package snapshot archives a bank into snapshot.tgz and loads it back.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/panjf2000/ants/v2"
	"github.com/samber/lo"
	"go.firedancer.io/staker/pkg/accounts"
	"go.firedancer.io/staker/pkg/archive"
	"go.firedancer.io/staker/pkg/bank"
	"go.firedancer.io/staker/pkg/sealevel"
	"k8s.io/klog/v2"
)

const (
	FileName      = "snapshot.tgz"
	manifestEntry = "snapshot/manifest"

	accountsPerFile = 4096
)

var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// Write archives snap to path. The write is atomic with respect to readers
// of path.
func Write(path string, snap *bank.Snapshot, cfg bank.Config) error {
	start := time.Now()
	manifest := newManifest(snap, cfg)

	var entries []archive.Entry
	for id, chunk := range lo.Chunk(snap.Accounts, accountsPerFile) {
		data, err := encodeAccounts(chunk)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("accounts/%d.%d", snap.Slot, id)
		entries = append(entries, archive.Entry{Name: name, Data: data})
		manifest.AccountFiles = append(manifest.AccountFiles, AccountFile{
			Name:     name,
			Count:    uint64(len(chunk)),
			Checksum: xxhash.Sum64(data),
		})
	}

	manifestData, err := manifest.marshal()
	if err != nil {
		return err
	}
	entries = append([]archive.Entry{{Name: manifestEntry, Data: manifestData}}, entries...)

	err = archive.WriteFile(path, entries)
	if err != nil {
		return fmt.Errorf("writing snapshot %s: %w", path, err)
	}
	klog.Infof("wrote snapshot of slot %d (%d accounts) to %s in %s", snap.Slot, len(snap.Accounts), path, time.Since(start))
	return nil
}

func encodeAccounts(accts []*accounts.Account) ([]byte, error) {
	writer := new(bytes.Buffer)
	encoder := bin.NewBinEncoder(writer)
	_ = encoder.WriteUint64(uint64(len(accts)), bin.LE)
	for _, acct := range accts {
		_ = encoder.WriteBytes(acct.Key[:], false)
		err := acct.MarshalWithEncoder(encoder)
		if err != nil {
			return nil, fmt.Errorf("encoding account %s: %w", acct.Key, err)
		}
	}
	return writer.Bytes(), nil
}

func decodeAccounts(data []byte) ([]*accounts.Account, error) {
	decoder := bin.NewBinDecoder(data)
	count, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return nil, err
	}
	// every account occupies at least its key and fixed fields
	if count > uint64(decoder.Remaining()/(solana.PublicKeyLength+57)) {
		return nil, fmt.Errorf("%w: %d accounts in %d bytes", ErrCorruptSnapshot, count, len(data))
	}

	accts := make([]*accounts.Account, 0, count)
	for idx := uint64(0); idx < count; idx++ {
		key, err := decoder.ReadBytes(solana.PublicKeyLength)
		if err != nil {
			return nil, err
		}
		acct := &accounts.Account{Key: solana.PublicKeyFromBytes(key)}
		err = acct.UnmarshalWithDecoder(decoder)
		if err != nil {
			return nil, fmt.Errorf("decoding account %s: %w", acct.Key, err)
		}
		accts = append(accts, acct)
	}
	return accts, nil
}

// ReadManifest returns the manifest of the snapshot at path.
func ReadManifest(path string) (*Manifest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var manifest *Manifest
	errFound := errors.New("found")
	err = archive.Walk(file, func(name string, data []byte) error {
		if name != manifestEntry {
			return nil
		}
		decoded, err := unmarshalManifest(data)
		if err != nil {
			return err
		}
		manifest = decoded
		return errFound
	})
	if err != nil && !errors.Is(err, errFound) {
		return nil, err
	}
	if manifest == nil {
		return nil, fmt.Errorf("%w: %s", archive.ErrMissingEntry, manifestEntry)
	}
	return manifest, nil
}

// Loaded is a decoded snapshot.
type Loaded struct {
	Manifest *Manifest
	Accounts accounts.MemAccounts
}

type accountFileTask struct {
	file AccountFile
	data []byte
}

// Load decodes the snapshot at path. Account files are decoded in parallel
// on a pool of the given number of workers.
func Load(path string, workers int) (*Loaded, error) {
	start := time.Now()
	entries, err := archive.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}

	manifestData, ok := entries[manifestEntry]
	if !ok {
		return nil, fmt.Errorf("%w: %s", archive.ErrMissingEntry, manifestEntry)
	}
	manifest, err := unmarshalManifest(manifestData)
	if err != nil {
		return nil, err
	}

	loaded := &Loaded{Manifest: manifest, Accounts: accounts.NewMemAccounts()}

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error
	setErr := func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	pool, err := ants.NewPoolWithFunc(workers, func(i interface{}) {
		defer wg.Done()
		task := i.(accountFileTask)

		if sum := xxhash.Sum64(task.data); sum != task.file.Checksum {
			setErr(fmt.Errorf("%w: %s checksum %016x, manifest says %016x", ErrCorruptSnapshot, task.file.Name, sum, task.file.Checksum))
			return
		}
		accts, err := decodeAccounts(task.data)
		if err != nil {
			setErr(fmt.Errorf("%s: %w", task.file.Name, err))
			return
		}
		if uint64(len(accts)) != task.file.Count {
			setErr(fmt.Errorf("%w: %s holds %d accounts, manifest says %d", ErrCorruptSnapshot, task.file.Name, len(accts), task.file.Count))
			return
		}
		for _, acct := range accts {
			key := [32]byte(acct.Key)
			_ = loaded.Accounts.SetAccount(&key, acct)
		}
	})
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	var total uint64
	for _, file := range manifest.AccountFiles {
		data, ok := entries[file.Name]
		if !ok {
			setErr(fmt.Errorf("%w: %s", archive.ErrMissingEntry, file.Name))
			break
		}
		total += file.Count

		wg.Add(1)
		err = pool.Invoke(accountFileTask{file: file, data: data})
		if err != nil {
			wg.Done()
			setErr(err)
			break
		}
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	if uint64(loaded.Accounts.Len()) != total {
		return nil, fmt.Errorf("%w: %d distinct accounts, expected %d", ErrCorruptSnapshot, loaded.Accounts.Len(), total)
	}

	err = verifyStakeHistory(loaded)
	if err != nil {
		return nil, err
	}

	klog.Infof("loaded snapshot of slot %d (%d accounts) from %s in %s", manifest.Slot, total, path, time.Since(start))
	return loaded, nil
}

// verifyStakeHistory checks the manifest history against the stake history
// system account.
func verifyStakeHistory(loaded *Loaded) error {
	sysvar, err := sealevel.ReadStakeHistorySysvar(loaded.Accounts)
	if errors.Is(err, sealevel.InstrErrUnsupportedSysvar) {
		if len(loaded.Manifest.StakeHistory) == 0 {
			return nil
		}
		return fmt.Errorf("%w: stake history account missing", ErrCorruptSnapshot)
	} else if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}

	if len(sysvar) != len(loaded.Manifest.StakeHistory) {
		return fmt.Errorf("%w: stake history account holds %d entries, manifest %d", ErrCorruptSnapshot, len(sysvar), len(loaded.Manifest.StakeHistory))
	}
	for idx := range sysvar {
		if sysvar[idx] != loaded.Manifest.StakeHistory[idx] {
			return fmt.Errorf("%w: stake history mismatch at epoch %d", ErrCorruptSnapshot, sysvar[idx].Epoch)
		}
	}
	return nil
}

// BankOptions returns the options that resume a bank from the snapshot.
func (loaded *Loaded) BankOptions(aggregationWorkers int) (bank.Options, error) {
	manifest := loaded.Manifest
	cfg := manifest.Cluster.BankConfig(aggregationWorkers)

	featureSet, err := manifest.FeatureSet()
	if err != nil {
		return bank.Options{}, err
	}

	history, err := sealevel.NewStakeHistoryFromSysvar(manifest.StakeHistory, cfg.HistoryRetention)
	if err != nil {
		return bank.Options{}, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}

	return bank.Options{
		Config:           cfg,
		Accounts:         loaded.Accounts,
		Features:         featureSet,
		History:          history,
		Slot:             manifest.Slot,
		GenesisTime:      manifest.GenesisTime,
		Hash:             manifest.Hash,
		TransactionCount: manifest.TransactionCount,
	}, nil
}
