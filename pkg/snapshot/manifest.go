package snapshot

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	bin "github.com/gagliardetto/binary"
	"go.firedancer.io/staker/pkg/bank"
	"go.firedancer.io/staker/pkg/features"
	"go.firedancer.io/staker/pkg/sealevel"
)

const manifestVersion = 2

// ClusterParams are the bank parameters fixed at genesis.
type ClusterParams struct {
	SlotsPerEpoch         uint64
	SlotDurationNanos     int64
	HistoryRetention      uint64
	ComputeBudget         uint64
	RewardRateNumerator   uint64
	RewardRateDenominator uint64
}

type FeatureActivation struct {
	Name  string
	Epoch uint64
}

// AccountFile indexes one account file of the archive. Checksum is the
// xxhash of the file's contents.
type AccountFile struct {
	Name     string
	Count    uint64
	Checksum uint64
}

// Manifest describes the bank a snapshot was taken from and indexes its
// account files.
type Manifest struct {
	Version          uint32
	Slot             uint64
	Epoch            uint64
	Hash             [32]byte
	GenesisTime      int64
	TransactionCount uint64
	Cluster          ClusterParams
	StakeHistory     sealevel.SysvarStakeHistory
	Features         []FeatureActivation
	AccountFiles     []AccountFile
}

func clusterParamsFromConfig(cfg bank.Config) ClusterParams {
	return ClusterParams{
		SlotsPerEpoch:         cfg.SlotsPerEpoch,
		SlotDurationNanos:     int64(cfg.SlotDuration),
		HistoryRetention:      uint64(cfg.HistoryRetention),
		ComputeBudget:         cfg.ComputeBudget,
		RewardRateNumerator:   cfg.RewardPolicy.RateNumerator,
		RewardRateDenominator: cfg.RewardPolicy.RateDenominator,
	}
}

// BankConfig rebuilds the cluster parameters of a bank config. The
// aggregation worker count is a node setting and is passed in.
func (params *ClusterParams) BankConfig(aggregationWorkers int) bank.Config {
	return bank.Config{
		SlotsPerEpoch:    params.SlotsPerEpoch,
		SlotDuration:     time.Duration(params.SlotDurationNanos),
		HistoryRetention: int(params.HistoryRetention),
		ComputeBudget:    params.ComputeBudget,
		RewardPolicy: sealevel.RewardPolicy{
			RateNumerator:   params.RewardRateNumerator,
			RateDenominator: params.RewardRateDenominator,
		},
		AggregationWorkers: aggregationWorkers,
	}
}

func newManifest(snap *bank.Snapshot, cfg bank.Config) *Manifest {
	manifest := &Manifest{
		Version:          manifestVersion,
		Slot:             snap.Slot,
		Epoch:            snap.Epoch,
		Hash:             snap.Hash,
		GenesisTime:      snap.GenesisTime,
		TransactionCount: snap.TransactionCount,
		Cluster:          clusterParamsFromConfig(cfg),
		StakeHistory:     snap.StakeHistory,
	}
	for name, epoch := range snap.Features {
		manifest.Features = append(manifest.Features, FeatureActivation{Name: name, Epoch: epoch})
	}
	sort.Slice(manifest.Features, func(i, j int) bool {
		return manifest.Features[i].Name < manifest.Features[j].Name
	})
	return manifest
}

// FeatureSet resolves the manifest's feature activations. Unknown feature
// names are an error, since replaying without them would diverge.
func (manifest *Manifest) FeatureSet() (*features.Features, error) {
	featureSet := features.NewFeaturesDefault()
	for _, activation := range manifest.Features {
		gate, ok := features.GateByName(activation.Name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown feature %q", ErrCorruptSnapshot, activation.Name)
		}
		featureSet.EnableFeature(gate, activation.Epoch)
	}
	return featureSet, nil
}

func (params *ClusterParams) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	params.SlotsPerEpoch, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	params.SlotDurationNanos, err = decoder.ReadInt64(bin.LE)
	if err != nil {
		return err
	}
	params.HistoryRetention, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	params.ComputeBudget, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	params.RewardRateNumerator, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	params.RewardRateDenominator, err = decoder.ReadUint64(bin.LE)
	return err
}

func (params *ClusterParams) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteUint64(params.SlotsPerEpoch, bin.LE)
	_ = encoder.WriteInt64(params.SlotDurationNanos, bin.LE)
	_ = encoder.WriteUint64(params.HistoryRetention, bin.LE)
	_ = encoder.WriteUint64(params.ComputeBudget, bin.LE)
	_ = encoder.WriteUint64(params.RewardRateNumerator, bin.LE)
	return encoder.WriteUint64(params.RewardRateDenominator, bin.LE)
}

func (manifest *Manifest) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	manifest.Version, err = decoder.ReadUint32(bin.LE)
	if err != nil {
		return err
	}
	if manifest.Version != manifestVersion {
		return fmt.Errorf("%w: unsupported manifest version %d", ErrCorruptSnapshot, manifest.Version)
	}

	manifest.Slot, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	manifest.Epoch, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	hash, err := decoder.ReadBytes(32)
	if err != nil {
		return err
	}
	copy(manifest.Hash[:], hash)

	manifest.GenesisTime, err = decoder.ReadInt64(bin.LE)
	if err != nil {
		return err
	}
	manifest.TransactionCount, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}

	err = manifest.Cluster.UnmarshalWithDecoder(decoder)
	if err != nil {
		return err
	}

	err = manifest.StakeHistory.UnmarshalWithDecoder(decoder)
	if err != nil {
		return err
	}

	var numFeatures uint64
	numFeatures, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	if numFeatures > uint64(len(features.AllFeatureGates)) {
		return fmt.Errorf("%w: %d features", ErrCorruptSnapshot, numFeatures)
	}
	for count := uint64(0); count < numFeatures; count++ {
		var activation FeatureActivation
		activation.Name, err = decoder.ReadRustString()
		if err != nil {
			return err
		}
		activation.Epoch, err = decoder.ReadUint64(bin.LE)
		if err != nil {
			return err
		}
		manifest.Features = append(manifest.Features, activation)
	}

	var numFiles uint64
	numFiles, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	if numFiles > uint64(decoder.Remaining()/24) {
		return fmt.Errorf("%w: %d account files", ErrCorruptSnapshot, numFiles)
	}
	for count := uint64(0); count < numFiles; count++ {
		var file AccountFile
		file.Name, err = decoder.ReadRustString()
		if err != nil {
			return err
		}
		file.Count, err = decoder.ReadUint64(bin.LE)
		if err != nil {
			return err
		}
		file.Checksum, err = decoder.ReadUint64(bin.LE)
		if err != nil {
			return err
		}
		manifest.AccountFiles = append(manifest.AccountFiles, file)
	}
	return nil
}

func (manifest *Manifest) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteUint32(manifest.Version, bin.LE)
	_ = encoder.WriteUint64(manifest.Slot, bin.LE)
	_ = encoder.WriteUint64(manifest.Epoch, bin.LE)
	_ = encoder.WriteBytes(manifest.Hash[:], false)
	_ = encoder.WriteInt64(manifest.GenesisTime, bin.LE)
	_ = encoder.WriteUint64(manifest.TransactionCount, bin.LE)

	err := manifest.Cluster.MarshalWithEncoder(encoder)
	if err != nil {
		return err
	}
	err = manifest.StakeHistory.MarshalWithEncoder(encoder)
	if err != nil {
		return err
	}

	_ = encoder.WriteUint64(uint64(len(manifest.Features)), bin.LE)
	for _, activation := range manifest.Features {
		_ = encoder.WriteRustString(activation.Name)
		_ = encoder.WriteUint64(activation.Epoch, bin.LE)
	}

	_ = encoder.WriteUint64(uint64(len(manifest.AccountFiles)), bin.LE)
	for _, file := range manifest.AccountFiles {
		_ = encoder.WriteRustString(file.Name)
		_ = encoder.WriteUint64(file.Count, bin.LE)
		err = encoder.WriteUint64(file.Checksum, bin.LE)
		if err != nil {
			return err
		}
	}
	return nil
}

func (manifest *Manifest) marshal() ([]byte, error) {
	writer := new(bytes.Buffer)
	err := manifest.MarshalWithEncoder(bin.NewBinEncoder(writer))
	if err != nil {
		return nil, err
	}
	return writer.Bytes(), nil
}

func unmarshalManifest(data []byte) (*Manifest, error) {
	manifest := new(Manifest)
	err := manifest.UnmarshalWithDecoder(bin.NewBinDecoder(data))
	if err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return manifest, nil
}
