package snapshot

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.firedancer.io/staker/pkg/sealevel"
	"go.firedancer.io/staker/pkg/snapshot"
)

func TestPrintManifest(t *testing.T) {
	manifest := &snapshot.Manifest{
		Slot:  9,
		Epoch: 2,
		Cluster: snapshot.ClusterParams{
			SlotsPerEpoch:         4,
			RewardRateNumerator:   1,
			RewardRateDenominator: 100,
		},
		Features: []snapshot.FeatureActivation{{Name: "stake_redelegate_instruction", Epoch: 1}},
		AccountFiles: []snapshot.AccountFile{
			{Name: "accounts/9.0", Count: 4096},
			{Name: "accounts/9.1", Count: 7},
		},
		StakeHistory: sealevel.SysvarStakeHistory{
			{Epoch: 1, Entry: sealevel.StakeHistoryEntry{Effective: 500}},
		},
	}

	var out bytes.Buffer
	printManifest(&out, manifest)
	text := out.String()
	assert.Contains(t, text, "slot:              9\n")
	assert.Contains(t, text, "reward rate:       1/100\n")
	assert.Contains(t, text, "feature:           stake_redelegate_instruction at epoch 1\n")
	assert.Contains(t, text, "accounts:          4103 in 2 files\n")
	assert.Contains(t, text, "  epoch 1: effective=500 activating=0 deactivating=0\n")
}
