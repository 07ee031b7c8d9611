package features

import (
	"fmt"
	"sort"

	"go.firedancer.io/staker/pkg/base58"
)

// Features records the epoch at which each enabled feature gate activates.
// A Features value is built once at genesis and only read afterwards.
type Features struct {
	enabled map[[32]byte]uint64
}

func NewFeaturesDefault() *Features {
	return &Features{enabled: make(map[[32]byte]uint64)}
}

func (f *Features) EnableFeature(gate FeatureGate, epoch uint64) {
	f.enabled[gate.Address] = epoch
}

func (f *Features) DisableFeature(gate FeatureGate) {
	delete(f.enabled, gate.Address)
}

func (f *Features) IsActive(gate FeatureGate) bool {
	_, ok := f.enabled[gate.Address]
	return ok
}

func (f *Features) IsActiveAt(gate FeatureGate, epoch uint64) bool {
	activation, ok := f.enabled[gate.Address]
	return ok && epoch >= activation
}

// ActivationEpoch returns nil for gates that are not enabled.
func (f *Features) ActivationEpoch(gate FeatureGate) *uint64 {
	activation, ok := f.enabled[gate.Address]
	if !ok {
		return nil
	}
	return &activation
}

func (f *Features) AllEnabled() []string {
	var enabled []string
	for _, gate := range AllFeatureGates {
		if epoch, ok := f.enabled[gate.Address]; ok {
			enabled = append(enabled, fmt.Sprintf("feature %s (%s) enabled at epoch %d", gate.Name, base58.Encode(gate.Address[:]), epoch))
		}
	}
	sort.Strings(enabled)
	return enabled
}
