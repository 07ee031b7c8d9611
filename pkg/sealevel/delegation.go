package sealevel

import (
	"math"

	"github.com/holiman/uint256"
	"go.firedancer.io/staker/pkg/safemath"
)

// Warmup/cooldown rates, in basis points of the cluster's effective stake
// that may change state per epoch.
const (
	DefaultWarmupCooldownRateBps = 2500
	NewWarmupCooldownRateBps     = 900
	basisPointsPerUnit           = 10000
)

const (
	StakeActivationStateActive       = "active"
	StakeActivationStateInactive     = "inactive"
	StakeActivationStateActivating   = "activating"
	StakeActivationStateDeactivating = "deactivating"
)

// StakeActivationStatus splits a delegation's stake at a given epoch.
type StakeActivationStatus struct {
	Effective    uint64
	Activating   uint64
	Deactivating uint64
}

// warmupCooldownRateBps returns the rate in force at currentEpoch. The rate
// drops once the reduce_stake_warmup_cooldown feature has activated.
func warmupCooldownRateBps(currentEpoch uint64, newRateActivationEpoch *uint64) uint64 {
	if newRateActivationEpoch != nil && currentEpoch >= *newRateActivationEpoch {
		return NewWarmupCooldownRateBps
	}
	return DefaultWarmupCooldownRateBps
}

// newlyChangedStake returns how much of remaining changes state in one
// epoch, given the previous epoch's cluster totals:
//
//	max(1, remaining * clusterEffective * rate / clusterChanging)
//
// The product is taken in 256 bits so it cannot overflow.
func newlyChangedStake(remaining, clusterEffective, clusterChanging, rateBps uint64) uint64 {
	num := new(uint256.Int).Mul(uint256.NewInt(remaining), uint256.NewInt(clusterEffective))
	num.Mul(num, uint256.NewInt(rateBps))
	den := new(uint256.Int).Mul(uint256.NewInt(clusterChanging), uint256.NewInt(basisPointsPerUnit))
	num.Div(num, den)

	newly := remaining
	if num.IsUint64() && num.Uint64() < remaining {
		newly = num.Uint64()
	}
	if newly == 0 {
		newly = 1
	}
	return newly
}

func (delegation *Delegation) IsBootstrap() bool {
	return delegation.ActivationEpoch == math.MaxUint64
}

func (delegation *Delegation) IsDeactivated() bool {
	return delegation.DeactivationEpoch != math.MaxUint64
}

// stakeAndActivating walks the history forward from the activation epoch
// and returns the effective and still activating parts of the stake.
func (delegation *Delegation) stakeAndActivating(targetEpoch uint64, history StakeHistoryReader, newRateActivationEpoch *uint64) (uint64, uint64) {
	delegatedStake := delegation.Stake

	if delegation.IsBootstrap() {
		return delegatedStake, 0
	} else if delegation.ActivationEpoch == delegation.DeactivationEpoch {
		return 0, 0
	} else if targetEpoch == delegation.ActivationEpoch {
		return 0, delegatedStake
	} else if targetEpoch < delegation.ActivationEpoch {
		return 0, 0
	}

	prevEpoch := delegation.ActivationEpoch
	prevClusterStake, ok := history.Get(prevEpoch)
	if !ok {
		// activated before the retained history began
		return delegatedStake, 0
	}

	var currentEffectiveStake uint64
	for {
		currentEpoch := prevEpoch + 1
		if prevClusterStake.Activating == 0 {
			break
		}

		remainingActivatingStake := delegatedStake - currentEffectiveStake
		newlyEffectiveStake := newlyChangedStake(remainingActivatingStake, prevClusterStake.Effective,
			prevClusterStake.Activating, warmupCooldownRateBps(currentEpoch, newRateActivationEpoch))

		currentEffectiveStake += newlyEffectiveStake
		if currentEffectiveStake >= delegatedStake {
			currentEffectiveStake = delegatedStake
			break
		}

		if currentEpoch >= targetEpoch || currentEpoch >= delegation.DeactivationEpoch {
			break
		}

		entry, ok := history.Get(currentEpoch)
		if !ok {
			break
		}
		prevEpoch = currentEpoch
		prevClusterStake = entry
	}

	return currentEffectiveStake, delegatedStake - currentEffectiveStake
}

// StakeActivatingAndDeactivating computes the state of the delegation at
// targetEpoch from the cluster-wide history.
func (delegation *Delegation) StakeActivatingAndDeactivating(targetEpoch uint64, history StakeHistoryReader, newRateActivationEpoch *uint64) StakeActivationStatus {
	effectiveStake, activatingStake := delegation.stakeAndActivating(targetEpoch, history, newRateActivationEpoch)

	if targetEpoch < delegation.DeactivationEpoch {
		return StakeActivationStatus{Effective: effectiveStake, Activating: activatingStake}
	} else if targetEpoch == delegation.DeactivationEpoch {
		return StakeActivationStatus{Effective: effectiveStake, Deactivating: effectiveStake}
	}

	prevEpoch := delegation.DeactivationEpoch
	prevClusterStake, ok := history.Get(prevEpoch)
	if !ok {
		// deactivated before the retained history began
		return StakeActivationStatus{}
	}

	currentEffectiveStake := effectiveStake
	for {
		currentEpoch := prevEpoch + 1
		if prevClusterStake.Deactivating == 0 {
			break
		}

		newlyNotEffectiveStake := newlyChangedStake(currentEffectiveStake, prevClusterStake.Effective,
			prevClusterStake.Deactivating, warmupCooldownRateBps(currentEpoch, newRateActivationEpoch))

		currentEffectiveStake = safemath.SaturatingSubU64(currentEffectiveStake, newlyNotEffectiveStake)
		if currentEffectiveStake == 0 {
			break
		}

		if currentEpoch >= targetEpoch {
			break
		}

		entry, ok := history.Get(currentEpoch)
		if !ok {
			break
		}
		prevEpoch = currentEpoch
		prevClusterStake = entry
	}

	return StakeActivationStatus{Effective: currentEffectiveStake, Deactivating: currentEffectiveStake}
}

// EffectiveStake returns the part of the delegation that counts toward
// consensus and rewards at targetEpoch.
func (delegation *Delegation) EffectiveStake(targetEpoch uint64, history StakeHistoryReader, newRateActivationEpoch *uint64) uint64 {
	return delegation.StakeActivatingAndDeactivating(targetEpoch, history, newRateActivationEpoch).Effective
}

// ActivationState names the phase of a delegation at an epoch.
func (status StakeActivationStatus) ActivationState() string {
	switch {
	case status.Deactivating > 0:
		return StakeActivationStateDeactivating
	case status.Activating > 0:
		return StakeActivationStateActivating
	case status.Effective > 0:
		return StakeActivationStateActive
	default:
		return StakeActivationStateInactive
	}
}

// AccumulateStakeHistoryEntry adds the contribution of delegations at epoch
// to entry.
func AccumulateStakeHistoryEntry(entry StakeHistoryEntry, delegations []Delegation, epoch uint64, history StakeHistoryReader, newRateActivationEpoch *uint64) StakeHistoryEntry {
	for idx := range delegations {
		status := delegations[idx].StakeActivatingAndDeactivating(epoch, history, newRateActivationEpoch)
		entry = entry.Add(StakeHistoryEntry{
			Effective:    status.Effective,
			Activating:   status.Activating,
			Deactivating: status.Deactivating,
		})
	}
	return entry
}

// Add sums two entries, saturating at the maximum.
func (entry StakeHistoryEntry) Add(other StakeHistoryEntry) StakeHistoryEntry {
	return StakeHistoryEntry{
		Effective:    safemath.SaturatingAddU64(entry.Effective, other.Effective),
		Activating:   safemath.SaturatingAddU64(entry.Activating, other.Activating),
		Deactivating: safemath.SaturatingAddU64(entry.Deactivating, other.Deactivating),
	}
}
