package features

import (
	"go.firedancer.io/staker/pkg/base58"
)

type FeatureGate struct {
	Name    string
	Address [32]byte
}

var ReduceStakeWarmupCooldown = FeatureGate{Name: "ReduceStakeWarmupCooldown", Address: base58.MustDecodeFromString("GwtDQBghCTBgmX2cpEGNPxTEBUTQRaDMGTr5qychdGMj")}
var RequireCustodianForLockedStakeAuthorize = FeatureGate{Name: "RequireCustodianForLockedStakeAuthorize", Address: base58.MustDecodeFromString("D4jsDcXaqdW8tDAWn8H4R25Cdns2YwLneujSL1zvjW6R")}

var AllFeatureGates = []FeatureGate{ReduceStakeWarmupCooldown, RequireCustodianForLockedStakeAuthorize}

func GateByName(name string) (FeatureGate, bool) {
	for _, gate := range AllFeatureGates {
		if gate.Name == name {
			return gate, true
		}
	}
	return FeatureGate{}, false
}
