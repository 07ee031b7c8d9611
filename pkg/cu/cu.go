package cu

import (
	"errors"

	"go.firedancer.io/staker/pkg/safemath"
	"k8s.io/klog/v2"
)

var ErrComputeExceeded = errors.New("Compute exceeded")

// DefaultTransactionBudget is the compute budget granted to a transaction
// when none is requested.
const DefaultTransactionBudget = 200000

type ComputeMeter struct {
	remaining       uint64
	startingBalance uint64
	exceeded        bool
	disable         bool
}

func NewComputeMeter(budget uint64) ComputeMeter {
	return ComputeMeter{remaining: budget, startingBalance: budget}
}

func (cm *ComputeMeter) Consume(cost uint64) error {
	cm.exceeded = cm.remaining < cost
	cm.remaining = safemath.SaturatingSubU64(cm.remaining, cost)

	if cm.exceeded {
		if cm.disable {
			klog.V(2).Infof("CU limit exceeded in Consume, but skipping")
		} else {
			return ErrComputeExceeded
		}
	}

	return nil
}

func (cm *ComputeMeter) Used() uint64 {
	return cm.startingBalance - cm.remaining
}

func (cm *ComputeMeter) Exceeded() bool {
	return cm.exceeded
}

func (cm *ComputeMeter) Remaining() uint64 {
	return cm.remaining
}

// Disable turns budget exhaustion into a log line. Used when replaying
// genesis transactions.
func (cm *ComputeMeter) Disable() {
	cm.disable = true
}
