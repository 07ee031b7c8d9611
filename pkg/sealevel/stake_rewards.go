package sealevel

import (
	"github.com/holiman/uint256"
	"go.firedancer.io/staker/pkg/safemath"
)

// RewardPolicy is the cluster reward rate, in lamports per staked lamport
// per vote credit, expressed as a fraction.
type RewardPolicy struct {
	RateNumerator   uint64
	RateDenominator uint64
}

func (policy RewardPolicy) Validate() error {
	if policy.RateDenominator == 0 {
		return StakeErrInvalidRewardRate
	}
	return nil
}

// CalculateReward returns floor(stake * creditsDelta * num / den).
func (policy RewardPolicy) CalculateReward(stakeLamports, creditsDelta uint64) (uint64, error) {
	err := policy.Validate()
	if err != nil {
		return 0, err
	}
	reward := new(uint256.Int).Mul(uint256.NewInt(stakeLamports), uint256.NewInt(creditsDelta))
	reward.Mul(reward, uint256.NewInt(policy.RateNumerator))
	reward.Div(reward, uint256.NewInt(policy.RateDenominator))
	if !reward.IsUint64() {
		return 0, InstrErrArithmeticOverflow
	}
	return reward.Uint64(), nil
}

// RewardSplit divides a redemption between the staker and the validator.
type RewardSplit struct {
	Staker uint64
	Voter  uint64
}

func (split RewardSplit) Total() uint64 {
	return split.Staker + split.Voter
}

// splitReward sends commission percent of reward to the validator. The
// staker gets the remainder.
func splitReward(reward uint64, commission byte) RewardSplit {
	if commission >= 100 {
		return RewardSplit{Voter: reward}
	}
	voter := new(uint256.Int).Mul(uint256.NewInt(reward), uint256.NewInt(uint64(commission)))
	voter.Div(voter, uint256.NewInt(100))
	return RewardSplit{Staker: reward - voter.Uint64(), Voter: voter.Uint64()}
}

// CalculateRedemption computes what a delegation is owed for the credits
// earned since its last redemption. A delegation that has fully cooled down
// earns nothing, though its credits still count as redeemed.
func CalculateRedemption(stake *Stake, voteCreditsNow uint64, commission byte, policy RewardPolicy, cooledDown bool) (RewardSplit, error) {
	if voteCreditsNow <= stake.CreditsObserved {
		return RewardSplit{}, StakeErrNothingToRedeem
	}
	if cooledDown {
		return RewardSplit{}, nil
	}
	creditsDelta := voteCreditsNow - stake.CreditsObserved

	reward, err := policy.CalculateReward(stake.Delegation.Stake, creditsDelta)
	if err != nil {
		return RewardSplit{}, err
	}
	return splitReward(reward, commission), nil
}

// RewardsPool is the stake-program account that funds redemptions. Every
// debit is checked against the balance.
type RewardsPool struct {
	acct *BorrowedAccount
}

func newRewardsPool(acct *BorrowedAccount) (*RewardsPool, error) {
	if acct.Owner() != StakeProgramAddr {
		return nil, StakeErrInvalidRewardsPool
	}
	state, err := getStakeAccountState(acct)
	if err != nil || state.Status != StakeStateV2StatusRewardsPool {
		return nil, StakeErrInvalidRewardsPool
	}
	return &RewardsPool{acct: acct}, nil
}

func (pool *RewardsPool) Lamports() uint64 {
	return pool.acct.Lamports()
}

func (pool *RewardsPool) Debit(lamports uint64) error {
	remaining, err := safemath.CheckedSubU64(pool.acct.Lamports(), lamports)
	if err != nil {
		return StakeErrRewardsPoolInsufficient
	}
	return pool.acct.SetLamports(remaining)
}

// RedeemVoteCredits pays the delegation in stakeAcct for credits earned by
// its vote account, moving lamports out of pool, and records the credits
// as observed. It returns the lamports paid in total.
func RedeemVoteCredits(stakeAcct, voteAcct *BorrowedAccount, pool *RewardsPool, policy RewardPolicy, clock *SysvarClock, history StakeHistoryReader, newRateActivationEpoch *uint64) (uint64, error) {
	state, err := getStakeAccountState(stakeAcct)
	if err != nil {
		return 0, err
	}
	if state.Status != StakeStateV2StatusStake {
		return 0, StakeErrNotDelegatable
	}
	stake := &state.Stake.Stake
	if stake.Delegation.VoterPubkey != voteAcct.Key() {
		return 0, StakeErrInvalidVoteAccount
	}

	voteState, err := voteStateFromAccount(voteAcct)
	if err != nil {
		return 0, StakeErrInvalidVoteAccount
	}
	creditsNow := voteState.Credits()

	delegation := &stake.Delegation
	cooledDown := delegation.IsDeactivated() && delegation.EffectiveStake(clock.Epoch, history, newRateActivationEpoch) == 0

	split, err := CalculateRedemption(stake, creditsNow, voteState.Commission, policy, cooledDown)
	if err != nil {
		return 0, err
	}

	err = pool.Debit(split.Total())
	if err != nil {
		return 0, err
	}
	err = stakeAcct.CheckedAddLamports(split.Staker)
	if err != nil {
		return 0, err
	}
	err = voteAcct.CheckedAddLamports(split.Voter)
	if err != nil {
		return 0, err
	}

	stake.CreditsObserved = creditsNow
	err = setStakeAccountState(stakeAcct, state)
	if err != nil {
		return 0, err
	}
	return split.Total(), nil
}
