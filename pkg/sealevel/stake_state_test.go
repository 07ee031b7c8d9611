package sealevel

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStakeState_MarshalUnmarshal(t *testing.T) {
	meta := Meta{
		RentExemptReserve: 2282880,
		Authorized:        Authorized{Staker: newTestPubkey(t), Withdrawer: newTestPubkey(t)},
		Lockup:            StakeLockup{UnixTimestamp: -5, Epoch: 12, Custodian: newTestPubkey(t)},
	}
	states := []*StakeStateV2{
		{Status: StakeStateV2StatusUninitialized},
		{Status: StakeStateV2StatusInitialized, Initialized: StakeStateV2Initialized{Meta: meta}},
		{Status: StakeStateV2StatusStake, Stake: StakeStateV2Stake{Meta: meta, Stake: Stake{
			Delegation:      newDelegation(newTestPubkey(t), 1_000_000, 4),
			CreditsObserved: 99,
		}}},
		{Status: StakeStateV2StatusRewardsPool},
	}

	for _, state := range states {
		data, err := MarshalStakeState(state)
		require.NoError(t, err)
		assert.Equal(t, StakeStateV2Size, len(data))

		decoded, err := UnmarshalStakeState(data)
		require.NoError(t, err)
		assert.Equal(t, state, decoded)
	}
}

func TestStakeState_Unmarshal_Invalid(t *testing.T) {
	_, err := UnmarshalStakeState([]byte{7, 0, 0, 0})
	require.ErrorIs(t, err, InstrErrInvalidAccountData)

	_, err = UnmarshalStakeState([]byte{StakeStateV2StatusStake, 0, 0, 0, 1, 2})
	require.ErrorIs(t, err, InstrErrInvalidAccountData)

	_, err = UnmarshalStakeState(nil)
	require.ErrorIs(t, err, InstrErrInvalidAccountData)
}

func TestStakeState_Accessors(t *testing.T) {
	state := &StakeStateV2{Status: StakeStateV2StatusInitialized}
	_, ok := state.Delegation()
	assert.False(t, ok)
	meta, ok := state.Meta()
	require.True(t, ok)
	assert.Same(t, &state.Initialized.Meta, meta)

	state = &StakeStateV2{Status: StakeStateV2StatusRewardsPool}
	_, ok = state.Meta()
	assert.False(t, ok)
}

func TestStakeLockup_IsInForce(t *testing.T) {
	custodian := newTestPubkey(t)
	lockup := StakeLockup{UnixTimestamp: 100, Epoch: 5, Custodian: custodian}

	assert.True(t, lockup.IsInForce(&SysvarClock{UnixTimestamp: 100, Epoch: 4}, nil))
	assert.True(t, lockup.IsInForce(&SysvarClock{UnixTimestamp: 99, Epoch: 5}, nil))
	assert.False(t, lockup.IsInForce(&SysvarClock{UnixTimestamp: 100, Epoch: 5}, nil))

	other := newTestPubkey(t)
	assert.True(t, lockup.IsInForce(&SysvarClock{}, &other))
	assert.False(t, lockup.IsInForce(&SysvarClock{}, &custodian))
}

func TestAuthorized_Check(t *testing.T) {
	staker := newTestPubkey(t)
	withdrawer := newTestPubkey(t)
	authorized := Authorized{Staker: staker, Withdrawer: withdrawer}

	require.NoError(t, authorized.Check([]solana.PublicKey{staker}, StakeAuthorizeStaker))
	require.ErrorIs(t, authorized.Check([]solana.PublicKey{staker}, StakeAuthorizeWithdrawer), InstrErrMissingRequiredSignature)
	require.NoError(t, authorized.Check([]solana.PublicKey{withdrawer}, StakeAuthorizeWithdrawer))
	require.ErrorIs(t, authorized.Check([]solana.PublicKey{staker}, 2), InstrErrInvalidArgument)
}

func TestAuthorized_Authorize_Withdrawer_Custodian(t *testing.T) {
	withdrawer := newTestPubkey(t)
	custodian := newTestPubkey(t)
	newWithdrawer := newTestPubkey(t)
	lockup := StakeLockup{Epoch: 10, Custodian: custodian}
	clock := &SysvarClock{Epoch: 1}

	authorized := Authorized{Staker: withdrawer, Withdrawer: withdrawer}
	args := &lockupCustodianArgs{lockup: &lockup, clock: clock}
	require.ErrorIs(t, authorized.Authorize([]solana.PublicKey{withdrawer}, newWithdrawer, StakeAuthorizeWithdrawer, args), StakeErrCustodianMissing)

	args.custodian = &custodian
	require.ErrorIs(t, authorized.Authorize([]solana.PublicKey{withdrawer}, newWithdrawer, StakeAuthorizeWithdrawer, args), StakeErrCustodianSignatureMissing)

	wrongCustodian := newTestPubkey(t)
	args.custodian = &wrongCustodian
	require.ErrorIs(t, authorized.Authorize([]solana.PublicKey{withdrawer, wrongCustodian}, newWithdrawer, StakeAuthorizeWithdrawer, args), StakeErrLockupInForce)

	args.custodian = &custodian
	require.NoError(t, authorized.Authorize([]solana.PublicKey{withdrawer, custodian}, newWithdrawer, StakeAuthorizeWithdrawer, args))
	assert.Equal(t, newWithdrawer, authorized.Withdrawer)

	// without the lockup check the withdrawer signature alone suffices
	require.NoError(t, authorized.Authorize([]solana.PublicKey{newWithdrawer}, withdrawer, StakeAuthorizeWithdrawer, nil))
	assert.Equal(t, withdrawer, authorized.Withdrawer)
}
