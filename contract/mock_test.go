package contract_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boltlabs-inc/zeekoe/contract"
	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

// TestMockDriverFundingAndMutualClose exercises the full funding sequence
// a MockDriver-backed Establish/close run depends on.
func TestMockDriverFundingAndMutualClose(t *testing.T) {
	ctx := context.Background()
	driver := contract.NewMockDriver()
	channelID := zkchannel.ID{1}

	contractID, status, err := driver.Originate(ctx,
		contract.FundInfo{}, contract.FundInfo{}, []byte("merchant-pubkey"), nil, channelID, 3, 144)
	require.NoError(t, err)
	require.Equal(t, contract.Applied, status)

	state, err := driver.GetContractState(ctx, contractID, 0)
	require.NoError(t, err)
	require.Equal(t, contract.AwaitingCustomerFunding, state.Status)

	require.NoError(t, driver.VerifyOrigination(ctx, contractID, contract.OriginationExpectation{
		SelfDelay: 144,
	}))

	status, err = driver.AddCustomerFunding(ctx, contractID, 5)
	require.NoError(t, err)
	require.Equal(t, contract.Applied, status)
	require.NoError(t, driver.VerifyCustomerFunding(ctx, contractID, 5))

	status, err = driver.AddMerchantFunding(ctx, contractID, 1)
	require.NoError(t, err)
	require.Equal(t, contract.Applied, status)
	require.NoError(t, driver.VerifyMerchantFunding(ctx, contractID, 1))

	state, err = driver.GetContractState(ctx, contractID, 0)
	require.NoError(t, err)
	require.Equal(t, contract.Open, state.Status)

	closeCtx := zkchannel.MutualCloseAuthorizationContext{
		ChannelID:  channelID,
		ContractID: contractID,
		Balances:   zkchannel.Balances{CustomerBalance: 4, MerchantBalance: 2},
	}
	authSig, err := driver.AuthorizeMutualClose(ctx, contractID, closeCtx)
	require.NoError(t, err)
	wantDigest := contract.MutualCloseAuthorizationDigest(closeCtx)
	require.Equal(t, wantDigest[:], authSig)

	status, err = driver.MutualClose(ctx, contractID, 4, 2, authSig)
	require.NoError(t, err)
	require.Equal(t, contract.Applied, status)

	state, err = driver.GetContractState(ctx, contractID, 0)
	require.NoError(t, err)
	require.Equal(t, contract.Closed, state.Status)
	require.Equal(t, zkchannel.Amount(4), state.CustomerBalance)
	require.Equal(t, zkchannel.Amount(2), state.MerchantBalance)
}

// TestMockDriverVerifyOriginationRejectsSelfDelayMismatch covers the
// merchant-side defense against a misconfigured or malicious origination.
func TestMockDriverVerifyOriginationRejectsSelfDelayMismatch(t *testing.T) {
	ctx := context.Background()
	driver := contract.NewMockDriver()
	channelID := zkchannel.ID{2}

	contractID, _, err := driver.Originate(ctx,
		contract.FundInfo{}, contract.FundInfo{}, nil, nil, channelID, 3, 144)
	require.NoError(t, err)

	err = driver.VerifyOrigination(ctx, contractID, contract.OriginationExpectation{SelfDelay: 10})
	require.ErrorIs(t, err, contract.ErrVerificationFailed)
}

// TestMockDriverFailOriginate exercises the test hook backing the
// protocol engine's abort-on-ledger-failure path.
func TestMockDriverFailOriginate(t *testing.T) {
	ctx := context.Background()
	driver := contract.NewMockDriver()
	driver.FailOriginate = true

	_, status, err := driver.Originate(ctx,
		contract.FundInfo{}, contract.FundInfo{}, nil, nil, zkchannel.ID{3}, 3, 144)
	require.NoError(t, err)
	require.Equal(t, contract.Failed, status)
}
