package watcher_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boltlabs-inc/zeekoe/contract"
	"github.com/boltlabs-inc/zeekoe/store"
	"github.com/boltlabs-inc/zeekoe/watcher"
	"github.com/boltlabs-inc/zeekoe/zkabacus"
	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

func newChannel(t *testing.T, ctx context.Context, s store.CustomerStore, driver *contract.MockDriver,
	label zkchannel.Label, balances zkchannel.Balances) zkchannel.ID {

	channelID := zkchannel.ID{byte(len(label))}
	contractID, writeStatus, err := driver.Originate(ctx,
		contract.FundInfo{}, contract.FundInfo{}, nil, nil, channelID, 1, 1000)
	require.NoError(t, err)
	require.Equal(t, contract.Applied, writeStatus)

	require.NoError(t, s.NewChannel(ctx, label, channelID, zkchannel.ContractDetails{}, balances))
	require.NoError(t, s.InsertContractID(ctx, label, contractID))
	return channelID
}

func closingMessage(channelID zkchannel.ID, ctx zkabacus.Context, balances zkchannel.Balances) zkchannel.ClosingMessage {
	msg, err := zkabacus.CloseFromBalances(channelID, balances, ctx)
	if err != nil {
		panic(err)
	}
	return msg
}

// TestWatcherExpiryRunsUnilateralClose covers spec.md §4.G row 1: an
// Expiry status observed against a channel not already in the PendingClose
// family triggers the merchant-initiated half of unilateral close.
func TestWatcherExpiryRunsUnilateralClose(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockCustomerStore()
	driver := contract.NewMockDriver()
	zkCtx := zkabacus.DefaultContext()

	label := zkchannel.Label("expiry-channel")
	balances := zkchannel.Balances{CustomerBalance: 500, MerchantBalance: 500}
	newChannel(t, ctx, s, driver, label, balances)

	_, err := s.WithChannelState(ctx, label, zkchannel.VariantInactive,
		func(_ zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			return zkchannel.NewReady(), bal, nil, nil
		})
	require.NoError(t, err)

	row, err := s.FetchChannel(ctx, label)
	require.NoError(t, err)
	contractID := *row.Contract.ContractID
	_, err = driver.Expiry(ctx, contractID)
	require.NoError(t, err)

	w := &watcher.Watcher{Store: s, Contract: driver, ZkCtx: zkCtx}
	w.Tick(ctx)

	row, err = s.FetchChannel(ctx, label)
	require.NoError(t, err)
	require.Equal(t, zkchannel.VariantPendingExpiry, row.State.Variant())

	state, err := driver.GetContractState(ctx, contractID, 0)
	require.NoError(t, err)
	require.Equal(t, contract.CustomerClose, state.Status)
}

// TestWatcherFinalizesNormalClose covers spec.md §4.G row 4: a Closed
// status observed with local PendingClose and a matching merchant payout
// finalizes to Closed.
func TestWatcherFinalizesNormalClose(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockCustomerStore()
	driver := contract.NewMockDriver()
	zkCtx := zkabacus.DefaultContext()

	label := zkchannel.Label("normal-close-channel")
	balances := zkchannel.Balances{CustomerBalance: 500, MerchantBalance: 500}
	channelID := newChannel(t, ctx, s, driver, label, balances)
	msg := closingMessage(channelID, zkCtx, balances)

	row, err := s.FetchChannel(ctx, label)
	require.NoError(t, err)
	contractID := *row.Contract.ContractID

	_, err = driver.CustClose(ctx, contractID, msg)
	require.NoError(t, err)
	_, err = driver.CustClaim(ctx, contractID)
	require.NoError(t, err)

	_, err = s.WithChannelState(ctx, label, zkchannel.VariantInactive,
		func(_ zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			return zkchannel.NewPendingClose(msg), bal, nil, nil
		})
	require.NoError(t, err)

	w := &watcher.Watcher{Store: s, Contract: driver, ZkCtx: zkCtx}
	w.Tick(ctx)

	row, err = s.FetchChannel(ctx, label)
	require.NoError(t, err)
	require.Equal(t, zkchannel.VariantClosed, row.State.Variant())
}

// TestWatcherDetectsDispute covers spec.md §4.G row 3: a Closed status
// whose on-chain customer balance is below the local closing message's
// balance means the merchant disputed, and the channel moves to Dispute.
func TestWatcherDetectsDispute(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockCustomerStore()
	driver := contract.NewMockDriver()
	zkCtx := zkabacus.DefaultContext()

	label := zkchannel.Label("disputed-channel")
	balances := zkchannel.Balances{CustomerBalance: 500, MerchantBalance: 500}
	channelID := newChannel(t, ctx, s, driver, label, balances)
	msg := closingMessage(channelID, zkCtx, balances)

	row, err := s.FetchChannel(ctx, label)
	require.NoError(t, err)
	contractID := *row.Contract.ContractID

	_, err = driver.MerchDispute(ctx, contractID, nil)
	require.NoError(t, err)

	_, err = s.WithChannelState(ctx, label, zkchannel.VariantInactive,
		func(_ zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			return zkchannel.NewPendingClose(msg), bal, nil, nil
		})
	require.NoError(t, err)

	w := &watcher.Watcher{Store: s, Contract: driver, ZkCtx: zkCtx}
	w.Tick(ctx)

	row, err = s.FetchChannel(ctx, label)
	require.NoError(t, err)
	require.Equal(t, zkchannel.VariantDispute, row.State.Variant())
}
