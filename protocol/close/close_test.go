package close_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boltlabs-inc/zeekoe/contract"
	closepkg "github.com/boltlabs-inc/zeekoe/protocol/close"
	"github.com/boltlabs-inc/zeekoe/session"
	"github.com/boltlabs-inc/zeekoe/store"
	"github.com/boltlabs-inc/zeekoe/zkabacus"
	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

// setUpChannel originates a contract on driver and seeds matching
// customer/merchant rows in Ready/Active, mirroring a completed Establish.
func setUpChannel(t *testing.T, ctx context.Context, driver *contract.MockDriver,
	customerStore store.CustomerStore, merchantStore store.MerchantStore,
	label zkchannel.Label, channelID zkchannel.ID, balances zkchannel.Balances) string {

	contractID, status, err := driver.Originate(ctx,
		contract.FundInfo{}, contract.FundInfo{}, nil, nil, channelID, 1, 144)
	require.NoError(t, err)
	require.Equal(t, contract.Applied, status)

	require.NoError(t, customerStore.NewChannel(ctx, label, channelID, zkchannel.ContractDetails{}, balances))
	require.NoError(t, customerStore.InsertContractID(ctx, label, contractID))
	_, err = customerStore.WithChannelState(ctx, label, zkchannel.VariantInactive,
		func(_ zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			return zkchannel.NewReady(), bal, nil, nil
		})
	require.NoError(t, err)

	require.NoError(t, merchantStore.NewChannel(ctx, channelID, zkchannel.ContractDetails{}, balances))
	require.NoError(t, merchantStore.InsertContractID(ctx, channelID, contractID))
	_, err = merchantStore.WithChannelState(ctx, channelID, zkchannel.StatusOriginated,
		func(_ zkchannel.ChannelStatus, bal zkchannel.Balances) (zkchannel.ChannelStatus, zkchannel.Balances, any, error) {
			return zkchannel.StatusActive, bal, nil, nil
		})
	require.NoError(t, err)

	return contractID
}

// TestMutualCloseRoundTrip covers spec.md §4.E.4: both sides settle to
// Closed with matching balances and the merchant's authorization
// verifies against the shared digest.
func TestMutualCloseRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	ctx := context.Background()
	zkCtx := zkabacus.DefaultContext()
	driver := contract.NewMockDriver()

	customerStore := store.NewMockCustomerStore()
	merchantStore := store.NewMockMerchantStore()

	label := zkchannel.Label("channel-1")
	channelID := zkchannel.ID{1, 2, 3}
	balances := zkchannel.Balances{CustomerBalance: 4, MerchantBalance: 1}
	setUpChannel(t, ctx, driver, customerStore, merchantStore, label, channelID, balances)

	customerSess := session.NewSession(clientConn, 0)
	merchantSess := session.NewSession(serverConn, 0)

	customerDeps := closepkg.CustomerDeps{Store: customerStore, Contract: driver, ZkCtx: zkCtx}
	merchantDeps := closepkg.MerchantDeps{Store: merchantStore, Contract: driver}

	merchantDone := make(chan error, 1)
	go func() {
		choice, err := merchantSess.OfferTopLevel()
		if err != nil {
			merchantDone <- err
			return
		}
		require.Equal(t, session.ChoiceClose, choice)
		merchantDone <- closepkg.RunMerchantMutualClose(ctx, merchantSess, merchantDeps)
	}()

	require.NoError(t, closepkg.RunCustomerMutualClose(ctx, customerSess, customerDeps, label))
	require.NoError(t, <-merchantDone)

	custRow, err := customerStore.FetchChannel(ctx, label)
	require.NoError(t, err)
	require.Equal(t, zkchannel.VariantClosed, custRow.State.Variant())

	merchRow, err := merchantStore.FetchChannel(ctx, channelID)
	require.NoError(t, err)
	require.Equal(t, zkchannel.StatusClosed, merchRow.Status)
	require.Equal(t, balances, merchRow.Balances)
}

// TestMerchantRejectsStaleBalances covers the merchant-side abort path: a
// close message disagreeing with the merchant's own bookkeeping never
// reaches the escrow contract.
func TestMerchantRejectsStaleBalances(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	ctx := context.Background()
	driver := contract.NewMockDriver()

	customerStore := store.NewMockCustomerStore()
	merchantStore := store.NewMockMerchantStore()

	label := zkchannel.Label("channel-1")
	channelID := zkchannel.ID{9, 9, 9}
	balances := zkchannel.Balances{CustomerBalance: 4, MerchantBalance: 1}
	setUpChannel(t, ctx, driver, customerStore, merchantStore, label, channelID, balances)

	// Merchant's own bookkeeping has since diverged from the customer's.
	_, err := merchantStore.WithChannelState(ctx, channelID, zkchannel.StatusActive,
		func(status zkchannel.ChannelStatus, _ zkchannel.Balances) (zkchannel.ChannelStatus, zkchannel.Balances, any, error) {
			return status, zkchannel.Balances{CustomerBalance: 3, MerchantBalance: 2}, nil, nil
		})
	require.NoError(t, err)

	customerSess := session.NewSession(clientConn, 0)
	merchantSess := session.NewSession(serverConn, 0)

	customerDeps := closepkg.CustomerDeps{Store: customerStore, Contract: driver, ZkCtx: zkabacus.DefaultContext()}
	merchantDeps := closepkg.MerchantDeps{Store: merchantStore, Contract: driver}

	merchantDone := make(chan error, 1)
	go func() {
		choice, err := merchantSess.OfferTopLevel()
		if err != nil {
			merchantDone <- err
			return
		}
		require.Equal(t, session.ChoiceClose, choice)
		merchantDone <- closepkg.RunMerchantMutualClose(ctx, merchantSess, merchantDeps)
	}()

	err = closepkg.RunCustomerMutualClose(ctx, customerSess, customerDeps, label)
	require.Error(t, err)
	var invalid session.InvalidClosingSignature
	require.ErrorAs(t, err, &invalid)
	// OfferAbort itself succeeds (the rejection reached the customer
	// cleanly); the merchant-side error is nil, not the abort's reason.
	require.NoError(t, <-merchantDone)
}
