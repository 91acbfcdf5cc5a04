package pay_test

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boltlabs-inc/zeekoe/protocol/pay"
	"github.com/boltlabs-inc/zeekoe/session"
	"github.com/boltlabs-inc/zeekoe/store"
	"github.com/boltlabs-inc/zeekoe/zkabacus"
	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

func readyChannel(t *testing.T, ctx context.Context, s store.CustomerStore,
	label zkchannel.Label, channelID zkchannel.ID, balances zkchannel.Balances) {

	require.NoError(t, s.NewChannel(ctx, label, channelID, zkchannel.ContractDetails{}, balances))
	_, err := s.WithChannelState(ctx, label, zkchannel.VariantInactive,
		func(_ zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			return zkchannel.NewReady(), bal, nil, nil
		})
	require.NoError(t, err)
}

func activeMerchantChannel(t *testing.T, ctx context.Context, s store.MerchantStore,
	channelID zkchannel.ID, balances zkchannel.Balances) {

	require.NoError(t, s.NewChannel(ctx, channelID, zkchannel.ContractDetails{}, balances))
	_, err := s.WithChannelState(ctx, channelID, zkchannel.StatusOriginated,
		func(_ zkchannel.ChannelStatus, bal zkchannel.Balances) (zkchannel.ChannelStatus, zkchannel.Balances, any, error) {
			return zkchannel.StatusActive, bal, nil, nil
		})
	require.NoError(t, err)
}

// TestPayRoundTrip drives a full Pay session over net.Pipe and checks
// both sides apply the same balance delta (spec.md §4.E.3).
func TestPayRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	ctx := context.Background()
	zkCtx := zkabacus.DefaultContext()

	customerStore := store.NewMockCustomerStore()
	merchantStore := store.NewMockMerchantStore()

	mcfg, err := zkabacus.NewMerchantConfig()
	require.NoError(t, err)
	merchant := zkabacus.NewMerchant(mcfg)

	channelID := zkchannel.DeriveID([]byte("mr"), []byte("cr"), mcfg.MerchantPublicKey, []byte("clk"), []byte("mlk"))
	label := zkchannel.Label("channel-1")
	balances := zkchannel.Balances{CustomerBalance: 5, MerchantBalance: 0}

	readyChannel(t, ctx, customerStore, label, channelID, balances)
	activeMerchantChannel(t, ctx, merchantStore, channelID, balances)

	customerSess := session.NewSession(clientConn, 0)
	merchantSess := session.NewSession(serverConn, 0)

	merchantDeps := pay.MerchantDeps{Store: merchantStore, ZkCtx: zkCtx, Merchant: merchant, MaxNote: 512}
	customerDeps := pay.CustomerDeps{Store: customerStore, ZkCtx: zkCtx, MaxNote: 512}

	type result struct {
		err error
	}
	merchantDone := make(chan result, 1)
	go func() {
		choice, err := merchantSess.OfferTopLevel()
		if err != nil {
			merchantDone <- result{err}
			return
		}
		require.Equal(t, session.ChoicePay, choice)
		merchantDone <- result{pay.RunMerchant(ctx, merchantSess, merchantDeps)}
	}()

	note, err := pay.RunCustomer(ctx, customerSess, customerDeps, label, 2, "thanks")
	require.NoError(t, err)
	require.Equal(t, zkchannel.Note(""), note)

	merchResult := <-merchantDone
	require.NoError(t, merchResult.err)

	custRow, err := customerStore.FetchChannel(ctx, label)
	require.NoError(t, err)
	require.Equal(t, zkchannel.VariantReady, custRow.State.Variant())
	require.Equal(t, balances.ApplyPayment(2), custRow.Balances)

	merchRow, err := merchantStore.FetchChannel(ctx, channelID)
	require.NoError(t, err)
	require.Equal(t, balances.ApplyPayment(2), merchRow.Balances)
}

// TestPayRejectedByApproveHook covers the merchant-side policy rejection
// path: deps.Approve returning an error aborts before any state moves.
func TestPayRejectedByApproveHook(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	ctx := context.Background()
	zkCtx := zkabacus.DefaultContext()

	customerStore := store.NewMockCustomerStore()
	merchantStore := store.NewMockMerchantStore()

	mcfg, err := zkabacus.NewMerchantConfig()
	require.NoError(t, err)
	merchant := zkabacus.NewMerchant(mcfg)

	channelID := zkchannel.DeriveID([]byte("mr"), []byte("cr"), mcfg.MerchantPublicKey, []byte("clk"), []byte("mlk"))
	label := zkchannel.Label("channel-1")
	balances := zkchannel.Balances{CustomerBalance: 5, MerchantBalance: 0}

	readyChannel(t, ctx, customerStore, label, channelID, balances)
	activeMerchantChannel(t, ctx, merchantStore, channelID, balances)

	customerSess := session.NewSession(clientConn, 0)
	merchantSess := session.NewSession(serverConn, 0)

	merchantDeps := pay.MerchantDeps{
		Store: merchantStore, ZkCtx: zkCtx, Merchant: merchant, MaxNote: 512,
		Approve: func(zkchannel.ID, zkchannel.PaymentAmount, zkchannel.Note) error {
			return errors.New("declined by policy")
		},
	}
	customerDeps := pay.CustomerDeps{Store: customerStore, ZkCtx: zkCtx, MaxNote: 512}

	merchantDone := make(chan error, 1)
	go func() {
		choice, err := merchantSess.OfferTopLevel()
		if err != nil {
			merchantDone <- err
			return
		}
		require.Equal(t, session.ChoicePay, choice)
		merchantDone <- pay.RunMerchant(ctx, merchantSess, merchantDeps)
	}()

	_, err = pay.RunCustomer(ctx, customerSess, customerDeps, label, 2, "")
	require.Error(t, err)
	require.NoError(t, <-merchantDone)
}
