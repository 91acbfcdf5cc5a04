package establish_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boltlabs-inc/zeekoe/contract"
	"github.com/boltlabs-inc/zeekoe/protocol/establish"
	"github.com/boltlabs-inc/zeekoe/session"
	"github.com/boltlabs-inc/zeekoe/store"
	"github.com/boltlabs-inc/zeekoe/zkabacus"
	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

// TestEstablishRoundTrip drives a full Establish session over net.Pipe,
// performing the OfferTopLevel/ChooseTopLevel handshake exactly as
// cmd/merchant's dispatcher and rpc.CustomerServer.Establish would, and
// checks both sides land in Ready/Active with matching balances.
func TestEstablishRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	ctx := context.Background()
	zkCtx := zkabacus.DefaultContext()

	customerStore := store.NewMockCustomerStore()
	merchantStore := store.NewMockMerchantStore()
	driver := contract.NewMockDriver()

	mcfg, err := zkabacus.NewMerchantConfig()
	require.NoError(t, err)
	merchant := zkabacus.NewMerchant(mcfg)

	customerSess := session.NewSession(clientConn, 0)
	merchantSess := session.NewSession(serverConn, 0)

	merchantDeps := establish.MerchantDeps{
		Store:     merchantStore,
		Contract:  driver,
		ZkCtx:     zkCtx,
		Merchant:  merchant,
		SelfDelay: 144,
	}
	customerDeps := establish.CustomerDeps{
		Store:             customerStore,
		Contract:          driver,
		ZkCtx:             zkCtx,
		MaxNote:           512,
		ConfirmationDepth: 3,
		SelfDelay:         144,
	}

	merchantLedgerPubkey := []byte("merchant-ledger-pubkey")
	merchantSigningPubkey := mcfg.MerchantPublicKey
	customerLedgerPubkey := []byte("customer-ledger-pubkey")
	customerLedgerSecret := []byte("customer-ledger-secret")
	customerFundingAddress := "tz1customer"
	merchantLedgerAddress := "tz1merchant"

	type result struct {
		channelID zkchannel.ID
		err       error
	}
	merchantDone := make(chan result, 1)
	go func() {
		choice, err := merchantSess.OfferTopLevel()
		if err != nil {
			merchantDone <- result{err: err}
			return
		}
		require.Equal(t, session.ChoiceEstablish, choice)
		channelID, err := establish.RunMerchant(ctx, merchantSess, merchantDeps)
		merchantDone <- result{channelID, err}
	}()

	channelID, err := establish.RunCustomer(ctx, customerSess, customerDeps,
		zkchannel.Label("channel-1"), 5, 0, "",
		customerLedgerPubkey, customerLedgerSecret, customerFundingAddress,
		merchantSigningPubkey, merchantLedgerAddress, merchantLedgerPubkey)
	require.NoError(t, err)
	require.False(t, channelID.IsZero())

	merchResult := <-merchantDone
	require.NoError(t, merchResult.err)
	require.Equal(t, channelID, merchResult.channelID)

	custRow, err := customerStore.FetchChannel(ctx, zkchannel.Label("channel-1"))
	require.NoError(t, err)
	require.Equal(t, zkchannel.VariantReady, custRow.State.Variant())

	merchRow, err := merchantStore.FetchChannel(ctx, channelID)
	require.NoError(t, err)
	require.Equal(t, zkchannel.StatusActive, merchRow.Status)
	require.Equal(t, zkchannel.Balances{CustomerBalance: 5, MerchantBalance: 0}, merchRow.Balances)
}
