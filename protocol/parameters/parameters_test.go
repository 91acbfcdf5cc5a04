package parameters_test

import (
	"crypto/sha256"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boltlabs-inc/zeekoe/protocol/parameters"
	"github.com/boltlabs-inc/zeekoe/session"
	"github.com/boltlabs-inc/zeekoe/zkabacus"
)

func TestRunCustomerAcceptsValidParameters(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	mcfg, err := zkabacus.NewMerchantConfig()
	require.NoError(t, err)

	ledgerPubkey := []byte("merchant-ledger-pubkey")
	digest := sha256.Sum256(ledgerPubkey)
	fundingAddr := fmt.Sprintf("tz1%x", digest[:])

	merchantSess := session.NewSession(serverConn, 0)
	customerSess := session.NewSession(clientConn, 0)

	done := make(chan error, 1)
	go func() {
		done <- parameters.RunMerchant(merchantSess, mcfg, ledgerPubkey, fundingAddr, "tz1")
	}()

	msg, err := parameters.RunCustomer(customerSess, "tz1")
	require.NoError(t, err)
	require.Equal(t, fundingAddr, msg.MerchantFundingAddr)
	require.Equal(t, ledgerPubkey, msg.MerchantLedgerPubkey)
	require.NoError(t, <-done)
}

func TestRunCustomerRejectsWrongAddressFamily(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	mcfg, err := zkabacus.NewMerchantConfig()
	require.NoError(t, err)

	ledgerPubkey := []byte("merchant-ledger-pubkey")
	digest := sha256.Sum256(ledgerPubkey)
	fundingAddr := fmt.Sprintf("tz1%x", digest[:])

	merchantSess := session.NewSession(serverConn, 0)
	customerSess := session.NewSession(clientConn, 0)

	done := make(chan error, 1)
	go func() {
		done <- parameters.RunMerchant(merchantSess, mcfg, ledgerPubkey, fundingAddr, "tz1")
	}()

	_, err = parameters.RunCustomer(customerSess, "tz2")
	require.Error(t, err)
	var invalid session.InvalidParameters
	require.ErrorAs(t, err, &invalid)
	require.NoError(t, <-done)
}
