package session_test

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boltlabs-inc/zeekoe/session"
)

func TestFrameRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		w := session.NewFrameWriter(clientConn, 0)
		require.NoError(t, w.WriteFrame([]byte("hello")))
	}()

	r := session.NewFrameReader(serverConn, 0)
	payload, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "hello", string(payload))
	<-done
}

func TestHandshakeFreshThenResume(t *testing.T) {
	store := session.NewInMemoryResumptionStore()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientSess := session.NewSession(clientConn, 0)
	serverSess := session.NewSession(serverConn, 0)

	errCh := make(chan error, 1)
	go func() { errCh <- clientSess.ClientHandshakeFresh() }()

	resumed, err := serverSess.ServerHandshake(store)
	require.NoError(t, err)
	require.False(t, resumed)
	require.NoError(t, <-errCh)

	require.Equal(t, serverSess.ClientUUID, clientSess.ClientUUID)
	require.Equal(t, serverSess.ServerUUID, clientSess.ServerUUID)
	require.NotEmpty(t, clientSess.ServerUUID)
}

func TestOfferAbortCarriesProtocolError(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverSess := session.NewSession(serverConn, 0)
	clientSess := session.NewSession(clientConn, 0)

	done := make(chan error, 1)
	go func() {
		done <- serverSess.OfferAbort(session.NewInvalidPayProof("balance proof did not verify"))
	}()

	payload, abortErr, err := clientSess.AwaitOffer()
	require.NoError(t, err)
	require.Nil(t, payload)
	require.NotNil(t, abortErr)

	var invalid session.InvalidPayProof
	require.ErrorAs(t, abortErr, &invalid)
	require.Equal(t, "balance proof did not verify", invalid.Detail)
	require.NoError(t, <-done)
}

func TestOfferContinueCarriesPayload(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverSess := session.NewSession(serverConn, 0)
	clientSess := session.NewSession(clientConn, 0)

	type nextStep struct {
		ContractID string `json:"contract_id"`
	}

	done := make(chan error, 1)
	go func() {
		done <- serverSess.OfferContinue(nextStep{ContractID: "KT1abc"})
	}()

	payload, abortErr, err := clientSess.AwaitOffer()
	require.NoError(t, err)
	require.Nil(t, abortErr)

	var step nextStep
	require.NoError(t, json.Unmarshal(payload, &step))
	require.Equal(t, "KT1abc", step.ContractID)
	require.NoError(t, <-done)
}
