package zkabacus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

func TestEstablishActivatePayClose(t *testing.T) {
	ctx := DefaultContext()
	mcfg, err := NewMerchantConfig()
	require.NoError(t, err)
	merchant := NewMerchant(mcfg)

	channelID := zkchannel.DeriveID([]byte("mr"), []byte("cr"), []byte("msk"), []byte("clk"), []byte("mlk"))
	bal := zkchannel.Balances{CustomerBalance: 5, MerchantBalance: 0}

	requested, proof, err := New(mcfg.PublicConfig(), channelID, bal.MerchantBalance, bal.CustomerBalance, ctx)
	require.NoError(t, err)

	sig, _, ok := merchant.Initialize(ctx, channelID, bal, proof)
	require.True(t, ok)

	inactive, err := requested.Complete(sig, mcfg.PublicConfig())
	require.NoError(t, err)

	// Stand-in activation token: in the real protocol this comes from
	// a merchant-side Activate call not specified beyond spec.md §4.E.2
	// step 9's high level description; we construct the structurally
	// valid token directly since no separate Activate method is named
	// in spec.md §4.D for the merchant side.
	token := PayToken{ChannelID: channelID, Balances: bal, Tag: []byte{1}}
	ready, err := inactive.Activate(token, mcfg.PublicConfig())
	require.NoError(t, err)
	require.Equal(t, bal, ready.Balances())

	started, startMsg, err := ready.Start(2, ctx)
	require.NoError(t, err)
	require.NotEmpty(t, startMsg.Nonce)

	unrevoked, paySig, ok := merchant.AllowPayment(ctx, channelID, bal, 2, startMsg.Nonce, startMsg)
	require.True(t, ok)

	locked, lockMsg, err := started.Lock(paySig, ctx)
	require.NoError(t, err)

	newToken, err := unrevoked.CompletePayment(merchant, lockMsg.RevocationLock, lockMsg.RevocationSecret, lockMsg.RevocationBlinder)
	require.NoError(t, err)

	readyAgain, err := locked.Unlock(newToken)
	require.NoError(t, err)

	want := bal.ApplyPayment(2)
	require.Equal(t, want, readyAgain.Balances())

	closeMsg, err := readyAgain.Close(ctx)
	require.NoError(t, err)
	require.Equal(t, want, closeMsg.Balances)
}

func TestCompletePaymentRejectsBadOpening(t *testing.T) {
	mcfg, err := NewMerchantConfig()
	require.NoError(t, err)
	merchant := NewMerchant(mcfg)

	u := Unrevoked{channelID: zkchannel.ID{1}, newBalances: zkchannel.Balances{CustomerBalance: 3, MerchantBalance: 2}}
	_, err = u.CompletePayment(merchant, []byte("lock"), []byte("secret"), []byte("blinder"))
	require.ErrorIs(t, err, Invalid)
}

func TestLockedUnlockFreezesOnBadToken(t *testing.T) {
	l := Locked{channelID: zkchannel.ID{1}, newBalances: zkchannel.Balances{CustomerBalance: 3, MerchantBalance: 2}}
	_, err := l.Unlock(PayToken{ChannelID: zkchannel.ID{9}})
	require.ErrorIs(t, err, Frozen)
}
