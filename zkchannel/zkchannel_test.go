package zkchannel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBalancesApplyPayment(t *testing.T) {
	b := Balances{CustomerBalance: 5, MerchantBalance: 0}

	full := b.ApplyPayment(5)
	require.Equal(t, Amount(0), full.CustomerBalance)
	require.Equal(t, Amount(5), full.MerchantBalance)
	require.Equal(t, b.Total(), full.Total())

	refund := full.ApplyPayment(-2)
	require.Equal(t, Amount(2), refund.CustomerBalance)
	require.Equal(t, Amount(3), refund.MerchantBalance)
}

func TestBalancesAffordable(t *testing.T) {
	b := Balances{CustomerBalance: 5, MerchantBalance: 0}
	require.True(t, b.Affordable(5))
	require.False(t, b.Affordable(6))
}

func TestClosingBalancesMonotone(t *testing.T) {
	var cb ClosingBalances

	_, err := cb.SetCustomerPayout(4)
	require.ErrorIs(t, err, ErrMerchantPayoutMissing)

	cb, err = cb.SetMerchantPayout(1)
	require.NoError(t, err)

	_, err = cb.SetMerchantPayout(2)
	require.ErrorIs(t, err, ErrPayoutAlreadySet)

	cb, err = cb.SetCustomerPayout(4)
	require.NoError(t, err)

	_, err = cb.SetCustomerPayout(5)
	require.ErrorIs(t, err, ErrPayoutAlreadySet)
}

func TestDeriveIDDeterministic(t *testing.T) {
	id1 := DeriveID([]byte("mr"), []byte("cr"), []byte("msk"), []byte("clk"), []byte("mlk"))
	id2 := DeriveID([]byte("mr"), []byte("cr"), []byte("msk"), []byte("clk"), []byte("mlk"))
	require.Equal(t, id1, id2)

	id3 := DeriveID([]byte("mr"), []byte("CHANGED"), []byte("msk"), []byte("clk"), []byte("mlk"))
	require.NotEqual(t, id1, id3)
}

func TestPendingPaymentMustWrapReady(t *testing.T) {
	_, err := NewPendingPayment(NewStarted())
	require.Error(t, err)

	ready := NewReady()
	pending, err := NewPendingPayment(ready)
	require.NoError(t, err)

	base, ok := pending.Base()
	require.True(t, ok)
	require.Equal(t, VariantReady, base.Variant())
}

func TestTerminalAndUncloseable(t *testing.T) {
	msg := ClosingMessage{}
	require.True(t, NewClosed(msg).Terminal())
	require.True(t, NewDispute(msg).Terminal())
	require.False(t, NewReady().Terminal())

	require.True(t, NewClosed(msg).Uncloseable())
	require.True(t, NewPendingClose(msg).Uncloseable())
	require.False(t, NewReady().Uncloseable())
}
