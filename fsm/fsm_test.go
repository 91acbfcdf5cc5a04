package fsm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boltlabs-inc/zeekoe/fsm"
	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

func TestAllowedWalksEstablishHappyPath(t *testing.T) {
	steps := []struct {
		from    zkchannel.Variant
		trigger fsm.Trigger
		to      zkchannel.Variant
	}{
		{zkchannel.VariantInactive, fsm.TriggerEstablishOriginate, zkchannel.VariantOriginated},
		{zkchannel.VariantOriginated, fsm.TriggerEstablishCustFund, zkchannel.VariantCustomerFunded},
		{zkchannel.VariantCustomerFunded, fsm.TriggerEstablishMerchFund, zkchannel.VariantMerchantFunded},
		{zkchannel.VariantMerchantFunded, fsm.TriggerEstablishActivate, zkchannel.VariantReady},
	}
	for _, step := range steps {
		to, ok := fsm.Allowed(step.from, step.trigger)
		require.True(t, ok, "trigger %s from %s", step.trigger, step.from)
		require.Equal(t, step.to, to)
	}
}

func TestAllowedRejectsForbiddenTrigger(t *testing.T) {
	_, ok := fsm.Allowed(zkchannel.VariantClosed, fsm.TriggerEstablishOriginate)
	require.False(t, ok)
}

func TestAllowedExpiry(t *testing.T) {
	require.True(t, fsm.AllowedExpiry(zkchannel.NewReady()))
	require.True(t, fsm.AllowedExpiry(zkchannel.NewStarted()))

	closingMsg := zkchannel.ClosingMessage{}
	require.False(t, fsm.AllowedExpiry(zkchannel.NewPendingClose(closingMsg)))
	require.False(t, fsm.AllowedExpiry(zkchannel.NewClosed(closingMsg)))
}

func TestMerchantAllowedWalksEstablishHappyPath(t *testing.T) {
	steps := []struct {
		from    zkchannel.ChannelStatus
		trigger fsm.MerchantTrigger
		to      zkchannel.ChannelStatus
	}{
		{zkchannel.StatusOriginated, fsm.MerchantTriggerCustFund, zkchannel.StatusCustomerFunded},
		{zkchannel.StatusCustomerFunded, fsm.MerchantTriggerMerchFund, zkchannel.StatusMerchantFunded},
		{zkchannel.StatusMerchantFunded, fsm.MerchantTriggerActivate, zkchannel.StatusActive},
	}
	for _, step := range steps {
		to, ok := fsm.MerchantAllowed(step.from, step.trigger)
		require.True(t, ok)
		require.Equal(t, step.to, to)
	}
}

func TestRequireCloseableRejectsUncloseableStates(t *testing.T) {
	msg := zkchannel.ClosingMessage{}
	require.Error(t, fsm.RequireCloseable(zkchannel.NewClosed(msg)))
	require.NoError(t, fsm.RequireCloseable(zkchannel.NewReady()))
}
