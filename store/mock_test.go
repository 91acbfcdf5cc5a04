package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boltlabs-inc/zeekoe/store"
	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

func TestMockCustomerStoreWithChannelStateCAS(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockCustomerStore()

	label := zkchannel.Label("alice-coffee-shop")
	channelID := zkchannel.ID{1, 2, 3}
	balances := zkchannel.Balances{CustomerBalance: 1000, MerchantBalance: 0}
	require.NoError(t, s.NewChannel(ctx, label, channelID, zkchannel.ContractDetails{}, balances))

	_, err := s.WithChannelState(ctx, label, zkchannel.VariantInactive,
		func(current zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			return zkchannel.NewOriginated(), bal, nil, nil
		})
	require.NoError(t, err)

	row, err := s.FetchChannel(ctx, label)
	require.NoError(t, err)
	require.Equal(t, zkchannel.VariantOriginated, row.State.Variant())
	require.Equal(t, balances, row.Balances)

	_, err = s.WithChannelState(ctx, label, zkchannel.VariantInactive,
		func(current zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			return zkchannel.NewOriginated(), bal, nil, nil
		})
	require.Error(t, err)
	var mismatch store.ErrUnexpectedCustomerState
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, zkchannel.VariantOriginated, mismatch.Observed)
}

func TestMockCustomerStoreUnknownChannel(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockCustomerStore()
	_, err := s.WithChannelState(ctx, "nonexistent", zkchannel.VariantInactive, nil)
	require.ErrorIs(t, err, store.ErrChannelNotFound)
}

func TestMockMerchantStoreInsertNonce(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockMerchantStore()

	first, err := s.InsertNonce(ctx, []byte("nonce-1"))
	require.NoError(t, err)
	require.True(t, first)

	second, err := s.InsertNonce(ctx, []byte("nonce-1"))
	require.NoError(t, err)
	require.False(t, second)
}

func TestMockMerchantStoreInsertRevocationPair(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockMerchantStore()

	lock := []byte("lock-a")

	prior, err := s.InsertRevocationPair(ctx, lock, nil)
	require.NoError(t, err)
	require.Empty(t, prior)

	prior, err = s.InsertRevocationPair(ctx, lock, []byte("secret-1"))
	require.NoError(t, err)
	require.Len(t, prior, 1)
	require.Nil(t, prior[0])

	prior, err = s.InsertRevocationPair(ctx, lock, []byte("secret-2"))
	require.NoError(t, err)
	require.Len(t, prior, 2)
	require.Equal(t, []byte("secret-1"), prior[1])
}

func TestMockMerchantStoreFetchOrCreateConfigIsSingleton(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockMerchantStore()

	calls := 0
	init := func() (store.MerchantConfig, error) {
		calls++
		return store.MerchantConfig{SigningPublicKey: []byte("pk")}, nil
	}

	first, err := s.FetchOrCreateConfig(ctx, init)
	require.NoError(t, err)
	second, err := s.FetchOrCreateConfig(ctx, init)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, calls)
}
