// Package store defines the per-side persistent mapping from a channel
// label or id to its durable row (spec.md §4.C): label/address, contract
// details, state, and closing balances. CustomerStore and MerchantStore are
// the only interfaces the protocol engine and FSM are allowed to mutate
// state through; WithChannelState is the sole compare-and-swap entry point.
package store

import (
	"context"

	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

// CustomerRow is a customer-side channel's durable row. Balances is the
// channel's current (last-signed) balance pair, advanced atomically with
// State by WithChannelState whenever a CustomerMutator returns new ones
// (spec.md §4.E.3: a payment's new balances and its state transition are
// one commit, never two).
type CustomerRow struct {
	Label           zkchannel.Label
	ChannelID       zkchannel.ID
	Contract        zkchannel.ContractDetails
	State           zkchannel.State
	Balances        zkchannel.Balances
	ClosingBalances zkchannel.ClosingBalances
}

// MerchantRow is a merchant-side channel's durable row.
type MerchantRow struct {
	ChannelID       zkchannel.ID
	Contract        zkchannel.ContractDetails
	Status          zkchannel.ChannelStatus
	Balances        zkchannel.Balances
	ClosingBalances zkchannel.ClosingBalances
}

// CustomerMutator is the function `f` passed to WithChannelState: it
// receives the verified-current state and balances and returns the new
// state and balances to write, plus an arbitrary result to hand back to
// the caller. It must not perform long-running or network work (spec.md
// §4.C): that work belongs before or after the WithChannelState call,
// never inside it.
type CustomerMutator func(current zkchannel.State, balances zkchannel.Balances) (next zkchannel.State, nextBalances zkchannel.Balances, out any, err error)

// MerchantMutator is MerchantStore's analogue of CustomerMutator.
type MerchantMutator func(current zkchannel.ChannelStatus, balances zkchannel.Balances) (next zkchannel.ChannelStatus, nextBalances zkchannel.Balances, out any, err error)

// CustomerStore is the customer daemon's persistence boundary.
type CustomerStore interface {
	// WithChannelState opens a single transaction that reads the row for
	// label, requires its state's Variant to equal expected or fails with
	// ErrUnexpectedCustomerState carrying the observed variant, runs f, writes
	// the returned state and balances, and commits.
	WithChannelState(ctx context.Context, label zkchannel.Label, expected zkchannel.Variant, f CustomerMutator) (out any, err error)

	NewChannel(ctx context.Context, label zkchannel.Label, channelID zkchannel.ID, contract zkchannel.ContractDetails, balances zkchannel.Balances) error
	UpdateClosingBalances(ctx context.Context, label zkchannel.Label, cb zkchannel.ClosingBalances) error
	InsertContractID(ctx context.Context, label zkchannel.Label, contractID string) error

	FetchChannel(ctx context.Context, label zkchannel.Label) (CustomerRow, error)
	ListChannels(ctx context.Context) ([]CustomerRow, error)
}

// MerchantStore is the merchant daemon's persistence boundary.
type MerchantStore interface {
	WithChannelState(ctx context.Context, channelID zkchannel.ID, expected zkchannel.ChannelStatus, f MerchantMutator) (out any, err error)

	NewChannel(ctx context.Context, channelID zkchannel.ID, contract zkchannel.ContractDetails, balances zkchannel.Balances) error
	UpdateClosingBalances(ctx context.Context, channelID zkchannel.ID, cb zkchannel.ClosingBalances) error
	InsertContractID(ctx context.Context, channelID zkchannel.ID, contractID string) error

	FetchChannel(ctx context.Context, channelID zkchannel.ID) (MerchantRow, error)
	ListChannels(ctx context.Context) ([]MerchantRow, error)

	// InsertNonce reports true on first insertion of n, false on reuse
	// (spec.md §4.C).
	InsertNonce(ctx context.Context, nonce []byte) (bool, error)

	// InsertRevocationPair records (lock, secret) and returns every prior
	// secret recorded against lock before this insertion (nil entries for
	// prior insertions that carried no secret), matching
	// `Vec<Option<secret>>` (spec.md §4.C).
	InsertRevocationPair(ctx context.Context, lock []byte, secret []byte) ([][]byte, error)

	// FetchOrCreateConfig initializes the singleton merchant keypair and
	// public parameters on first call and returns the same values
	// thereafter.
	FetchOrCreateConfig(ctx context.Context, init func() (MerchantConfig, error)) (MerchantConfig, error)
}

// MerchantConfig is the merchant's singleton keypair and public parameters,
// created once by FetchOrCreateConfig and reused across restarts.
type MerchantConfig struct {
	SigningPublicKey []byte
	SigningSecretKey []byte
	LedgerPublicKey  []byte
	LedgerSecretKey  []byte
	CommitmentParams []byte
	RangeProofParams []byte
}
