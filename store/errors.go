package store

import (
	"errors"
	"fmt"

	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

var (
	// ErrChannelNotFound mirrors channeldb's ErrChannelNoExist for the
	// relational store.
	ErrChannelNotFound = errors.New("store: channel not found")

	// ErrNonceReused is wrapped by the Postgres store's unique-violation
	// classification (classifyPgError). InsertNonce does not return it:
	// it reports an already-recorded nonce as (false, nil).
	ErrNonceReused = errors.New("store: nonce already recorded")

	// ErrConfigNotInitialized guards FetchOrCreateConfig's first-call race:
	// a second racing caller that loses the insert falls back to re-fetch,
	// never to this error, but it is returned if that re-fetch also comes
	// up empty (should not happen outside a broken migration).
	ErrConfigNotInitialized = errors.New("store: merchant config row missing after initialization")
)

// ErrUnexpectedCustomerState is WithChannelState's state-mismatch error,
// carrying the variant actually observed on the row so the caller can
// decide whether the mismatch is benign (e.g. a retried call that already
// advanced).
type ErrUnexpectedCustomerState struct {
	Label    zkchannel.Label
	Expected zkchannel.Variant
	Observed zkchannel.Variant
}

func (e ErrUnexpectedCustomerState) Error() string {
	return fmt.Sprintf("store: channel %s: expected state %s, observed %s",
		e.Label, e.Expected, e.Observed)
}

// ErrUnexpectedMerchantState is the merchant-side analogue.
type ErrUnexpectedMerchantState struct {
	ChannelID zkchannel.ID
	Expected  zkchannel.ChannelStatus
	Observed  zkchannel.ChannelStatus
}

func (e ErrUnexpectedMerchantState) Error() string {
	return fmt.Sprintf("store: channel %s: expected status %s, observed %s",
		e.ChannelID, e.Expected, e.Observed)
}
