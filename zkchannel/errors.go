package zkchannel

import "errors"

// Sentinel errors for the data-model package, in the style of
// channeldb/error.go's package-level Err* variables.
var (
	ErrPayoutAlreadySet      = errors.New("zkchannel: payout already recorded, cannot overwrite")
	ErrMerchantPayoutMissing = errors.New("zkchannel: merchant payout must be set before customer payout")
	ErrNoteTooLong           = errors.New("zkchannel: note exceeds configured max_note_length")
)
