package zkchannel

// ContractDetails names the escrow contract backing a channel on the
// ledger. ContractID is absent (nil) until origination has been confirmed
// by the contract driver (spec.md §3).
type ContractDetails struct {
	ContractID             *string
	MerchantLedgerPubkey   []byte
	MerchantFundingAddress string
}

// HasContractID reports whether origination has completed.
func (c ContractDetails) HasContractID() bool {
	return c.ContractID != nil && *c.ContractID != ""
}

// ClosingBalances is written monotonically as payouts are observed on
// chain: MerchantPayout is always set before CustomerPayout and neither is
// ever overwritten once set (spec.md invariant I6, property P5).
type ClosingBalances struct {
	MerchantPayout *Amount
	CustomerPayout *Amount
}

// SetMerchantPayout returns a copy of cb with MerchantPayout set, refusing
// to overwrite an existing value.
func (cb ClosingBalances) SetMerchantPayout(amt Amount) (ClosingBalances, error) {
	if cb.MerchantPayout != nil {
		return cb, ErrPayoutAlreadySet
	}
	cb.MerchantPayout = &amt
	return cb, nil
}

// SetCustomerPayout returns a copy of cb with CustomerPayout set. It
// enforces I6: the merchant payout must already be recorded, and the
// customer payout must not already be set.
func (cb ClosingBalances) SetCustomerPayout(amt Amount) (ClosingBalances, error) {
	if cb.MerchantPayout == nil {
		return cb, ErrMerchantPayoutMissing
	}
	if cb.CustomerPayout != nil {
		return cb, ErrPayoutAlreadySet
	}
	cb.CustomerPayout = &amt
	return cb, nil
}

// Note is an opaque, length-bounded annotation attached to an Establish
// request, a Pay request, or a Pay response. The bound itself (max_note_length) lives in
// configuration, not here; Validate is called by the protocol engine with
// the configured limit.
type Note string

// Validate reports whether the note respects maxLen.
func (n Note) Validate(maxLen int) error {
	if len(n) > maxLen {
		return ErrNoteTooLong
	}
	return nil
}
