package zkchannel

// ChannelStatus is the merchant-side channel status enumeration (spec.md
// §3). Unlike the customer side, the merchant never tracks a closing
// message of its own; it derives one at close time from its own zkAbacus
// merchant state, so ChannelStatus is a plain enum rather than a variant
// carrying a payload.
type ChannelStatus string

const (
	StatusOriginated     ChannelStatus = "Originated"
	StatusCustomerFunded ChannelStatus = "CustomerFunded"
	StatusMerchantFunded ChannelStatus = "MerchantFunded"
	StatusActive         ChannelStatus = "Active"
	StatusPendingClose   ChannelStatus = "PendingClose"
	StatusClosed         ChannelStatus = "Closed"
)

// Terminal reports whether s is Closed, from which the merchant has no
// further transition (spec.md invariant I5; the merchant has no Dispute
// state of its own).
func (s ChannelStatus) Terminal() bool {
	return s == StatusClosed
}

func (s ChannelStatus) String() string { return string(s) }
