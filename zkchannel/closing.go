package zkchannel

// ClosingMessage is the signed off-chain state a party can publish to
// unilaterally close a channel on the latest balances (see GLOSSARY). It is
// produced by the zkAbacus adapter (the Close methods of zkabacus.Ready,
// Started, and Locked, and zkabacus.CloseFromBalances) and consumed by the
// contract driver's CustClose entrypoint and by the mutual close in
// protocol/close.
//
// The cryptographic contents (blinded signature, revocation commitment) are
// opaque to this package; only the fields the core protocol and the
// contract driver need to read are named here.
type ClosingMessage struct {
	ChannelID       ID
	Balances        Balances
	CloseSignature  []byte
	RevocationLock  []byte
	// Random is fresh randomness drawn when deriving this message from a
	// non-Ready state (spec.md §4.D: "any other state ... can
	// additionally derive a ClosingMessage by drawing fresh randomness").
	Random []byte
}

// MutualCloseAuthorizationContext is the fixed message the merchant signs
// over when authorizing a mutual close (spec.md §4.E.4 step 3):
// (channel_id, "zkChannels mutual close", contract_id, customer_balance,
// merchant_balance).
type MutualCloseAuthorizationContext struct {
	ChannelID  ID
	ContractID string
	Balances   Balances
}

// MutualCloseTag is the fixed domain-separation string signed alongside the channel
// id, contract id, and balances when authorizing a mutual close.
const MutualCloseTag = "zkChannels mutual close"
