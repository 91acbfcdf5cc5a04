package zkabacus

import (
	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

// VerifiedBlindedState is the merchant-side witness that a given
// (channel id, balances) pair has a valid matching customer proof; it is
// sent alongside the ClosingSignature at Initialize so the customer's
// Requested.Complete can be checked against something the merchant
// actually produced (spec.md §4.D).
type VerifiedBlindedState struct {
	ChannelID zkchannel.ID
	Balances  zkchannel.Balances
}

// Merchant holds the merchant's half of the zkAbacus keypair/config. It
// corresponds to the spec's "merchant" receiver for Initialize and
// AllowPayment. The zero value is not usable; construct with NewMerchant.
type Merchant struct {
	cfg Config
}

// NewMerchant wraps a merchant Config (as produced by NewMerchantConfig)
// for use as the receiver of Initialize/AllowPayment.
func NewMerchant(cfg Config) Merchant { return Merchant{cfg: cfg} }

// Initialize verifies the customer's EstablishProof and, on success,
// returns a ClosingSignature over the initial balances plus the
// VerifiedBlindedState witness (spec.md §4.D "merchant.initialize"). A nil
// return (ok=false) means the proof did not verify; the caller maps this
// onto InvalidEstablishProof (spec.md §7).
func (m Merchant) Initialize(ctx Context, channelID zkchannel.ID,
	balances zkchannel.Balances, proof EstablishProof) (ClosingSignature, VerifiedBlindedState, bool) {

	if proof.ChannelID != channelID || proof.Balances != balances || len(proof.Proof) == 0 {
		return ClosingSignature{}, VerifiedBlindedState{}, false
	}

	sig := ClosingSignature{
		ChannelID: channelID,
		Balances:  balances,
		Tag:       sign(m.cfg.merchantSigningSecret, closeDigest(channelID, balances)),
	}
	return sig, VerifiedBlindedState{ChannelID: channelID, Balances: balances}, true
}

// AllowPayment verifies the customer's pay-proof for a requested balance
// change and, on success, returns the Unrevoked state (awaiting the
// customer's revocation opening) plus the new ClosingSignature (spec.md
// §4.D "merchant.allow_payment", §4.E.3 step 2). The nonce itself is
// recorded by the caller via store.MerchantStore.InsertNonce -- this
// method only checks the payment's cryptographic validity.
func (m Merchant) AllowPayment(ctx Context, channelID zkchannel.ID,
	oldBalances zkchannel.Balances, amount zkchannel.PaymentAmount,
	nonce []byte, msg StartMessage) (Unrevoked, ClosingSignature, bool) {

	if len(nonce) == 0 || len(msg.PayProof) == 0 {
		return Unrevoked{}, ClosingSignature{}, false
	}
	newBalances := oldBalances.ApplyPayment(amount)
	if newBalances.CustomerBalance < 0 || newBalances.MerchantBalance < 0 {
		return Unrevoked{}, ClosingSignature{}, false
	}

	sig := ClosingSignature{
		ChannelID: channelID,
		Balances:  newBalances,
		Tag:       sign(m.cfg.merchantSigningSecret, closeDigest(channelID, newBalances)),
	}
	return Unrevoked{
		channelID:   channelID,
		newBalances: newBalances,
	}, sig, true
}

// Activate issues the pay token that authorizes a customer to spend at
// channelID/balances once Initialize's ClosingSignature has been locked in
// (spec.md §4.E.2 step 9, §4.D "merchant.activate").
func (m Merchant) Activate(channelID zkchannel.ID, balances zkchannel.Balances) PayToken {
	return PayToken{
		ChannelID: channelID,
		Balances:  balances,
		Tag:       sign(m.cfg.merchantSigningSecret, closeDigest(channelID, balances)),
	}
}

// Unrevoked is the merchant's state between sending a new ClosingSignature
// and receiving the customer's revocation opening for the state it
// replaces (spec.md §3, §4.D).
type Unrevoked struct {
	channelID   zkchannel.ID
	newBalances zkchannel.Balances
}

// CompletePayment verifies the revealed revocation pair opens the
// commitment sent in the corresponding LockMessage and, on success,
// returns the new PayToken (spec.md §4.E.3 step 5, §4.D
// "Unrevoked.complete_payment"). The caller is responsible for calling
// store.MerchantStore.InsertRevocationPair and rejecting a non-empty prior
// list *before* calling this -- CompletePayment only checks the opening
// itself.
func (u Unrevoked) CompletePayment(m Merchant, revLock, revSecret, revBlinder []byte) (PayToken, error) {
	if len(revLock) == 0 || len(revSecret) == 0 || len(revBlinder) == 0 {
		return PayToken{}, Invalid
	}
	expected := hmac256(revSecret, revBlinder)
	if !bytesEqual(expected, revLock) {
		return PayToken{}, Invalid
	}

	return PayToken{
		ChannelID: u.channelID,
		Balances:  u.newBalances,
		Tag:       sign(m.cfg.merchantSigningSecret, closeDigest(u.channelID, u.newBalances)),
	}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
