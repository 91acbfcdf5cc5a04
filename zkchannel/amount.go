package zkchannel

import "fmt"

// Amount is a non-negative integer quantity denominated in the ledger's
// smallest unit (e.g. mutez on Tezos). It is the unit for CustomerBalance
// and MerchantBalance.
//
// Grounded on original_source/src/amount.rs: the original keeps amounts as
// a newtype over a signed integer paired with a currency tag so a
// refund (negative payment_amount) and a balance (always non-negative)
// share one representation without risking silent truncation.
type Amount int64

// String renders an amount the way the CLI and logs report balances.
func (a Amount) String() string {
	return fmt.Sprintf("%d", int64(a))
}

// PaymentAmount is a signed integer amount: a positive value pays the
// merchant, a negative value is a refund from merchant to customer (spec.md
// §4.E.3 step 1).
type PaymentAmount int64

// IsRefund reports whether this payment flows from merchant to customer.
func (p PaymentAmount) IsRefund() bool { return p < 0 }

// Balances holds the two non-negative balances whose sum is conserved
// across every legal off-chain transition (spec.md invariant I2).
type Balances struct {
	CustomerBalance Amount
	MerchantBalance Amount
}

// Total returns the conserved sum of both balances.
func (b Balances) Total() Amount {
	return b.CustomerBalance + b.MerchantBalance
}

// ApplyPayment returns the balances that result from applying amt (signed,
// see PaymentAmount) to b, without mutating b. It does not check for
// negative results; callers must reject an amount that would overdraw
// before calling this (spec.md scenario 5, "overpayment").
func (b Balances) ApplyPayment(amt PaymentAmount) Balances {
	return Balances{
		CustomerBalance: b.CustomerBalance - Amount(amt),
		MerchantBalance: b.MerchantBalance + Amount(amt),
	}
}

// Affordable reports whether the customer can cover amt without its
// balance going negative.
func (b Balances) Affordable(amt PaymentAmount) bool {
	return int64(b.CustomerBalance)-int64(amt) >= 0
}
