package zkchannel

import "fmt"

// Variant names the tag of a customer-side State, used by the store's
// WithChannelState as the "expected_variant" to compare-and-swap against,
// and by the FSM as the key into its transition table.
type Variant string

const (
	VariantInactive             Variant = "Inactive"
	VariantOriginated           Variant = "Originated"
	VariantCustomerFunded       Variant = "CustomerFunded"
	VariantMerchantFunded       Variant = "MerchantFunded"
	VariantReady                Variant = "Ready"
	VariantPendingPayment       Variant = "PendingPayment"
	VariantStarted              Variant = "Started"
	VariantStartedFailed        Variant = "StartedFailed"
	VariantLocked               Variant = "Locked"
	VariantLockedFailed         Variant = "LockedFailed"
	VariantPendingMutualClose   Variant = "PendingMutualClose"
	VariantPendingExpiry        Variant = "PendingExpiry"
	VariantPendingClose         Variant = "PendingClose"
	VariantPendingCustomerClaim Variant = "PendingCustomerClaim"
	VariantDispute              Variant = "Dispute"
	VariantClosed               Variant = "Closed"
)

// State is the closed tagged variant of the customer-side channel state
// (spec.md §3). Rather than model this with inheritance, each non-trivial
// variant carries exactly the payload spec.md assigns it; all others carry
// none. Construct values with the New* helpers, never the zero value,
// so that Variant() always matches the populated payload.
type State struct {
	variant Variant

	// pendingBase is populated only for VariantPendingPayment, which
	// wraps the Ready state it will return to on success or failure.
	pendingBase *State

	// closing is populated for every "Pending*"/Dispute/Closed variant,
	// all of which carry a ClosingMessage (spec.md §3).
	closing *ClosingMessage
}

// Variant reports the tag of this state.
func (s State) Variant() Variant { return s.variant }

// NewInactive constructs the initial post-zkAbacus-complete state.
func NewInactive() State { return State{variant: VariantInactive} }

// NewOriginated constructs the state reached once the contract driver
// reports Applied for Originate.
func NewOriginated() State { return State{variant: VariantOriginated} }

// NewCustomerFunded constructs the state reached after the customer's
// on-chain deposit is applied.
func NewCustomerFunded() State { return State{variant: VariantCustomerFunded} }

// NewMerchantFunded constructs the state reached once both deposits (or
// just the customer's, if merchant_deposit == 0) are confirmed.
func NewMerchantFunded() State { return State{variant: VariantMerchantFunded} }

// NewReady constructs the payable, closeable steady state.
func NewReady() State { return State{variant: VariantReady} }

// NewPendingPayment wraps the Ready state a payment attempt started from,
// so that a failed Pay can restore it exactly (spec.md scenario 5).
func NewPendingPayment(base State) (State, error) {
	if base.variant != VariantReady {
		return State{}, fmt.Errorf(
			"zkchannel: PendingPayment must wrap Ready, got %s", base.variant)
	}
	return State{variant: VariantPendingPayment, pendingBase: &base}, nil
}

// Base returns the Ready state wrapped by a PendingPayment, or the zero
// State and false if this is not a PendingPayment.
func (s State) Base() (State, bool) {
	if s.variant != VariantPendingPayment || s.pendingBase == nil {
		return State{}, false
	}
	return *s.pendingBase, true
}

// NewStarted constructs the state after Ready.start (spec.md §4.E.3 step 2).
func NewStarted() State { return State{variant: VariantStarted} }

// NewStartedFailed marks a payment frozen after an invalid closing
// signature (spec.md §4.E.3 step 4); still closeable, never payable again.
func NewStartedFailed() State { return State{variant: VariantStartedFailed} }

// NewLocked constructs the state after Started.lock succeeds.
func NewLocked() State { return State{variant: VariantLocked} }

// NewLockedFailed marks a payment frozen after an invalid pay token
// (spec.md §4.E.3 step 6); closeable on the latest signed state only.
func NewLockedFailed() State { return State{variant: VariantLockedFailed} }

// closingVariant builds any of the Closing-message-carrying variants.
func closingVariant(v Variant, msg ClosingMessage) State {
	return State{variant: v, closing: &msg}
}

func NewPendingMutualClose(msg ClosingMessage) State {
	return closingVariant(VariantPendingMutualClose, msg)
}
func NewPendingExpiry(msg ClosingMessage) State {
	return closingVariant(VariantPendingExpiry, msg)
}
func NewPendingClose(msg ClosingMessage) State {
	return closingVariant(VariantPendingClose, msg)
}
func NewPendingCustomerClaim(msg ClosingMessage) State {
	return closingVariant(VariantPendingCustomerClaim, msg)
}
func NewDispute(msg ClosingMessage) State {
	return closingVariant(VariantDispute, msg)
}
func NewClosed(msg ClosingMessage) State {
	return closingVariant(VariantClosed, msg)
}

// ClosingMessage returns the wrapped closing message and true, for any
// variant that carries one; otherwise the zero value and false.
func (s State) ClosingMessage() (ClosingMessage, bool) {
	if s.closing == nil {
		return ClosingMessage{}, false
	}
	return *s.closing, true
}

// Terminal reports whether s is Closed or Dispute, from which no
// transition function may leave (spec.md invariants I5, P4).
func (s State) Terminal() bool {
	return s.variant == VariantClosed || s.variant == VariantDispute
}

// Uncloseable reports whether a zkabacus Close must reject this state
// (spec.md §4.D): PendingClose, PendingExpiry, PendingCustomerClaim,
// Dispute, and Closed cannot derive a further closing message.
func (s State) Uncloseable() bool {
	switch s.variant {
	case VariantPendingClose, VariantPendingExpiry,
		VariantPendingCustomerClaim, VariantDispute, VariantClosed:
		return true
	default:
		return false
	}
}

// PendingCloseFamily reports whether s is any of the unilateral-close
// pending variants the watcher rule table groups together (spec.md §4.G).
func (s State) PendingCloseFamily() bool {
	switch s.variant {
	case VariantPendingExpiry, VariantPendingClose, VariantPendingCustomerClaim:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	return string(s.variant)
}
