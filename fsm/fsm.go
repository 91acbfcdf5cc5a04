// Package fsm implements the channel state+trigger table (spec.md §4.F):
// given the current customer or merchant state and a named trigger (a user
// command, an incoming protocol message, or a watcher observation), it
// reports whether the transition is legal and, if so, what it permits.
// Every actual mutation still runs inside store.WithChannelState; this
// package only answers "is trigger T legal from state S", the way a future
// operator CLI or the protocol engine can consult `fsm.Transitions` instead
// of duplicating the table in scattered conditionals.
package fsm

import (
	"fmt"

	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

// Trigger names a customer-side transition cause: a user command, an
// incoming protocol message, or a watcher observation.
type Trigger string

const (
	TriggerEstablishOriginate     Trigger = "establish:originate"
	TriggerEstablishCustFund      Trigger = "establish:customer_fund"
	TriggerEstablishMerchFund     Trigger = "establish:merchant_fund_observed"
	TriggerEstablishActivate      Trigger = "establish:activate"
	TriggerPayStart               Trigger = "pay:start"
	TriggerPayLockOK              Trigger = "pay:lock_ok"
	TriggerPayLockInvalid         Trigger = "pay:lock_invalid"
	TriggerPayUnlockOK            Trigger = "pay:unlock_ok"
	TriggerPayUnlockInvalid       Trigger = "pay:unlock_invalid"
	TriggerCloseMutual            Trigger = "close:mutual"
	TriggerCloseUnilateral        Trigger = "close:unilateral"
	TriggerWatcherExpiry          Trigger = "watcher:expiry"
	TriggerWatcherCustomerClaim   Trigger = "watcher:customer_claim"
	TriggerWatcherDisputeFinalize Trigger = "watcher:dispute_finalize"
	TriggerWatcherExpiryFinalize  Trigger = "watcher:expiry_finalize"
	TriggerWatcherMutualFinalize  Trigger = "watcher:mutual_finalize"
	TriggerWatcherClaimFinalize   Trigger = "watcher:claim_finalize"
	TriggerWatcherClaimRevert     Trigger = "watcher:claim_revert"
)

// Transition names the single legal destination variant for a (state,
// trigger) pair in the customer table. Some triggers route to more than one
// destination depending on runtime data (e.g. MerchantFunded depends on
// whether merchant_deposit was zero); those are resolved by the caller, not
// this table -- the table only says the trigger is legal from that state.
type Transition struct {
	From    zkchannel.Variant
	Trigger Trigger
	To      zkchannel.Variant
}

// Transitions is the customer-side state+trigger table (spec.md §4.F),
// exported so the protocol engine, the FSM guard below, and any future
// operator tooling share one source of truth instead of duplicating it.
var Transitions = []Transition{
	{zkchannel.VariantInactive, TriggerEstablishOriginate, zkchannel.VariantOriginated},
	{zkchannel.VariantOriginated, TriggerEstablishCustFund, zkchannel.VariantCustomerFunded},
	{zkchannel.VariantCustomerFunded, TriggerEstablishMerchFund, zkchannel.VariantMerchantFunded},
	{zkchannel.VariantMerchantFunded, TriggerEstablishActivate, zkchannel.VariantReady},

	{zkchannel.VariantReady, TriggerPayStart, zkchannel.VariantPendingPayment},
	{zkchannel.VariantPendingPayment, TriggerPayLockOK, zkchannel.VariantLocked},
	{zkchannel.VariantPendingPayment, TriggerPayLockInvalid, zkchannel.VariantStartedFailed},
	{zkchannel.VariantLocked, TriggerPayUnlockOK, zkchannel.VariantReady},
	{zkchannel.VariantLocked, TriggerPayUnlockInvalid, zkchannel.VariantLockedFailed},

	{zkchannel.VariantPendingCustomerClaim, TriggerWatcherClaimFinalize, zkchannel.VariantClosed},
	{zkchannel.VariantPendingCustomerClaim, TriggerWatcherClaimRevert, zkchannel.VariantPendingClose},
	{zkchannel.VariantPendingClose, TriggerWatcherCustomerClaim, zkchannel.VariantPendingCustomerClaim},
	{zkchannel.VariantPendingClose, TriggerWatcherDisputeFinalize, zkchannel.VariantClosed},
	{zkchannel.VariantPendingClose, TriggerWatcherExpiryFinalize, zkchannel.VariantClosed},
	{zkchannel.VariantPendingMutualClose, TriggerWatcherMutualFinalize, zkchannel.VariantClosed},
}

// AllowedExpiry reports whether TriggerWatcherExpiry may fire from s: the
// watcher rule table permits it from any state except the PendingClose
// family, PendingMutualClose, and the terminal states (spec.md §4.G), rather than from one
// fixed predecessor, so it is not representable as a single Transitions
// row.
func AllowedExpiry(s zkchannel.State) bool {
	return !s.PendingCloseFamily() && !s.Terminal() && s.Variant() != zkchannel.VariantPendingMutualClose
}

// Allowed reports whether trigger t is legal from customer state s,
// returning the single deterministic destination when the table names
// exactly one.
func Allowed(s zkchannel.Variant, t Trigger) (zkchannel.Variant, bool) {
	for _, tr := range Transitions {
		if tr.From == s && tr.Trigger == t {
			return tr.To, true
		}
	}
	return "", false
}

// ErrForbiddenTrigger is raised when a trigger is attempted from a state
// the table does not permit it from -- the customer-side analogue of
// store.ErrUnexpectedCustomerState, used by callers that want to fail fast
// before even opening a WithChannelState transaction.
type ErrForbiddenTrigger struct {
	From    zkchannel.Variant
	Trigger Trigger
}

func (e ErrForbiddenTrigger) Error() string {
	return fmt.Sprintf("fsm: trigger %s is not legal from state %s", e.Trigger, e.From)
}

// RequireCloseable returns an error when State.Uncloseable reports that s
// can derive no further ClosingMessage: any derivation of a ClosingMessage
// (a user "close" command or the protocol engine closing out a failed
// step) must check this first. It gives other packages one call site
// without reaching into zkchannel's internals.
func RequireCloseable(s zkchannel.State) error {
	if s.Uncloseable() {
		return fmt.Errorf("fsm: state %s cannot derive a further closing message", s.Variant())
	}
	return nil
}
