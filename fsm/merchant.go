package fsm

import (
	"fmt"

	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

// MerchantTrigger names a merchant-side transition cause.
type MerchantTrigger string

const (
	MerchantTriggerOriginate = MerchantTrigger(TriggerEstablishOriginate)
	MerchantTriggerCustFund  = MerchantTrigger(TriggerEstablishCustFund)
	MerchantTriggerMerchFund = MerchantTrigger(TriggerEstablishMerchFund)
	MerchantTriggerActivate  = MerchantTrigger(TriggerEstablishActivate)
	MerchantTriggerClose     = MerchantTrigger(TriggerCloseMutual)
)

// MerchantTransition is the merchant-side analogue of Transition, over
// zkchannel.ChannelStatus instead of the customer's tagged Variant.
type MerchantTransition struct {
	From    zkchannel.ChannelStatus
	Trigger MerchantTrigger
	To      zkchannel.ChannelStatus
}

// MerchantTransitions is the merchant-side state+trigger table (spec.md
// §4.F, §3): the merchant's ChannelStatus enumeration is coarser than the
// customer's tagged State since the merchant never locally tracks a
// pending payment -- it only observes Active until a close is recorded.
var MerchantTransitions = []MerchantTransition{
	{zkchannel.StatusOriginated, MerchantTriggerCustFund, zkchannel.StatusCustomerFunded},
	{zkchannel.StatusCustomerFunded, MerchantTriggerMerchFund, zkchannel.StatusMerchantFunded},
	{zkchannel.StatusMerchantFunded, MerchantTriggerActivate, zkchannel.StatusActive},
	{zkchannel.StatusActive, MerchantTriggerClose, zkchannel.StatusClosed},
	{zkchannel.StatusPendingClose, MerchantTrigger("watcher:finalize"), zkchannel.StatusClosed},
}

// MerchantAllowed is MerchantTransitions' lookup helper, the merchant-side
// analogue of Allowed.
func MerchantAllowed(s zkchannel.ChannelStatus, t MerchantTrigger) (zkchannel.ChannelStatus, bool) {
	for _, tr := range MerchantTransitions {
		if tr.From == s && tr.Trigger == t {
			return tr.To, true
		}
	}
	return "", false
}

// ErrForbiddenMerchantTrigger is the merchant-side analogue of
// ErrForbiddenTrigger.
type ErrForbiddenMerchantTrigger struct {
	From    zkchannel.ChannelStatus
	Trigger MerchantTrigger
}

func (e ErrForbiddenMerchantTrigger) Error() string {
	return fmt.Sprintf("fsm: trigger %s is not legal from status %s", e.Trigger, e.From)
}
