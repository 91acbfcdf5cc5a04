// Package contract defines the ContractDriver trust boundary (spec.md
// §4.A): the pluggable interface the core protocol engine uses to
// originate, fund, observe, and close the on-chain escrow contract backing
// a channel. The core never talks to a ledger directly; it only ever calls
// through a Driver, so a test double (MockDriver) can stand in for a real
// chain during unit tests of the protocol engine and FSM.
package contract

import (
	"context"
	"time"

	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

// WriteStatus is the result of any state-changing driver call (spec.md
// §4.A). Only Applied permits the caller to advance FSM state; the other
// three are all "try again later" in different senses.
type WriteStatus int

const (
	// Applied means the operation is confirmed at the configured depth.
	Applied WriteStatus = iota
	// Failed means the operation was rejected by the ledger outright.
	Failed
	// Backtracked means a previously Applied-looking operation was
	// reorganized out; the caller must not have advanced state on it.
	Backtracked
	// Skipped means the operation was a no-op (e.g. merchant funding of
	// zero, or a call made after the target state was already reached).
	Skipped
)

func (s WriteStatus) String() string {
	switch s {
	case Applied:
		return "Applied"
	case Failed:
		return "Failed"
	case Backtracked:
		return "Backtracked"
	case Skipped:
		return "Skipped"
	default:
		return "Unknown"
	}
}

// Status is the on-chain contract's lifecycle status, as observed by
// GetContractState (spec.md §4.A).
type Status int

const (
	AwaitingCustomerFunding Status = iota
	AwaitingMerchantFunding
	Open
	Expiry
	CustomerClose
	Closed
)

func (s Status) String() string {
	switch s {
	case AwaitingCustomerFunding:
		return "AwaitingCustomerFunding"
	case AwaitingMerchantFunding:
		return "AwaitingMerchantFunding"
	case Open:
		return "Open"
	case Expiry:
		return "Expiry"
	case CustomerClose:
		return "CustomerClose"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// FundInfo names a party's ledger key and funding address at origination
// time.
type FundInfo struct {
	LedgerPubkey   []byte
	FundingAddress string
}

// ContractState is a snapshot of the escrow contract's on-chain state,
// observed at a chosen confirmation depth behind the chain head (spec.md
// §4.A, §6).
type ContractState struct {
	Status           Status
	CustomerBalance  zkchannel.Amount
	MerchantBalance  zkchannel.Amount
	RevocationLock   []byte
	SelfDelay        uint32
	DelayExpiry      *time.Time
	MerchantPublicKey []byte
	CodeHash         [32]byte
}

// TimeoutExpired reports whether DelayExpiry has passed, matching the
// spec's `Option<bool>` (nil DelayExpiry -> no opinion, i.e. Go's (false,
// false); set DelayExpiry -> (expired, true)).
func (cs ContractState) TimeoutExpired(now time.Time) (expired bool, known bool) {
	if cs.DelayExpiry == nil {
		return false, false
	}
	return now.After(*cs.DelayExpiry), true
}

// Driver is the trust boundary between the core protocol and a concrete
// ledger. Each write returns once its operation is confirmed (Applied) or
// has failed: TezosDriver waits for confirmation before returning, and
// MockDriver applies the change at once. Repeated calls after confirmation
// observe the same state (spec.md §4.A).
type Driver interface {
	// Originate submits the escrow contract's origination, funded by
	// neither party yet. originatorKey signs the origination
	// transaction; merchantPK is embedded in the contract for the
	// merchant's later operations.
	Originate(ctx context.Context, merchantFund, customerFund FundInfo,
		merchantPK []byte, originatorKey []byte, channelID zkchannel.ID,
		confirmationDepth uint32, selfDelay uint32) (contractID string, status WriteStatus, err error)

	AddCustomerFunding(ctx context.Context, contractID string, amount zkchannel.Amount) (WriteStatus, error)
	AddMerchantFunding(ctx context.Context, contractID string, amount zkchannel.Amount) (WriteStatus, error)

	// GetContractState returns a snapshot of the contract's state.
	// TezosDriver does not apply confirmationDepth; it returns the
	// storage at the chain head.
	GetContractState(ctx context.Context, contractID string, confirmationDepth uint32) (ContractState, error)

	// VerifyOrigination asserts that the observed state is a fresh
	// origination (spec.md §4.E.2 step 5). MockDriver checks the status
	// (AwaitingCustomerFunding) and the self-delay; TezosDriver also
	// checks the contract-code hash, an unset delay expiry, and an empty
	// revocation lock. Neither compares the expected balances or merchant
	// public key against the observed state.
	VerifyOrigination(ctx context.Context, contractID string, expected OriginationExpectation) error
	VerifyCustomerFunding(ctx context.Context, contractID string, expectedAmount zkchannel.Amount) error
	VerifyMerchantFunding(ctx context.Context, contractID string, expectedAmount zkchannel.Amount) error

	CustClose(ctx context.Context, contractID string, closingMessage zkchannel.ClosingMessage) (WriteStatus, error)
	CustClaim(ctx context.Context, contractID string) (WriteStatus, error)
	Expiry(ctx context.Context, contractID string) (WriteStatus, error)
	MerchClaim(ctx context.Context, contractID string) (WriteStatus, error)
	MerchDispute(ctx context.Context, contractID string, revocationSecret []byte) (WriteStatus, error)

	// AuthorizeMutualClose signs over the fixed mutual-close digest
	// (spec.md §4.E.4 step 3) under the merchant's ledger key.
	AuthorizeMutualClose(ctx context.Context, contractID string,
		closeCtx zkchannel.MutualCloseAuthorizationContext) (authorizationSig []byte, err error)

	MutualClose(ctx context.Context, contractID string, customerBalance,
		merchantBalance zkchannel.Amount, authorizationSig []byte) (WriteStatus, error)
}

// OriginationExpectation bundles the values passed to VerifyOrigination
// (spec.md §4.E.2 step 5); see VerifyOrigination for which of them each
// driver compares.
type OriginationExpectation struct {
	CustomerBalance   zkchannel.Amount
	MerchantBalance   zkchannel.Amount
	MerchantPublicKey []byte
	SelfDelay         uint32
	CodeHash          [32]byte
}
