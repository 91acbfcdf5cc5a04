package contract

import "errors"

var (
	// ErrVerificationFailed is returned by the Verify* methods when the
	// observed on-chain state doesn't match what was expected (see each
	// Verify* method on Driver for the fields it compares); the protocol
	// engine maps this onto FailedVerifyOrigination /
	// FailedVerifyCustomerFunding / FailedMerchantFunding (spec.md §7).
	ErrVerificationFailed = errors.New("contract: observed state does not match expectation")

	// ErrContractNotFound is returned when a contract id is unknown to
	// the driver.
	ErrContractNotFound = errors.New("contract: unknown contract id")
)
