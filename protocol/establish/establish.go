// Package establish implements the Establish session (spec.md §4.E.2):
// customer-initiated, with an offer-abort checkpoint after every remotely
// checkable step. Every step writes its outcome to the store before
// sending the next message that depends on it, so an interrupted run
// leaves the channel row in a well-defined last-completed state rather
// than half-committed.
package establish

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/boltlabs-inc/zeekoe/contract"
	"github.com/boltlabs-inc/zeekoe/fsm"
	"github.com/boltlabs-inc/zeekoe/session"
	"github.com/boltlabs-inc/zeekoe/store"
	"github.com/boltlabs-inc/zeekoe/zkabacus"
	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

// CustomerRequest is the first message the customer sends (spec.md §4.E.2
// step 1).
type CustomerRequest struct {
	CustomerRandomness     []byte           `json:"customer_randomness"`
	CustomerDeposit        zkchannel.Amount `json:"customer_deposit"`
	MerchantDeposit        zkchannel.Amount `json:"merchant_deposit"`
	Note                   zkchannel.Note   `json:"note"`
	CustomerLedgerPubkey   []byte           `json:"customer_ledger_pubkey"`
	CustomerFundingAddress string           `json:"customer_funding_address"`
	MerchantSigningPubkey  []byte           `json:"merchant_signing_pubkey"`
	MerchantLedgerAddress  string           `json:"merchant_ledger_address"`
	MerchantLedgerPubkey   []byte           `json:"merchant_ledger_pubkey"`
}

// MerchantRandomnessMsg is step 2's response.
type MerchantRandomnessMsg struct {
	MerchantRandomness []byte `json:"merchant_randomness"`
}

// ContractIDMsg carries the contract id from customer to merchant (step 4).
type ContractIDMsg struct {
	ContractID string `json:"contract_id"`
}

// CustomerDeps bundles the collaborators the customer side of Establish
// needs.
type CustomerDeps struct {
	Store             store.CustomerStore
	Contract          contract.Driver
	ZkCtx             zkabacus.Context
	MaxNote           int
	ConfirmationDepth uint32
	SelfDelay         uint32
}

// MerchantDeps is the merchant-side analogue, additionally carrying the
// merchant's zkAbacus adapter and an approval hook for policy decisions
// (minimum deposit, blocklist, note inspection) that have no home anywhere
// else in spec.md §4.E.2.
type MerchantDeps struct {
	Store            store.MerchantStore
	Contract         contract.Driver
	ZkCtx            zkabacus.Context
	Merchant         zkabacus.Merchant
	ExpectedCodeHash [32]byte
	SelfDelay        uint32
	Approve          func(req CustomerRequest) error

	// ApprovalTimeout bounds the Approve call (spec.md §6 approval_timeout);
	// zero leaves it unbounded.
	ApprovalTimeout time.Duration
}

// RunCustomer drives the full customer side of Establish over an
// already-handshaken session, for a brand new channel labeled label.
func RunCustomer(ctx context.Context, s *session.Session, deps CustomerDeps,
	label zkchannel.Label, customerDeposit, merchantDeposit zkchannel.Amount,
	note zkchannel.Note, customerLedgerPubkey, customerLedgerSecret []byte,
	customerFundingAddress string,
	merchantSigningPubkey []byte, merchantLedgerAddress string, merchantLedgerPubkey []byte) (zkchannel.ID, error) {

	if err := note.Validate(deps.MaxNote); err != nil {
		return zkchannel.ID{}, err
	}

	if _, err := deps.Store.FetchChannel(ctx, label); err == nil {
		// Tie-break: a duplicate label fails locally without touching
		// the wire (spec.md §4.E.2 "Tie-break").
		return zkchannel.ID{}, fmt.Errorf("establish: label %q already has an active channel", label)
	}

	customerRandomness, err := readRandom(deps.ZkCtx, 32)
	if err != nil {
		return zkchannel.ID{}, err
	}

	req := CustomerRequest{
		CustomerRandomness:     customerRandomness,
		CustomerDeposit:        customerDeposit,
		MerchantDeposit:        merchantDeposit,
		Note:                   note,
		CustomerLedgerPubkey:   customerLedgerPubkey,
		CustomerFundingAddress: customerFundingAddress,
		MerchantSigningPubkey:  merchantSigningPubkey,
		MerchantLedgerAddress:  merchantLedgerAddress,
		MerchantLedgerPubkey:   merchantLedgerPubkey,
	}
	if err := s.ChooseTopLevel(session.ChoiceEstablish); err != nil {
		return zkchannel.ID{}, err
	}
	if err := s.Send(req); err != nil {
		return zkchannel.ID{}, err
	}

	// Step 2: await merchant randomness.
	payload, abortErr, err := s.AwaitOffer()
	if err != nil {
		return zkchannel.ID{}, err
	}
	if abortErr != nil {
		return zkchannel.ID{}, abortErr
	}
	var mrand MerchantRandomnessMsg
	if err := unmarshalPayload(payload, &mrand); err != nil {
		return zkchannel.ID{}, err
	}

	channelID := zkchannel.DeriveID(mrand.MerchantRandomness, customerRandomness,
		merchantSigningPubkey, customerLedgerPubkey, merchantLedgerPubkey)

	establishBalances := zkchannel.Balances{CustomerBalance: customerDeposit, MerchantBalance: merchantDeposit}
	if err := deps.Store.NewChannel(ctx, label, channelID, zkchannel.ContractDetails{
		MerchantLedgerPubkey:   merchantLedgerPubkey,
		MerchantFundingAddress: merchantLedgerAddress,
	}, establishBalances); err != nil {
		return zkchannel.ID{}, err
	}

	// Step 3: zkAbacus.Initialize.
	requested, proof, err := zkabacus.New(zkabacus.Config{}, channelID, merchantDeposit, customerDeposit, deps.ZkCtx)
	if err != nil {
		return zkchannel.ID{}, err
	}
	if err := s.Send(proof); err != nil {
		return zkchannel.ID{}, err
	}

	payload, abortErr, err = s.AwaitOffer()
	if err != nil {
		return zkchannel.ID{}, err
	}
	if abortErr != nil {
		return zkchannel.ID{}, abortErr
	}
	var sig zkabacus.ClosingSignature
	if err := unmarshalPayload(payload, &sig); err != nil {
		return zkchannel.ID{}, err
	}
	inactive, err := requested.Complete(sig, zkabacus.Config{})
	if err != nil {
		return zkchannel.ID{}, session.NewInvalidClosingSignature("establish initialization signature did not verify")
	}

	// Step 4: originate the contract.
	if _, ok := fsm.Allowed(zkchannel.VariantInactive, fsm.TriggerEstablishOriginate); !ok {
		return zkchannel.ID{}, fsm.ErrForbiddenTrigger{From: zkchannel.VariantInactive, Trigger: fsm.TriggerEstablishOriginate}
	}
	contractID, writeStatus, err := deps.Contract.Originate(ctx,
		contract.FundInfo{LedgerPubkey: merchantLedgerPubkey, FundingAddress: merchantLedgerAddress},
		contract.FundInfo{LedgerPubkey: customerLedgerPubkey, FundingAddress: customerFundingAddress},
		merchantSigningPubkey, customerLedgerSecret, channelID,
		deps.ConfirmationDepth, deps.SelfDelay)
	if err != nil || writeStatus != contract.Applied {
		return zkchannel.ID{}, fmt.Errorf("establish: origination did not apply: %v (status %s)", err, writeStatus)
	}
	if _, err := deps.Store.WithChannelState(ctx, label, zkchannel.VariantInactive,
		func(_ zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			return zkchannel.NewOriginated(), bal, nil, nil
		}); err != nil {
		return zkchannel.ID{}, err
	}
	if err := deps.Store.InsertContractID(ctx, label, contractID); err != nil {
		return zkchannel.ID{}, err
	}
	if err := s.Send(ContractIDMsg{ContractID: contractID}); err != nil {
		return zkchannel.ID{}, err
	}

	// Step 5: offer-abort after the merchant verifies origination.
	_, abortErr, err = s.AwaitOffer()
	if err != nil {
		return zkchannel.ID{}, err
	}
	if abortErr != nil {
		return zkchannel.ID{}, abortErr
	}

	// Step 6: customer funds the contract.
	if _, ok := fsm.Allowed(zkchannel.VariantOriginated, fsm.TriggerEstablishCustFund); !ok {
		return zkchannel.ID{}, fsm.ErrForbiddenTrigger{From: zkchannel.VariantOriginated, Trigger: fsm.TriggerEstablishCustFund}
	}
	writeStatus, err = deps.Contract.AddCustomerFunding(ctx, contractID, customerDeposit)
	if err != nil || writeStatus != contract.Applied {
		return zkchannel.ID{}, fmt.Errorf("establish: customer funding did not apply: %v (status %s)", err, writeStatus)
	}
	if _, err := deps.Store.WithChannelState(ctx, label, zkchannel.VariantOriginated,
		func(_ zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			return zkchannel.NewCustomerFunded(), bal, nil, nil
		}); err != nil {
		return zkchannel.ID{}, err
	}
	if err := s.Send(struct{}{}); err != nil {
		return zkchannel.ID{}, err
	}

	// Step 7: merchant verifies and funds; offer-abort.
	_, abortErr, err = s.AwaitOffer()
	if err != nil {
		return zkchannel.ID{}, err
	}
	if abortErr != nil {
		return zkchannel.ID{}, abortErr
	}

	// Step 8: customer verifies merchant funding.
	if err := deps.Contract.VerifyMerchantFunding(ctx, contractID, merchantDeposit); err != nil {
		return zkchannel.ID{}, session.NewFailedMerchantFunding(err.Error())
	}
	if _, ok := fsm.Allowed(zkchannel.VariantCustomerFunded, fsm.TriggerEstablishMerchFund); !ok {
		return zkchannel.ID{}, fsm.ErrForbiddenTrigger{From: zkchannel.VariantCustomerFunded, Trigger: fsm.TriggerEstablishMerchFund}
	}
	if _, err := deps.Store.WithChannelState(ctx, label, zkchannel.VariantCustomerFunded,
		func(_ zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			return zkchannel.NewMerchantFunded(), bal, nil, nil
		}); err != nil {
		return zkchannel.ID{}, err
	}
	if err := s.Send(struct{}{}); err != nil {
		return zkchannel.ID{}, err
	}

	// Step 9: zkAbacus.Activate.
	payload, abortErr, err = s.AwaitOffer()
	if err != nil {
		return zkchannel.ID{}, err
	}
	if abortErr != nil {
		return zkchannel.ID{}, abortErr
	}
	var token zkabacus.PayToken
	if err := unmarshalPayload(payload, &token); err != nil {
		return zkchannel.ID{}, err
	}
	if _, err := inactive.Activate(token, zkabacus.Config{}); err != nil {
		return zkchannel.ID{}, session.NewInvalidPayToken("activation pay token did not verify")
	}
	if _, ok := fsm.Allowed(zkchannel.VariantMerchantFunded, fsm.TriggerEstablishActivate); !ok {
		return zkchannel.ID{}, fsm.ErrForbiddenTrigger{From: zkchannel.VariantMerchantFunded, Trigger: fsm.TriggerEstablishActivate}
	}
	if _, err := deps.Store.WithChannelState(ctx, label, zkchannel.VariantMerchantFunded,
		func(_ zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			return zkchannel.NewReady(), bal, nil, nil
		}); err != nil {
		return zkchannel.ID{}, err
	}

	return channelID, s.Close()
}

// RunMerchant drives the full merchant side of Establish over an
// already-handshaken session on which ChooseTopLevel(ChoiceEstablish) has
// already been consumed by the caller's dispatcher.
func RunMerchant(ctx context.Context, s *session.Session, deps MerchantDeps) (zkchannel.ID, error) {
	var req CustomerRequest
	if err := s.Recv(&req); err != nil {
		return zkchannel.ID{}, err
	}

	if deps.Approve != nil {
		err := session.RunWithDeadline(ctx, deps.ApprovalTimeout, "establish: approval hook", func() error {
			return deps.Approve(req)
		})
		if err != nil {
			return zkchannel.ID{}, s.OfferAbort(session.NewRejected(err.Error()))
		}
	}

	merchantRandomness, err := readRandom(deps.ZkCtx, 32)
	if err != nil {
		return zkchannel.ID{}, err
	}
	channelID := zkchannel.DeriveID(merchantRandomness, req.CustomerRandomness,
		req.MerchantSigningPubkey, req.CustomerLedgerPubkey, req.MerchantLedgerPubkey)

	establishBalances := zkchannel.Balances{CustomerBalance: req.CustomerDeposit, MerchantBalance: req.MerchantDeposit}
	if err := deps.Store.NewChannel(ctx, channelID, zkchannel.ContractDetails{
		MerchantLedgerPubkey:   req.MerchantLedgerPubkey,
		MerchantFundingAddress: req.MerchantLedgerAddress,
	}, establishBalances); err != nil {
		return zkchannel.ID{}, err
	}
	if err := s.OfferContinue(MerchantRandomnessMsg{MerchantRandomness: merchantRandomness}); err != nil {
		return zkchannel.ID{}, err
	}

	// Step 3: zkAbacus.Initialize against the customer's proof.
	var proof zkabacus.EstablishProof
	if err := s.Recv(&proof); err != nil {
		return zkchannel.ID{}, err
	}
	sig, _, ok := deps.Merchant.Initialize(deps.ZkCtx, channelID, establishBalances, proof)
	if !ok {
		return zkchannel.ID{}, s.OfferAbort(session.NewInvalidEstablishProof("establish proof did not verify"))
	}
	if err := s.OfferContinue(sig); err != nil {
		return zkchannel.ID{}, err
	}

	// Step 4/5: receive the contract id, verify origination.
	var idMsg ContractIDMsg
	if err := s.Recv(&idMsg); err != nil {
		return zkchannel.ID{}, err
	}
	if err := deps.Store.InsertContractID(ctx, channelID, idMsg.ContractID); err != nil {
		return zkchannel.ID{}, err
	}
	if err := deps.Contract.VerifyOrigination(ctx, idMsg.ContractID, contract.OriginationExpectation{
		CustomerBalance:   req.CustomerDeposit,
		MerchantBalance:   req.MerchantDeposit,
		MerchantPublicKey: req.MerchantSigningPubkey,
		SelfDelay:         deps.SelfDelay,
		CodeHash:          deps.ExpectedCodeHash,
	}); err != nil {
		return zkchannel.ID{}, s.OfferAbort(session.NewFailedVerifyOrigination(err.Error()))
	}
	if err := s.OfferContinue(struct{}{}); err != nil {
		return zkchannel.ID{}, err
	}

	// Step 6/7: wait for the customer's funding signal, verify it, then
	// supply the merchant's own deposit.
	if err := s.Recv(&struct{}{}); err != nil {
		return zkchannel.ID{}, err
	}
	if err := deps.Contract.VerifyCustomerFunding(ctx, idMsg.ContractID, req.CustomerDeposit); err != nil {
		return zkchannel.ID{}, s.OfferAbort(session.NewFailedVerifyCustomerFunding(err.Error()))
	}
	if _, err := deps.Store.WithChannelState(ctx, channelID, zkchannel.StatusOriginated,
		func(_ zkchannel.ChannelStatus, bal zkchannel.Balances) (zkchannel.ChannelStatus, zkchannel.Balances, any, error) {
			return zkchannel.StatusCustomerFunded, bal, nil, nil
		}); err != nil {
		return zkchannel.ID{}, err
	}
	if req.MerchantDeposit > 0 {
		status, err := deps.Contract.AddMerchantFunding(ctx, idMsg.ContractID, req.MerchantDeposit)
		if err != nil || status != contract.Applied {
			return zkchannel.ID{}, fmt.Errorf("establish: merchant funding did not apply: %v (status %s)", err, status)
		}
	}
	if _, err := deps.Store.WithChannelState(ctx, channelID, zkchannel.StatusCustomerFunded,
		func(_ zkchannel.ChannelStatus, bal zkchannel.Balances) (zkchannel.ChannelStatus, zkchannel.Balances, any, error) {
			return zkchannel.StatusMerchantFunded, bal, nil, nil
		}); err != nil {
		return zkchannel.ID{}, err
	}
	if err := s.OfferContinue(struct{}{}); err != nil {
		return zkchannel.ID{}, err
	}

	// Step 8/9: await the customer's confirmation, then activate.
	if err := s.Recv(&struct{}{}); err != nil {
		return zkchannel.ID{}, err
	}
	if _, err := deps.Store.WithChannelState(ctx, channelID, zkchannel.StatusMerchantFunded,
		func(_ zkchannel.ChannelStatus, bal zkchannel.Balances) (zkchannel.ChannelStatus, zkchannel.Balances, any, error) {
			return zkchannel.StatusActive, bal, nil, nil
		}); err != nil {
		return zkchannel.ID{}, err
	}
	token := deps.Merchant.Activate(channelID, establishBalances)
	if err := s.OfferContinue(token); err != nil {
		return zkchannel.ID{}, err
	}

	return channelID, s.Close()
}

func readRandom(ctx zkabacus.Context, n int) ([]byte, error) {
	r := ctx.Rand
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func unmarshalPayload(payload []byte, v any) error {
	if payload == nil {
		return fmt.Errorf("establish: expected a payload, got none")
	}
	return json.Unmarshal(payload, v)
}
