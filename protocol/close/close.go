// Package close implements mutual close (spec.md §4.E.4) and the
// customer-driven half of unilateral close (spec.md §4.E.5). The
// merchant-initiated expiry path is a watcher observation, not a session,
// and lives in package watcher; HandleExpiry here is the local transition
// the watcher invokes once it has made that observation.
package close

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/boltlabs-inc/zeekoe/contract"
	"github.com/boltlabs-inc/zeekoe/fsm"
	"github.com/boltlabs-inc/zeekoe/session"
	"github.com/boltlabs-inc/zeekoe/store"
	"github.com/boltlabs-inc/zeekoe/zkabacus"
	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

// CloseMessage is the wire form of a zkchannel.ClosingMessage (step 1).
type CloseMessage struct {
	ChannelID       string           `json:"channel_id"`
	CustomerBalance zkchannel.Amount `json:"customer_balance"`
	MerchantBalance zkchannel.Amount `json:"merchant_balance"`
	CloseSignature  []byte           `json:"close_signature"`
	RevocationLock  []byte           `json:"revocation_lock"`
	Random          []byte           `json:"random"`
}

func toWire(msg zkchannel.ClosingMessage) CloseMessage {
	return CloseMessage{
		ChannelID:       msg.ChannelID.String(),
		CustomerBalance: msg.Balances.CustomerBalance,
		MerchantBalance: msg.Balances.MerchantBalance,
		CloseSignature:  msg.CloseSignature,
		RevocationLock:  msg.RevocationLock,
		Random:          msg.Random,
	}
}

func (m CloseMessage) toClosingMessage() (zkchannel.ClosingMessage, error) {
	id, err := zkchannel.ParseID(m.ChannelID)
	if err != nil {
		return zkchannel.ClosingMessage{}, err
	}
	return zkchannel.ClosingMessage{
		ChannelID:      id,
		Balances:       zkchannel.Balances{CustomerBalance: m.CustomerBalance, MerchantBalance: m.MerchantBalance},
		CloseSignature: m.CloseSignature,
		RevocationLock: m.RevocationLock,
		Random:         m.Random,
	}, nil
}

// AuthorizationMessage carries the merchant's mutual-close authorization
// signature (step 3).
type AuthorizationMessage struct {
	AuthorizationSig []byte `json:"authorization_signature"`
}

// CustomerDeps bundles the collaborators the customer side of close needs.
type CustomerDeps struct {
	Store    store.CustomerStore
	Contract contract.Driver
	ZkCtx    zkabacus.Context
}

// MerchantDeps is the merchant-side analogue.
type MerchantDeps struct {
	Store    store.MerchantStore
	Contract contract.Driver
}

// deriveClosingMessage produces the ClosingMessage for row's current state.
// Ready.Close and CloseFromBalances compute the identical formula (they
// differ only in which in-memory zkAbacus object holds the balances), so a
// single balances-only derivation covers every closeable customer variant
// (spec.md §4.D: "any other state ... can additionally derive a
// ClosingMessage by drawing fresh randomness").
func deriveClosingMessage(row store.CustomerRow, ctx zkabacus.Context) (zkchannel.ClosingMessage, error) {
	if err := fsm.RequireCloseable(row.State); err != nil {
		return zkchannel.ClosingMessage{}, err
	}
	return zkabacus.CloseFromBalances(row.ChannelID, row.Balances, ctx)
}

// RunCustomerMutualClose drives the customer side of mutual close for the
// channel labeled label, over a freshly chosen session.
func RunCustomerMutualClose(ctx context.Context, s *session.Session, deps CustomerDeps, label zkchannel.Label) error {
	row, err := deps.Store.FetchChannel(ctx, label)
	if err != nil {
		return err
	}
	if !row.Contract.HasContractID() {
		return fmt.Errorf("close: channel %q has no contract id yet", label)
	}
	contractID := *row.Contract.ContractID

	msg, err := deriveClosingMessage(row, deps.ZkCtx)
	if err != nil {
		return err
	}

	if _, err := deps.Store.WithChannelState(ctx, label, row.State.Variant(),
		func(_ zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			return zkchannel.NewPendingMutualClose(msg), bal, nil, nil
		}); err != nil {
		return err
	}

	if err := s.ChooseTopLevel(session.ChoiceClose); err != nil {
		return err
	}
	if err := s.Send(toWire(msg)); err != nil {
		return err
	}

	// Step 2/3: merchant validates and, on success, sends its
	// authorization signature as the continue payload.
	payload, abortErr, err := s.AwaitOffer()
	if err != nil {
		return err
	}
	if abortErr != nil {
		// Customer remains in PendingMutualClose; may retry or escalate
		// to unilateral close (spec.md §4.E.4 step 4's sibling failure).
		return abortErr
	}
	var authMsg AuthorizationMessage
	if err := unmarshalPayload(payload, &authMsg); err != nil {
		return err
	}

	// Step 4: verify the authorization signature locally.
	digest := contract.MutualCloseAuthorizationDigest(zkchannel.MutualCloseAuthorizationContext{
		ChannelID:  row.ChannelID,
		ContractID: contractID,
		Balances:   msg.Balances,
	})
	if !bytes.Equal(digest[:], authMsg.AuthorizationSig) {
		// Remains in PendingMutualClose: may retry or escalate to
		// unilateral close.
		return session.NewInvalidMerchantAuthorizationSignature("mutual close authorization signature did not verify")
	}

	// Step 5: invoke the escrow contract directly; on Applied, finalize.
	writeStatus, err := deps.Contract.MutualClose(ctx, contractID,
		msg.Balances.CustomerBalance, msg.Balances.MerchantBalance, authMsg.AuthorizationSig)
	if err != nil || writeStatus != contract.Applied {
		return fmt.Errorf("close: mutual_close did not apply: %v (status %s)", err, writeStatus)
	}

	cb, err := zkchannel.ClosingBalances{}.SetMerchantPayout(msg.Balances.MerchantBalance)
	if err != nil {
		return err
	}
	cb, err = cb.SetCustomerPayout(msg.Balances.CustomerBalance)
	if err != nil {
		return err
	}
	if err := deps.Store.UpdateClosingBalances(ctx, label, cb); err != nil {
		return err
	}
	if _, err := deps.Store.WithChannelState(ctx, label, zkchannel.VariantPendingMutualClose,
		func(_ zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			return zkchannel.NewClosed(msg), bal, nil, nil
		}); err != nil {
		return err
	}

	return s.Close()
}

// RunMerchantMutualClose drives the merchant side of mutual close, over a
// session on which OfferTopLevel has already returned ChoiceClose to the
// caller's dispatcher. The target channel is read off the wire message's
// own channel_id field, not passed in.
func RunMerchantMutualClose(ctx context.Context, s *session.Session, deps MerchantDeps) error {
	var wire CloseMessage
	if err := s.Recv(&wire); err != nil {
		return err
	}
	msg, err := wire.toClosingMessage()
	if err != nil {
		return err
	}
	channelID := msg.ChannelID

	row, err := deps.Store.FetchChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if !row.Contract.HasContractID() {
		return fmt.Errorf("close: channel %s has no contract id yet", channelID)
	}
	contractID := *row.Contract.ContractID

	// Validate the close reflects the balances the merchant last agreed
	// to, and carries a non-empty signature (spec.md §4.E.4 step 2).
	if msg.Balances != row.Balances || len(msg.CloseSignature) == 0 {
		return s.OfferAbort(session.NewInvalidClosingSignature("mutual close signature did not verify"))
	}

	priorSecrets, err := deps.Store.InsertRevocationPair(ctx, msg.RevocationLock, nil)
	if err != nil {
		return err
	}
	if len(priorSecrets) > 0 {
		return s.OfferAbort(session.NewKnownRevocationLock(
			fmt.Sprintf("revocation lock already recorded (%d prior entries)", len(priorSecrets))))
	}

	if _, err := deps.Store.WithChannelState(ctx, channelID, zkchannel.StatusActive,
		func(_ zkchannel.ChannelStatus, bal zkchannel.Balances) (zkchannel.ChannelStatus, zkchannel.Balances, any, error) {
			return zkchannel.StatusClosed, bal, nil, nil
		}); err != nil {
		return err
	}

	cb, err := zkchannel.ClosingBalances{}.SetMerchantPayout(msg.Balances.MerchantBalance)
	if err != nil {
		return err
	}
	cb, err = cb.SetCustomerPayout(msg.Balances.CustomerBalance)
	if err != nil {
		return err
	}
	if err := deps.Store.UpdateClosingBalances(ctx, channelID, cb); err != nil {
		return err
	}

	authSig, err := deps.Contract.AuthorizeMutualClose(ctx, contractID, zkchannel.MutualCloseAuthorizationContext{
		ChannelID:  channelID,
		ContractID: contractID,
		Balances:   msg.Balances,
	})
	if err != nil {
		return err
	}

	return s.OfferContinue(AuthorizationMessage{AuthorizationSig: authSig})
}

// CustomerUnilateralClose drives the customer-initiated half of unilateral
// close (spec.md §4.E.5) for the channel labeled label: no session, just the
// FSM transition and the escrow call.
func CustomerUnilateralClose(ctx context.Context, deps CustomerDeps, label zkchannel.Label) error {
	row, err := deps.Store.FetchChannel(ctx, label)
	if err != nil {
		return err
	}
	if !row.Contract.HasContractID() {
		return fmt.Errorf("close: channel %q has no contract id yet", label)
	}
	contractID := *row.Contract.ContractID

	msg, err := deriveClosingMessage(row, deps.ZkCtx)
	if err != nil {
		return err
	}

	if _, err := deps.Store.WithChannelState(ctx, label, row.State.Variant(),
		func(_ zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			return zkchannel.NewPendingClose(msg), bal, nil, nil
		}); err != nil {
		return err
	}

	writeStatus, err := deps.Contract.CustClose(ctx, contractID, msg)
	if err != nil || writeStatus != contract.Applied {
		return fmt.Errorf("close: cust_close did not apply: %v (status %s)", err, writeStatus)
	}

	cb, err := row.ClosingBalances.SetMerchantPayout(msg.Balances.MerchantBalance)
	if err != nil {
		return err
	}
	return deps.Store.UpdateClosingBalances(ctx, label, cb)
}

// HandleExpiry is the watcher's hook for the merchant-initiated half of
// unilateral close (spec.md §4.E.5): called once the watcher observes
// ContractState.Status == Expiry for a channel not already in the
// PendingClose family. It derives a closing message exactly like
// CustomerUnilateralClose, but marks the transition PendingExpiry rather
// than PendingClose so the watcher's own rule table (spec.md §4.G) can
// tell the two close reasons apart on the next tick.
func HandleExpiry(ctx context.Context, deps CustomerDeps, label zkchannel.Label) error {
	row, err := deps.Store.FetchChannel(ctx, label)
	if err != nil {
		return err
	}
	if !fsm.AllowedExpiry(row.State) {
		return fsm.ErrForbiddenTrigger{From: row.State.Variant(), Trigger: fsm.TriggerWatcherExpiry}
	}
	if !row.Contract.HasContractID() {
		return fmt.Errorf("close: channel %q has no contract id yet", label)
	}
	contractID := *row.Contract.ContractID

	msg, err := deriveClosingMessage(row, deps.ZkCtx)
	if err != nil {
		return err
	}
	if _, err := deps.Store.WithChannelState(ctx, label, row.State.Variant(),
		func(_ zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			return zkchannel.NewPendingExpiry(msg), bal, nil, nil
		}); err != nil {
		return err
	}

	if msg.Balances.CustomerBalance == 0 {
		return nil
	}

	writeStatus, err := deps.Contract.CustClose(ctx, contractID, msg)
	if err != nil || writeStatus != contract.Applied {
		return fmt.Errorf("close: cust_close did not apply: %v (status %s)", err, writeStatus)
	}

	cb, err := row.ClosingBalances.SetMerchantPayout(msg.Balances.MerchantBalance)
	if err != nil {
		return err
	}
	return deps.Store.UpdateClosingBalances(ctx, label, cb)
}

func unmarshalPayload(payload []byte, v any) error {
	if payload == nil {
		return fmt.Errorf("close: expected a payload, got none")
	}
	return json.Unmarshal(payload, v)
}
