// Package pay implements the Pay session (spec.md §4.E.3): customer
// initiated, with a short atomic critical section on the merchant side
// enforced by nonce and revocation-lock insertion. A failure at step 4-6
// leaves the customer's channel in a *Failed variant: still closeable on
// the last signed state, never payable again (spec.md §4.E.3 "Replay and
// freezing semantics").
package pay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltlabs-inc/zeekoe/fsm"
	"github.com/boltlabs-inc/zeekoe/session"
	"github.com/boltlabs-inc/zeekoe/store"
	"github.com/boltlabs-inc/zeekoe/zkabacus"
	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

// Request is step 1's message: the target channel, the signed amount,
// and an opaque note. ChannelID lets the merchant's session dispatcher
// resolve the row before any other step needs it; the customer never
// sends its own local label, which the merchant has no use for.
type Request struct {
	ChannelID string                  `json:"channel_id"`
	Amount    zkchannel.PaymentAmount `json:"amount"`
	Note      zkchannel.Note          `json:"note"`
}

// StartEnvelope carries the nonce and proof produced by Ready.Start.
type StartEnvelope struct {
	Nonce    []byte `json:"nonce"`
	PayProof []byte `json:"pay_proof"`
}

// RevocationEnvelope reveals the old state's revocation triple (step 4).
type RevocationEnvelope struct {
	RevocationLock    []byte `json:"revocation_lock"`
	RevocationSecret  []byte `json:"revocation_secret"`
	RevocationBlinder []byte `json:"revocation_blinder"`
}

// ResponseNote is returned alongside the new pay token (step 6).
type ResponseNote struct {
	Note zkchannel.Note `json:"note"`
}

// tokenEnvelope bundles the merchant's response token with its note; the
// customer and merchant sides share this shape rather than each declaring
// their own anonymous struct twice.
type tokenEnvelope struct {
	Token zkabacus.PayToken `json:"token"`
	ResponseNote
}

// CustomerDeps bundles the collaborators the customer side of Pay needs.
type CustomerDeps struct {
	Store   store.CustomerStore
	ZkCtx   zkabacus.Context
	MaxNote int
}

// MerchantDeps is the merchant-side analogue.
type MerchantDeps struct {
	Store    store.MerchantStore
	ZkCtx    zkabacus.Context
	Merchant zkabacus.Merchant
	MaxNote  int
	Approve  func(channelID zkchannel.ID, amount zkchannel.PaymentAmount, note zkchannel.Note) error

	// ApprovalTimeout bounds the Approve call (spec.md §6 approval_timeout);
	// zero leaves it unbounded.
	ApprovalTimeout time.Duration
}

// RunCustomer drives the full customer side of a Pay session for the
// channel labeled label, currently in Ready. Returns the merchant's
// response note on success.
func RunCustomer(ctx context.Context, s *session.Session, deps CustomerDeps,
	label zkchannel.Label, amount zkchannel.PaymentAmount, note zkchannel.Note) (zkchannel.Note, error) {

	if err := note.Validate(deps.MaxNote); err != nil {
		return "", err
	}

	row, err := deps.Store.FetchChannel(ctx, label)
	if err != nil {
		return "", err
	}
	if _, ok := fsm.Allowed(row.State.Variant(), fsm.TriggerPayStart); !ok {
		return "", fsm.ErrForbiddenTrigger{From: row.State.Variant(), Trigger: fsm.TriggerPayStart}
	}

	if err := s.ChooseTopLevel(session.ChoicePay); err != nil {
		return "", err
	}
	if err := s.Send(Request{ChannelID: row.ChannelID.String(), Amount: amount, Note: note}); err != nil {
		return "", err
	}

	// Step 1: merchant approver may reject before anything moves.
	_, abortErr, err := s.AwaitOffer()
	if err != nil {
		return "", err
	}
	if abortErr != nil {
		return "", abortErr
	}

	// Step 2: Ready.start locally, send nonce + proof.
	ready := zkabacus.ReadyFromBalances(row.ChannelID, row.Balances)
	started, startMsg, err := ready.Start(amount, deps.ZkCtx)
	if err != nil {
		return "", err
	}
	if _, err := deps.Store.WithChannelState(ctx, label, zkchannel.VariantReady,
		func(current zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			next, err := zkchannel.NewPendingPayment(current)
			return next, bal, nil, err
		}); err != nil {
		return "", err
	}
	if err := s.Send(StartEnvelope{Nonce: startMsg.Nonce, PayProof: startMsg.PayProof}); err != nil {
		return "", err
	}

	// Steps 3/4: await the merchant's new closing signature (or abort
	// for InvalidPayProof/ReusedNonce).
	payload, abortErr, err := s.AwaitOffer()
	if err != nil {
		return "", err
	}
	if abortErr != nil {
		if _, serr := deps.Store.WithChannelState(ctx, label, zkchannel.VariantPendingPayment,
			func(current zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
				base, _ := current.Base()
				return base, bal, nil, nil
			}); serr != nil {
			return "", serr
		}
		return "", abortErr
	}
	var sig zkabacus.ClosingSignature
	if err := unmarshalPayload(payload, &sig); err != nil {
		return "", err
	}

	locked, lockMsg, lockErr := started.Lock(sig, deps.ZkCtx)
	if lockErr != nil {
		// Step 4 failure: mark StartedFailed, offer-abort.
		if _, err := deps.Store.WithChannelState(ctx, label, zkchannel.VariantPendingPayment,
			func(_ zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
				return zkchannel.NewStartedFailed(), bal, nil, nil
			}); err != nil {
			return "", err
		}
		abort := session.NewInvalidClosingSignature("pay: new closing signature did not verify")
		if sendErr := s.OfferAbort(abort); sendErr != nil {
			return "", sendErr
		}
		return "", abort
	}

	newBalances := row.Balances.ApplyPayment(amount)
	if _, err := deps.Store.WithChannelState(ctx, label, zkchannel.VariantPendingPayment,
		func(_ zkchannel.State, _ zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			return zkchannel.NewLocked(), newBalances, nil, nil
		}); err != nil {
		return "", err
	}
	if err := s.OfferContinue(RevocationEnvelope{
		RevocationLock:    lockMsg.RevocationLock,
		RevocationSecret:  lockMsg.RevocationSecret,
		RevocationBlinder: lockMsg.RevocationBlinder,
	}); err != nil {
		return "", err
	}

	// Step 5/6: await the new pay token (or abort for
	// InvalidRevocationOpening/ReusedRevocationLock).
	payload, abortErr, err = s.AwaitOffer()
	if err != nil {
		return "", err
	}
	if abortErr != nil {
		return "", abortErr
	}
	var tokenMsg tokenEnvelope
	if err := unmarshalPayload(payload, &tokenMsg); err != nil {
		return "", err
	}

	if _, unlockErr := locked.Unlock(tokenMsg.Token); unlockErr != nil {
		if _, err := deps.Store.WithChannelState(ctx, label, zkchannel.VariantLocked,
			func(_ zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
				return zkchannel.NewLockedFailed(), bal, nil, nil
			}); err != nil {
			return "", err
		}
		return "", session.NewInvalidPayToken("pay: activation token did not verify")
	}

	if _, err := deps.Store.WithChannelState(ctx, label, zkchannel.VariantLocked,
		func(_ zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			return zkchannel.NewReady(), bal, nil, nil
		}); err != nil {
		return "", err
	}

	return tokenMsg.Note, s.Close()
}

// RunMerchant drives the full merchant side of a Pay session, over a
// session on which OfferTopLevel has already returned ChoicePay to the
// caller's dispatcher. The target channel is read off req.ChannelID, not
// passed in: the customer is the only party that knows which of its
// local labels this session is for.
func RunMerchant(ctx context.Context, s *session.Session, deps MerchantDeps) error {
	var req Request
	if err := s.Recv(&req); err != nil {
		return err
	}
	channelID, err := zkchannel.ParseID(req.ChannelID)
	if err != nil {
		return s.OfferAbort(session.NewRejected("malformed channel id"))
	}
	if deps.Approve != nil {
		err := session.RunWithDeadline(ctx, deps.ApprovalTimeout, "pay: approval hook", func() error {
			return deps.Approve(channelID, req.Amount, req.Note)
		})
		if err != nil {
			return s.OfferAbort(session.NewRejected(err.Error()))
		}
	}
	if err := s.OfferContinue(struct{}{}); err != nil {
		return err
	}

	var startMsg StartEnvelope
	if err := s.Recv(&startMsg); err != nil {
		return err
	}

	row, err := deps.Store.FetchChannel(ctx, channelID)
	if err != nil {
		return err
	}

	unrevoked, sig, ok := deps.Merchant.AllowPayment(deps.ZkCtx, channelID,
		row.Balances, req.Amount, startMsg.Nonce,
		zkabacus.StartMessage{Nonce: startMsg.Nonce, PayProof: startMsg.PayProof})
	if !ok {
		return s.OfferAbort(session.NewInvalidPayProof("payment proof did not verify"))
	}

	inserted, err := deps.Store.InsertNonce(ctx, startMsg.Nonce)
	if err != nil {
		return err
	}
	if !inserted {
		return s.OfferAbort(session.NewReusedNonce("nonce already recorded"))
	}

	if err := s.OfferContinue(sig); err != nil {
		return err
	}

	// Step 4/5: await the customer's revocation opening.
	payload, abortErr, err := s.AwaitOffer()
	if err != nil {
		return err
	}
	if abortErr != nil {
		return abortErr
	}
	var rev RevocationEnvelope
	if err := unmarshalPayload(payload, &rev); err != nil {
		return err
	}

	token, err := unrevoked.CompletePayment(deps.Merchant, rev.RevocationLock, rev.RevocationSecret, rev.RevocationBlinder)
	if err != nil {
		return s.OfferAbort(session.NewInvalidRevocationOpening("revocation opening did not verify"))
	}

	priorSecrets, err := deps.Store.InsertRevocationPair(ctx, rev.RevocationLock, rev.RevocationSecret)
	if err != nil {
		return err
	}
	if len(priorSecrets) > 0 {
		return s.OfferAbort(session.NewReusedRevocationLock(
			fmt.Sprintf("revocation lock already recorded (%d prior entries)", len(priorSecrets))))
	}

	newBalances := row.Balances.ApplyPayment(req.Amount)
	if _, err := deps.Store.WithChannelState(ctx, channelID, zkchannel.StatusActive,
		func(current zkchannel.ChannelStatus, _ zkchannel.Balances) (zkchannel.ChannelStatus, zkchannel.Balances, any, error) {
			return current, newBalances, nil, nil
		}); err != nil {
		return err
	}

	return s.OfferContinue(tokenEnvelope{Token: token, ResponseNote: ResponseNote{Note: ""}})
}

func unmarshalPayload(payload []byte, v any) error {
	if payload == nil {
		return fmt.Errorf("pay: expected a payload, got none")
	}
	return json.Unmarshal(payload, v)
}
