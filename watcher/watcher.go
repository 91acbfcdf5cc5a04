// Package watcher implements the customer's periodic on-chain
// reconciliation loop (spec.md §4.G): a single cooperative task that ticks
// every poll interval, fetches each funded channel's on-chain
// ContractState, and drives the customer FSM toward Closed per a fixed
// rule table. Grounded on the teacher's htlcswitch.go logTicker loop
// (a mockable lnd/ticker.Ticker plus a select over a done channel) and on
// contractcourt's per-channel resolver goroutines, which likewise tolerate
// one channel's failure without affecting its siblings.
package watcher

import (
	"context"
	"time"

	"github.com/davecgh/go-spew/spew"
	goerrors "github.com/go-errors/errors"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"

	"github.com/boltlabs-inc/zeekoe/contract"
	"github.com/boltlabs-inc/zeekoe/fsm"
	"github.com/boltlabs-inc/zeekoe/log"
	closepkg "github.com/boltlabs-inc/zeekoe/protocol/close"
	"github.com/boltlabs-inc/zeekoe/store"
	"github.com/boltlabs-inc/zeekoe/zkabacus"
	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

// DefaultPollInterval matches spec.md §4.G's recommended T_poll.
const DefaultPollInterval = 60 * time.Second

// Watcher runs the reconciliation loop for one customer process.
type Watcher struct {
	Store             store.CustomerStore
	Contract          contract.Driver
	ZkCtx             zkabacus.Context
	PollInterval      time.Duration
	ConfirmationDepth uint32

	// Clock is used for TimeoutExpired comparisons; nil defaults to
	// clock.NewDefaultClock(), letting tests inject a fake clock instead
	// of sleeping out a real self_delay.
	Clock clock.Clock
}

// closeDeps adapts the watcher's fields to package close's CustomerDeps.
func (w *Watcher) closeDeps() closepkg.CustomerDeps {
	return closepkg.CustomerDeps{Store: w.Store, Contract: w.Contract, ZkCtx: w.ZkCtx}
}

func (w *Watcher) clock() clock.Clock {
	if w.Clock == nil {
		return clock.NewDefaultClock()
	}
	return w.Clock
}

// Run blocks, ticking every PollInterval (or DefaultPollInterval if zero)
// until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) {
	interval := w.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	t := ticker.New(interval)
	t.Resume()
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Ticks():
			w.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation pass over every channel with a confirmed
// contract id, one short-lived goroutine per channel (spec.md §4.G: "one
// short-lived task per channel per tick"). A single channel's error is
// logged and does not affect its siblings or the next tick: reconcile runs
// against ctx directly (never a derived, cancel-on-first-error context), so
// an errgroup.Group here is purely a WaitGroup-plus-first-error convenience,
// not a fan-out cancellation boundary.
func (w *Watcher) Tick(ctx context.Context) {
	rows, err := w.Store.ListChannels(ctx)
	if err != nil {
		log.WatcherLog.Errorf("unable to list channels: %v", err)
		return
	}

	var g errgroup.Group
	for _, row := range rows {
		if !row.Contract.HasContractID() {
			continue
		}
		row := row
		g.Go(func() error {
			if err := w.reconcileChannel(ctx, row); err != nil {
				log.WatcherLog.Errorf("channel %v: %s", row.ChannelID, goerrors.Wrap(err, 1).ErrorStack())
			}
			return nil
		})
	}
	_ = g.Wait()
}

// reconcileChannel applies the rule table in spec.md §4.G to a single
// channel's observed ContractState.
func (w *Watcher) reconcileChannel(ctx context.Context, row store.CustomerRow) error {
	contractID := *row.Contract.ContractID
	state, err := w.Contract.GetContractState(ctx, contractID, w.ConfirmationDepth)
	if err != nil {
		return err
	}
	log.WatcherLog.Tracef("channel %v observed state: %s", row.ChannelID, spew.Sdump(state))

	switch {
	case state.Status == contract.Expiry && !row.State.PendingCloseFamily():
		return closepkg.HandleExpiry(ctx, w.closeDeps(), row.Label)

	case state.Status == contract.CustomerClose:
		expired, known := state.TimeoutExpired(w.clock().Now())
		if known && expired && row.State.Variant() != zkchannel.VariantPendingCustomerClaim {
			return w.claim(ctx, row, contractID)
		}
		return nil

	case state.Status == contract.Closed:
		return w.finalize(ctx, row, state)
	}
	return nil
}

// claim submits cust_claim once the CustomerClose timeout has passed,
// transitioning PendingClose -> PendingCustomerClaim on Applied (spec.md
// §4.G row 2). A non-Applied write leaves the channel in PendingClose to
// retry on the next tick.
func (w *Watcher) claim(ctx context.Context, row store.CustomerRow, contractID string) error {
	writeStatus, err := w.Contract.CustClaim(ctx, contractID)
	if err != nil {
		return err
	}
	if writeStatus != contract.Applied {
		log.WatcherLog.Debugf("channel %v: cust_claim did not apply (%s), retrying next tick",
			row.ChannelID, writeStatus)
		return nil
	}

	msg, ok := row.State.ClosingMessage()
	if !ok {
		return fsm.ErrForbiddenTrigger{From: row.State.Variant(), Trigger: fsm.TriggerWatcherCustomerClaim}
	}
	_, err = w.Store.WithChannelState(ctx, row.Label, row.State.Variant(),
		func(_ zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			return zkchannel.NewPendingCustomerClaim(msg), bal, nil, nil
		})
	return err
}

// finalize handles every Closed-status rule table row (spec.md §4.G rows
// 3-6): depending on which Pending* family the channel was locally in, and
// whether the merchant's on-chain payout matches the customer's own
// closing balances, it either records a dispute or finalizes normally.
func (w *Watcher) finalize(ctx context.Context, row store.CustomerRow, state contract.ContractState) error {
	variant := row.State.Variant()
	msg, hasMsg := row.State.ClosingMessage()

	switch variant {
	case zkchannel.VariantPendingMutualClose, zkchannel.VariantPendingCustomerClaim:
		if !hasMsg {
			return fsm.ErrForbiddenTrigger{From: variant, Trigger: fsm.TriggerWatcherExpiryFinalize}
		}
		return w.setClosed(ctx, row, msg)

	case zkchannel.VariantPendingClose, zkchannel.VariantPendingExpiry:
		if !hasMsg {
			return fsm.ErrForbiddenTrigger{From: variant, Trigger: fsm.TriggerWatcherExpiryFinalize}
		}
		// Merchant payout observed on-chain disagrees with what the
		// customer's own closing message allowed the merchant: the
		// merchant must have disputed and claimed the customer's cut.
		if state.CustomerBalance < msg.Balances.CustomerBalance {
			return w.setDispute(ctx, row, msg)
		}
		return w.setClosed(ctx, row, msg)

	default:
		// Already Closed locally, or a status this loop does not act
		// on; nothing to reconcile.
		return nil
	}
}

func (w *Watcher) setClosed(ctx context.Context, row store.CustomerRow, msg zkchannel.ClosingMessage) error {
	_, err := w.Store.WithChannelState(ctx, row.Label, row.State.Variant(),
		func(_ zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			return zkchannel.NewClosed(msg), bal, nil, nil
		})
	return err
}

func (w *Watcher) setDispute(ctx context.Context, row store.CustomerRow, msg zkchannel.ClosingMessage) error {
	_, err := w.Store.WithChannelState(ctx, row.Label, row.State.Variant(),
		func(_ zkchannel.State, bal zkchannel.Balances) (zkchannel.State, zkchannel.Balances, any, error) {
			return zkchannel.NewDispute(msg), bal, nil, nil
		})
	return err
}
