package zkabacus

import (
	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

// EstablishProof is what the customer sends the merchant in Establish step
//3 (spec.md §4.E.2): a proof that the committed balances and channel id
// are well-formed, without revealing the customer's blinding factors.
type EstablishProof struct {
	ChannelID zkchannel.ID
	Balances  zkchannel.Balances
	Proof     []byte
}

// ClosingSignature is the merchant's blinded signature over a particular
// (channel id, balances) pair, returned at Initialize, at Pay step 4, and
// re-derived at every subsequent balance change.
type ClosingSignature struct {
	ChannelID zkchannel.ID
	Balances  zkchannel.Balances
	Tag       []byte
}

func (cs ClosingSignature) structurallyValid(channelID zkchannel.ID, bal zkchannel.Balances) bool {
	return cs.ChannelID == channelID && cs.Balances == bal && len(cs.Tag) > 0
}

// PayToken authorizes the customer to activate or re-activate a channel at
// a given balance pair: issued at Activate time and again after each
// successful payment's revocation opening.
type PayToken struct {
	ChannelID zkchannel.ID
	Balances  zkchannel.Balances
	Tag       []byte
}

func (pt PayToken) structurallyValid(channelID zkchannel.ID, bal zkchannel.Balances) bool {
	return pt.ChannelID == channelID && pt.Balances == bal && len(pt.Tag) > 0
}

// StartMessage carries the nonce and pay-proof the customer sends the
// merchant at the start of a payment (spec.md §4.E.3 step 2).
type StartMessage struct {
	Nonce    []byte
	PayProof []byte
}

// LockMessage reveals the revocation triple for the state being replaced,
// sent only after the customer has locked in the merchant's new closing
// signature (spec.md §4.E.3 step 4).
type LockMessage struct {
	RevocationLock    []byte
	RevocationSecret  []byte
	RevocationBlinder []byte
}

// Requested is the customer's state between sending an EstablishProof and
// receiving the merchant's ClosingSignature for it (spec.md §4.D).
type Requested struct {
	channelID zkchannel.ID
	balances  zkchannel.Balances
}

// New begins Establish's zkAbacus step: commits to the initial balances
// and produces the proof sent to the merchant (spec.md §4.E.2 step 3).
func New(cfg Config, channelID zkchannel.ID, merchantBal, customerBal zkchannel.Amount,
	ctx Context) (Requested, EstablishProof, error) {

	bal := zkchannel.Balances{CustomerBalance: customerBal, MerchantBalance: merchantBal}
	nonce, err := ctx.randBytes(16)
	if err != nil {
		return Requested{}, EstablishProof{}, err
	}

	proof := EstablishProof{
		ChannelID: channelID,
		Balances:  bal,
		Proof:     hmac256(nonce, closeDigest(channelID, bal)),
	}
	return Requested{channelID: channelID, balances: bal}, proof, nil
}

// Complete validates the merchant's initialization signature and, on
// success, transitions to Inactive (spec.md §4.D: "Requested.complete").
func (r Requested) Complete(sig ClosingSignature, cfg Config) (Inactive, error) {
	if !sig.structurallyValid(r.channelID, r.balances) {
		return Inactive{}, Invalid
	}
	return Inactive{channelID: r.channelID, balances: r.balances}, nil
}

// Inactive is reached after zkAbacus.Initialize completes but before the
// customer has an activation token for it (spec.md §3).
type Inactive struct {
	channelID zkchannel.ID
	balances  zkchannel.Balances
}

// Activate consumes the merchant's blinded pay token and transitions to
// Ready (spec.md §4.E.2 step 9, §4.D "Inactive.activate").
func (i Inactive) Activate(token PayToken, cfg Config) (Ready, error) {
	if !token.structurallyValid(i.channelID, i.balances) {
		return Ready{}, Invalid
	}
	return Ready{channelID: i.channelID, balances: i.balances}, nil
}

// Ready is the payable, closeable steady state (spec.md §3).
type Ready struct {
	channelID zkchannel.ID
	balances  zkchannel.Balances
}

// ReadyFromBalances reconstructs a Ready value from a channel id and its
// last-committed balances, as persisted on the channel's row between
// sessions: Ready carries no secret material of its own, so loading it back
// from the store is just restating what was already agreed (spec.md §4.E.3
// needs this to resume Pay against a channel loaded fresh from disk).
func ReadyFromBalances(channelID zkchannel.ID, balances zkchannel.Balances) Ready {
	return Ready{channelID: channelID, balances: balances}
}

// ChannelID returns the channel this state belongs to.
func (r Ready) ChannelID() zkchannel.ID { return r.channelID }

// Balances returns the current balances.
func (r Ready) Balances() zkchannel.Balances { return r.balances }

// Start begins a payment of the given signed amount, producing the local
// Started state and the StartMessage sent to the merchant (spec.md
// §4.E.3 step 2).
func (r Ready) Start(amount zkchannel.PaymentAmount, ctx Context) (Started, StartMessage, error) {
	nonce, err := ctx.randBytes(16)
	if err != nil {
		return Started{}, StartMessage{}, err
	}
	newBal := r.balances.ApplyPayment(amount)

	msg := StartMessage{
		Nonce:    nonce,
		PayProof: hmac256(nonce, closeDigest(r.channelID, newBal)),
	}
	return Started{
		channelID:   r.channelID,
		oldBalances: r.balances,
		newBalances: newBal,
		nonce:       nonce,
	}, msg, nil
}

// Close derives a ClosingMessage from the current balances, drawing fresh
// randomness, usable for a unilateral close (spec.md §4.D "Ready.close").
func (r Ready) Close(ctx Context) (zkchannel.ClosingMessage, error) {
	random, err := ctx.randBytes(32)
	if err != nil {
		return zkchannel.ClosingMessage{}, err
	}
	sig := hmac256(random, closeDigest(r.channelID, r.balances))
	revLock := hmac256(random, []byte("revocation-lock"))
	return closingMessage(r.channelID, r.balances, sig, revLock, random), nil
}

// Started is the customer's state after Ready.start, before the
// merchant's new closing signature has been locked in (spec.md §3).
type Started struct {
	channelID   zkchannel.ID
	oldBalances zkchannel.Balances
	newBalances zkchannel.Balances
	nonce       []byte
}

// Lock validates the merchant's new closing signature over the
// post-payment balances and, on success, returns the Locked state plus the
// LockMessage revealing the revocation triple for the *old* state (spec.md
// §4.E.3 step 4).
func (s Started) Lock(sig ClosingSignature, ctx Context) (Locked, LockMessage, error) {
	if !sig.structurallyValid(s.channelID, s.newBalances) {
		return Locked{}, LockMessage{}, Invalid
	}

	blinder, err := ctx.randBytes(16)
	if err != nil {
		return Locked{}, LockMessage{}, err
	}
	secret := hmac256(s.nonce, []byte("revocation-secret"))
	lock := hmac256(secret, blinder)

	return Locked{
			channelID:   s.channelID,
			oldBalances: s.oldBalances,
			newBalances: s.newBalances,
			revLock:     lock,
			revSecret:   secret,
			revBlinder:  blinder,
		}, LockMessage{
			RevocationLock:    lock,
			RevocationSecret:  secret,
			RevocationBlinder: blinder,
		}, nil
}

// Close derives a ClosingMessage from the pre-payment balances: a Started
// payment has not yet locked in the new state, so the only safe close is
// on the old one.
func (s Started) Close(ctx Context) (zkchannel.ClosingMessage, error) {
	random, err := ctx.randBytes(32)
	if err != nil {
		return zkchannel.ClosingMessage{}, err
	}
	sig := hmac256(random, closeDigest(s.channelID, s.oldBalances))
	revLock := hmac256(random, []byte("revocation-lock"))
	return closingMessage(s.channelID, s.oldBalances, sig, revLock, random), nil
}

// Locked is reached once the customer has locked in the merchant's new
// signature but has not yet unlocked a fresh pay token (spec.md §3).
type Locked struct {
	channelID   zkchannel.ID
	oldBalances zkchannel.Balances
	newBalances zkchannel.Balances
	revLock     []byte
	revSecret   []byte
	revBlinder  []byte
}

// Unlock consumes the merchant's new pay token, returning to Ready on
// success or Frozen on failure (spec.md §4.E.3 step 6, §4.D
// "Locked.unlock").
func (l Locked) Unlock(token PayToken) (Ready, error) {
	if !token.structurallyValid(l.channelID, l.newBalances) {
		return Ready{}, Frozen
	}
	return Ready{channelID: l.channelID, balances: l.newBalances}, nil
}

// Close derives a ClosingMessage from the new (locked-in) balances: the
// revocation for the old state has already been revealed, so closing on
// the old balances would let the merchant dispute it (spec.md §4.E.3 step
// 5's double-spend detection). Closing on the new balances is therefore
// the only safe option from Locked.
func (l Locked) Close(ctx Context) (zkchannel.ClosingMessage, error) {
	random, err := ctx.randBytes(32)
	if err != nil {
		return zkchannel.ClosingMessage{}, err
	}
	sig := hmac256(random, closeDigest(l.channelID, l.newBalances))
	return closingMessage(l.channelID, l.newBalances, sig, l.revLock, random), nil
}
