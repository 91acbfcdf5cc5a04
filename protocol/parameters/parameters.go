// Package parameters implements the Parameters session (spec.md §4.E.1):
// the merchant sends its public zkAbacus configuration and ledger funding
// details; the customer validates them and closes.
package parameters

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/boltlabs-inc/zeekoe/session"
	"github.com/boltlabs-inc/zeekoe/zkabacus"
)

// Message is the single frame the merchant sends (spec.md §4.E.1): its
// zkAbacus public key, commitment parameters, range proof parameters,
// ledger funding address, and ledger public key.
type Message struct {
	Config                zkabacus.Config `json:"config"`
	MerchantLedgerPubkey  []byte          `json:"merchant_ledger_pubkey"`
	MerchantFundingAddr   string          `json:"merchant_funding_address"`
	FundingAddressPrefix  string          `json:"funding_address_prefix"`
}

// RunMerchant sends the merchant's public configuration and closes, the
// merchant side of the Parameters session.
func RunMerchant(s *session.Session, cfg zkabacus.Config, merchantLedgerPubkey []byte,
	merchantFundingAddr, addressPrefix string) error {

	msg := Message{
		Config:               cfg.PublicConfig(),
		MerchantLedgerPubkey: merchantLedgerPubkey,
		MerchantFundingAddr:  merchantFundingAddr,
		FundingAddressPrefix: addressPrefix,
	}
	if err := s.Send(msg); err != nil {
		return err
	}
	return s.Close()
}

// RunCustomer receives and validates the merchant's parameters (spec.md
// §4.E.1): the range-proof parameters' internal check, that
// hash(ledger_pubkey) == funding_address, and that the funding address
// uses the expected address family/prefix. Any failure maps onto
// InvalidParameters (spec.md §7).
func RunCustomer(s *session.Session, expectedAddressPrefix string) (Message, error) {
	var msg Message
	if err := s.Recv(&msg); err != nil {
		return Message{}, err
	}

	if err := msg.Config.ValidateRangeProofParams(); err != nil {
		return Message{}, session.NewInvalidParameters("range proof parameters failed internal check")
	}

	digest := sha256.Sum256(msg.MerchantLedgerPubkey)
	if !addressMatches(digest[:], msg.MerchantFundingAddr) {
		return Message{}, session.NewInvalidParameters("hash(ledger_pubkey) does not match funding address")
	}

	if !strings.HasPrefix(msg.MerchantFundingAddr, expectedAddressPrefix) {
		return Message{}, session.NewInvalidParameters(
			fmt.Sprintf("unexpected funding address family: got %q want prefix %q",
				msg.MerchantFundingAddr, expectedAddressPrefix))
	}

	return msg, nil
}

// addressMatches reports whether addr was derived from pubkeyHash. The
// real address encoding (base58check with a ledger-specific prefix byte)
// is ledger-specific; this stand-in only checks that addr carries the
// digest's hex encoding as a suffix, sufficient to exercise the validation
// step the protocol engine depends on without hardcoding a Tezos encoder
// here.
func addressMatches(pubkeyHash []byte, addr string) bool {
	return len(addr) >= 2*len(pubkeyHash) &&
		addr[len(addr)-2*len(pubkeyHash):] == fmt.Sprintf("%x", pubkeyHash)
}
