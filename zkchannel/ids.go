// Package zkchannel defines the shared data model for a single anonymous
// payment channel between a customer and a merchant: identifiers, balances,
// contract details, and the tagged state variants tracked on each side. It
// has no knowledge of the wire protocol, the store, or the ledger -- those
// live in session, store, and contract respectively.
package zkchannel

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// IDLength is the size in bytes of a ChannelId (256 bits).
const IDLength = 32

// ID deterministically names a channel. It is derived (see DeriveID) from
// merchant-randomness XOR customer-randomness XOR the merchant's signing
// public key XOR both parties' ledger public keys, and is collision
// resistant enough to serve as the primary key on both sides.
type ID [IDLength]byte

// String renders the ID as lowercase hex, the form used in logs, CLI
// output, and as the channel-id path component of the wire protocol.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value, used to detect a channel
// row that has not yet completed the randomness exchange in Establish.
func (id ID) IsZero() bool {
	return id == ID{}
}

// ParseID decodes a hex-encoded channel id of exactly IDLength bytes.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != IDLength {
		return id, errors.New("zkchannel: channel id must be 32 bytes")
	}
	copy(id[:], b)
	return id, nil
}

// DeriveID computes the channel id from the four establish-time inputs, in
// the order fixed by the wire protocol: merchant randomness, customer
// randomness, the merchant's signing public key, the customer's ledger
// public key, and the merchant's ledger public key. Each input is hashed
// separately and the digests are
// XORed together, so that either party contributing fresh randomness is
// sufficient to make the result unpredictable to the other before Establish
// completes.
func DeriveID(merchantRandomness, customerRandomness, merchantSigningKey,
	customerLedgerKey, merchantLedgerKey []byte) ID {

	var acc [IDLength]byte
	for _, part := range [][]byte{
		merchantRandomness, customerRandomness, merchantSigningKey,
		customerLedgerKey, merchantLedgerKey,
	} {
		digest := sha256.Sum256(part)
		for i := range acc {
			acc[i] ^= digest[i]
		}
	}
	return ID(acc)
}

// Label is a customer-local unique string naming a channel. The merchant
// never observes a customer's label; it exists purely so the customer can
// refer to channels by a human-chosen name instead of the hex ID.
type Label string

func (l Label) String() string { return string(l) }
