package contract

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/crypto/sha3"

	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

// CanonicalizeMicheline sorts the top-level primitive applications of a
// Micheline JSON contract-code document by their "prim" field and
// re-serializes it, matching spec.md §6: "the canonicalization sorts
// top-level primitive applications by prim field." It is the input to
// CodeHash, used by VerifyOrigination to assert the observed contract
// matches the expected shape.
//
// Grounded on original_source/src/canonicalize_json_micheline/src/lib.rs.
func CanonicalizeMicheline(raw []byte) ([]byte, error) {
	var nodes []json.RawMessage
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, err
	}

	type primHolder struct {
		Prim string          `json:"prim"`
		full json.RawMessage
	}
	holders := make([]primHolder, 0, len(nodes))
	for _, n := range nodes {
		var h primHolder
		if err := json.Unmarshal(n, &h); err != nil {
			return nil, err
		}
		h.full = n
		holders = append(holders, h)
	}

	sort.SliceStable(holders, func(i, j int) bool {
		return holders[i].Prim < holders[j].Prim
	})

	out := make([]json.RawMessage, len(holders))
	for i, h := range holders {
		out[i] = h.full
	}
	return json.Marshal(out)
}

// CodeHash computes the SHA3-256 contract-code hash over the
// canonicalized Micheline representation (spec.md §6).
func CodeHash(canonicalMicheline []byte) [32]byte {
	return sha3.Sum256(canonicalMicheline)
}

// MutualCloseAuthorizationDigest computes the fixed digest a mutual-close
// authorization signature is produced over (spec.md §4.E.4 step 3):
// `(channel_id, "zkChannels mutual close", contract_id, customer_balance,
// merchant_balance)`. MockDriver.AuthorizeMutualClose and the customer's
// verification of the resulting signature derive it from this one
// function, so the two sides can never disagree on what was signed.
func MutualCloseAuthorizationDigest(closeCtx zkchannel.MutualCloseAuthorizationContext) [32]byte {
	return sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d|%d",
		closeCtx.ChannelID, zkchannel.MutualCloseTag, closeCtx.ContractID,
		closeCtx.Balances.CustomerBalance, closeCtx.Balances.MerchantBalance)))
}
