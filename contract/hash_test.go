package contract_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boltlabs-inc/zeekoe/contract"
)

// TestCanonicalizeMichelineSortsByPrim covers spec.md §6: canonicalization
// sorts top-level primitive applications by their "prim" field, so two
// documents differing only in declaration order hash identically.
func TestCanonicalizeMichelineSortsByPrim(t *testing.T) {
	a := []byte(`[{"prim":"storage","args":[]},{"prim":"code","args":[]}]`)
	b := []byte(`[{"prim":"code","args":[]},{"prim":"storage","args":[]}]`)

	canonA, err := contract.CanonicalizeMicheline(a)
	require.NoError(t, err)
	canonB, err := contract.CanonicalizeMicheline(b)
	require.NoError(t, err)

	require.Equal(t, canonA, canonB)
	require.Equal(t, contract.CodeHash(canonA), contract.CodeHash(canonB))
}

func TestCanonicalizeMichelineRejectsDifferentCode(t *testing.T) {
	a := []byte(`[{"prim":"storage","args":[]}]`)
	b := []byte(`[{"prim":"storage","args":[1]}]`)

	canonA, err := contract.CanonicalizeMicheline(a)
	require.NoError(t, err)
	canonB, err := contract.CanonicalizeMicheline(b)
	require.NoError(t, err)

	require.NotEqual(t, contract.CodeHash(canonA), contract.CodeHash(canonB))
}
