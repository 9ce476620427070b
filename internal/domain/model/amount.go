package model

import (
	"math/big"

	"github.com/holiman/uint256"
)

// Amount is a non-negative or signed credit/capacity quantity tracked
// internally by the ledger (credit_free, credit_committed, capacity_used,
// approval limits, and the signed deltas exchanged between them). big.Int
// is used here rather than uint256.Int because several ledger formulas
// (max_expiries deltas, ensure_credit_or_buy adjustments) are naturally
// signed and uint256 has no signed representation; see DESIGN.md.
type Amount = big.Int

// NewAmount builds an Amount from an int64, for literals and tests.
func NewAmount(v int64) *Amount {
	return big.NewInt(v)
}

// ZeroAmount returns a fresh zero-valued Amount.
func ZeroAmount() *Amount {
	return new(big.Int)
}

// TokenAmount is a host-supplied token quantity (the native subnet token
// used to buy credit), backed by uint256 the way the chain-side examples
// represent wei-denominated balances.
type TokenAmount struct {
	inner uint256.Int
}

// NewTokenAmount wraps a uint64 token quantity.
func NewTokenAmount(v uint64) TokenAmount {
	var t TokenAmount
	t.inner.SetUint64(v)
	return t
}

// TokenAmountFromBig converts a non-negative *big.Int into a TokenAmount.
func TokenAmountFromBig(v *big.Int) (TokenAmount, bool) {
	var t TokenAmount
	if v.Sign() < 0 {
		return t, false
	}
	overflow := t.inner.SetFromBig(v)
	return t, !overflow
}

// Big returns the token amount as a *big.Int for use in ledger math.
func (t TokenAmount) Big() *big.Int {
	return t.inner.ToBig()
}

// IsZero reports whether the token amount is zero.
func (t TokenAmount) IsZero() bool {
	return t.inner.IsZero()
}

func (t TokenAmount) String() string {
	return t.inner.Dec()
}
