package ledger

import "math/big"

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// bigFromDelta computes delta * size as a signed *big.Int. delta may be
// negative (a shrinking envelope); size is always non-negative.
func bigFromDelta(delta int64, size uint64) *big.Int {
	return new(big.Int).Mul(big.NewInt(delta), new(big.Int).SetUint64(size))
}

func bigSize(size uint64) *big.Int {
	return new(big.Int).SetUint64(size)
}

func derefOr(v *int64, fallback int64) int64 {
	if v == nil {
		return fallback
	}
	return *v
}
