package tokenprog

import (
	"math"
	"math/bits"
)

// MulDiv returns floor(a*b/c) without intermediate overflow. The result
// saturates at MaxUint64; c must be non-zero.
func MulDiv(a, b, c uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, c)
	return q
}

// MulDivCeil returns ceil(a*b/c) with the same constraints as MulDiv.
func MulDivCeil(a, b, c uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return math.MaxUint64
	}
	q, r := bits.Div64(hi, lo, c)
	if r != 0 && q != math.MaxUint64 {
		q++
	}
	return q
}

// AddSat returns a+b, saturating at MaxUint64.
func AddSat(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
