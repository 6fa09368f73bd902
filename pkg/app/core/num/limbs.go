package num

import "github.com/holiman/uint256"

// Uint128 is one 128-bit limb, little-endian words
type Uint128 struct {
	Lo uint64
	Hi uint64
}

// Limbs is the boundary encoding of a 256-bit value as (low, high) 128-bit
// limbs, the representation token ledgers expect.
type Limbs struct {
	Low  Uint128
	High Uint128
}

// SplitLimbs decomposes v; nil is treated as zero
func SplitLimbs(v *uint256.Int) Limbs {
	if v == nil {
		return Limbs{}
	}
	return Limbs{
		Low:  Uint128{Lo: v[0], Hi: v[1]},
		High: Uint128{Lo: v[2], Hi: v[3]},
	}
}

// Int recomposes the 256-bit value
func (l Limbs) Int() *uint256.Int {
	return &uint256.Int{l.Low.Lo, l.Low.Hi, l.High.Lo, l.High.Hi}
}

// IsZero reports whether every word is zero
func (l Limbs) IsZero() bool {
	return l == Limbs{}
}

func (l Limbs) String() string {
	return l.Int().Dec()
}
