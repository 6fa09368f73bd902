package num

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Ratio is an exact quote-per-base price: Num / Den
// Never normalized; comparisons always cross-multiply
type Ratio struct {
	Num *uint256.Int
	Den *uint256.Int
}

// NewRatio builds a ratio from small integers (tests, CLI)
func NewRatio(num, den uint64) Ratio {
	return Ratio{Num: uint256.NewInt(num), Den: uint256.NewInt(den)}
}

// Valid reports whether both parts are present and Den > 0
func (r Ratio) Valid() bool {
	return r.Num != nil && r.Den != nil && !r.Den.IsZero()
}

// Cmp compares r with o as r.Num*o.Den versus o.Num*r.Den.
// Products are taken in full precision, so 256-bit operands cannot wrap.
// Both ratios must be Valid.
func (r Ratio) Cmp(o Ratio) int {
	lhs := new(big.Int).Mul(r.Num.ToBig(), o.Den.ToBig())
	rhs := new(big.Int).Mul(o.Num.ToBig(), r.Den.ToBig())
	return lhs.Cmp(rhs)
}

// Within reports lo <= r <= hi
func (r Ratio) Within(lo, hi Ratio) bool {
	return lo.Cmp(r) <= 0 && r.Cmp(hi) <= 0
}

// MulFloor returns floor(qty * Num / Den) with a 512-bit intermediate.
// The fractional remainder is dropped. overflow is true when the result
// does not fit in 256 bits.
func (r Ratio) MulFloor(qty *uint256.Int) (z *uint256.Int, overflow bool) {
	if !r.Valid() {
		panic("num: MulFloor on invalid ratio")
	}
	return new(uint256.Int).MulDivOverflow(qty, r.Num, r.Den)
}

func (r Ratio) String() string {
	if r.Num == nil || r.Den == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s/%s", r.Num.Dec(), r.Den.Dec())
}

// ParseRatio parses decimal numerator and denominator strings
func ParseRatio(num, den string) (Ratio, error) {
	n, err := ParseUint256(num)
	if err != nil {
		return Ratio{}, fmt.Errorf("invalid numerator: %w", err)
	}
	d, err := ParseUint256(den)
	if err != nil {
		return Ratio{}, fmt.Errorf("invalid denominator: %w", err)
	}
	if d.IsZero() {
		return Ratio{}, fmt.Errorf("denominator must be positive")
	}
	return Ratio{Num: n, Den: d}, nil
}

// ParseUint256 parses a base-10 unsigned 256-bit integer
func ParseUint256(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty integer")
	}
	z, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid uint256 %q: %w", s, err)
	}
	return z, nil
}
