package num

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"pgregory.net/rapid"
)

func TestLimbsSplit(t *testing.T) {
	// 2^128 + 5 -> low = 5, high = 1
	v := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	v.Add(v, uint256.NewInt(5))

	l := SplitLimbs(v)
	if l.Low != (Uint128{Lo: 5}) {
		t.Errorf("low = %+v, want {Lo:5}", l.Low)
	}
	if l.High != (Uint128{Lo: 1}) {
		t.Errorf("high = %+v, want {Lo:1}", l.High)
	}

	max := SplitLimbs(new(uint256.Int).SetAllOne())
	ones := Uint128{Lo: ^uint64(0), Hi: ^uint64(0)}
	if max.Low != ones || max.High != ones {
		t.Errorf("max limbs = %+v/%+v, want 2^128-1 each", max.Low, max.High)
	}

	if !SplitLimbs(nil).IsZero() {
		t.Error("nil should split to zero limbs")
	}
}

func TestLimbsRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := &uint256.Int{
			rapid.Uint64().Draw(t, "w0"),
			rapid.Uint64().Draw(t, "w1"),
			rapid.Uint64().Draw(t, "w2"),
			rapid.Uint64().Draw(t, "w3"),
		}
		l := SplitLimbs(v)
		if !l.Int().Eq(v) {
			t.Fatalf("round trip %s -> %s", v.Dec(), l.Int().Dec())
		}

		// high * 2^128 + low, computed independently of Int()
		high := new(big.Int).Lsh(new(big.Int).SetUint64(l.High.Hi), 64)
		high.Or(high, new(big.Int).SetUint64(l.High.Lo))
		low := new(big.Int).Lsh(new(big.Int).SetUint64(l.Low.Hi), 64)
		low.Or(low, new(big.Int).SetUint64(l.Low.Lo))
		composed := new(big.Int).Lsh(high, 128)
		composed.Or(composed, low)
		if composed.Cmp(v.ToBig()) != 0 {
			t.Fatalf("high<<128|low = %s, want %s", composed, v.Dec())
		}
	})
}
