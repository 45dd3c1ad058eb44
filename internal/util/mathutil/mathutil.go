package mathutil

import (
	"errors"
	"fmt"
	"math"
	"math/big"
)

var ErrOverflow = errors.New("value exceeds target type capacity")

// BigToUint64 converts v, failing instead of truncating when it does not
// fit.
func BigToUint64(v *big.Int) (uint64, error) {
	if err := CheckBits(v, 64); err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// CheckBits fails when v is negative or needs more than bits bits.
func CheckBits(v *big.Int, bits int) error {
	if v.Sign() < 0 || v.BitLen() > bits {
		return fmt.Errorf("value %s does not fit in %d bits: %w", v.Text(16), bits, ErrOverflow)
	}
	return nil
}

// CeilDiv returns ceil(a / b) for non-negative a and positive b.
func CeilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// Scale multiplies v by factor and rounds up, so a safety margin never
// shrinks a bound.
func Scale(v *big.Int, factor float64) *big.Int {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return new(big.Int).Set(v)
	}
	r := new(big.Rat).SetFloat64(factor)
	num := new(big.Int).Mul(v, r.Num())
	return CeilDiv(num, r.Denom())
}
