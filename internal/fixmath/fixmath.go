// Package fixmath implements signed 64-bit fixed-point arithmetic for the
// pricing engine.
//
// Deterministic pricing requires bit-identical results across independent
// re-executions, a property float64 cannot guarantee. All quantities are
// scaled integers:
//
//   - transcendental intermediates use Scale (1e9)
//   - Greeks and basis-point parameters use GreekScale / BpsScale (1e4)
//   - prices, strikes, premiums are plain integers in the asset's smallest unit
//
// Every division rounds toward zero. Multiplications go through a 128-bit
// intermediate (math/bits) so precision is never lost before the final
// truncation, and overflow is reported explicitly instead of wrapping.
package fixmath

import (
	"errors"
	"math"
	"math/bits"
)

const (
	// Scale is the fixed-point unit for internal math: 1.0 == 1e9.
	Scale int64 = 1_000_000_000

	// GreekScale is the external fixed-point unit for Greeks: 1.0 == 1e4.
	GreekScale int64 = 10_000

	// BpsScale converts basis points to a ratio: 10000 bps == 1.0.
	BpsScale int64 = 10_000

	// Ln2 is ln(2) at Scale, truncated toward zero.
	Ln2 int64 = 693_147_180

	// Sqrt2Pi is sqrt(2*pi) at Scale, truncated toward zero.
	Sqrt2Pi int64 = 2_506_628_274
)

var (
	// ErrOverflow is returned when a result exceeds the representable
	// int64 range at the requested scale.
	ErrOverflow = errors.New("fixmath: arithmetic overflow")

	// ErrDivideByZero is returned on division by zero.
	ErrDivideByZero = errors.New("fixmath: division by zero")

	// ErrLogDomain is returned for Ln of a non-positive value.
	ErrLogDomain = errors.New("fixmath: log of non-positive value")

	// ErrNegativeRoot is returned for Sqrt of a negative value.
	ErrNegativeRoot = errors.New("fixmath: square root of negative value")
)

// uabs returns |x| as uint64, handling math.MinInt64.
func uabs(x int64) uint64 {
	if x < 0 {
		return uint64(-(x + 1)) + 1
	}
	return uint64(x)
}

// MulDiv computes a*b/denom with a 128-bit intermediate product and
// truncation toward zero.
func MulDiv(a, b, denom int64) (int64, error) {
	if denom == 0 {
		return 0, ErrDivideByZero
	}

	neg := (a < 0) != (b < 0)
	if denom < 0 {
		neg = !neg
	}

	hi, lo := bits.Mul64(uabs(a), uabs(b))
	du := uabs(denom)
	if hi >= du {
		return 0, ErrOverflow // quotient does not fit in 64 bits
	}
	q, _ := bits.Div64(hi, lo, du)

	if neg {
		if q > uint64(math.MaxInt64)+1 {
			return 0, ErrOverflow
		}
		if q == uint64(math.MaxInt64)+1 {
			return math.MinInt64, nil
		}
		return -int64(q), nil
	}
	if q > uint64(math.MaxInt64) {
		return 0, ErrOverflow
	}
	return int64(q), nil
}

// Mul computes a*b at Scale: (a*b)/Scale, truncated toward zero.
func Mul(a, b int64) (int64, error) {
	return MulDiv(a, b, Scale)
}

// Div computes a/b at Scale: (a*Scale)/b, truncated toward zero.
func Div(a, b int64) (int64, error) {
	return MulDiv(a, Scale, b)
}

// Add returns a+b, failing instead of wrapping.
func Add(a, b int64) (int64, error) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, ErrOverflow
	}
	return s, nil
}

// Sub returns a-b, failing instead of wrapping.
func Sub(a, b int64) (int64, error) {
	d := a - b
	if (b < 0 && d < a) || (b > 0 && d > a) {
		return 0, ErrOverflow
	}
	return d, nil
}

// MulInt returns the plain (unscaled) product a*b, failing instead of
// wrapping. Used when scaling per-contract values by a contract amount.
func MulInt(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	p := a * b
	if p/b != a {
		return 0, ErrOverflow
	}
	return p, nil
}

// Sqrt returns the square root of x at Scale, truncated toward zero. The
// whole non-negative int64 range is accepted: u = x*Scale is carried as a
// 128-bit value, and its root is at most ~9.6e13, far inside int64.
func Sqrt(x int64) (int64, error) {
	if x < 0 {
		return 0, ErrNegativeRoot
	}
	if x == 0 {
		return 0, nil
	}

	// Newton's method on u = x*Scale so the result stays at Scale. The
	// initial guess 2^ceil(len/2) is >= sqrt(u), and the iteration only
	// descends, so the 128-bit division never sees a quotient overflow.
	hi, lo := bits.Mul64(uint64(x), uint64(Scale))
	if hi == 0 {
		u := lo
		r := uint64(1) << ((bits.Len64(u) + 1) / 2)
		for {
			next := (r + u/r) / 2
			if next >= r {
				break
			}
			r = next
		}
		return int64(r), nil
	}

	r := uint64(1) << ((64 + bits.Len64(hi) + 1) / 2)
	for {
		q, _ := bits.Div64(hi, lo, r)
		next := (r + q) / 2
		if next >= r {
			break
		}
		r = next
	}
	return int64(r), nil
}

// Ln returns the natural logarithm of x (at Scale) at Scale.
//
// x is normalized into [1, 2) by exact doublings/halvings, then ln of the
// mantissa is computed with the atanh series
//
//	ln(m) = 2 * (z + z^3/3 + z^5/5 + ...),  z = (m-1)/(m+1)
//
// truncated after z^17, which keeps the error below one unit at Scale
// over the whole mantissa range.
func Ln(x int64) (int64, error) {
	if x <= 0 {
		return 0, ErrLogDomain
	}

	var k int64
	for x >= 2*Scale {
		x /= 2
		k++
	}
	for x < Scale {
		x *= 2
		k--
	}

	// z = (m-1)/(m+1), always in [0, 1/3) for m in [1, 2).
	z, err := Div(x-Scale, x+Scale)
	if err != nil {
		return 0, err
	}
	z2, err := Mul(z, z)
	if err != nil {
		return 0, err
	}

	sum := z
	pw := z
	for n := int64(3); n <= 17; n += 2 {
		pw, err = Mul(pw, z2)
		if err != nil {
			return 0, err
		}
		sum += pw / n
	}

	return k*Ln2 + 2*sum, nil
}

// Exp returns e^x (x at Scale) at Scale.
//
// Range reduction: x = k*ln2 + r with |r| <= ln2/2, then e^r via Taylor
// series and a final exact power-of-two shift. Arguments below -21 underflow
// to zero (the value is smaller than one unit at Scale); arguments above 22
// overflow the representable range and fail.
func Exp(x int64) (int64, error) {
	if x <= -21*Scale {
		return 0, nil
	}
	if x > 22*Scale {
		return 0, ErrOverflow
	}

	var k int64
	if x >= 0 {
		k = (x + Ln2/2) / Ln2
	} else {
		k = (x - Ln2/2) / Ln2
	}
	r := x - k*Ln2

	sum := Scale + r
	term := r
	var err error
	for n := int64(2); n <= 13; n++ {
		term, err = Mul(term, r)
		if err != nil {
			return 0, err
		}
		term /= n
		if term == 0 {
			break
		}
		sum += term
	}

	if k >= 0 {
		if k >= 63 || sum > math.MaxInt64>>uint(k) {
			return 0, ErrOverflow
		}
		return sum << uint(k), nil
	}
	if -k >= 63 {
		return 0, nil
	}
	return sum >> uint(-k), nil
}
