package types

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/bits"

	"github.com/shopspring/decimal"
)

// Precondition errors. Operations panic with these wrapped in a descriptive
// message; they signal caller bugs, not recoverable conditions.
var (
	ErrInvalidArgument = errors.New("types: invalid argument")
	ErrOverflow        = errors.New("types: arithmetic overflow")
)

// Fraction is an exact rational quantity normalized so that
// 0 <= numerator < denominator and denominator >= 1.
//
// The zero value is a valid zero. Fraction has value semantics and is
// safe to share and copy across component boundaries.
//
// Examples:
//   - Whole(3)       = 3
//   - Of(0, 1, 4)    = 1/4
//   - Of(2, 6, 4)    = 3 1/2 (normalized)
type Fraction struct {
	whole       int64
	numerator   int64
	denominator int64
}

// Zero is the zero quantity.
var Zero = Fraction{denominator: 1}

// One is a single whole unit.
var One = Fraction{whole: 1, denominator: 1}

// Whole creates a Fraction holding n whole units.
func Whole(n int64) Fraction { return Fraction{whole: n, denominator: 1} }

// Of creates whole + numerator/denominator, normalizing the result.
// Panics if denominator < 1 or numerator < 0.
func Of(whole, numerator, denominator int64) Fraction {
	if denominator < 1 {
		panic(fmt.Errorf("%w: denominator %d < 1", ErrInvalidArgument, denominator))
	}
	if numerator < 0 {
		panic(fmt.Errorf("%w: negative numerator %d", ErrInvalidArgument, numerator))
	}
	return normalize(whole, numerator, denominator)
}

// Ratio creates numerator/denominator.
func Ratio(numerator, denominator int64) Fraction { return Of(0, numerator, denominator) }

func normalize(whole, num, den int64) Fraction {
	if num >= den {
		whole = addChecked(whole, num/den)
		num %= den
	}
	if num == 0 {
		return Fraction{whole: whole, denominator: 1}
	}
	if g := gcd(num, den); g > 1 {
		num /= g
		den /= g
	}
	return Fraction{whole: whole, numerator: num, denominator: den}
}

// Whole returns the whole part. For negative values the whole part is
// floored so the fractional part stays non-negative.
func (f Fraction) Whole() int64 { return f.whole }

// Numerator returns the numerator of the fractional part.
func (f Fraction) Numerator() int64 { return f.numerator }

// Denominator returns the denominator of the fractional part (always >= 1).
func (f Fraction) Denominator() int64 {
	if f.denominator == 0 {
		return 1
	}
	return f.denominator
}

// ──────────────────────────────────────────────────
// Arithmetic
// ──────────────────────────────────────────────────

// Add returns f + other.
func (f Fraction) Add(other Fraction) Fraction {
	fd, od := f.Denominator(), other.Denominator()
	whole := addChecked(f.whole, other.whole)
	if fd == od {
		return normalize(whole, f.numerator+other.numerator, fd)
	}
	g := gcd(fd, od)
	den := mulChecked(fd/g, od)
	num := addChecked(mulChecked(f.numerator, den/fd), mulChecked(other.numerator, den/od))
	return normalize(whole, num, den)
}

// Subtract returns f - other. The result may be negative; callers that
// need a clamped difference use SubtractClamped.
func (f Fraction) Subtract(other Fraction) Fraction {
	return f.Add(other.Negate())
}

// SubtractClamped returns max(f - other, 0).
func (f Fraction) SubtractClamped(other Fraction) Fraction {
	r := f.Subtract(other)
	if r.IsNegative() {
		return Zero
	}
	return r
}

// Negate returns -f.
func (f Fraction) Negate() Fraction {
	if f.numerator == 0 {
		if f.whole == math.MinInt64 {
			panic(fmt.Errorf("%w: negate %v", ErrOverflow, f))
		}
		return Whole(-f.whole)
	}
	// -(w + n/d) = (-w - 1) + (d - n)/d
	return Fraction{
		whole:       subChecked(-f.whole, 1),
		numerator:   f.denominator - f.numerator,
		denominator: f.denominator,
	}
}

// Multiply returns f * scalar.
func (f Fraction) Multiply(scalar int64) Fraction {
	whole := mulChecked(f.whole, scalar)
	if f.numerator == 0 {
		return Whole(whole)
	}
	num := mulChecked(f.numerator, scalar)
	den := f.denominator
	if num < 0 {
		// Keep the numerator non-negative by borrowing whole units.
		borrow := (-num + den - 1) / den
		whole = subChecked(whole, borrow)
		num = addChecked(num, mulChecked(borrow, den))
	}
	return normalize(whole, num, den)
}

// ──────────────────────────────────────────────────
// Comparison
// ──────────────────────────────────────────────────

// IsZero reports whether f == 0.
func (f Fraction) IsZero() bool { return f.whole == 0 && f.numerator == 0 }

// IsPositive reports whether f > 0.
func (f Fraction) IsPositive() bool { return f.whole > 0 || (f.whole == 0 && f.numerator > 0) }

// IsNegative reports whether f < 0.
func (f Fraction) IsNegative() bool { return f.whole < 0 }

// IsWhole reports whether f has no fractional part.
func (f Fraction) IsWhole() bool { return f.numerator == 0 }

// Compare returns -1, 0 or +1 depending on whether f is less than, equal
// to or greater than other.
func (f Fraction) Compare(other Fraction) int {
	switch {
	case f.whole < other.whole:
		return -1
	case f.whole > other.whole:
		return 1
	}
	// Both fractional parts are non-negative, so compare n1*d2 with n2*d1
	// in 128 bits to avoid overflow.
	h1, l1 := bits.Mul64(uint64(f.numerator), uint64(other.Denominator()))
	h2, l2 := bits.Mul64(uint64(other.numerator), uint64(f.Denominator()))
	switch {
	case h1 < h2 || (h1 == h2 && l1 < l2):
		return -1
	case h1 > h2 || (h1 == h2 && l1 > l2):
		return 1
	}
	return 0
}

// Equal reports whether f and other denote the same quantity.
func (f Fraction) Equal(other Fraction) bool { return f.Compare(other) == 0 }

// LessThan reports whether f < other.
func (f Fraction) LessThan(other Fraction) bool { return f.Compare(other) < 0 }

// GreaterThan reports whether f > other.
func (f Fraction) GreaterThan(other Fraction) bool { return f.Compare(other) > 0 }

// Min returns the smaller of f and other.
func (f Fraction) Min(other Fraction) Fraction {
	if f.Compare(other) <= 0 {
		return f
	}
	return other
}

// Max returns the larger of f and other.
func (f Fraction) Max(other Fraction) Fraction {
	if f.Compare(other) >= 0 {
		return f
	}
	return other
}

// ──────────────────────────────────────────────────
// Rounding and conversion
// ──────────────────────────────────────────────────

// RoundDown truncates f toward zero to the nearest multiple of 1/divisor.
// Panics if divisor < 1.
func (f Fraction) RoundDown(divisor int64) Fraction {
	checkDivisor(divisor)
	if f.IsNegative() {
		return f.Negate().RoundDown(divisor).Negate()
	}
	return normalize(f.whole, f.unitsOf(divisor), divisor)
}

// ToLong returns f expressed in units of 1/divisor, truncated toward zero.
// Panics if divisor < 1 or the result does not fit in an int64.
func (f Fraction) ToLong(divisor int64) int64 {
	checkDivisor(divisor)
	if f.IsNegative() {
		return -f.Negate().ToLong(divisor)
	}
	return addChecked(mulChecked(f.whole, divisor), f.unitsOf(divisor))
}

// unitsOf returns floor(numerator * divisor / denominator) for the
// non-negative fractional part.
func (f Fraction) unitsOf(divisor int64) int64 {
	if f.numerator == 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(f.numerator), uint64(divisor))
	q, _ := bits.Div64(hi, lo, uint64(f.denominator))
	return int64(q)
}

// Decimal renders f as a decimal rounded to the given number of places.
func (f Fraction) Decimal(places int32) decimal.Decimal {
	d := decimal.NewFromInt(f.whole)
	if f.numerator == 0 {
		return d
	}
	frac := decimal.NewFromInt(f.numerator).DivRound(decimal.NewFromInt(f.denominator), places)
	return d.Add(frac)
}

// Float64 returns an approximate float representation, for display only.
func (f Fraction) Float64() float64 {
	return float64(f.whole) + float64(f.numerator)/float64(f.Denominator())
}

// String returns a human-readable form such as "3", "1/4" or "3 1/4".
// LogValue renders f as a six place decimal in structured logs.
func (f Fraction) LogValue() slog.Value {
	return slog.StringValue(f.Decimal(6).String())
}

func (f Fraction) String() string {
	if f.IsNegative() {
		return "-" + f.Negate().String()
	}
	switch {
	case f.numerator == 0:
		return fmt.Sprintf("%d", f.whole)
	case f.whole == 0:
		return fmt.Sprintf("%d/%d", f.numerator, f.denominator)
	default:
		return fmt.Sprintf("%d %d/%d", f.whole, f.numerator, f.denominator)
	}
}

// Sum adds a list of fractions.
func Sum(values ...Fraction) Fraction {
	result := Zero
	for _, v := range values {
		result = result.Add(v)
	}
	return result
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func checkDivisor(divisor int64) {
	if divisor < 1 {
		panic(fmt.Errorf("%w: divisor %d < 1", ErrInvalidArgument, divisor))
	}
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

func addChecked(a, b int64) int64 {
	s := a + b
	if (a > 0 && b > 0 && s < 0) || (a < 0 && b < 0 && s >= 0) {
		panic(fmt.Errorf("%w: %d + %d", ErrOverflow, a, b))
	}
	return s
}

func subChecked(a, b int64) int64 {
	if b == math.MinInt64 {
		panic(fmt.Errorf("%w: %d - %d", ErrOverflow, a, b))
	}
	return addChecked(a, -b)
}

func mulChecked(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	p := a * b
	if p/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		panic(fmt.Errorf("%w: %d * %d", ErrOverflow, a, b))
	}
	return p
}
