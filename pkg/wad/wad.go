// Package wad implements 10^18-scaled fixed-point arithmetic that matches the
// on-chain program's integer math bit for bit. Division truncates toward zero,
// which is what the program (and the big-number library the web SDK uses) does.
package wad

import (
	"errors"
	"fmt"
	"math/big"

	"cosmossdk.io/math"
	"lukechampine.com/uint128"
)

var (
	// WAD represents exactly 1.0.
	WAD = math.NewInt(1_000_000_000_000_000_000)
	// HalfWAD is the rounding bias added before truncating a product.
	HalfWAD = WAD.QuoRaw(2)

	// MaxExpInput bounds |x| for ExpChecked. Beyond it the fixed 10-term
	// series drifts too far from e^x to be useful.
	MaxExpInput = WAD

	bpsDenominator = math.NewInt(10_000)
)

var (
	ErrDivByZero     = errors.New("wad: division by zero")
	ErrExpOutOfRange = errors.New("wad: exp input outside validated range")
	ErrNegativeSqrt  = errors.New("wad: square root of negative value")
	ErrU128Overflow  = errors.New("wad: value does not fit in u128")
)

const expTerms = 10

// Mul returns (a*b + WAD/2) / WAD.
func Mul(a, b math.Int) math.Int {
	return a.Mul(b).Add(HalfWAD).Quo(WAD)
}

// Div returns (a*WAD + b/2) / b.
func Div(a, b math.Int) (math.Int, error) {
	if b.IsZero() {
		return math.ZeroInt(), ErrDivByZero
	}
	return a.Mul(WAD).Add(b.QuoRaw(2)).Quo(b), nil
}

// MustDiv is Div for divisors known to be non-zero.
func MustDiv(a, b math.Int) math.Int {
	r, err := Div(a, b)
	if err != nil {
		panic(err)
	}
	return r
}

// ToWad scales an integer into WAD form.
func ToWad(n int64) math.Int {
	return math.NewInt(n).Mul(WAD)
}

// FromWad converts to float64 as floor(x/WAD) + (x mod WAD)/1e18.
// This loses precision; keep values in WAD form when exactness matters.
func FromWad(x math.Int) float64 {
	q := x.Quo(WAD)
	r := x.Sub(q.Mul(WAD))
	whole, _ := new(big.Float).SetInt(q.BigInt()).Float64()
	frac, _ := new(big.Float).SetInt(r.BigInt()).Float64()
	return whole + frac/1e18
}

// Exp approximates e^x with a fixed 10-term Taylor expansion. The number of
// terms does not depend on x, so accuracy degrades quickly for |x| > 1.
// Large |x| overflows the 256-bit intermediate and panics; use ExpChecked
// for values that are not already bounded.
func Exp(x math.Int) math.Int {
	result := WAD
	term := WAD
	for i := int64(1); i <= expTerms; i++ {
		term = Mul(term, x).QuoRaw(i)
		result = result.Add(term)
	}
	return result
}

// ExpChecked is Exp restricted to |x| <= MaxExpInput.
func ExpChecked(x math.Int) (math.Int, error) {
	if x.Abs().GT(MaxExpInput) {
		return math.ZeroInt(), fmt.Errorf("%w: %s", ErrExpOutOfRange, x)
	}
	return Exp(x), nil
}

// Sqrt returns sqrt(x) in WAD form, i.e. the integer square root of x*WAD,
// found with Newton's method starting above the root.
func Sqrt(x math.Int) (math.Int, error) {
	if x.IsNegative() {
		return math.ZeroInt(), ErrNegativeSqrt
	}
	if x.IsZero() {
		return math.ZeroInt(), nil
	}

	n := x.Mul(WAD)
	bits := n.BigInt().BitLen()
	z := math.NewIntFromBigInt(new(big.Int).Lsh(big.NewInt(1), uint((bits+1)/2)))

	// From above, Newton decreases monotonically until it reaches floor(sqrt(n)).
	for i := 0; i < 256; i++ {
		y := n.Quo(z).Add(z).QuoRaw(2)
		if y.GTE(z) {
			break
		}
		z = y
	}
	return z, nil
}

// Pow raises x to an integer power by repeated squaring with Mul rounding.
func Pow(x math.Int, n uint64) math.Int {
	result := WAD
	base := x
	for n > 0 {
		if n&1 == 1 {
			result = Mul(result, base)
		}
		n >>= 1
		if n > 0 {
			base = Mul(base, base)
		}
	}
	return result
}

// BpsToWad converts basis points into a WAD fraction (10000 bps = WAD).
func BpsToWad(bps uint64) math.Int {
	return math.NewIntFromUint64(bps).Mul(WAD).Quo(bpsDenominator)
}

// FromU128 lifts an on-chain u128 into an Int.
func FromU128(v uint128.Uint128) math.Int {
	return math.NewIntFromBigInt(v.Big())
}

// ToU128 narrows x back to u128, failing on negative or oversized values.
func ToU128(x math.Int) (uint128.Uint128, error) {
	if x.IsNegative() || x.BigInt().BitLen() > 128 {
		return uint128.Zero, fmt.Errorf("%w: %s", ErrU128Overflow, x)
	}
	return uint128.FromBig(x.BigInt()), nil
}
