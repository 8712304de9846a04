package wad

import (
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"
)

func mustInt(t *testing.T, s string) math.Int {
	t.Helper()
	v, ok := math.NewIntFromString(s)
	require.True(t, ok, "bad int literal %s", s)
	return v
}

func TestMulDivIdentity(t *testing.T) {
	assert.True(t, Mul(WAD, WAD).Equal(WAD))

	q, err := Div(WAD, WAD)
	require.NoError(t, err)
	assert.True(t, q.Equal(WAD))
}

func TestMulRoundsHalfUp(t *testing.T) {
	// 1.5e-18 * 1.0 rounds to 2e-18 once the half-WAD bias is applied.
	a := math.NewInt(3)
	b := HalfWAD
	assert.Equal(t, "2", Mul(a, b).String())

	// 0.4e-18 rounds down.
	assert.Equal(t, "0", Mul(math.NewInt(2), math.NewInt(200_000_000_000_000_000)).String())
}

func TestDivRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "1", "7", "999999999999999999", "123456789012345678901234567890"} {
		a := mustInt(t, s)
		q, err := Div(a, WAD)
		require.NoError(t, err)
		back := Mul(q, WAD)
		assert.True(t, back.Sub(a).Abs().LTE(math.OneInt()), "round trip of %s gave %s", s, back)
	}
}

func TestDivByZero(t *testing.T) {
	_, err := Div(WAD, math.ZeroInt())
	assert.ErrorIs(t, err, ErrDivByZero)
	assert.Panics(t, func() { MustDiv(WAD, math.ZeroInt()) })
}

func TestDivRounding(t *testing.T) {
	// 2/3 = 0.666...67 in WAD form.
	q, err := Div(math.NewInt(2), math.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, "666666666666666667", q.String())
}

func TestExp(t *testing.T) {
	assert.True(t, Exp(math.ZeroInt()).Equal(WAD))

	// Ten-term truncation of e: matches the program's fixed expansion exactly.
	got := Exp(ToWad(1))
	assert.Equal(t, "2718281801146384475", got.String())

	e := mustInt(t, "2718281828459045235")
	// 1/11! is about 2.5e-8, so the error stays under 1e-7.
	assert.True(t, e.Sub(got).Abs().LT(math.NewInt(100_000_000_000)))

	assert.Equal(t, "1648721270687365653", Exp(HalfWAD).String())
}

func TestExpChecked(t *testing.T) {
	_, err := ExpChecked(ToWad(2))
	assert.ErrorIs(t, err, ErrExpOutOfRange)

	_, err = ExpChecked(ToWad(-2))
	assert.ErrorIs(t, err, ErrExpOutOfRange)

	v, err := ExpChecked(WAD)
	require.NoError(t, err)
	assert.True(t, v.Equal(Exp(WAD)))
}

func TestSqrt(t *testing.T) {
	got, err := Sqrt(ToWad(4))
	require.NoError(t, err)
	assert.True(t, got.Equal(ToWad(2)), "sqrt(4) = %s", got)

	got, err = Sqrt(ToWad(2))
	require.NoError(t, err)
	assert.Equal(t, "1414213562373095048", got.String())

	got, err = Sqrt(WAD.QuoRaw(4))
	require.NoError(t, err)
	assert.True(t, got.Equal(HalfWAD))

	got, err = Sqrt(math.ZeroInt())
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = Sqrt(math.NewInt(-1))
	assert.ErrorIs(t, err, ErrNegativeSqrt)
}

func TestFromWad(t *testing.T) {
	assert.InDelta(t, 3.0, FromWad(ToWad(3)), 1e-12)
	assert.InDelta(t, 1.5, FromWad(WAD.Add(HalfWAD)), 1e-12)
	assert.InDelta(t, -1.5, FromWad(WAD.Add(HalfWAD).Neg()), 1e-12)

	// Only ~15-16 significant digits survive the float conversion.
	v := mustInt(t, "1000000000000000001")
	assert.Equal(t, 1.0, FromWad(v))
}

func TestPow(t *testing.T) {
	assert.True(t, Pow(ToWad(3), 0).Equal(WAD))
	assert.True(t, Pow(ToWad(3), 4).Equal(ToWad(81)))
	assert.True(t, Pow(HalfWAD, 2).Equal(WAD.QuoRaw(4)))
}

func TestBpsToWad(t *testing.T) {
	assert.True(t, BpsToWad(10_000).Equal(WAD))
	assert.True(t, BpsToWad(5_000).Equal(HalfWAD))
	assert.Equal(t, "35000000000000000", BpsToWad(350).String())
}

func TestU128Conversion(t *testing.T) {
	acc := uint128.From64(34928374928374)
	v := FromU128(acc)
	assert.Equal(t, "34928374928374", v.String())

	back, err := ToU128(v)
	require.NoError(t, err)
	assert.True(t, back.Equals(acc))

	_, err = ToU128(math.NewInt(-1))
	assert.ErrorIs(t, err, ErrU128Overflow)

	tooBig := math.NewIntFromBigInt(uint128.Max.Big()).AddRaw(1)
	_, err = ToU128(tooBig)
	assert.ErrorIs(t, err, ErrU128Overflow)
}

func TestExpLargeInput(t *testing.T) {
	huge := ToWad(1_000_000_000)
	assert.Panics(t, func() { Exp(huge) })

	_, err := ExpChecked(huge)
	assert.ErrorIs(t, err, ErrExpOutOfRange)
}
