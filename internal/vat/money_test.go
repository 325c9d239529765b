package vat

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDivRoundHalfEven(t *testing.T) {
	tests := []struct {
		num, den int64
		want     int64
	}{
		{num: 10, den: 4, want: 2},   // 2.5 -> 2
		{num: 14, den: 4, want: 4},   // 3.5 -> 4
		{num: 11, den: 4, want: 3},   // 2.75 -> 3
		{num: 9, den: 4, want: 2},    // 2.25 -> 2
		{num: -10, den: 4, want: -2}, // -2.5 -> -2
		{num: -14, den: 4, want: -4}, // -3.5 -> -4
		{num: -11, den: 4, want: -3},
		{num: -9, den: 4, want: -2},
		{num: 10, den: -4, want: -2},
		{num: 12, den: 4, want: 3},
		{num: 0, den: 7, want: 0},
		{num: 1, den: 2, want: 0}, // 0.5 -> 0
		{num: 3, den: 2, want: 2}, // 1.5 -> 2
	}
	for _, tt := range tests {
		got := divRoundHalfEven(big.NewInt(tt.num), big.NewInt(tt.den))
		assert.Equalf(t, tt.want, got.Int64(), "%d/%d", tt.num, tt.den)
	}
}

func TestScaleRate(t *testing.T) {
	tests := []struct {
		rate string
		want int64
	}{
		{"0.18", 1800},
		{"0.055", 550},
		{"0", 0},
		{"1", 10000},
		{"0.18125", 1812}, // tie, even stays
		{"0.18135", 1814}, // tie, odd rounds up
		{"0.181251", 1813},
	}
	for _, tt := range tests {
		got, err := ScaleRate(decimal.RequireFromString(tt.rate))
		require.NoError(t, err, tt.rate)
		assert.Equal(t, tt.want, got.Int64(), tt.rate)
	}
}

func TestScaleRate_RejectsOutOfRange(t *testing.T) {
	for _, rate := range []string{"-0.01", "1.0001", "18"} {
		_, err := ScaleRate(decimal.RequireFromString(rate))
		require.Error(t, err, rate)
		assert.True(t, IsValidation(err), rate)
	}
}

func TestSplit_InclusiveGabonFrance(t *testing.T) {
	got, err := Split(10000, decimal.RequireFromString("0.18"), true)
	require.NoError(t, err)
	assert.Equal(t, Amounts{Gross: 10000, Net: 8475, VAT: 1525}, got)
}

func TestSplit_Exclusive(t *testing.T) {
	got, err := Split(10000, decimal.RequireFromString("0.20"), false)
	require.NoError(t, err)
	assert.Equal(t, Amounts{Gross: 12000, Net: 10000, VAT: 2000}, got)
}

func TestSplit_ExclusiveTieRoundsToEven(t *testing.T) {
	// 25 * 0.10 = 2.5 -> 2 ; 35 * 0.10 = 3.5 -> 4
	got, err := Split(25, decimal.RequireFromString("0.10"), false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.VAT)

	got, err = Split(35, decimal.RequireFromString("0.10"), false)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.VAT)
}

func TestSplit_ZeroRate(t *testing.T) {
	for _, inclusive := range []bool{true, false} {
		got, err := Split(4321, decimal.Zero, inclusive)
		require.NoError(t, err)
		assert.Equal(t, ZeroVAT(4321), got)
	}
}

func TestSplit_InvariantHoldsAcrossRange(t *testing.T) {
	rates := []string{"0.05", "0.055", "0.07", "0.1", "0.16", "0.18", "0.1925", "0.2", "0.21", "0.27"}
	for _, rs := range rates {
		rate := decimal.RequireFromString(rs)
		for amount := int64(0); amount <= 5000; amount++ {
			for _, inclusive := range []bool{true, false} {
				got, err := Split(amount, rate, inclusive)
				require.NoError(t, err)
				require.Equal(t, got.Gross, got.Net+got.VAT, "rate=%s amount=%d inclusive=%v", rs, amount, inclusive)
				require.GreaterOrEqual(t, got.VAT, int64(0))
				if inclusive {
					require.Equal(t, amount, got.Gross)
				} else {
					require.Equal(t, amount, got.Net)
				}
			}
		}
	}
}

func TestSplit_LargeAmounts(t *testing.T) {
	const max = int64(1) << 62
	got, err := Split(max, decimal.RequireFromString("0.2"), true)
	require.NoError(t, err)
	assert.Equal(t, got.Gross, got.Net+got.VAT)

	_, err = Split(max, decimal.RequireFromString("1"), false)
	require.Error(t, err)
	assert.True(t, IsInvariantViolation(err))
}

func TestSplit_NegativeAmountIsFatal(t *testing.T) {
	_, err := Split(-1, decimal.RequireFromString("0.2"), true)
	require.Error(t, err)
	assert.True(t, IsInvariantViolation(err))
}

// Exact-half remainders must round up and down equally often.
func TestSplit_RoundingFairness(t *testing.T) {
	rate := decimal.RequireFromString("0.5") // vat = net/2, odd nets tie
	up, down := 0, 0
	for net := int64(1); net < 20000; net += 2 {
		got, err := Split(net, rate, false)
		require.NoError(t, err)
		exact := decimal.NewFromInt(net).Div(decimal.NewFromInt(2))
		if decimal.NewFromInt(got.VAT).GreaterThan(exact) {
			up++
		} else {
			down++
		}
	}
	assert.Equal(t, up, down)
}

func TestProportionalAdjustment(t *testing.T) {
	tests := []struct {
		name             string
		vat, part, whole int64
		want             int64
	}{
		{name: "full", vat: 1525, part: 10000, whole: 10000, want: -1525},
		{name: "half", vat: 1525, part: 5000, whole: 10000, want: -762}, // -762.5 -> -762
		{name: "quarter", vat: 2000, part: 3000, whole: 12000, want: -500},
		{name: "zero vat", vat: 0, part: 100, whole: 100, want: 0},
		{name: "tiny", vat: 1, part: 1, whole: 3, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ProportionalAdjustment(tt.vat, tt.part, tt.whole)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ProportionalAdjustment(10, 1, 0)
	assert.True(t, IsInvariantViolation(err))
}
