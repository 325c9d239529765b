package vat

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// RateScale is the fixed-point scale of rates: four decimal digits.
const RateScale = 10000

var (
	bigRateScale = big.NewInt(RateScale)
	rateScaleDec = decimal.NewFromInt(RateScale)
)

// Amounts is an exact gross/net/vat split in minor units.
type Amounts struct {
	Gross int64
	Net   int64
	VAT   int64
}

// ScaleRate converts a fractional rate (0.18) to an integer scaled by
// RateScale (1800). Digits beyond the fourth decimal are rounded half to
// even. Rates outside [0, 1] are rejected.
func ScaleRate(rate decimal.Decimal) (*big.Int, error) {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, validationErrorf("rate %s outside [0, 1]", rate)
	}
	return rate.Mul(rateScaleDec).RoundBank(0).BigInt(), nil
}

// Split divides amount into net and VAT at the given rate. When
// includesTax is true amount is the gross, otherwise it is the net. The
// derived side is always a subtraction or addition, so Gross == Net + VAT
// holds by construction; the result is still checked before returning.
func Split(amount int64, rate decimal.Decimal, includesTax bool) (Amounts, error) {
	if amount < 0 {
		return Amounts{}, invariantErrorf("negative amount %d", amount)
	}
	r, err := ScaleRate(rate)
	if err != nil {
		return Amounts{}, err
	}

	a := big.NewInt(amount)
	var gross, net, vat *big.Int

	if includesTax {
		gross = a
		// net = gross * 10000 / (10000 + r)
		num := new(big.Int).Mul(gross, bigRateScale)
		den := new(big.Int).Add(bigRateScale, r)
		net = divRoundHalfEven(num, den)
		vat = new(big.Int).Sub(gross, net)
	} else {
		net = a
		// vat = net * r / 10000
		vat = divRoundHalfEven(new(big.Int).Mul(net, r), bigRateScale)
		gross = new(big.Int).Add(net, vat)
	}

	for _, v := range []*big.Int{gross, net, vat} {
		if !v.IsInt64() {
			return Amounts{}, invariantErrorf("split of %d overflows int64", amount)
		}
	}

	out := Amounts{Gross: gross.Int64(), Net: net.Int64(), VAT: vat.Int64()}
	if err := checkSplit(out.Gross, out.Net, out.VAT); err != nil {
		return Amounts{}, err
	}
	return out, nil
}

// ZeroVAT is the split used when no VAT applies.
func ZeroVAT(amount int64) Amounts {
	return Amounts{Gross: amount, Net: amount}
}

// ProportionalAdjustment returns round(-vat * part / whole) half to even.
// whole must be positive.
func ProportionalAdjustment(vat, part, whole int64) (int64, error) {
	if whole <= 0 {
		return 0, invariantErrorf("proportional adjustment over non-positive base %d", whole)
	}
	num := new(big.Int).Mul(big.NewInt(-vat), big.NewInt(part))
	q := divRoundHalfEven(num, big.NewInt(whole))
	if !q.IsInt64() {
		return 0, invariantErrorf("adjustment of %d overflows int64", vat)
	}
	return q.Int64(), nil
}

// divRoundHalfEven returns num/den rounded to the nearest integer, ties to
// even. den must be non-zero.
func divRoundHalfEven(num, den *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() == 0 {
		return q
	}

	twiceR := new(big.Int).Abs(r)
	twiceR.Lsh(twiceR, 1)
	absDen := new(big.Int).Abs(den)

	cmp := twiceR.Cmp(absDen)
	if cmp > 0 || (cmp == 0 && q.Bit(0) == 1) {
		// QuoRem truncates toward zero; step away from zero.
		if num.Sign()*den.Sign() < 0 {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}
	return q
}

func checkSplit(gross, net, vat int64) error {
	if gross < 0 || net < 0 || vat < 0 {
		return invariantErrorf("negative split gross=%d net=%d vat=%d", gross, net, vat)
	}
	if gross != net+vat {
		return invariantErrorf("gross %d != net %d + vat %d", gross, net, vat)
	}
	return nil
}
