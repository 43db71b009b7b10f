package domain

import "github.com/holiman/uint256"

// Ray is the fixed-point scale used for rates and weights (10^27).
var Ray = uint256.MustFromDecimal("1000000000000000000000000000")

// AmountMax is the sentinel "recall everything" amount (2^256 - 1).
var AmountMax = new(uint256.Int).SetAllOne()

// BpsDenominator is the basis-point scale for fractional parameters.
const BpsDenominator = 10_000

// RayMul returns a * b / Ray.
func RayMul(a, b *uint256.Int) *uint256.Int {
	p := new(uint256.Int).Mul(a, b)
	return p.Div(p, Ray)
}

// RayDiv returns a * Ray / b. Returns zero if b is zero.
func RayDiv(a, b *uint256.Int) *uint256.Int {
	if b.IsZero() {
		return new(uint256.Int)
	}
	p := new(uint256.Int).Mul(a, Ray)
	return p.Div(p, b)
}

// BpsOf returns a * bps / 10000.
func BpsOf(a *uint256.Int, bps uint64) *uint256.Int {
	p := new(uint256.Int).Mul(a, uint256.NewInt(bps))
	return p.Div(p, uint256.NewInt(BpsDenominator))
}

// RayPercent converts whole percentage points to a Ray-scaled rate.
// RayPercent(5) is 5% == 0.05 * 10^27.
func RayPercent(pct uint64) *uint256.Int {
	p := new(uint256.Int).Mul(uint256.NewInt(pct), Ray)
	return p.Div(p, uint256.NewInt(100))
}

// RayBps converts basis points to a Ray-scaled rate.
func RayBps(bps uint64) *uint256.Int {
	p := new(uint256.Int).Mul(uint256.NewInt(bps), Ray)
	return p.Div(p, uint256.NewInt(BpsDenominator))
}

// Amount builds a *uint256.Int from a uint64, for readability at call sites.
func Amount(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// MinAmount returns a clone of the smaller of a and b.
func MinAmount(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) <= 0 {
		return a.Clone()
	}
	return b.Clone()
}

// IsMaxAmount reports whether v is the recall-everything sentinel.
func IsMaxAmount(v *uint256.Int) bool {
	return v != nil && v.Eq(AmountMax)
}
