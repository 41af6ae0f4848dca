// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fheml

import (
	"fmt"
	"math/big"
)

// fractionLimit bounds the magnitude of a Fraction's numerator and
// denominator. Products whose terms exceed it are rejected rather than
// carried forward: a running (numerator, denominator) pair accumulated
// across many multiplications drifts into values with no usable numeric
// relationship to the true result long before native integers wrap.
const fractionLimit = int64(1) << 31

// Fraction is an exact plaintext rational. It is used to express
// reciprocal constants (1/N, 1/N²) fed to the encrypted pipeline as
// fixed-point multipliers, and deliberately refuses to grow without
// bound: see Mul.
type Fraction struct {
	Num int64
	Den int64
}

// NewFraction builds a reduced fraction. The denominator must be nonzero.
func NewFraction(num, den int64) (Fraction, error) {
	if den == 0 {
		return Fraction{}, fmt.Errorf("fraction %d/0: zero denominator", num)
	}
	if den < 0 {
		num, den = -num, -den
	}
	g := gcd64(abs64(num), den)
	if g > 1 {
		num /= g
		den /= g
	}
	return Fraction{Num: num, Den: den}, nil
}

// Mul multiplies two fractions without reduction, the way a naive
// running-fraction accumulator would. It fails with ErrPrecisionLoss
// once the raw numerator or denominator leaves the trustworthy range,
// instead of silently wrapping.
func (f Fraction) Mul(g Fraction) (Fraction, error) {
	num := new(big.Int).Mul(big.NewInt(f.Num), big.NewInt(g.Num))
	den := new(big.Int).Mul(big.NewInt(f.Den), big.NewInt(g.Den))
	limit := big.NewInt(fractionLimit)
	if new(big.Int).Abs(num).Cmp(limit) > 0 || den.Cmp(limit) > 0 {
		return Fraction{}, fmt.Errorf("%w: fraction %s/%s exceeds magnitude limit %d",
			ErrPrecisionLoss, num, den, fractionLimit)
	}
	return Fraction{Num: num.Int64(), Den: den.Int64()}, nil
}

// Float returns the fraction's value as a float64.
func (f Fraction) Float() float64 {
	return float64(f.Num) / float64(f.Den)
}

// FixedPoint returns round(f · 2^bits) as a signed integer multiplier.
// It fails with ErrPrecisionLoss when the value underflows to zero at
// the requested scale, since multiplying by zero would silently destroy
// the result instead of approximating it.
func (f Fraction) FixedPoint(bits uint) (int64, error) {
	num := new(big.Int).Lsh(big.NewInt(f.Num), bits)
	den := big.NewInt(f.Den)

	// Round half away from zero.
	half := new(big.Int).Quo(den, big.NewInt(2))
	if num.Sign() < 0 {
		num.Sub(num, half)
	} else {
		num.Add(num, half)
	}
	q := new(big.Int).Quo(num, den)

	if !q.IsInt64() {
		return 0, fmt.Errorf("%w: fixed-point multiplier for %d/%d at %d bits out of range",
			ErrPrecisionLoss, f.Num, f.Den, bits)
	}
	m := q.Int64()
	if m == 0 && f.Num != 0 {
		return 0, fmt.Errorf("%w: %d/%d underflows %d fractional bits",
			ErrPrecisionLoss, f.Num, f.Den, bits)
	}
	return m, nil
}

func (f Fraction) String() string {
	return fmt.Sprintf("%d/%d", f.Num, f.Den)
}

func gcd64(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func abs64(a int64) int64 {
	if a < 0 {
		return -a
	}
	return a
}
