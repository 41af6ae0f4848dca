// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fheml

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFractionReduce(t *testing.T) {
	f, err := NewFraction(6, 8)
	require.NoError(t, err)
	require.Equal(t, int64(3), f.Num)
	require.Equal(t, int64(4), f.Den)

	f, err = NewFraction(3, -9)
	require.NoError(t, err)
	require.Equal(t, int64(-1), f.Num)
	require.Equal(t, int64(3), f.Den)

	_, err = NewFraction(1, 0)
	require.Error(t, err)
}

func TestFractionMul(t *testing.T) {
	a, err := NewFraction(1, 3)
	require.NoError(t, err)
	b, err := NewFraction(2, 5)
	require.NoError(t, err)

	c, err := a.Mul(b)
	require.NoError(t, err)
	require.Equal(t, int64(2), c.Num)
	require.Equal(t, int64(15), c.Den)
}

func TestFractionFixedPoint(t *testing.T) {
	third, err := NewFraction(1, 3)
	require.NoError(t, err)

	fixed, err := third.FixedPoint(8)
	require.NoError(t, err)
	require.Equal(t, int64(85), fixed) // round(256/3)

	// Error of the 8-bit approximation is below one step.
	require.InDelta(t, 1.0/3.0, float64(fixed)/256, 1.0/256)

	// A multiplier too small for the precision is a typed failure, not
	// a silent zero.
	tiny, err := NewFraction(1, 1<<20)
	require.NoError(t, err)
	_, err = tiny.FixedPoint(8)
	require.ErrorIs(t, err, ErrPrecisionLoss)
}

// TestFractionRunningProductDiverges demonstrates the two failure modes
// of running products of fractions: exact arithmetic without reduction
// blows through the representable range after a bounded number of
// steps, while the fixed-point rendition keeps going but drifts from
// the true value.
func TestFractionRunningProductDiverges(t *testing.T) {
	// Exact: multiply 3/7 into itself repeatedly. Numerator and
	// denominator grow geometrically and must hit the limit.
	f, err := NewFraction(3, 7)
	require.NoError(t, err)
	acc := f
	steps := 0
	for ; steps < 64; steps++ {
		acc, err = acc.Mul(f)
		if err != nil {
			break
		}
	}
	require.ErrorIs(t, err, ErrPrecisionLoss)
	require.Less(t, steps, 30, "unreduced denominators of 7^k must overflow well before 30 steps")

	// Fixed point: the same running product never fails, but the
	// accumulated rounding visibly departs from the exact value.
	const bits = 8
	fixed, err := f.FixedPoint(bits)
	require.NoError(t, err)
	accFixed := fixed
	exact := f.Float()
	for i := 0; i < 6; i++ {
		accFixed = (accFixed * fixed) >> bits
		exact *= f.Float()
	}
	got := float64(accFixed) / (1 << bits)
	require.NotEqual(t, exact, got)
	require.Greater(t, math.Abs(got-exact)/exact, 0.01,
		"six fixed-point multiplications should drift by more than 1%%")
}

func TestFractionMulOverflow(t *testing.T) {
	big, err := NewFraction(1<<30, (1<<30)-1)
	if err != nil {
		t.Fatalf("NewFraction: %v", err)
	}
	_, err = big.Mul(big)
	if !errors.Is(err, ErrPrecisionLoss) {
		t.Fatalf("Mul overflow: got %v, want ErrPrecisionLoss", err)
	}
}
