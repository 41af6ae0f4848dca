// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fheml

import (
	"fmt"
	"math/big"

	"github.com/luxfi/lattice/v7/core/rlwe"
)

// EncryptedScalar is a single encrypted fixed-point number. The stored
// integer is the real value times 2^scale; scale grows under
// multiplication and is reconciled under addition. bound is the
// worst-case absolute value of the stored integer, tracked in plaintext
// metadata so overflow is rejected before the backend is ever asked to
// compute a wrapped result.
//
// The scalar is physically replicated across every packing slot so it
// can be combined elementwise with packed vectors without extra
// rotations; span is the declared coverage checked against vector
// lengths.
type EncryptedScalar struct {
	s     *Session
	ct    *rlwe.Ciphertext
	scale uint
	bound *big.Int
	span  int
}

// EncryptScalar encrypts v at the session's base fixed-point scale,
// declared to cover span slots. span must be at least 1 and at most
// the packing capacity; the value itself fills the whole packing row,
// matching the layout aggregation results come back in.
func (s *Session) EncryptScalar(v float64, span int) (*EncryptedScalar, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if span < 1 || span > s.params.MaxVectorLen() {
		return nil, fmt.Errorf("scalar span %d outside [1, %d]: %w",
			span, s.params.MaxVectorLen(), ErrArgumentShapeMismatch)
	}
	fixed, bound, err := s.params.encodeFixed(v)
	if err != nil {
		return nil, err
	}
	vals := make([]int64, s.params.Slots())
	for i := range vals {
		vals[i] = fixed
	}
	ct, err := s.encryptSlots(vals)
	if err != nil {
		return nil, err
	}
	return &EncryptedScalar{s: s, ct: ct, scale: s.params.fracBits, bound: bound, span: span}, nil
}

// DecryptScalar decrypts back to a float, dividing out the accumulated
// fixed-point scale.
func (s *Session) DecryptScalar(x *EncryptedScalar) (float64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if x.s != s {
		return 0, fmt.Errorf("scalar belongs to a different session: %w", ErrArgumentShapeMismatch)
	}
	vals, err := s.decryptSlots(x.ct, 1)
	if err != nil {
		return 0, err
	}
	return float64(vals[0]) / scalePow(x.scale), nil
}

// Scale reports the fixed-point scale exponent of the stored integer.
func (x *EncryptedScalar) Scale() uint { return x.scale }

// Span reports how many slots the scalar is broadcast across.
func (x *EncryptedScalar) Span() int { return x.span }

// Add returns x + y. Operands at different fixed-point scales are
// aligned to the larger scale first.
func (x *EncryptedScalar) Add(y *EncryptedScalar) (*EncryptedScalar, error) {
	return x.combine(y, "add")
}

// Sub returns x - y, with the same scale alignment as Add.
func (x *EncryptedScalar) Sub(y *EncryptedScalar) (*EncryptedScalar, error) {
	return x.combine(y, "sub")
}

func (x *EncryptedScalar) combine(y *EncryptedScalar, op string) (*EncryptedScalar, error) {
	if err := x.s.check(); err != nil {
		return nil, err
	}
	if y.s != x.s {
		return nil, fmt.Errorf("%s: operands from different sessions: %w", op, ErrArgumentShapeMismatch)
	}
	a, b := x, y
	if a.scale != b.scale {
		var err error
		a, b, err = alignScalarScales(a, b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	bound := new(big.Int).Add(a.bound, b.bound)
	if err := x.s.params.checkBound(op, bound); err != nil {
		return nil, err
	}
	var (
		ct  *rlwe.Ciphertext
		err error
	)
	if op == "add" {
		ct, err = x.s.eval.AddNew(a.ct, b.ct)
	} else {
		ct, err = x.s.eval.SubNew(a.ct, b.ct)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &EncryptedScalar{s: x.s, ct: ct, scale: a.scale, bound: bound, span: minInt(x.span, y.span)}, nil
}

// AddAssign accumulates y into x in place, with the same scale
// alignment and bound tracking as Add. x is left untouched when the
// accumulation would overflow.
func (x *EncryptedScalar) AddAssign(y *EncryptedScalar) error {
	if err := x.s.check(); err != nil {
		return err
	}
	if y.s != x.s {
		return fmt.Errorf("addassign: operands from different sessions: %w", ErrArgumentShapeMismatch)
	}
	a, b := x, y
	if a.scale != b.scale {
		var err error
		a, b, err = alignScalarScales(a, b)
		if err != nil {
			return fmt.Errorf("addassign: %w", err)
		}
	}
	bound := new(big.Int).Add(a.bound, b.bound)
	if err := x.s.params.checkBound("addassign", bound); err != nil {
		return err
	}
	if err := x.s.eval.Add(a.ct, b.ct, a.ct); err != nil {
		return fmt.Errorf("addassign: %w", err)
	}
	x.ct = a.ct
	x.scale = a.scale
	x.bound = bound
	x.span = minInt(x.span, y.span)
	return nil
}

// Mul returns x * y. The result's scale is the sum of the operand
// scales and its worst-case bound the product of theirs. Products use
// scale-invariant tensoring so noise does not compound when results
// are multiplied again.
func (x *EncryptedScalar) Mul(y *EncryptedScalar) (*EncryptedScalar, error) {
	if err := x.s.check(); err != nil {
		return nil, err
	}
	if y.s != x.s {
		return nil, fmt.Errorf("mul: operands from different sessions: %w", ErrArgumentShapeMismatch)
	}
	bound := new(big.Int).Mul(x.bound, y.bound)
	if err := x.s.params.checkBound("mul", bound); err != nil {
		return nil, err
	}
	ct, err := x.s.eval.MulRelinScaleInvariantNew(x.ct, y.ct)
	if err != nil {
		return nil, fmt.Errorf("mul: %w", err)
	}
	return &EncryptedScalar{s: x.s, ct: ct, scale: x.scale + y.scale, bound: bound, span: minInt(x.span, y.span)}, nil
}

// Neg returns -x at the same scale.
func (x *EncryptedScalar) Neg() (*EncryptedScalar, error) {
	if err := x.s.check(); err != nil {
		return nil, err
	}
	ct, err := x.s.eval.MulNew(x.ct, x.s.scalarOperand(-1))
	if err != nil {
		return nil, fmt.Errorf("neg: %w", err)
	}
	return &EncryptedScalar{s: x.s, ct: ct, scale: x.scale, bound: new(big.Int).Set(x.bound), span: x.span}, nil
}

// MulInt returns x scaled by the plaintext integer k. The fixed-point
// scale is unchanged; the bound grows by |k|.
func (x *EncryptedScalar) MulInt(k int64) (*EncryptedScalar, error) {
	if err := x.s.check(); err != nil {
		return nil, err
	}
	bound := new(big.Int).Mul(x.bound, big.NewInt(abs64(k)))
	if err := x.s.params.checkBound("mulint", bound); err != nil {
		return nil, err
	}
	ct, err := x.s.eval.MulNew(x.ct, x.s.scalarOperand(k))
	if err != nil {
		return nil, fmt.Errorf("mulint: %w", err)
	}
	return &EncryptedScalar{s: x.s, ct: ct, scale: x.scale, bound: bound, span: x.span}, nil
}

// MulFraction multiplies by an exact plaintext fraction, realized as a
// fixed-point multiplier at the given number of fractional bits. The
// result's scale grows by bits.
func (x *EncryptedScalar) MulFraction(f Fraction, bits uint) (*EncryptedScalar, error) {
	if err := x.s.check(); err != nil {
		return nil, err
	}
	fixed, err := f.FixedPoint(bits)
	if err != nil {
		return nil, err
	}
	return x.mulFixed(fixed, bits)
}

// mulFixed multiplies by a plaintext integer that already carries bits
// fractional bits of an intended real multiplier.
func (x *EncryptedScalar) mulFixed(fixed int64, bits uint) (*EncryptedScalar, error) {
	bound := new(big.Int).Mul(x.bound, big.NewInt(abs64(fixed)))
	if err := x.s.params.checkBound("mulfixed", bound); err != nil {
		return nil, err
	}
	ct, err := x.s.eval.MulNew(x.ct, x.s.scalarOperand(fixed))
	if err != nil {
		return nil, fmt.Errorf("mulfixed: %w", err)
	}
	return &EncryptedScalar{s: x.s, ct: ct, scale: x.scale + bits, bound: bound, span: x.span}, nil
}

// Div is not in the backend's arithmetic capability table: there is no
// homomorphic division. Callers divide by multiplying with a plaintext
// reciprocal instead, which is an explicit, disclosed choice.
func (x *EncryptedScalar) Div(*EncryptedScalar) (*EncryptedScalar, error) {
	return nil, fmt.Errorf("div: %w", ErrUnsupportedOperation)
}

// upscale shifts a scalar to a higher fixed-point scale by multiplying
// the stored integer by a power of two.
func (x *EncryptedScalar) upscale(to uint) (*EncryptedScalar, error) {
	if to == x.scale {
		return x, nil
	}
	if to < x.scale {
		return nil, fmt.Errorf("upscale %d -> %d: %w", x.scale, to, ErrPrecisionLoss)
	}
	delta := to - x.scale
	y, err := x.MulInt(1 << delta)
	if err != nil {
		return nil, err
	}
	y.scale = to
	return y, nil
}

func alignScalarScales(a, b *EncryptedScalar) (*EncryptedScalar, *EncryptedScalar, error) {
	if a.scale < b.scale {
		aa, err := a.upscale(b.scale)
		return aa, b, err
	}
	bb, err := b.upscale(a.scale)
	return a, bb, err
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
