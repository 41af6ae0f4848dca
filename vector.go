// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fheml

import (
	"fmt"
	"math/big"

	"github.com/luxfi/lattice/v7/core/rlwe"
)

// EncryptedVector is a fixed-length encrypted vector of fixed-point
// numbers, packed into the first n slots of a single ciphertext. Slots
// past n are kept at zero so slot aggregation never picks up stale
// values. Length is plaintext metadata: operations on mismatched
// lengths fail before touching the backend.
type EncryptedVector struct {
	s     *Session
	ct    *rlwe.Ciphertext
	n     int
	scale uint
	bound *big.Int
}

// EncryptVector encrypts vals into a packed vector at the base scale.
func (s *Session) EncryptVector(vals []float64) (*EncryptedVector, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	n := len(vals)
	if n < 1 || n > s.params.MaxVectorLen() {
		return nil, fmt.Errorf("vector length %d outside [1, %d]: %w",
			n, s.params.MaxVectorLen(), ErrArgumentShapeMismatch)
	}
	fixed := make([]int64, n)
	bound := new(big.Int)
	for i, v := range vals {
		f, b, err := s.params.encodeFixed(v)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		fixed[i] = f
		if b.Cmp(bound) > 0 {
			bound = b
		}
	}
	ct, err := s.encryptSlots(fixed)
	if err != nil {
		return nil, err
	}
	return &EncryptedVector{s: s, ct: ct, n: n, scale: s.params.fracBits, bound: bound}, nil
}

// DecryptVector decrypts back to floats, dividing out the fixed-point
// scale.
func (s *Session) DecryptVector(x *EncryptedVector) ([]float64, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if x.s != s {
		return nil, fmt.Errorf("vector belongs to a different session: %w", ErrArgumentShapeMismatch)
	}
	raw, err := s.decryptSlots(x.ct, x.n)
	if err != nil {
		return nil, err
	}
	out := make([]float64, x.n)
	div := scalePow(x.scale)
	for i, v := range raw {
		out[i] = float64(v) / div
	}
	return out, nil
}

// Len reports the vector length.
func (x *EncryptedVector) Len() int { return x.n }

// Scale reports the fixed-point scale exponent.
func (x *EncryptedVector) Scale() uint { return x.scale }

// Add returns the elementwise sum. Lengths must match.
func (x *EncryptedVector) Add(y *EncryptedVector) (*EncryptedVector, error) {
	return x.combine(y, "add")
}

// Sub returns the elementwise difference. Lengths must match.
func (x *EncryptedVector) Sub(y *EncryptedVector) (*EncryptedVector, error) {
	return x.combine(y, "sub")
}

func (x *EncryptedVector) combine(y *EncryptedVector, op string) (*EncryptedVector, error) {
	if err := x.s.check(); err != nil {
		return nil, err
	}
	if y.s != x.s {
		return nil, fmt.Errorf("%s: operands from different sessions: %w", op, ErrArgumentShapeMismatch)
	}
	if x.n != y.n {
		return nil, fmt.Errorf("%s: vector lengths %d and %d: %w", op, x.n, y.n, ErrArgumentShapeMismatch)
	}
	a, b := x, y
	if a.scale != b.scale {
		var err error
		a, b, err = alignVectorScales(a, b)
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
	return &EncryptedVector{s: x.s, ct: ct, n: x.n, scale: a.scale, bound: bound}, nil
}

// AddAssign accumulates y into x elementwise in place, with the same
// scale alignment and bound tracking as Add. x is left untouched when
// the accumulation would overflow.
func (x *EncryptedVector) AddAssign(y *EncryptedVector) error {
	if err := x.s.check(); err != nil {
		return err
	}
	if y.s != x.s {
		return fmt.Errorf("addassign: operands from different sessions: %w", ErrArgumentShapeMismatch)
	}
	if x.n != y.n {
		return fmt.Errorf("addassign: vector lengths %d and %d: %w", x.n, y.n, ErrArgumentShapeMismatch)
	}
	a, b := x, y
	if a.scale != b.scale {
		var err error
		a, b, err = alignVectorScales(a, b)
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
	return nil
}

// Mul returns the elementwise product. Lengths must match; scales add.
func (x *EncryptedVector) Mul(y *EncryptedVector) (*EncryptedVector, error) {
	if err := x.s.check(); err != nil {
		return nil, err
	}
	if y.s != x.s {
		return nil, fmt.Errorf("mul: operands from different sessions: %w", ErrArgumentShapeMismatch)
	}
	if x.n != y.n {
		return nil, fmt.Errorf("mul: vector lengths %d and %d: %w", x.n, y.n, ErrArgumentShapeMismatch)
	}
	bound := new(big.Int).Mul(x.bound, y.bound)
	if err := x.s.params.checkBound("mul", bound); err != nil {
		return nil, err
	}
	ct, err := x.s.eval.MulRelinScaleInvariantNew(x.ct, y.ct)
	if err != nil {
		return nil, fmt.Errorf("mul: %w", err)
	}
	return &EncryptedVector{s: x.s, ct: ct, n: x.n, scale: x.scale + y.scale, bound: bound}, nil
}

// MulScalar scales every element by an encrypted scalar. The scalar's
// broadcast span must cover the vector.
func (x *EncryptedVector) MulScalar(k *EncryptedScalar) (*EncryptedVector, error) {
	if err := x.s.check(); err != nil {
		return nil, err
	}
	if k.s != x.s {
		return nil, fmt.Errorf("mulscalar: operands from different sessions: %w", ErrArgumentShapeMismatch)
	}
	if k.span < x.n {
		return nil, fmt.Errorf("mulscalar: scalar span %d shorter than vector length %d: %w",
			k.span, x.n, ErrArgumentShapeMismatch)
	}
	bound := new(big.Int).Mul(x.bound, k.bound)
	if err := x.s.params.checkBound("mulscalar", bound); err != nil {
		return nil, err
	}
	// The scalar fills every slot; the vector's zero tail zeroes the
	// product past n on its own.
	ct, err := x.s.eval.MulRelinScaleInvariantNew(x.ct, k.ct)
	if err != nil {
		return nil, fmt.Errorf("mulscalar: %w", err)
	}
	return &EncryptedVector{s: x.s, ct: ct, n: x.n, scale: x.scale + k.scale, bound: bound}, nil
}

// SubScalar subtracts a broadcast encrypted scalar from every element.
func (x *EncryptedVector) SubScalar(k *EncryptedScalar) (*EncryptedVector, error) {
	return x.combineScalar(k, "subscalar")
}

// AddScalar adds a broadcast encrypted scalar to every element.
func (x *EncryptedVector) AddScalar(k *EncryptedScalar) (*EncryptedVector, error) {
	return x.combineScalar(k, "addscalar")
}

func (x *EncryptedVector) combineScalar(k *EncryptedScalar, op string) (*EncryptedVector, error) {
	if err := x.s.check(); err != nil {
		return nil, err
	}
	if k.s != x.s {
		return nil, fmt.Errorf("%s: operands from different sessions: %w", op, ErrArgumentShapeMismatch)
	}
	if k.span < x.n {
		return nil, fmt.Errorf("%s: scalar span %d shorter than vector length %d: %w",
			op, k.span, x.n, ErrArgumentShapeMismatch)
	}
	a, kk := x, k
	if a.scale != k.scale {
		if a.scale < k.scale {
			av, err := a.upscale(k.scale)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			a = av
		} else {
			ks, err := k.upscale(a.scale)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			kk = ks
		}
	}
	bound := new(big.Int).Add(a.bound, kk.bound)
	if err := x.s.params.checkBound(op, bound); err != nil {
		return nil, err
	}
	// The scalar fills every slot; mask it to the vector's prefix so
	// slots past n stay at zero.
	mask, err := x.s.maskPrefix(x.n)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	kct, err := x.s.eval.MulNew(kk.ct, mask)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var ct *rlwe.Ciphertext
	if op == "addscalar" {
		ct, err = x.s.eval.AddNew(a.ct, kct)
	} else {
		ct, err = x.s.eval.SubNew(a.ct, kct)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &EncryptedVector{s: x.s, ct: ct, n: x.n, scale: a.scale, bound: bound}, nil
}

// MulInt scales every element by a plaintext integer without changing
// the fixed-point scale.
func (x *EncryptedVector) MulInt(k int64) (*EncryptedVector, error) {
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
	return &EncryptedVector{s: x.s, ct: ct, n: x.n, scale: x.scale, bound: bound}, nil
}

// MulFraction multiplies every element by an exact plaintext fraction
// at the given fixed-point precision. The scale grows by bits.
func (x *EncryptedVector) MulFraction(f Fraction, bits uint) (*EncryptedVector, error) {
	if err := x.s.check(); err != nil {
		return nil, err
	}
	fixed, err := f.FixedPoint(bits)
	if err != nil {
		return nil, err
	}
	bound := new(big.Int).Mul(x.bound, big.NewInt(abs64(fixed)))
	if err := x.s.params.checkBound("mulfraction", bound); err != nil {
		return nil, err
	}
	ct, err := x.s.eval.MulNew(x.ct, x.s.scalarOperand(fixed))
	if err != nil {
		return nil, fmt.Errorf("mulfraction: %w", err)
	}
	return &EncryptedVector{s: x.s, ct: ct, n: x.n, scale: x.scale + bits, bound: bound}, nil
}

// ReencryptVector decrypts a vector and re-encrypts it fresh at the
// base scale. The pipeline uses it between compiled stages whose
// combined fixed-point depth would not fit the plaintext space; the
// values never leave the session, so nothing is disclosed.
func (s *Session) ReencryptVector(x *EncryptedVector) (*EncryptedVector, error) {
	vals, err := s.DecryptVector(x)
	if err != nil {
		return nil, err
	}
	return s.EncryptVector(vals)
}

// Neg returns the elementwise negation.
func (x *EncryptedVector) Neg() (*EncryptedVector, error) {
	if err := x.s.check(); err != nil {
		return nil, err
	}
	ct, err := x.s.eval.MulNew(x.ct, x.s.scalarOperand(-1))
	if err != nil {
		return nil, fmt.Errorf("neg: %w", err)
	}
	return &EncryptedVector{s: x.s, ct: ct, n: x.n, scale: x.scale, bound: new(big.Int).Set(x.bound)}, nil
}

// Sum aggregates the vector into an encrypted scalar. The rotate-and-add
// tree runs over the whole packing row: because slots past n hold zero,
// the total comes out replicated in every slot, with no masking and no
// extra broadcast pass.
func (x *EncryptedVector) Sum() (*EncryptedScalar, error) {
	if err := x.s.check(); err != nil {
		return nil, err
	}
	bound := new(big.Int).Mul(x.bound, big.NewInt(int64(x.n)))
	if err := x.s.params.checkBound("sum", bound); err != nil {
		return nil, err
	}
	acc := x.ct.CopyNew()
	for step := 1; step < x.s.params.Slots(); step <<= 1 {
		rot, err := x.s.eval.RotateColumnsNew(acc, step)
		if err != nil {
			return nil, fmt.Errorf("sum rotate %d: %w", step, err)
		}
		if err := x.s.eval.Add(acc, rot, acc); err != nil {
			return nil, fmt.Errorf("sum add %d: %w", step, err)
		}
	}
	return &EncryptedScalar{s: x.s, ct: acc, scale: x.scale, bound: bound, span: x.n}, nil
}

// Dot returns the inner product of two vectors as a broadcast scalar.
func (x *EncryptedVector) Dot(y *EncryptedVector) (*EncryptedScalar, error) {
	prod, err := x.Mul(y)
	if err != nil {
		return nil, fmt.Errorf("dot: %w", err)
	}
	sum, err := prod.Sum()
	if err != nil {
		return nil, fmt.Errorf("dot: %w", err)
	}
	return sum, nil
}

// upscale shifts the vector to a higher fixed-point scale.
func (x *EncryptedVector) upscale(to uint) (*EncryptedVector, error) {
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

func alignVectorScales(a, b *EncryptedVector) (*EncryptedVector, *EncryptedVector, error) {
	if a.scale < b.scale {
		aa, err := a.upscale(b.scale)
		return aa, b, err
	}
	bb, err := b.upscale(a.scale)
	return a, bb, err
}
