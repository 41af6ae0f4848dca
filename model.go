// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fheml

import (
	"fmt"
	"math"
)

// ModelParameters are the decrypted coefficients of a fitted line.
type ModelParameters struct {
	Slope     float64
	Intercept float64
}

// Model is a simple linear regression fitted under encryption. Slope
// and intercept stay encrypted; callers decrypt them explicitly through
// Reveal when they want the coefficients in the clear.
//
// Fitting uses the closed-form estimator
//
//	slope     = Sxy / Sxx
//	intercept = mean(y) - slope*mean(x)
//
// with Sxy and Sxx the scatter sums n*sum(xy)-sum(x)*sum(y). The
// backend has no division, so 1/Sxx is obtained by decrypting Sxx and
// re-injecting the plaintext reciprocal as a fixed-point multiplier.
// That decryption reveals the spread of x to the session holder and is
// recorded as a Disclosure rather than happening silently.
type Model struct {
	s         *Session
	slope     *EncryptedScalar
	intercept *EncryptedScalar
	n         int

	predict      *Program
	predictBatch *Program
}

// Fit trains a model on equal-length vectors of features and targets.
// The computation runs as a compiled program, so mismatched shapes are
// rejected before any encrypted arithmetic happens.
func (s *Session) Fit(x, y *EncryptedVector) (*Model, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if x.n != y.n {
		return nil, fmt.Errorf("fit: vector lengths %d and %d: %w", x.n, y.n, ErrArgumentShapeMismatch)
	}
	if x.n < 2 {
		return nil, fmt.Errorf("fit: need at least 2 samples, got %d: %w", x.n, ErrArgumentShapeMismatch)
	}
	name := fmt.Sprintf("fit/%d", x.n)
	p, ok := s.Program(name)
	if !ok {
		var err error
		p, err = s.Compile(name, Signature{
			{Kind: ArgVector, Encrypted: true, Len: x.n},
			{Kind: ArgVector, Encrypted: true, Len: x.n},
		}, fitBody)
		if err != nil {
			return nil, err
		}
	}
	out, err := p.Run(x, y)
	if err != nil {
		return nil, err
	}
	m := out.(*Model)
	if err := m.compilePredictors(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewModel rebuilds a model from previously fitted coefficients, for
// example after they traveled through storage as envelopes. Slope and
// intercept must belong to the same session and carry the scales Fit
// produces.
func NewModel(s *Session, slope, intercept *EncryptedScalar) (*Model, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if slope.s != s || intercept.s != s {
		return nil, fmt.Errorf("model: coefficients from a different session: %w", ErrArgumentShapeMismatch)
	}
	f, g := s.params.fracBits, s.params.recipBits
	if slope.scale != 2*f+g || intercept.scale != 3*f+g {
		return nil, fmt.Errorf("model: coefficient scales %d/%d, want %d/%d: %w",
			slope.scale, intercept.scale, 2*f+g, 3*f+g, ErrArgumentShapeMismatch)
	}
	m := &Model{s: s, slope: slope, intercept: intercept, n: slope.span}
	if err := m.compilePredictors(); err != nil {
		return nil, err
	}
	return m, nil
}

func fitBody(s *Session, args []any) (any, error) {
	x := args[0].(*EncryptedVector)
	y := args[1].(*EncryptedVector)
	n := x.n

	sx, err := x.Sum()
	if err != nil {
		return nil, err
	}
	sy, err := y.Sum()
	if err != nil {
		return nil, err
	}
	sxx, err := scatter(x, x, sx, sx)
	if err != nil {
		return nil, err
	}
	sxy, err := scatter(x, y, sx, sy)
	if err != nil {
		return nil, err
	}

	// The only decryption in the pipeline: Sxx comes out in the clear
	// so its reciprocal can go back in as a plaintext multiplier.
	sxxReal, err := s.DecryptScalar(sxx)
	if err != nil {
		return nil, err
	}
	s.disclose("fit/scatter_xx", sxxReal)
	if sxxReal == 0 {
		return nil, fmt.Errorf("fit: features have zero spread: %w", ErrPrecisionLoss)
	}
	recip := 1 / sxxReal

	g := s.params.recipBits
	slopeFixed, err := fixedFromFloat(recip, g)
	if err != nil {
		return nil, fmt.Errorf("fit: reciprocal: %w", err)
	}
	slope, err := sxy.mulFixed(slopeFixed, g)
	if err != nil {
		return nil, err
	}

	// intercept = mean(y) - slope*mean(x), with the 1/n of mean(x)
	// folded into the reciprocal so the scale stays one multiplication
	// deep: intercept = mean(y) - (Sxy * recip/n) * sum(x).
	slopeOverNFixed, err := fixedFromFloat(recip/float64(n), g)
	if err != nil {
		return nil, fmt.Errorf("fit: reciprocal: %w", err)
	}
	slopeOverN, err := sxy.mulFixed(slopeOverNFixed, g)
	if err != nil {
		return nil, err
	}
	term, err := slopeOverN.Mul(sx)
	if err != nil {
		return nil, err
	}
	invN, err := NewFraction(1, int64(n))
	if err != nil {
		return nil, err
	}
	meanY, err := sy.MulFraction(invN, meanRecipBits)
	if err != nil {
		return nil, err
	}
	meanY, err = meanY.upscale(term.scale)
	if err != nil {
		return nil, err
	}
	intercept, err := meanY.Sub(term)
	if err != nil {
		return nil, err
	}

	return &Model{s: s, slope: slope, intercept: intercept, n: n}, nil
}

// scatter computes n*sum(a*b) - sum(a)*sum(b) from precomputed sums.
func scatter(a, b *EncryptedVector, sa, sb *EncryptedScalar) (*EncryptedScalar, error) {
	cross, err := a.Dot(b)
	if err != nil {
		return nil, err
	}
	crossN, err := cross.MulInt(int64(a.n))
	if err != nil {
		return nil, err
	}
	prod, err := sa.Mul(sb)
	if err != nil {
		return nil, err
	}
	return crossN.Sub(prod)
}

func (m *Model) compilePredictors() error {
	m.s.modelSeq++
	id := m.s.modelSeq
	var err error
	m.predict, err = m.s.Compile(fmt.Sprintf("model/%d/predict", id), Signature{
		{Kind: ArgScalar, Encrypted: true},
	}, func(s *Session, args []any) (any, error) {
		return m.predictScalar(args[0].(*EncryptedScalar))
	})
	if err != nil {
		return err
	}
	m.predictBatch, err = m.s.Compile(fmt.Sprintf("model/%d/predict_batch", id), Signature{
		{Kind: ArgVector, Encrypted: true},
	}, func(s *Session, args []any) (any, error) {
		return m.predictVector(args[0].(*EncryptedVector))
	})
	return err
}

// Len reports the number of training samples.
func (m *Model) Len() int { return m.n }

// Slope returns the encrypted slope coefficient.
func (m *Model) Slope() *EncryptedScalar { return m.slope }

// Intercept returns the encrypted intercept coefficient.
func (m *Model) Intercept() *EncryptedScalar { return m.intercept }

// Reveal decrypts the fitted coefficients.
func (m *Model) Reveal() (ModelParameters, error) {
	slope, err := m.s.DecryptScalar(m.slope)
	if err != nil {
		return ModelParameters{}, err
	}
	intercept, err := m.s.DecryptScalar(m.intercept)
	if err != nil {
		return ModelParameters{}, err
	}
	return ModelParameters{Slope: slope, Intercept: intercept}, nil
}

// Predict evaluates the fitted line at one encrypted point.
func (m *Model) Predict(x *EncryptedScalar) (*EncryptedScalar, error) {
	out, err := m.predict.Run(x)
	if err != nil {
		return nil, err
	}
	return out.(*EncryptedScalar), nil
}

// PredictBatch evaluates the fitted line at every element of an
// encrypted vector. The vector may not be longer than the training set,
// whose length fixed the coefficients' broadcast span.
func (m *Model) PredictBatch(xs *EncryptedVector) (*EncryptedVector, error) {
	out, err := m.predictBatch.Run(xs)
	if err != nil {
		return nil, err
	}
	return out.(*EncryptedVector), nil
}

func (m *Model) predictScalar(x *EncryptedScalar) (*EncryptedScalar, error) {
	p, err := m.slope.Mul(x)
	if err != nil {
		return nil, err
	}
	return p.Add(m.intercept)
}

func (m *Model) predictVector(xs *EncryptedVector) (*EncryptedVector, error) {
	if xs.n > m.slope.span {
		return nil, fmt.Errorf("predict: batch length %d exceeds model span %d: %w",
			xs.n, m.slope.span, ErrArgumentShapeMismatch)
	}
	p, err := xs.MulScalar(m.slope)
	if err != nil {
		return nil, err
	}
	return p.AddScalar(m.intercept)
}

// fixedFromFloat rounds a real multiplier to bits fractional bits,
// rejecting multipliers that vanish or do not fit.
func fixedFromFloat(v float64, bits uint) (int64, error) {
	scaled := math.Round(v * scalePow(bits))
	if scaled == 0 {
		return 0, fmt.Errorf("multiplier %g rounds to zero at %d bits: %w", v, bits, ErrPrecisionLoss)
	}
	if math.Abs(scaled) >= float64(fractionLimit) {
		return 0, fmt.Errorf("multiplier %g does not fit %d-bit fixed point: %w", v, bits, ErrPrecisionLoss)
	}
	return int64(scaled), nil
}

// PlainRMSE is the plaintext root-mean-squared-error helper used after
// decrypting predictions; the encrypted pipeline stops at mean squared
// error because the backend has no square root.
func PlainRMSE(pred, obs []float64) (float64, error) {
	if len(pred) != len(obs) {
		return 0, fmt.Errorf("rmse: lengths %d and %d: %w", len(pred), len(obs), ErrArgumentShapeMismatch)
	}
	if len(pred) == 0 {
		return 0, fmt.Errorf("rmse: empty input: %w", ErrArgumentShapeMismatch)
	}
	var acc float64
	for i := range pred {
		d := pred[i] - obs[i]
		acc += d * d
	}
	return math.Sqrt(acc / float64(len(pred))), nil
}
