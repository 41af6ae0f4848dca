// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fheml

import (
	"fmt"
)

// Statistics run as compiled programs, one per vector length, cached on
// the session. Division by the sample count is realized as plaintext
// fixed-point reciprocal multiplication; variance and covariance use
// the scatter form
//
//	S = n*sum(x*y) - sum(x)*sum(y)
//
// followed by one multiplication with 1/n^2, keeping the fixed-point
// scale two multiplications deep regardless of n.

// Mean returns the encrypted mean of x, broadcast across x's length.
func (s *Session) Mean(x *EncryptedVector) (*EncryptedScalar, error) {
	p, recip, err := s.meanProgram(x)
	if err != nil {
		return nil, err
	}
	out, err := p.Run(x, recip)
	if err != nil {
		return nil, err
	}
	return out.(*EncryptedScalar), nil
}

// Variance returns the encrypted population variance of x.
func (s *Session) Variance(x *EncryptedVector) (*EncryptedScalar, error) {
	return s.Covariance(x, x)
}

// Covariance returns the encrypted population covariance of x and y.
// Lengths must match.
func (s *Session) Covariance(x, y *EncryptedVector) (*EncryptedScalar, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if x.n != y.n {
		return nil, fmt.Errorf("covariance: vector lengths %d and %d: %w",
			x.n, y.n, ErrArgumentShapeMismatch)
	}
	name := fmt.Sprintf("covariance/%d", x.n)
	p, ok := s.Program(name)
	if !ok {
		var err error
		p, err = s.Compile(name, Signature{
			{Kind: ArgVector, Encrypted: true, Len: x.n},
			{Kind: ArgVector, Encrypted: true, Len: x.n},
			{Kind: ArgFraction},
		}, covarianceBody)
		if err != nil {
			return nil, err
		}
	}
	recip, err := NewFraction(1, int64(x.n)*int64(x.n))
	if err != nil {
		return nil, err
	}
	out, err := p.Run(x, y, recip)
	if err != nil {
		return nil, err
	}
	return out.(*EncryptedScalar), nil
}

// MeanSquaredError returns the encrypted mean of squared differences
// between predictions and observations. Both inputs must be at the base
// fixed-point scale; predictions coming out of a model are re-encrypted
// first (see Model.PredictBatch followed by Session.ReencryptVector).
func (s *Session) MeanSquaredError(pred, obs *EncryptedVector) (*EncryptedScalar, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if pred.n != obs.n {
		return nil, fmt.Errorf("mse: vector lengths %d and %d: %w",
			pred.n, obs.n, ErrArgumentShapeMismatch)
	}
	name := fmt.Sprintf("mse/%d", pred.n)
	p, ok := s.Program(name)
	if !ok {
		var err error
		p, err = s.Compile(name, Signature{
			{Kind: ArgVector, Encrypted: true, Len: pred.n},
			{Kind: ArgVector, Encrypted: true, Len: pred.n},
			{Kind: ArgFraction},
		}, mseBody)
		if err != nil {
			return nil, err
		}
	}
	recip, err := NewFraction(1, int64(pred.n))
	if err != nil {
		return nil, err
	}
	out, err := p.Run(pred, obs, recip)
	if err != nil {
		return nil, err
	}
	return out.(*EncryptedScalar), nil
}

// ResidualMean returns the encrypted mean signed difference between
// predictions and observations. Unlike an absolute-error metric it
// needs no comparison, so it stays entirely under encryption.
func (s *Session) ResidualMean(pred, obs *EncryptedVector) (*EncryptedScalar, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if pred.n != obs.n {
		return nil, fmt.Errorf("residualmean: vector lengths %d and %d: %w",
			pred.n, obs.n, ErrArgumentShapeMismatch)
	}
	diff, err := pred.Sub(obs)
	if err != nil {
		return nil, err
	}
	return s.Mean(diff)
}

// MeanAbsoluteError requires taking encrypted absolute values, which
// needs a comparison the backend does not offer.
func (s *Session) MeanAbsoluteError(pred, obs *EncryptedVector) (*EncryptedScalar, error) {
	return nil, fmt.Errorf("mean absolute error needs encrypted comparison: %w", ErrUnsupportedOperation)
}

// RootMeanSquaredError requires an encrypted square root, which the
// backend does not offer. Callers decrypt the mean squared error and
// take the root in plaintext.
func (s *Session) RootMeanSquaredError(pred, obs *EncryptedVector) (*EncryptedScalar, error) {
	return nil, fmt.Errorf("root mean squared error needs encrypted sqrt: %w", ErrUnsupportedOperation)
}

func (s *Session) meanProgram(x *EncryptedVector) (*Program, Fraction, error) {
	if err := s.check(); err != nil {
		return nil, Fraction{}, err
	}
	name := fmt.Sprintf("mean/%d", x.n)
	p, ok := s.Program(name)
	if !ok {
		var err error
		p, err = s.Compile(name, Signature{
			{Kind: ArgVector, Encrypted: true, Len: x.n},
			{Kind: ArgFraction},
		}, meanBody)
		if err != nil {
			return nil, Fraction{}, err
		}
	}
	recip, err := NewFraction(1, int64(x.n))
	if err != nil {
		return nil, Fraction{}, err
	}
	return p, recip, nil
}

func meanBody(s *Session, args []any) (any, error) {
	x := args[0].(*EncryptedVector)
	recip := args[1].(Fraction)
	sum, err := x.Sum()
	if err != nil {
		return nil, err
	}
	return sum.MulFraction(recip, meanRecipBits)
}

func covarianceBody(s *Session, args []any) (any, error) {
	x := args[0].(*EncryptedVector)
	y := args[1].(*EncryptedVector)
	recip := args[2].(Fraction)

	cross, err := x.Dot(y)
	if err != nil {
		return nil, err
	}
	crossN, err := cross.MulInt(int64(x.n))
	if err != nil {
		return nil, err
	}
	sx, err := x.Sum()
	if err != nil {
		return nil, err
	}
	sy, err := y.Sum()
	if err != nil {
		return nil, err
	}
	sxy, err := sx.Mul(sy)
	if err != nil {
		return nil, err
	}
	scatter, err := crossN.Sub(sxy)
	if err != nil {
		return nil, err
	}
	return scatter.MulFraction(recip, scatterRecipBits)
}

func mseBody(s *Session, args []any) (any, error) {
	pred := args[0].(*EncryptedVector)
	obs := args[1].(*EncryptedVector)
	recip := args[2].(Fraction)

	diff, err := pred.Sub(obs)
	if err != nil {
		return nil, err
	}
	sq, err := diff.Mul(diff)
	if err != nil {
		return nil, err
	}
	sum, err := sq.Sum()
	if err != nil {
		return nil, err
	}
	return sum.MulFraction(recip, meanRecipBits)
}
