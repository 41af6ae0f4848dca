// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

// Package fheml implements simple linear regression evaluated under fully
// homomorphic encryption.
//
// Real-valued observations are encoded as fixed-scale signed integers in
// the centered plaintext ring of the BGV scheme and packed into ciphertext
// slots, so that mean, variance, covariance, model fitting and prediction
// run directly on encrypted data. The arithmetic model is add, subtract
// and multiply only: division by a ciphertext, square roots and
// comparisons are not available and are surfaced as typed errors rather
// than approximated.
//
// This implementation is built on luxfi/lattice primitives:
//   - BGV batched integer arithmetic over RLWE ciphertexts, with
//     BFV-style scale-invariant tensoring for ciphertext products so
//     noise growth stays linear in the multiplication chain
//   - Galois rotations for slot aggregation and replication
package fheml

import (
	"fmt"
	"math"
	"math/big"

	"github.com/luxfi/lattice/v7/schemes/bgv"
)

// Fixed-point multiplier widths used by the statistics pipeline.
// meanRecipBits scales 1/N, scatterRecipBits scales 1/N² applied to the
// scatter sums, and the reciprocal of the decrypted scatter uses the
// parameter set's RecipBits.
const (
	meanRecipBits    = 12
	scatterRecipBits = 16
)

// ParametersLiteral is a user-friendly parameter specification
type ParametersLiteral struct {
	// LogN is log2 of the ring degree
	LogN int
	// LogQ are the bit sizes of the ciphertext modulus chain
	LogQ []int
	// LogP are the bit sizes of the key-switching modulus
	LogP []int
	// PlaintextModulus is an NTT-friendly prime congruent to 1 mod 2N
	PlaintextModulus uint64
	// FracBits is the fixed-point fraction width for encoded inputs
	FracBits uint
	// RecipBits is the fixed-point width of decrypted-scatter reciprocals
	RecipBits uint
}

// Standard parameter sets
var (
	// PN14T50 is the default profile. N=16384, 50-bit plaintext
	// modulus, 8 fractional bits. The 355-bit ciphertext modulus keeps
	// the noise of the deepest chain the pipeline runs (fit, then a
	// broadcast-masked prediction) well under the Q/2t decryption
	// threshold, and LogQP=416 stays inside the 128-bit security bound
	// for this ring degree.
	PN14T50 = ParametersLiteral{
		LogN:             14,
		LogQ:             []int{60, 60, 60, 60, 60, 55},
		LogP:             []int{61},
		PlaintextModulus: 0x3ffffffdf0001, // ~2^50, ≡ 1 mod 2^16
		FracBits:         8,
		RecipBits:        12,
	}

	// PN13T50 halves the ring degree for test speed. Same modulus
	// chain and noise headroom as PN14T50; not sized for the default
	// profile's security target.
	PN13T50 = ParametersLiteral{
		LogN:             13,
		LogQ:             []int{60, 60, 60, 60, 60, 55},
		LogP:             []int{61},
		PlaintextModulus: 0x3ffffffdf0001, // ≡ 1 mod 2^14 as well
		FracBits:         8,
		RecipBits:        12,
	}
)

// Parameters bundles the BGV parameter set with the fixed-point encoding
// configuration shared by every value a session produces.
type Parameters struct {
	bgv       bgv.Parameters
	fracBits  uint
	recipBits uint

	// maxMagnitude is (T-1)/2: the largest centered plaintext integer.
	maxMagnitude *big.Int
}

// NewParametersFromLiteral creates Parameters from a literal specification
func NewParametersFromLiteral(lit ParametersLiteral) (Parameters, error) {
	if lit.FracBits == 0 || lit.FracBits > 24 {
		return Parameters{}, fmt.Errorf("FracBits must be in [1,24], got %d", lit.FracBits)
	}
	if lit.RecipBits == 0 || lit.RecipBits > 32 {
		return Parameters{}, fmt.Errorf("RecipBits must be in [1,32], got %d", lit.RecipBits)
	}

	params, err := bgv.NewParametersFromLiteral(bgv.ParametersLiteral{
		LogN:             lit.LogN,
		LogQ:             lit.LogQ,
		LogP:             lit.LogP,
		PlaintextModulus: lit.PlaintextModulus,
	})
	if err != nil {
		return Parameters{}, fmt.Errorf("bgv parameters: %w", err)
	}

	maxMag := new(big.Int).SetUint64(lit.PlaintextModulus)
	maxMag.Sub(maxMag, big.NewInt(1))
	maxMag.Rsh(maxMag, 1)

	return Parameters{
		bgv:          params,
		fracBits:     lit.FracBits,
		recipBits:    lit.RecipBits,
		maxMagnitude: maxMag,
	}, nil
}

// BGV returns the underlying scheme parameters.
func (p Parameters) BGV() bgv.Parameters {
	return p.bgv
}

// N returns the ring degree
func (p Parameters) N() int {
	return p.bgv.N()
}

// Slots returns the packing row width (N/2). Vectors occupy the first
// row of the 2 x N/2 BGV plaintext matrix.
func (p Parameters) Slots() int {
	return p.bgv.N() / 2
}

// MaxVectorLen returns the largest supported observation count.
func (p Parameters) MaxVectorLen() int {
	return p.Slots()
}

// FracBits returns the fixed-point fraction width of encoded inputs.
func (p Parameters) FracBits() uint {
	return p.fracBits
}

// RecipBits returns the fixed-point width used when a decrypted scatter
// value is reinverted into a plaintext multiplier.
func (p Parameters) RecipBits() uint {
	return p.recipBits
}

// MaxMagnitude returns (T-1)/2, the largest representable centered
// plaintext integer.
func (p Parameters) MaxMagnitude() *big.Int {
	return new(big.Int).Set(p.maxMagnitude)
}

// MaxInput returns the largest absolute input value representable at the
// configured fixed-point scale. Staying representable is necessary but
// not sufficient: pipeline headroom is checked per operation and can be
// validated up front with FitBudget.
func (p Parameters) MaxInput() float64 {
	f, _ := new(big.Float).SetInt(p.maxMagnitude).Float64()
	return f / float64(uint64(1)<<p.fracBits)
}

// FitBudget reports whether a dataset of n observations with values in
// [-maxAbs, maxAbs] and feature scatter n*sum(x^2)-sum(x)^2 equal to
// scatter provably stays within the plaintext range through the whole
// fit and predict pipeline. The check walks the same bound ledger and
// derives the same fixed-point reciprocal multipliers the pipeline
// itself uses, so a dataset it accepts cannot trip the per-operation
// checks, and one whose multipliers degenerate fails here with the
// ErrPrecisionLoss the fit would return.
func (p Parameters) FitBudget(n int, maxAbs, scatter float64) error {
	if n < 2 {
		return fmt.Errorf("need at least 2 observations, got %d", n)
	}
	if n > p.MaxVectorLen() {
		return fmt.Errorf("%d observations exceed packing capacity %d", n, p.MaxVectorLen())
	}
	if maxAbs <= 0 || math.IsNaN(maxAbs) || math.IsInf(maxAbs, 0) {
		return fmt.Errorf("invalid input magnitude %v", maxAbs)
	}
	if scatter <= 0 || math.IsNaN(scatter) || math.IsInf(scatter, 0) {
		return fmt.Errorf("feature scatter %v: %w", scatter, ErrPrecisionLoss)
	}

	xb := big.NewInt(int64(math.Ceil(maxAbs * float64(uint64(1)<<p.fracBits))))
	bn := big.NewInt(int64(n))

	sum := new(big.Int).Mul(xb, bn) // |Σx|
	if err := p.checkBound("sum", sum); err != nil {
		return err
	}
	dot := new(big.Int).Mul(xb, xb)
	dot.Mul(dot, bn)                           // |Σxy|
	scat := new(big.Int).Mul(dot, bn)          //
	scat.Add(scat, new(big.Int).Mul(sum, sum)) // |n·Σxy| + |Σx·Σy|
	if err := p.checkBound("scatter", scat); err != nil {
		return err
	}

	// The reciprocal multipliers the fit derives from the disclosed
	// scatter. Their rounding failures are the pipeline's.
	slopeFixed, err := fixedFromFloat(1/scatter, p.recipBits)
	if err != nil {
		return fmt.Errorf("reciprocal: %w", err)
	}
	slopeOverNFixed, err := fixedFromFloat(1/(scatter*float64(n)), p.recipBits)
	if err != nil {
		return fmt.Errorf("reciprocal: %w", err)
	}
	meanFixed, err := fixedFromFloat(1/float64(n), meanRecipBits)
	if err != nil {
		return fmt.Errorf("reciprocal: %w", err)
	}

	slope := new(big.Int).Mul(scat, big.NewInt(abs64(slopeFixed)))
	if err := p.checkBound("slope", slope); err != nil {
		return err
	}

	term := new(big.Int).Mul(scat, big.NewInt(abs64(slopeOverNFixed)))
	term.Mul(term, sum)
	meanY := new(big.Int).Mul(sum, big.NewInt(abs64(meanFixed)))
	meanY.Lsh(meanY, 2*p.fracBits+p.recipBits-meanRecipBits)
	intercept := new(big.Int).Add(term, meanY)
	if err := p.checkBound("intercept", intercept); err != nil {
		return err
	}

	pred := new(big.Int).Mul(slope, xb)
	pred.Add(pred, intercept)
	return p.checkBound("predict", pred)
}

// checkBound verifies that a worst-case scaled magnitude stays inside the
// centered plaintext range.
func (p Parameters) checkBound(op string, bound *big.Int) error {
	if bound.Cmp(p.maxMagnitude) > 0 {
		return fmt.Errorf("%w: %s: worst-case magnitude %s exceeds plaintext range %s",
			ErrArithmeticOverflow, op, bound, p.maxMagnitude)
	}
	return nil
}
