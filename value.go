// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fheml

import (
	"fmt"
	"math"
	"math/big"

	"github.com/luxfi/lattice/v7/core/rlwe"
	"github.com/luxfi/lattice/v7/schemes/bgv"
)

// encodeFixed maps a real number to its fixed-point integer at the base
// scale, rejecting inputs whose representation would not fit the
// plaintext space.
func (p Parameters) encodeFixed(v float64) (int64, *big.Int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, nil, fmt.Errorf("encode %v: %w", v, ErrArgumentShapeMismatch)
	}
	scaled := math.Round(v * scalePow(p.fracBits))
	if math.Abs(scaled) > math.MaxInt64 {
		return 0, nil, fmt.Errorf("encode %v: %w", v, ErrArithmeticOverflow)
	}
	fixed := int64(scaled)
	bound := big.NewInt(fixed)
	bound.Abs(bound)
	if bound.Cmp(p.maxMagnitude) > 0 {
		return 0, nil, fmt.Errorf("encode %v exceeds plaintext ceiling: %w", v, ErrArithmeticOverflow)
	}
	return fixed, bound, nil
}

// encryptSlots encodes the given slot values at the top level and
// encrypts them under the session's public key.
func (s *Session) encryptSlots(vals []int64) (*rlwe.Ciphertext, error) {
	pt := bgv.NewPlaintext(s.params.bgv, s.params.bgv.MaxLevel())
	if err := s.encoder.Encode(vals, pt); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	ct, err := s.encryptor.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	return ct, nil
}

// decryptSlots decrypts and decodes the first n slots, centered around
// zero.
func (s *Session) decryptSlots(ct *rlwe.Ciphertext, n int) ([]int64, error) {
	pt := s.decryptor.DecryptNew(ct)
	vals := make([]int64, n)
	if err := s.encoder.Decode(pt, vals); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return vals, nil
}

func scalePow(bits uint) float64 {
	return math.Ldexp(1, int(bits))
}
