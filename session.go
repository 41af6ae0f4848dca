// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fheml

import (
	"fmt"

	"github.com/luxfi/lattice/v7/core/rlwe"
	"github.com/luxfi/lattice/v7/schemes/bgv"
)

// Disclosure records a value that was deliberately revealed in plaintext,
// such as a decrypted scatter reinverted into a reciprocal multiplier.
// Every privacy-compromising step the pipeline takes leaves one of these
// behind instead of happening silently.
type Disclosure struct {
	Label string
	Value float64
}

// Session owns one key context of the encryption backend: parameters, key
// material, encoder, encryptor, decryptor, evaluator and the compiled
// program cache. It is an exclusively-owned resource: methods are not safe
// for concurrent use, and the session must not be copied. Callers wanting
// parallelism run independent sessions with independent keys and combine
// decrypted partial results themselves.
type Session struct {
	params Parameters

	sk  *rlwe.SecretKey
	pk  *rlwe.PublicKey
	evk *rlwe.MemEvaluationKeySet

	encoder   *bgv.Encoder
	encryptor *rlwe.Encryptor
	decryptor *rlwe.Decryptor
	eval      *bgv.Evaluator

	// Compiled programs, keyed by name. Signatures are fixed at compile
	// time; Run re-validates every call against them.
	programs map[string]*Program

	// Plaintext 0/1 masks keyed by prefix length, reused across calls.
	masks map[int]*rlwe.Plaintext

	disclosures []Disclosure
	modelSeq    int
	closed      bool
}

// NewSession generates a fresh key context and returns a ready session.
func NewSession(params Parameters) (*Session, error) {
	kgen := rlwe.NewKeyGenerator(params.bgv)
	sk := kgen.GenSecretKeyNew()
	pk := kgen.GenPublicKeyNew(sk)
	rlk := kgen.GenRelinearizationKeyNew(sk)

	// One Galois key per power-of-two step covers the full-row
	// rotation tree that aggregates and replicates packed values.
	row := params.Slots()
	var galEls []uint64
	for step := 1; step < row; step <<= 1 {
		galEls = append(galEls, params.bgv.GaloisElement(step))
	}
	gks := kgen.GenGaloisKeysNew(galEls, sk)
	evk := rlwe.NewMemEvaluationKeySet(rlk, gks...)

	return &Session{
		params:    params,
		sk:        sk,
		pk:        pk,
		evk:       evk,
		encoder:   bgv.NewEncoder(params.bgv),
		encryptor: rlwe.NewEncryptor(params.bgv, pk),
		decryptor: rlwe.NewDecryptor(params.bgv, sk),
		eval:      bgv.NewEvaluator(params.bgv, evk),
		programs:  make(map[string]*Program),
		masks:     make(map[int]*rlwe.Plaintext),
	}, nil
}

// Fork returns a new session sharing this session's key material but
// with its own evaluator, caches and disclosure log. Forks let worker
// goroutines compute on values encrypted under one key set while each
// goroutine keeps an exclusively-owned handle.
func (s *Session) Fork() (*Session, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return &Session{
		params:    s.params,
		sk:        s.sk,
		pk:        s.pk,
		evk:       s.evk,
		encoder:   bgv.NewEncoder(s.params.bgv),
		encryptor: rlwe.NewEncryptor(s.params.bgv, s.pk),
		decryptor: rlwe.NewDecryptor(s.params.bgv, s.sk),
		eval:      bgv.NewEvaluator(s.params.bgv, s.evk),
		programs:  make(map[string]*Program),
		masks:     make(map[int]*rlwe.Plaintext),
	}, nil
}

// Parameters returns the session's parameter set.
func (s *Session) Parameters() Parameters {
	return s.params
}

// PublicKey returns the session's public key, which may be shared so that
// other parties can encrypt inputs for this session to compute on.
func (s *Session) PublicKey() *rlwe.PublicKey {
	return s.pk
}

// Disclosures returns the plaintext values this session has revealed so
// far, in order.
func (s *Session) Disclosures() []Disclosure {
	out := make([]Disclosure, len(s.disclosures))
	copy(out, s.disclosures)
	return out
}

// Close releases the session's key material references. Encrypted values
// produced by the session become undecryptable once their session is the
// only holder of the secret key.
func (s *Session) Close() error {
	s.sk = nil
	s.pk = nil
	s.evk = nil
	s.encoder = nil
	s.encryptor = nil
	s.decryptor = nil
	s.eval = nil
	s.programs = nil
	s.masks = nil
	s.closed = true
	return nil
}

func (s *Session) check() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) disclose(label string, value float64) {
	s.disclosures = append(s.disclosures, Disclosure{Label: label, Value: value})
}

// SupportedOperations returns the backend's arithmetic capability table.
// Callers needing an unsupported operation must restate it in terms of
// supported ones (division becomes multiplication by a plaintext
// reciprocal, at the cost of a recorded disclosure).
func SupportedOperations() map[string]bool {
	return map[string]bool{
		"add":        true,
		"subtract":   true,
		"multiply":   true,
		"negate":     true,
		"divide":     false,
		"sqrt":       false,
		"comparison": false,
	}
}

// maskPrefix returns a cached plaintext with ones in slots [0, n) of the
// first packing row and zeros elsewhere. Multiplying by it neither grows
// bounds nor changes the fixed-point scale.
func (s *Session) maskPrefix(n int) (*rlwe.Plaintext, error) {
	if pt, ok := s.masks[n]; ok {
		return pt, nil
	}
	ones := make([]int64, n)
	for i := range ones {
		ones[i] = 1
	}
	pt := bgv.NewPlaintext(s.params.bgv, s.params.bgv.MaxLevel())
	if err := s.encoder.Encode(ones, pt); err != nil {
		return nil, fmt.Errorf("encode mask[%d]: %w", n, err)
	}
	s.masks[n] = pt
	return pt, nil
}

// scalarOperand maps a signed integer constant into the plaintext ring.
func (s *Session) scalarOperand(k int64) uint64 {
	t := s.params.bgv.PlaintextModulus()
	if k >= 0 {
		return uint64(k) % t
	}
	return t - uint64(-k)%t
}
