// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fheml

import (
	"fmt"
)

// ArgKind classifies a compiled program argument.
type ArgKind int

const (
	// ArgScalar is a single number, encrypted or plain.
	ArgScalar ArgKind = iota
	// ArgVector is a fixed-length vector, encrypted or plain.
	ArgVector
	// ArgFraction is an exact plaintext fraction.
	ArgFraction
)

func (k ArgKind) String() string {
	switch k {
	case ArgScalar:
		return "scalar"
	case ArgVector:
		return "vector"
	case ArgFraction:
		return "fraction"
	default:
		return fmt.Sprintf("argkind(%d)", int(k))
	}
}

// ArgSpec describes one argument position of a compiled program. Len is
// the required vector length; zero accepts any length.
type ArgSpec struct {
	Kind      ArgKind
	Encrypted bool
	Len       int
}

func (a ArgSpec) String() string {
	enc := "plain"
	if a.Encrypted {
		enc = "encrypted"
	}
	if a.Kind == ArgVector && a.Len > 0 {
		return fmt.Sprintf("%s %s[%d]", enc, a.Kind, a.Len)
	}
	return fmt.Sprintf("%s %s", enc, a.Kind)
}

// Signature is the ordered argument shape a compiled program accepts.
type Signature []ArgSpec

// ProgramFunc is the body of a compiled program. It runs only after
// every argument has been validated against the signature.
type ProgramFunc func(s *Session, args []any) (any, error)

// Program is a compiled computation bound to one session. The signature
// is fixed at compile time and enforced on every run.
type Program struct {
	s    *Session
	name string
	sig  Signature
	fn   ProgramFunc
}

// Compile registers a named computation with a fixed argument
// signature. Compiling the same name twice replaces the earlier
// program.
func (s *Session) Compile(name string, sig Signature, fn ProgramFunc) (*Program, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("compile: empty program name: %w", ErrArgumentShapeMismatch)
	}
	if fn == nil {
		return nil, fmt.Errorf("compile %s: nil body: %w", name, ErrUnsupportedOperation)
	}
	for i, a := range sig {
		if a.Kind == ArgFraction && a.Encrypted {
			return nil, fmt.Errorf("compile %s: arg %d: encrypted fractions are not representable: %w",
				name, i, ErrUnsupportedOperation)
		}
		if a.Len < 0 || a.Len > s.params.MaxVectorLen() {
			return nil, fmt.Errorf("compile %s: arg %d: length %d outside [0, %d]: %w",
				name, i, a.Len, s.params.MaxVectorLen(), ErrArgumentShapeMismatch)
		}
	}
	p := &Program{s: s, name: name, sig: append(Signature(nil), sig...), fn: fn}
	s.programs[name] = p
	return p, nil
}

// Program looks up a previously compiled program by name.
func (s *Session) Program(name string) (*Program, bool) {
	p, ok := s.programs[name]
	return p, ok
}

// Name returns the program's registered name.
func (p *Program) Name() string { return p.name }

// Signature returns a copy of the program's argument signature.
func (p *Program) Signature() Signature {
	return append(Signature(nil), p.sig...)
}

// Run validates args against the compiled signature and, only if every
// position conforms, executes the program body. A mismatch reports the
// offending position and never reaches the backend.
func (p *Program) Run(args ...any) (any, error) {
	if err := p.s.check(); err != nil {
		return nil, err
	}
	if len(args) != len(p.sig) {
		return nil, &CountError{Program: p.name, Want: len(p.sig), Got: len(args)}
	}
	for i, a := range args {
		if err := p.validate(i, a); err != nil {
			return nil, err
		}
	}
	return p.fn(p.s, args)
}

func (p *Program) validate(i int, arg any) error {
	want := p.sig[i]
	got, ok := describeArg(arg)
	if !ok {
		return &ShapeError{Program: p.name, Position: i, Want: want, Got: ArgSpec{Kind: -1}}
	}
	if got.Kind != want.Kind || got.Encrypted != want.Encrypted {
		return &ShapeError{Program: p.name, Position: i, Want: want, Got: got}
	}
	if want.Kind == ArgVector && want.Len > 0 && got.Len != want.Len {
		return &ShapeError{Program: p.name, Position: i, Want: want, Got: got}
	}
	if v, isEnc := encryptedSession(arg); isEnc && v != p.s {
		return &ShapeError{Program: p.name, Position: i, Want: want, Got: got}
	}
	return nil
}

func describeArg(arg any) (ArgSpec, bool) {
	switch v := arg.(type) {
	case *EncryptedScalar:
		return ArgSpec{Kind: ArgScalar, Encrypted: true}, true
	case *EncryptedVector:
		return ArgSpec{Kind: ArgVector, Encrypted: true, Len: v.n}, true
	case float64:
		return ArgSpec{Kind: ArgScalar}, true
	case []float64:
		return ArgSpec{Kind: ArgVector, Len: len(v)}, true
	case Fraction:
		return ArgSpec{Kind: ArgFraction}, true
	default:
		return ArgSpec{}, false
	}
}

func encryptedSession(arg any) (*Session, bool) {
	switch v := arg.(type) {
	case *EncryptedScalar:
		return v.s, true
	case *EncryptedVector:
		return v.s, true
	default:
		return nil, false
	}
}
