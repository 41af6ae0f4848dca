// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fheml

import (
	"errors"
	"testing"
)

func TestProgramValidatesBeforeExecution(t *testing.T) {
	s := newTestSession(t)

	executed := false
	p, err := s.Compile("first-element", Signature{
		{Kind: ArgVector, Encrypted: true, Len: 3},
		{Kind: ArgFraction},
	}, func(s *Session, args []any) (any, error) {
		executed = true
		v := args[0].(*EncryptedVector)
		f := args[1].(Fraction)
		return v.MulFraction(f, 8)
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	v3, err := s.EncryptVector([]float64{1, 2, 3})
	if err != nil {
		t.Fatalf("EncryptVector: %v", err)
	}
	v2, err := s.EncryptVector([]float64{1, 2})
	if err != nil {
		t.Fatalf("EncryptVector: %v", err)
	}
	half, err := NewFraction(1, 2)
	if err != nil {
		t.Fatalf("NewFraction: %v", err)
	}

	// Wrong argument count.
	_, err = p.Run(v3)
	var countErr *CountError
	if !errors.As(err, &countErr) || !errors.Is(err, ErrArgumentShapeMismatch) {
		t.Fatalf("short args: got %v, want CountError", err)
	}
	if countErr.Want != 2 || countErr.Got != 1 {
		t.Errorf("CountError: want 2/got 1, have %d/%d", countErr.Want, countErr.Got)
	}

	// Wrong vector length.
	_, err = p.Run(v2, half)
	var shapeErr *ShapeError
	if !errors.As(err, &shapeErr) || !errors.Is(err, ErrArgumentShapeMismatch) {
		t.Fatalf("short vector: got %v, want ShapeError", err)
	}
	if shapeErr.Position != 0 {
		t.Errorf("ShapeError position: got %d, want 0", shapeErr.Position)
	}

	// Wrong kind at position 1.
	_, err = p.Run(v3, 0.5)
	if !errors.As(err, &shapeErr) {
		t.Fatalf("kind mismatch: got %v, want ShapeError", err)
	}
	if shapeErr.Position != 1 {
		t.Errorf("ShapeError position: got %d, want 1", shapeErr.Position)
	}

	// None of the rejected runs may have reached the program body.
	if executed {
		t.Fatal("program body executed despite shape mismatch")
	}

	// A conforming call executes.
	out, err := p.Run(v3, half)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !executed {
		t.Fatal("program body not executed")
	}
	if _, ok := out.(*EncryptedVector); !ok {
		t.Fatalf("result type: got %T", out)
	}
}

func TestProgramPlainArguments(t *testing.T) {
	s := newTestSession(t)

	p, err := s.Compile("plain-shift", Signature{
		{Kind: ArgScalar, Encrypted: true},
		{Kind: ArgScalar},
	}, func(s *Session, args []any) (any, error) {
		x := args[0].(*EncryptedScalar)
		shift := args[1].(float64)
		enc, err := s.EncryptScalar(shift, x.Span())
		if err != nil {
			return nil, err
		}
		return x.Add(enc)
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	x, err := s.EncryptScalar(2, 1)
	if err != nil {
		t.Fatalf("EncryptScalar: %v", err)
	}

	// Plain spot where encrypted expected and vice versa.
	if _, err := p.Run(3.0, 3.0); !errors.Is(err, ErrArgumentShapeMismatch) {
		t.Errorf("plain for encrypted: got %v", err)
	}
	if _, err := p.Run(x, x); !errors.Is(err, ErrArgumentShapeMismatch) {
		t.Errorf("encrypted for plain: got %v", err)
	}

	out, err := p.Run(x, 3.0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, err := s.DecryptScalar(out.(*EncryptedScalar))
	if err != nil {
		t.Fatalf("DecryptScalar: %v", err)
	}
	if got < 4.9 || got > 5.1 {
		t.Errorf("2+3: got %v", got)
	}
}

func TestProgramRejectsForeignValues(t *testing.T) {
	s := newTestSession(t)
	other := newTestSession(t)

	p, err := s.Compile("identity", Signature{
		{Kind: ArgScalar, Encrypted: true},
	}, func(s *Session, args []any) (any, error) {
		return args[0], nil
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	foreign, err := other.EncryptScalar(1, 1)
	if err != nil {
		t.Fatalf("EncryptScalar: %v", err)
	}
	if _, err := p.Run(foreign); !errors.Is(err, ErrArgumentShapeMismatch) {
		t.Errorf("foreign value: got %v, want ErrArgumentShapeMismatch", err)
	}
}

func TestCompileRejectsBadSignatures(t *testing.T) {
	s := newTestSession(t)

	if _, err := s.Compile("", Signature{}, func(*Session, []any) (any, error) { return nil, nil }); err == nil {
		t.Error("empty name accepted")
	}
	if _, err := s.Compile("nil-body", Signature{}, nil); !errors.Is(err, ErrUnsupportedOperation) {
		t.Errorf("nil body: got %v", err)
	}
	_, err := s.Compile("enc-fraction", Signature{
		{Kind: ArgFraction, Encrypted: true},
	}, func(*Session, []any) (any, error) { return nil, nil })
	if !errors.Is(err, ErrUnsupportedOperation) {
		t.Errorf("encrypted fraction: got %v", err)
	}
}

func TestProgramLookup(t *testing.T) {
	s := newTestSession(t)

	if _, ok := s.Program("missing"); ok {
		t.Error("missing program found")
	}
	p, err := s.Compile("noop", Signature{}, func(*Session, []any) (any, error) { return nil, nil })
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	got, ok := s.Program("noop")
	if !ok || got != p {
		t.Error("compiled program not found by name")
	}
	if p.Name() != "noop" {
		t.Errorf("Name: got %q", p.Name())
	}
}
