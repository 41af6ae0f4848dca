// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fheml

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrArithmeticOverflow reports that the worst-case magnitude of a
	// fixed-point operation would exceed the centered plaintext range.
	// The check runs before the operation is dispatched to the backend,
	// so a wrapped ciphertext is never produced.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// ErrArgumentShapeMismatch reports that a call to a compiled program
	// deviates from the argument signature fixed at compile time.
	ErrArgumentShapeMismatch = errors.New("argument shape mismatch")

	// ErrUnsupportedOperation reports an operation outside the backend's
	// arithmetic model (encrypted division, square root, comparison).
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrPrecisionLoss reports that a rational or fixed-point encoding
	// degraded below a usable precision threshold.
	ErrPrecisionLoss = errors.New("precision loss")

	// ErrSessionClosed reports use of a session after Close.
	ErrSessionClosed = errors.New("session closed")
)

// ShapeError describes a single-position mismatch between a compiled
// program's signature and the arguments of a call. It wraps
// ErrArgumentShapeMismatch.
type ShapeError struct {
	Program  string
	Position int
	Want     ArgSpec
	Got      ArgSpec
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: argument %d: expected %s, got %s",
		e.Program, e.Position, e.Want, e.Got)
}

func (e *ShapeError) Unwrap() error {
	return ErrArgumentShapeMismatch
}

// CountError describes a call to a compiled program with the wrong number
// of arguments. It wraps ErrArgumentShapeMismatch.
type CountError struct {
	Program string
	Want    int
	Got     int
}

func (e *CountError) Error() string {
	return fmt.Sprintf("%s: expected %d arguments, got %d", e.Program, e.Want, e.Got)
}

func (e *CountError) Unwrap() error {
	return ErrArgumentShapeMismatch
}
