// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fheml

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"

	"github.com/luxfi/lattice/v7/core/rlwe"
)

// Encrypted values travel as a small binary envelope: magic, version,
// kind, the fixed-point metadata the arithmetic layer needs to keep
// tracking bounds, then the backend ciphertext as a length-prefixed
// blob. Deserialization rebinds the value to a session, which must hold
// the keys the ciphertext was produced under.

const (
	envelopeMagic   uint32 = 0x46484d4c // "FHML"
	envelopeVersion uint8  = 1
)

// EnvelopeKind identifies the payload type of a serialized envelope.
type EnvelopeKind uint8

// Envelope payload kinds.
const (
	KindScalar EnvelopeKind = 1
	KindVector EnvelopeKind = 2
)

func (k EnvelopeKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindVector:
		return "vector"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// EnvelopeInfo is the plaintext header of a serialized envelope: what
// a store or queue can know about an encrypted value without holding
// any keys.
type EnvelopeInfo struct {
	Kind  EnvelopeKind
	Scale uint
	// Len is the vector length, or the broadcast span for a scalar.
	Len int
	// CiphertextBytes is the size of the ciphertext blob.
	CiphertextBytes int
}

// ParseEnvelope validates an envelope's header and length framing
// without deserializing the ciphertext. It rejects anything that is
// not a well-formed envelope, including truncated payloads and length
// fields pointing past the end of the data.
func ParseEnvelope(data []byte) (EnvelopeInfo, error) {
	buf := bytes.NewReader(data)

	var magic uint32
	if err := binary.Read(buf, binary.LittleEndian, &magic); err != nil {
		return EnvelopeInfo{}, err
	}
	if magic != envelopeMagic {
		return EnvelopeInfo{}, fmt.Errorf("bad envelope magic %#x: %w", magic, ErrArgumentShapeMismatch)
	}
	var version uint8
	if err := binary.Read(buf, binary.LittleEndian, &version); err != nil {
		return EnvelopeInfo{}, err
	}
	if version != envelopeVersion {
		return EnvelopeInfo{}, fmt.Errorf("envelope version %d not supported: %w", version, ErrUnsupportedOperation)
	}
	var kind uint8
	if err := binary.Read(buf, binary.LittleEndian, &kind); err != nil {
		return EnvelopeInfo{}, err
	}
	if EnvelopeKind(kind) != KindScalar && EnvelopeKind(kind) != KindVector {
		return EnvelopeInfo{}, fmt.Errorf("unknown envelope kind %d: %w", kind, ErrArgumentShapeMismatch)
	}

	var scale32, n32, boundLen uint32
	if err := binary.Read(buf, binary.LittleEndian, &scale32); err != nil {
		return EnvelopeInfo{}, err
	}
	if err := binary.Read(buf, binary.LittleEndian, &n32); err != nil {
		return EnvelopeInfo{}, err
	}
	if err := binary.Read(buf, binary.LittleEndian, &boundLen); err != nil {
		return EnvelopeInfo{}, err
	}
	if int64(boundLen) > int64(buf.Len()) {
		return EnvelopeInfo{}, fmt.Errorf("envelope bound length %d exceeds remaining %d bytes: %w",
			boundLen, buf.Len(), ErrArgumentShapeMismatch)
	}
	if _, err := buf.Seek(int64(boundLen), io.SeekCurrent); err != nil {
		return EnvelopeInfo{}, err
	}

	var ctLen uint32
	if err := binary.Read(buf, binary.LittleEndian, &ctLen); err != nil {
		return EnvelopeInfo{}, err
	}
	if int64(ctLen) != int64(buf.Len()) {
		return EnvelopeInfo{}, fmt.Errorf("envelope ciphertext length %d, %d bytes remain: %w",
			ctLen, buf.Len(), ErrArgumentShapeMismatch)
	}

	return EnvelopeInfo{
		Kind:            EnvelopeKind(kind),
		Scale:           uint(scale32),
		Len:             int(n32),
		CiphertextBytes: int(ctLen),
	}, nil
}

// MarshalBinary serializes the scalar with its fixed-point metadata.
func (x *EncryptedScalar) MarshalBinary() ([]byte, error) {
	return marshalEnvelope(KindScalar, x.scale, x.span, x.bound, x.ct)
}

// MarshalBinary serializes the vector with its fixed-point metadata.
func (x *EncryptedVector) MarshalBinary() ([]byte, error) {
	return marshalEnvelope(KindVector, x.scale, x.n, x.bound, x.ct)
}

// UnmarshalScalar deserializes a scalar envelope and binds it to the
// session.
func (s *Session) UnmarshalScalar(data []byte) (*EncryptedScalar, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	scale, span, bound, ct, err := unmarshalEnvelope(KindScalar, data)
	if err != nil {
		return nil, err
	}
	if span < 1 || span > s.params.MaxVectorLen() {
		return nil, fmt.Errorf("scalar span %d outside [1, %d]: %w",
			span, s.params.MaxVectorLen(), ErrArgumentShapeMismatch)
	}
	return &EncryptedScalar{s: s, ct: ct, scale: scale, bound: bound, span: span}, nil
}

// UnmarshalVector deserializes a vector envelope and binds it to the
// session.
func (s *Session) UnmarshalVector(data []byte) (*EncryptedVector, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	scale, n, bound, ct, err := unmarshalEnvelope(KindVector, data)
	if err != nil {
		return nil, err
	}
	if n < 1 || n > s.params.MaxVectorLen() {
		return nil, fmt.Errorf("vector length %d outside [1, %d]: %w",
			n, s.params.MaxVectorLen(), ErrArgumentShapeMismatch)
	}
	return &EncryptedVector{s: s, ct: ct, n: n, scale: scale, bound: bound}, nil
}

func marshalEnvelope(kind EnvelopeKind, scale uint, n int, bound *big.Int, ct *rlwe.Ciphertext) ([]byte, error) {
	var buf bytes.Buffer

	// Header
	if err := binary.Write(&buf, binary.LittleEndian, envelopeMagic); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, envelopeVersion); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint8(kind)); err != nil {
		return nil, err
	}

	// Fixed-point metadata
	if err := binary.Write(&buf, binary.LittleEndian, uint32(scale)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(n)); err != nil {
		return nil, err
	}
	boundBytes := bound.Bytes()
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(boundBytes))); err != nil {
		return nil, err
	}
	if _, err := buf.Write(boundBytes); err != nil {
		return nil, err
	}

	// Ciphertext blob
	ctBytes, err := ct.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize ciphertext: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(ctBytes))); err != nil {
		return nil, err
	}
	if _, err := buf.Write(ctBytes); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func unmarshalEnvelope(wantKind EnvelopeKind, data []byte) (scale uint, n int, bound *big.Int, ct *rlwe.Ciphertext, err error) {
	buf := bytes.NewReader(data)

	var magic uint32
	if err = binary.Read(buf, binary.LittleEndian, &magic); err != nil {
		return
	}
	if magic != envelopeMagic {
		err = fmt.Errorf("bad envelope magic %#x: %w", magic, ErrArgumentShapeMismatch)
		return
	}
	var version uint8
	if err = binary.Read(buf, binary.LittleEndian, &version); err != nil {
		return
	}
	if version != envelopeVersion {
		err = fmt.Errorf("envelope version %d not supported: %w", version, ErrUnsupportedOperation)
		return
	}
	var kind uint8
	if err = binary.Read(buf, binary.LittleEndian, &kind); err != nil {
		return
	}
	if EnvelopeKind(kind) != wantKind {
		err = fmt.Errorf("envelope kind %s, want %s: %w", EnvelopeKind(kind), wantKind, ErrArgumentShapeMismatch)
		return
	}

	var scale32, n32, boundLen uint32
	if err = binary.Read(buf, binary.LittleEndian, &scale32); err != nil {
		return
	}
	if err = binary.Read(buf, binary.LittleEndian, &n32); err != nil {
		return
	}
	if err = binary.Read(buf, binary.LittleEndian, &boundLen); err != nil {
		return
	}
	// Length fields are untrusted input: cap them against the bytes
	// actually present before allocating.
	if int64(boundLen) > int64(buf.Len()) {
		err = fmt.Errorf("envelope bound length %d exceeds remaining %d bytes: %w",
			boundLen, buf.Len(), ErrArgumentShapeMismatch)
		return
	}
	boundBytes := make([]byte, boundLen)
	if _, err = io.ReadFull(buf, boundBytes); err != nil {
		return
	}

	var ctLen uint32
	if err = binary.Read(buf, binary.LittleEndian, &ctLen); err != nil {
		return
	}
	if int64(ctLen) > int64(buf.Len()) {
		err = fmt.Errorf("envelope ciphertext length %d exceeds remaining %d bytes: %w",
			ctLen, buf.Len(), ErrArgumentShapeMismatch)
		return
	}
	ctBytes := make([]byte, ctLen)
	if _, err = io.ReadFull(buf, ctBytes); err != nil {
		return
	}
	ct = new(rlwe.Ciphertext)
	if err = ct.UnmarshalBinary(ctBytes); err != nil {
		err = fmt.Errorf("deserialize ciphertext: %w", err)
		return
	}

	scale = uint(scale32)
	n = int(n32)
	bound = new(big.Int).SetBytes(boundBytes)
	return
}
