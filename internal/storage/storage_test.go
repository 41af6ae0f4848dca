package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/luxfi/fheml"
)

// testEnvelope frames a fake ciphertext blob in the wire format the
// module serializes encrypted values with, so storage tests do not
// need key material.
func testEnvelope(kind fheml.EnvelopeKind, n int, ct []byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(0x46484d4c)) // "FHML"
	buf.WriteByte(1)                                            // version
	buf.WriteByte(byte(kind))
	binary.Write(&buf, binary.LittleEndian, uint32(8)) // scale
	binary.Write(&buf, binary.LittleEndian, uint32(n))
	bound := []byte{0x07}
	binary.Write(&buf, binary.LittleEndian, uint32(len(bound)))
	buf.Write(bound)
	binary.Write(&buf, binary.LittleEndian, uint32(len(ct)))
	buf.Write(ct)
	return buf.Bytes()
}

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage(1)

	data := testEnvelope(fheml.KindVector, 4, []byte("ciphertext bytes"))
	h, err := s.Store(ctx, data)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if h != ComputeHandle(data) {
		t.Error("handle is not the content hash")
	}

	// Storing the same bytes again dedups to the same handle.
	h2, err := s.Store(ctx, data)
	if err != nil {
		t.Fatalf("Store dup: %v", err)
	}
	if h2 != h {
		t.Error("duplicate store produced a new handle")
	}

	got, err := s.Load(ctx, h)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("loaded bytes differ")
	}

	info, err := s.Info(ctx, h)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Kind != fheml.KindVector || info.Len != 4 || info.Scale != 8 {
		t.Errorf("Info: got %+v", info)
	}

	ok, err := s.Exists(ctx, h)
	if err != nil || !ok {
		t.Errorf("Exists: %v %v", ok, err)
	}

	if err := s.Delete(ctx, h); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load(ctx, h); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after delete: got %v, want ErrNotFound", err)
	}
	if _, err := s.Info(ctx, h); !errors.Is(err, ErrNotFound) {
		t.Errorf("Info after delete: got %v, want ErrNotFound", err)
	}
}

func TestMemoryStorageRejectsNonEnvelope(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage(1)

	if _, err := s.Store(ctx, []byte("opaque payload")); !errors.Is(err, ErrNotEnvelope) {
		t.Errorf("Store raw bytes: got %v, want ErrNotEnvelope", err)
	}

	// Truncating a valid envelope breaks its framing.
	data := testEnvelope(fheml.KindScalar, 2, []byte("ciphertext"))
	if _, err := s.Store(ctx, data[:len(data)-3]); !errors.Is(err, ErrNotEnvelope) {
		t.Errorf("Store truncated envelope: got %v, want ErrNotEnvelope", err)
	}
}

func TestMemoryStorageCapacity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage(0) // zero capacity

	data := testEnvelope(fheml.KindScalar, 1, []byte("ct"))
	if _, err := s.Store(ctx, data); !errors.Is(err, ErrStorageFull) {
		t.Errorf("Store over capacity: got %v, want ErrStorageFull", err)
	}
}

func TestFileStorage(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}

	data := testEnvelope(fheml.KindScalar, 3, []byte("sharded ciphertext"))
	h, err := s.Store(ctx, data)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	if _, err := s.Store(ctx, []byte("not an envelope")); !errors.Is(err, ErrNotEnvelope) {
		t.Errorf("Store raw bytes: got %v, want ErrNotEnvelope", err)
	}

	got, err := s.Load(ctx, h)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("loaded bytes differ")
	}

	info, err := s.Info(ctx, h)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Kind != fheml.KindScalar || info.Len != 3 {
		t.Errorf("Info: got %+v", info)
	}

	ok, err := s.Exists(ctx, h)
	if err != nil || !ok {
		t.Errorf("Exists: %v %v", ok, err)
	}

	if err := s.Delete(ctx, h); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load(ctx, h); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after delete: got %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, h); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: got %v, want ErrNotFound", err)
	}
}
