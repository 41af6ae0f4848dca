// Package storage persists serialized encrypted-value envelopes,
// content-addressed by hash. The store understands the envelope
// framing: only well-formed envelopes are accepted, and their header
// metadata (kind, length, scale) can be inspected without keys.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/luxfi/fheml"
)

// Common errors.
var (
	ErrNotFound    = errors.New("envelope not found")
	ErrStorageFull = errors.New("storage capacity exceeded")
	ErrNotEnvelope = errors.New("data is not an encrypted-value envelope")
)

// Handle uniquely identifies a stored envelope by content hash.
type Handle string

// ComputeHandle derives a handle from envelope bytes.
func ComputeHandle(data []byte) Handle {
	hash := sha256.Sum256(data)
	return Handle(hex.EncodeToString(hash[:]))
}

// Storage persists envelopes. Store rejects payloads that do not parse
// as envelopes, so everything a Storage holds has a readable header.
type Storage interface {
	// Store validates and saves an envelope, returning its handle.
	Store(ctx context.Context, data []byte) (Handle, error)
	// Load retrieves an envelope by handle.
	Load(ctx context.Context, handle Handle) ([]byte, error)
	// Info returns the envelope header metadata for a handle.
	Info(ctx context.Context, handle Handle) (fheml.EnvelopeInfo, error)
	// Delete removes an envelope.
	Delete(ctx context.Context, handle Handle) error
	// Exists checks if an envelope exists.
	Exists(ctx context.Context, handle Handle) (bool, error)
	// Close closes the storage.
	Close() error
}

func validate(data []byte) (fheml.EnvelopeInfo, error) {
	info, err := fheml.ParseEnvelope(data)
	if err != nil {
		return fheml.EnvelopeInfo{}, fmt.Errorf("%w: %v", ErrNotEnvelope, err)
	}
	return info, nil
}

type memoryEntry struct {
	data []byte
	info fheml.EnvelopeInfo
}

// MemoryStorage holds envelopes in memory, up to a byte capacity.
type MemoryStorage struct {
	mu       sync.RWMutex
	entries  map[Handle]memoryEntry
	capacity int64
	size     int64
}

// NewMemoryStorage creates an in-memory store with the given capacity.
func NewMemoryStorage(capacityMB int64) *MemoryStorage {
	return &MemoryStorage{
		entries:  make(map[Handle]memoryEntry),
		capacity: capacityMB * 1024 * 1024,
	}
}

func (s *MemoryStorage) Store(ctx context.Context, data []byte) (Handle, error) {
	info, err := validate(data)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	handle := ComputeHandle(data)
	if _, ok := s.entries[handle]; ok {
		return handle, nil // Dedup by content hash.
	}
	if s.size+int64(len(data)) > s.capacity {
		return "", ErrStorageFull
	}

	s.entries[handle] = memoryEntry{data: append([]byte(nil), data...), info: info}
	s.size += int64(len(data))
	return handle, nil
}

func (s *MemoryStorage) Load(ctx context.Context, handle Handle) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[handle]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.data...), nil
}

func (s *MemoryStorage) Info(ctx context.Context, handle Handle) (fheml.EnvelopeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[handle]
	if !ok {
		return fheml.EnvelopeInfo{}, ErrNotFound
	}
	return e.info, nil
}

func (s *MemoryStorage) Delete(ctx context.Context, handle Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[handle]
	if !ok {
		return ErrNotFound
	}
	s.size -= int64(len(e.data))
	delete(s.entries, handle)
	return nil
}

func (s *MemoryStorage) Exists(ctx context.Context, handle Handle) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entries[handle]
	return ok, nil
}

func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	s.size = 0
	return nil
}

// FileStorage persists envelopes as files under a base directory,
// sharded by handle prefix.
type FileStorage struct {
	baseDir string
}

// NewFileStorage creates a file-based store rooted at baseDir.
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStorage{baseDir: baseDir}, nil
}

func (s *FileStorage) path(handle Handle) string {
	h := string(handle)
	if len(h) < 4 {
		return filepath.Join(s.baseDir, h)
	}
	// Shard by first 2 chars to avoid too many files in one directory.
	return filepath.Join(s.baseDir, h[:2], h)
}

func (s *FileStorage) Store(ctx context.Context, data []byte) (Handle, error) {
	if _, err := validate(data); err != nil {
		return "", err
	}

	handle := ComputeHandle(data)
	path := s.path(handle)

	if _, err := os.Stat(path); err == nil {
		return handle, nil // Already exists (dedup).
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", fmt.Errorf("create shard dir: %w", err)
	}

	// Write atomically via temp file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename temp file: %w", err)
	}
	return handle, nil
}

func (s *FileStorage) Load(ctx context.Context, handle Handle) ([]byte, error) {
	data, err := os.ReadFile(s.path(handle))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func (s *FileStorage) Info(ctx context.Context, handle Handle) (fheml.EnvelopeInfo, error) {
	data, err := s.Load(ctx, handle)
	if err != nil {
		return fheml.EnvelopeInfo{}, err
	}
	// Anything on disk passed validation at store time; a parse failure
	// here means the file was tampered with or corrupted.
	return validate(data)
}

func (s *FileStorage) Delete(ctx context.Context, handle Handle) error {
	if err := os.Remove(s.path(handle)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

func (s *FileStorage) Exists(ctx context.Context, handle Handle) (bool, error) {
	_, err := os.Stat(s.path(handle))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat file: %w", err)
}

func (s *FileStorage) Close() error {
	return nil
}
