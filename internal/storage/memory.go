package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"diffit/internal/diffit"
)

// MemoryStore is an in-memory implementation of the ArtifactStore interface.
// It is useful for testing and for throwaway servers. This implementation is
// safe for concurrent use.
type MemoryStore struct {
	objects map[string][]byte // key -> blob
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put stores the blob under key, replacing any previous one.
func (m *MemoryStore) Put(_ context.Context, key string, r io.Reader, size int64) error {
	if err := validateKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

// Get writes the blob stored under key to w.
func (m *MemoryStore) Get(_ context.Context, key string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", key, diffit.ErrArtifactNotFound)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}

// Delete removes the blob under key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Has reports whether a blob is stored under key.
func (m *MemoryStore) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup(context.Context) error {
	return nil
}

// Compile-time check that MemoryStore implements diffit.ArtifactStore
var _ diffit.ArtifactStore = (*MemoryStore)(nil)
