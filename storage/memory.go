package storage

import (
	"context"
	"sync"

	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
)

// MemoryBackend is an in-process map-based store. It backs simulated
// enclave runs and tests; nothing stored in it survives the process.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string][]byte)}
}

// Put stores a copy of data under name.
func (b *MemoryBackend) Put(ctx context.Context, name string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.records[name] = cp
	return nil
}

// Get returns a copy of the record stored under name.
func (b *MemoryBackend) Get(ctx context.Context, name string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.records[name]
	if !ok {
		return nil, interfaces.ErrRecordNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Has reports whether a record exists under name.
func (b *MemoryBackend) Has(ctx context.Context, name string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.records[name]
	return ok, nil
}

// Delete removes the record under name, reporting whether one existed.
func (b *MemoryBackend) Delete(ctx context.Context, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.records[name]
	delete(b.records, name)
	return ok, nil
}

// Name returns a unique identifier for this storage backend.
func (b *MemoryBackend) Name() string {
	return "memory"
}

// LocationURI returns the URI that identifies this storage backend.
func (b *MemoryBackend) LocationURI() string {
	return "memory://"
}
