package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryBackend keeps blobs in a map. Share one instance between store handles to simulate a
// common durable backing in tests.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: map[string][]byte{}}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Put(ctx context.Context, name string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = cp
	return nil
}

func (m *MemoryBackend) Get(ctx context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[name]
	if !ok {
		return nil, fmt.Errorf("%w", &NotFoundError{})
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *MemoryBackend) Exists(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[name]
	return ok, nil
}

func (m *MemoryBackend) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret := []string{}
	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			ret = append(ret, name)
		}
	}
	return ret, nil
}

func (m *MemoryBackend) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, name)
	return nil
}

// Close is a no-op so that a shared backend survives individual store handles closing.
func (m *MemoryBackend) Close() error { return nil }

// Len is the number of blobs held.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
