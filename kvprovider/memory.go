package kvprovider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// NewMemoryProviders returns independent in memory twins of the generation and checkpoint databases.
func NewMemoryProviders() (*KVMulti, error) {
	return &KVMulti{
		Generations: newMemoryProvider(),
		Checkpoints: newMemoryProvider(),
	}, nil
}

// MemoryProvider ignores expiry, nothing the bucket store writes expires.
type MemoryProvider struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newMemoryProvider() *MemoryProvider {
	return &MemoryProvider{values: map[string][]byte{}}
}

func (m *MemoryProvider) GetDBSize(ctx context.Context) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.values))
}

// GetBytes returns nil for a missing key, as redis does once redis.Nil is unwrapped.
func (m *MemoryProvider) GetBytes(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryProvider) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	var v []byte
	switch value := value.(type) {
	case []byte:
		v = append([]byte(nil), value...)
	case string:
		v = []byte(value)
	default:
		return fmt.Errorf("in memory provider stores bytes or strings, got %T", value)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = v
	return nil
}

func (m *MemoryProvider) Del(ctx context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.values[k]; ok {
			delete(m.values, k)
			n++
		}
	}
	return n, nil
}

// globMatch supports the subset of redis globs the bucket store uses, a literal with an optional trailing '*'.
func globMatch(match string, key string) bool {
	if prefix, ok := strings.CutSuffix(match, "*"); ok {
		return strings.HasPrefix(key, prefix)
	}
	return match == key
}

// Scan returns every match in one page, sorted so listings are stable.
func (m *MemoryProvider) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := []string{}
	for k := range m.values {
		if globMatch(match, k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, 0, nil
}
