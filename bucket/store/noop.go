package store

import (
	"context"
)

// NoopStore accepts every write and reads back nothing, for runs where durability is not wanted.
type NoopStore struct {
	opts Options
}

func NewNoopStore(opts Options) *NoopStore {
	return &NoopStore{opts: opts}
}

func (s *NoopStore) Open(ctx context.Context) error { return nil }
func (s *NoopStore) Close() error                   { return nil }

func (s *NoopStore) Write(ctx context.Context, bucketID int64, generation int64, entries map[string][]byte) error {
	return nil
}

func (s *NoopStore) Read(ctx context.Context, bucketID int64) (*Contents, error) {
	return &Contents{Entries: map[string][]byte{}, Generation: -1}, nil
}

func (s *NoopStore) Delete(ctx context.Context, bucketID int64) error { return nil }

func (s *NoopStore) Compact(ctx context.Context, bucketID int64, upTo int64) error { return nil }

func (s *NoopStore) Rollback(ctx context.Context, after int64) error { return nil }

func (s *NoopStore) Buckets(ctx context.Context) ([]int64, error) { return []int64{}, nil }

func (s *NoopStore) SaveMeta(ctx context.Context, data []byte) error { return nil }

func (s *NoopStore) LoadMeta(ctx context.Context) ([]byte, error) { return nil, nil }

func (s *NoopStore) Inherit(namespaces []string) {}

func (s *NoopStore) Options() Options { return s.opts.Clone() }
