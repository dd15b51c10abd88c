package store

import (
	"context"
)

/*
Backend stores opaque named blobs. Names are '/' separated paths made of [A-Za-z0-9._-] segments.

Put must be atomic: a concurrent Get sees either the previous blob or the complete new one.
Get of a missing name returns a wrapped *NotFoundError.
List returns every name starting with prefix, in no particular order.
Delete of a missing name is not an error.
*/
type Backend interface {
	Name() string
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Exists(ctx context.Context, name string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
	Close() error
}
