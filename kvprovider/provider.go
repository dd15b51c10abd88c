/*
Package kvprovider gives the bucket store a fast key-value backing, either redis or an in-memory twin
so that unit tests do not need to connect to redis.
*/
package kvprovider

import (
	"context"
	"time"
)

// A KVInterface provides a fast key-value store. This is intended so we can write unit tests without connecting
// to redis.
type KVInterface interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	/*Delete any number of keys and return the number of elements that were deleted and any errors.*/
	Del(ctx context.Context, keys ...string) (int64, error)
	Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)
	GetDBSize(ctx context.Context) int64
}

type KVMulti struct {
	// Holds encoded bucket generations
	Generations KVInterface
	// Holds per namespace checkpoint records
	Checkpoints KVInterface
}

// ScanAll follows the scan cursor until every key matching the glob has been returned.
func ScanAll(ctx context.Context, kv KVInterface, match string) ([]string, error) {
	var cursor uint64
	ret := []string{}
	for {
		keys, next, err := kv.Scan(ctx, cursor, match, 1000)
		if err != nil {
			return nil, err
		}
		ret = append(ret, keys...)
		if next == 0 {
			return ret, nil
		}
		cursor = next
	}
}
