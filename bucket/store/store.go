/*
Package store persists bucket generations.

Every flush of a bucket writes one immutable unit named by (bucket, generation, namespace). A bucket
is read back by merging all its units in generation order. Each worker writes under its own
namespace so that no two workers ever produce the same unit.
*/
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/kvprovider"
	st "github.com/AustralianCyberSecurityCentre/azul-dedup.git/settings"
)

// Contents is the merged view of every unit of a bucket.
type Contents struct {
	Entries map[string][]byte
	// highest generation seen, -1 when the bucket has never been written
	Generation int64
	Units      int
}

type BucketStore interface {
	Open(ctx context.Context) error
	Close() error
	// Write stores one generation of a bucket. A unit that already exists is never overwritten.
	Write(ctx context.Context, bucketID int64, generation int64, entries map[string][]byte) error
	Read(ctx context.Context, bucketID int64) (*Contents, error)
	// Delete removes every unit of the bucket in the own and inherited namespaces.
	Delete(ctx context.Context, bucketID int64) error
	// Compact removes own namespace generations below upTo.
	Compact(ctx context.Context, bucketID int64, upTo int64) error
	// Rollback removes own namespace units above generation after, left by a flush whose
	// checkpoint was never saved.
	Rollback(ctx context.Context, after int64) error
	// Buckets lists every bucket id with at least one unit.
	Buckets(ctx context.Context) ([]int64, error)
	SaveMeta(ctx context.Context, data []byte) error
	// LoadMeta returns nil when no checkpoint has been saved.
	LoadMeta(ctx context.Context) ([]byte, error)
	// Inherit adds namespaces of retired workers to those removed by Delete.
	Inherit(namespaces []string)
	Options() Options
}

// Options is everything needed to open a store handle, it is cloned when workers are re-sharded.
type Options struct {
	Conn st.DDStore
	// namespace written to by this handle
	Namespace string
	// namespaces of retired workers that this handle deletes alongside its own
	Inherited []string
	// cap on concurrent generation fetches for one bucket
	FetchLimit int
	KeysOnly   bool
	// when set every handle built from these options shares this backend
	Shared Backend
}

// Clone returns a deep copy, the shared backend is kept.
func (o Options) Clone() Options {
	ret := o
	ret.Inherited = append([]string(nil), o.Inherited...)
	return ret
}

// WithNamespace returns a clone writing under a different namespace.
func (o Options) WithNamespace(ns string) Options {
	ret := o.Clone()
	ret.Namespace = ns
	ret.Conn.Namespace = ns
	return ret
}

func OptionsFromSettings(s *st.DDStore, d *st.DDDedup) Options {
	return Options{
		Conn:       *s,
		Namespace:  s.Namespace,
		FetchLimit: d.GenerationFetchLimit,
		KeysOnly:   d.KeysOnly,
	}
}

// ValidateNamespace rejects names that would break the unit naming scheme.
func ValidateNamespace(ns string) error {
	if ns == "" {
		return fmt.Errorf("empty namespace")
	}
	if strings.ContainsAny(ns, "./ ") {
		return fmt.Errorf("namespace %q must not contain '.', '/' or spaces", ns)
	}
	return nil
}

// New returns an unopened store for the configured backend.
func New(opts Options) (BucketStore, error) {
	if opts.Conn.Backend == "noop" {
		return NewNoopStore(opts), nil
	}
	if err := ValidateNamespace(opts.Namespace); err != nil {
		return nil, err
	}
	for _, ns := range opts.Inherited {
		if err := ValidateNamespace(ns); err != nil {
			return nil, err
		}
	}
	if opts.Shared != nil {
		return NewGenerationStore(opts, opts.Shared), nil
	}
	switch opts.Conn.Backend {
	case "memory", "filesystem", "s3", "azure", "redis", "sqlite":
	default:
		return nil, fmt.Errorf("unknown store backend '%s'", opts.Conn.Backend)
	}
	return newGenerationStore(opts, func(ctx context.Context) (Backend, error) {
		return connectBackend(ctx, opts.Conn)
	}), nil
}

// connectBackend opens the configured backend, wrapped in the read cache when it is sized.
func connectBackend(ctx context.Context, conf st.DDStore) (Backend, error) {
	var b Backend
	var err error
	switch conf.Backend {
	case "memory":
		b = NewMemoryBackend()
	case "filesystem":
		b, err = NewFilesystemBackend(conf.Filesystem.Path)
	case "s3":
		b, err = NewS3Backend(ctx, conf.S3)
	case "azure":
		b, err = NewAzureBackend(ctx, conf.Azure)
	case "redis":
		var kv *kvprovider.KVMulti
		kv, err = kvprovider.NewRedisProviders(conf.Redis)
		if err == nil {
			b = NewKVBackend(kv, "redis")
		}
	case "sqlite":
		b, err = NewSQLiteBackend(ctx, conf.SQLite.Path)
	default:
		err = fmt.Errorf("unknown store backend '%s'", conf.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s backend: %w", conf.Backend, err)
	}
	if conf.Cache.SizeBytes > 0 {
		b, err = NewCachedBackend(b, int(conf.Cache.SizeBytes), int(conf.Cache.Shards), time.Duration(conf.Cache.TTLSeconds)*time.Second)
		if err != nil {
			return nil, fmt.Errorf("create generation cache: %w", err)
		}
	}
	st.Logger.Info().Str("backend", conf.Backend).Str("root", conf.Root).Msg("bucket store connected")
	return b, nil
}
