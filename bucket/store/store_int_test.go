//go:build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/kvprovider"
	st "github.com/AustralianCyberSecurityCentre/azul-dedup.git/settings"
	"github.com/stretchr/testify/require"
)

func TestS3Backend(t *testing.T) {
	b, err := NewS3Backend(context.Background(), st.Store.S3)
	require.NoError(t, err)
	BackendImplementationBaseTests(t, b)
	BucketStoreBaseTests(t, sharedStores(b), testOptions(false))
}

func TestS3BackendWithCache(t *testing.T) {
	b, err := NewS3Backend(context.Background(), st.Store.S3)
	require.NoError(t, err)
	// 1MiB over 256 shards, blobs over 4KiB bypass the cache
	cached, err := NewCachedBackend(b, 1048576, 256, 300*time.Second)
	require.NoError(t, err)
	BucketStoreBaseTests(t, sharedStores(cached), testOptions(true))
}

func TestAzureBackend(t *testing.T) {
	b, err := NewAzureBackend(context.Background(), st.Store.Azure)
	require.NoError(t, err)
	BackendImplementationBaseTests(t, b)
	BucketStoreBaseTests(t, sharedStores(b), testOptions(false))
}

func TestRedisBackend(t *testing.T) {
	conf := st.Store.Redis
	if endpoint := os.Getenv("REDIS_ENDPOINT"); endpoint != "" {
		conf.Endpoint = endpoint
	}
	kv, err := kvprovider.NewRedisProviders(conf)
	require.NoError(t, err)
	b := NewKVBackend(kv, "redis")
	defer b.Close()
	BackendImplementationBaseTests(t, b)
	BucketStoreBaseTests(t, sharedStores(b), testOptions(true))
}
