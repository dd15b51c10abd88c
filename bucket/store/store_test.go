package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/kvprovider"
	st "github.com/AustralianCyberSecurityCentre/azul-dedup.git/settings"
	"github.com/stretchr/testify/require"
)

func testOptions(keysOnly bool) Options {
	return Options{
		Conn:       st.DDStore{Backend: "memory", Root: "test"},
		Namespace:  "w0",
		FetchLimit: 4,
		KeysOnly:   keysOnly,
	}
}

func sharedStores(b Backend) func(opts Options) BucketStore {
	return func(opts Options) BucketStore {
		return NewGenerationStore(opts, b)
	}
}

func TestMemoryBackend(t *testing.T) {
	BackendImplementationBaseTests(t, NewMemoryBackend())
}

func TestFilesystemBackend(t *testing.T) {
	b, err := NewEmptyFilesystemBackend(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	BackendImplementationBaseTests(t, b)
}

func TestSQLiteBackend(t *testing.T) {
	b, err := NewSQLiteBackend(context.Background(), filepath.Join(t.TempDir(), "dedup.db"))
	require.NoError(t, err)
	defer b.Close()
	BackendImplementationBaseTests(t, b)
}

func TestSQLiteBackendInMemory(t *testing.T) {
	b, err := NewSQLiteBackend(context.Background(), ":memory:")
	require.NoError(t, err)
	defer b.Close()
	BackendImplementationBaseTests(t, b)
}

func TestKVBackendInMemory(t *testing.T) {
	kv, err := kvprovider.NewMemoryProviders()
	require.NoError(t, err)
	BackendImplementationBaseTests(t, NewKVBackend(kv, "memory-kv"))
}

func TestCachedBackend(t *testing.T) {
	b, err := NewCachedBackend(NewMemoryBackend(), 4*1048576, 8, time.Minute)
	require.NoError(t, err)
	BackendImplementationBaseTests(t, b)
}

func TestCachedBackendServesHits(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryBackend()
	b, err := NewCachedBackend(inner, 4*1048576, 8, time.Minute)
	require.NoError(t, err)

	require.NoError(t, b.Put(ctx, "a/b", []byte("hello")))
	got, err := b.Get(ctx, "a/b")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	// drop it underneath the cache, the cached copy is still served
	require.NoError(t, inner.Delete(ctx, "a/b"))
	got, err = b.Get(ctx, "a/b")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	// deleting through the cache invalidates it
	require.NoError(t, inner.Put(ctx, "a/b", []byte("hello")))
	require.NoError(t, b.Delete(ctx, "a/b"))
	_, err = b.Get(ctx, "a/b")
	var notFound *NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestGenerationStoreMemory(t *testing.T) {
	BucketStoreBaseTests(t, sharedStores(NewMemoryBackend()), testOptions(false))
	BucketStoreBaseTests(t, sharedStores(NewMemoryBackend()), testOptions(true))
}

func TestGenerationStoreCompressed(t *testing.T) {
	opts := testOptions(false)
	opts.Conn.Compress = true
	BucketStoreBaseTests(t, sharedStores(NewMemoryBackend()), opts)
}

func TestGenerationStoreFilesystem(t *testing.T) {
	b, err := NewEmptyFilesystemBackend(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	BucketStoreBaseTests(t, sharedStores(b), testOptions(true))
}

func TestGenerationStoreSQLite(t *testing.T) {
	b, err := NewSQLiteBackend(context.Background(), filepath.Join(t.TempDir(), "dedup.db"))
	require.NoError(t, err)
	defer b.Close()
	BucketStoreBaseTests(t, sharedStores(b), testOptions(false))
}

func TestGenerationStoreKV(t *testing.T) {
	kv, err := kvprovider.NewMemoryProviders()
	require.NoError(t, err)
	BucketStoreBaseTests(t, sharedStores(NewKVBackend(kv, "memory-kv")), testOptions(true))
}

func TestTombstoneHidesNamespace(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	s := NewGenerationStore(testOptions(true), b)
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Write(ctx, 3, 1, map[string][]byte{"a": nil}))
	require.NoError(t, s.Write(ctx, 3, 2, map[string][]byte{"b": nil}))

	// a delete interrupted after its tombstone was written
	require.NoError(t, b.Put(ctx, s.tombstoneName(3, "w0"), []byte{}))
	require.NoError(t, b.Delete(ctx, s.unitName(3, 1, "w0")))
	c, err := s.Read(ctx, 3)
	require.NoError(t, err)
	require.Empty(t, c.Entries)

	// rerunning the delete finishes the job
	require.NoError(t, s.Delete(ctx, 3))
	require.Equal(t, 0, b.Len())
}

// listHookBackend runs afterList once, between a listing and the fetches that follow it.
type listHookBackend struct {
	Backend
	afterList func()
}

func (b *listHookBackend) List(ctx context.Context, prefix string) ([]string, error) {
	names, err := b.Backend.List(ctx, prefix)
	if hook := b.afterList; hook != nil {
		b.afterList = nil
		hook()
	}
	return names, err
}

func TestReadSurvivesConcurrentCompaction(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	hooked := &listHookBackend{Backend: mem}
	a := NewGenerationStore(testOptions(true), mem)
	b := NewGenerationStore(testOptions(true).WithNamespace("w1"), hooked)
	require.NoError(t, a.Write(ctx, 7, 1, map[string][]byte{"x": nil}))

	// a rewrites the whole bucket and compacts after b has listed generation 1
	hooked.afterList = func() {
		require.NoError(t, a.Write(ctx, 7, 2, map[string][]byte{"x": nil, "y": nil}))
		require.NoError(t, a.Compact(ctx, 7, 2))
	}
	c, err := b.Read(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(2), c.Generation)
	require.Equal(t, 1, c.Units)
	require.Len(t, c.Entries, 2)
}

func TestReadGivesUpWhenUnitsKeepVanishing(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	a := NewGenerationStore(testOptions(true), mem)
	require.NoError(t, a.Write(ctx, 7, 1, map[string][]byte{"x": nil}))
	hooked := &listHookBackend{Backend: mem}
	b := NewGenerationStore(testOptions(true).WithNamespace("w1"), hooked)

	gen := int64(1)
	var churn func()
	churn = func() {
		gen++
		require.NoError(t, a.Write(ctx, 7, gen, map[string][]byte{"x": nil}))
		require.NoError(t, a.Compact(ctx, 7, gen))
		hooked.afterList = churn
	}
	hooked.afterList = churn
	_, err := b.Read(ctx, 7)
	var notFound *NotFoundError
	require.True(t, errors.As(err, &notFound), "expected not found, got %v", err)
	require.Equal(t, int64(1+readAttempts), gen)
}

func TestReadCorruptUnit(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	s := NewGenerationStore(testOptions(true), b)
	require.NoError(t, s.Write(ctx, 3, 1, map[string][]byte{"a": nil}))
	require.NoError(t, b.Put(ctx, s.unitName(3, 2, "w0"), []byte("?garbage")))
	_, err := s.Read(ctx, 3)
	var readErr *ReadError
	require.True(t, errors.As(err, &readErr), "expected read error, got %v", err)
}

func TestMergeFirstValueWins(t *testing.T) {
	records := []*generationRecord{
		{Generation: 5, Namespace: "b", Entries: map[string][]byte{"k": []byte("late")}},
		{Generation: 2, Namespace: "z", Entries: map[string][]byte{"k": []byte("early")}},
		{Generation: 5, Namespace: "a", Entries: map[string][]byte{"j": []byte("1")}},
	}
	c := mergeRecords(records)
	require.Equal(t, []byte("early"), c.Entries["k"])
	require.Equal(t, int64(5), c.Generation)
	require.Equal(t, 3, c.Units)
}

func TestParseUnit(t *testing.T) {
	tables := []struct {
		name    string
		gen     int64
		ns      string
		tomb    bool
		isValid bool
	}{
		{"root/b/1/g0000000000000000007.w0", 7, "w0", false, true},
		{"root/b/1/g0000000000000000007.p0-3f1c", 7, "p0-3f1c", false, true},
		{"root/b/1/t.w0", 0, "w0", true, true},
		{"root/b/1/.tmp-1234", 0, "", false, false},
		{"root/b/1/gxx.w0", 0, "", false, false},
		{"root/b/1/g12", 0, "", false, false},
	}
	for _, table := range tables {
		ref, tomb, ok := parseUnit(table.name)
		require.Equal(t, table.isValid, ok, table.name)
		if !ok {
			continue
		}
		require.Equal(t, table.tomb, tomb, table.name)
		require.Equal(t, table.gen, ref.generation, table.name)
		require.Equal(t, table.ns, ref.namespace, table.name)
	}
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(true)
	opts.Conn.Backend = "filesystem"
	opts.Conn.Filesystem.Path = t.TempDir()
	s, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Write(ctx, 1, 1, map[string][]byte{"a": nil}))
	require.NoError(t, s.Close())

	// a clone with a new namespace sees the same durable data
	clone, err := New(s.Options().WithNamespace("w1"))
	require.NoError(t, err)
	require.NoError(t, clone.Open(ctx))
	defer clone.Close()
	c, err := clone.Read(ctx, 1)
	require.NoError(t, err)
	require.Contains(t, c.Entries, "a")

	opts.Conn.Backend = "floppy"
	_, err = New(opts)
	require.Error(t, err)

	opts.Conn.Backend = "memory"
	opts.Namespace = "bad.name"
	_, err = New(opts)
	require.Error(t, err)

	opts.Conn.Backend = "noop"
	s, err = New(opts)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, 1, 1, map[string][]byte{"a": nil}))
	c, err = s.Read(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, c.Entries)
}

func TestOptionsClone(t *testing.T) {
	opts := testOptions(true)
	opts.Inherited = []string{"a"}
	clone := opts.WithNamespace("w7")
	clone.Inherited[0] = "b"
	require.Equal(t, "a", opts.Inherited[0])
	require.Equal(t, "w7", clone.Namespace)
	require.Equal(t, "w0", opts.Namespace)
}
