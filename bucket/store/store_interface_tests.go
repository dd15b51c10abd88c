package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Generic tests that anything implementing the Backend interface should pass.
func BackendImplementationBaseTests(t *testing.T, b Backend) {
	ctx := context.Background()
	// backends may hold data from earlier runs
	prefix := "itest-" + uuid.NewString() + "/"

	tests := []struct {
		name  string
		input []byte
	}{
		{"EmptyBlob", []byte{}},
		{"SimpleBlob", []byte("This is a really boring sentence.")},
		{"BinaryBlob", []byte{0, 1, 2, 255, 254, 0}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			name := prefix + test.name

			exists, err := b.Exists(ctx, name)
			require.NoError(err)
			assert.False(exists)

			_, err = b.Get(ctx, name)
			var notFound *NotFoundError
			require.True(errors.As(err, &notFound), "expected not found, got %v", err)

			require.NoError(b.Put(ctx, name, test.input))
			exists, err = b.Exists(ctx, name)
			require.NoError(err)
			assert.True(exists)

			got, err := b.Get(ctx, name)
			require.NoError(err)
			assert.Equal(len(test.input), len(got))
			if len(test.input) > 0 {
				assert.Equal(test.input, got)
			}

			// overwrite replaces the whole blob
			require.NoError(b.Put(ctx, name, []byte("replaced")))
			got, err = b.Get(ctx, name)
			require.NoError(err)
			assert.Equal([]byte("replaced"), got)

			require.NoError(b.Delete(ctx, name))
			exists, err = b.Exists(ctx, name)
			require.NoError(err)
			assert.False(exists)
			// deleting twice is fine
			require.NoError(b.Delete(ctx, name))
		})
	}

	t.Run("List", func(t *testing.T) {
		require := require.New(t)
		names := []string{
			prefix + "list/b/1/g1.a",
			prefix + "list/b/1/g2.a",
			prefix + "list/b/12/g1.a",
			prefix + "list/meta/a",
		}
		for _, n := range names {
			require.NoError(b.Put(ctx, n, []byte("x")))
		}
		got, err := b.List(ctx, prefix+"list/b/1/")
		require.NoError(err)
		sort.Strings(got)
		require.Equal(names[:2], got)

		got, err = b.List(ctx, prefix+"list/")
		require.NoError(err)
		require.Len(got, 4)

		got, err = b.List(ctx, prefix+"missing/")
		require.NoError(err)
		require.Empty(got)

		for _, n := range names {
			require.NoError(b.Delete(ctx, n))
		}
	})
}

// Generic tests that anything implementing BucketStore over a real backend should pass.
// newStore must return an unopened store for the given options.
func BucketStoreBaseTests(t *testing.T, newStore func(opts Options) BucketStore, base Options) {
	ctx := context.Background()
	base.Conn.Root = "itest-" + uuid.NewString()

	open := func(t *testing.T, ns string, inherited ...string) BucketStore {
		opts := base.WithNamespace(ns)
		opts.Inherited = inherited
		s := newStore(opts)
		require.NoError(t, s.Open(ctx))
		t.Cleanup(func() { s.Close() })
		return s
	}

	t.Run("EmptyBucket", func(t *testing.T) {
		s := open(t, "w0")
		c, err := s.Read(ctx, 5)
		require.NoError(t, err)
		require.Empty(t, c.Entries)
		require.Equal(t, int64(-1), c.Generation)
		require.Equal(t, 0, c.Units)
	})

	t.Run("WriteReadMerge", func(t *testing.T) {
		s := open(t, "w0")
		require.NoError(t, s.Write(ctx, 10, 3, map[string][]byte{"a": []byte("1"), "b": []byte("2")}))
		require.NoError(t, s.Write(ctx, 10, 1, map[string][]byte{"c": []byte("3")}))
		require.NoError(t, s.Write(ctx, 11, 1, map[string][]byte{"z": []byte("9")}))

		c, err := s.Read(ctx, 10)
		require.NoError(t, err)
		require.Equal(t, int64(3), c.Generation)
		require.Equal(t, 2, c.Units)
		keys := []string{}
		for k := range c.Entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		require.Equal(t, []string{"a", "b", "c"}, keys)
		if !base.KeysOnly {
			require.Equal(t, []byte("2"), c.Entries["b"])
		}
	})

	t.Run("NoOverwrite", func(t *testing.T) {
		s := open(t, "w0")
		require.NoError(t, s.Write(ctx, 20, 1, map[string][]byte{"a": nil}))
		err := s.Write(ctx, 20, 1, map[string][]byte{"b": nil})
		var writeErr *WriteError
		require.True(t, errors.As(err, &writeErr), "expected write error, got %v", err)
		c, err := s.Read(ctx, 20)
		require.NoError(t, err)
		require.Contains(t, c.Entries, "a")
		require.NotContains(t, c.Entries, "b")
	})

	t.Run("NamespacesMergeAndDelete", func(t *testing.T) {
		w0 := open(t, "w0")
		w1 := open(t, "w1")
		require.NoError(t, w0.Write(ctx, 30, 1, map[string][]byte{"a": nil}))
		require.NoError(t, w1.Write(ctx, 30, 1, map[string][]byte{"b": nil}))
		c, err := w0.Read(ctx, 30)
		require.NoError(t, err)
		require.Len(t, c.Entries, 2)

		// w0 only deletes its own units
		require.NoError(t, w0.Delete(ctx, 30))
		c, err = w1.Read(ctx, 30)
		require.NoError(t, err)
		require.Len(t, c.Entries, 1)
		require.Contains(t, c.Entries, "b")

		// a successor inheriting w1 removes the rest
		heir := open(t, "w2", "w1")
		require.NoError(t, heir.Delete(ctx, 30))
		c, err = w1.Read(ctx, 30)
		require.NoError(t, err)
		require.Empty(t, c.Entries)
	})

	t.Run("Compact", func(t *testing.T) {
		s := open(t, "w0")
		for gen := int64(1); gen <= 3; gen++ {
			require.NoError(t, s.Write(ctx, 40, gen, map[string][]byte{fmt.Sprintf("k%d", gen): nil}))
		}
		require.NoError(t, s.Compact(ctx, 40, 3))
		c, err := s.Read(ctx, 40)
		require.NoError(t, err)
		require.Equal(t, 1, c.Units)
		require.Equal(t, int64(3), c.Generation)
	})

	t.Run("Rollback", func(t *testing.T) {
		s := open(t, "w7")
		other := open(t, "w8")
		require.NoError(t, s.Write(ctx, 50, 1, map[string][]byte{"a": nil}))
		require.NoError(t, s.Write(ctx, 50, 2, map[string][]byte{"b": nil}))
		require.NoError(t, s.Write(ctx, 51, 3, map[string][]byte{"c": nil}))
		require.NoError(t, other.Write(ctx, 50, 2, map[string][]byte{"d": nil}))

		require.NoError(t, s.Rollback(ctx, 1))
		c, err := s.Read(ctx, 50)
		require.NoError(t, err)
		require.Contains(t, c.Entries, "a")
		require.NotContains(t, c.Entries, "b")
		require.Contains(t, c.Entries, "d", "other namespaces are left alone")
		c, err = s.Read(ctx, 51)
		require.NoError(t, err)
		require.Empty(t, c.Entries)

		// the rolled back generation can be written again
		require.NoError(t, s.Write(ctx, 50, 2, map[string][]byte{"b": nil}))
	})

	t.Run("Buckets", func(t *testing.T) {
		s := open(t, "w9")
		require.NoError(t, s.Write(ctx, 7, 1, map[string][]byte{"a": nil}))
		ids, err := s.Buckets(ctx)
		require.NoError(t, err)
		require.Contains(t, ids, int64(7))
		require.Contains(t, ids, int64(10))
		require.True(t, sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i] < ids[j] }))
	})

	t.Run("Meta", func(t *testing.T) {
		s := open(t, "w5")
		got, err := s.LoadMeta(ctx)
		require.NoError(t, err)
		require.Nil(t, got)
		require.NoError(t, s.SaveMeta(ctx, []byte(`{"v":1}`)))
		require.NoError(t, s.SaveMeta(ctx, []byte(`{"v":2}`)))
		got, err = s.LoadMeta(ctx)
		require.NoError(t, err)
		require.Equal(t, []byte(`{"v":2}`), got)

		other := open(t, "w6")
		got, err = other.LoadMeta(ctx)
		require.NoError(t, err)
		require.Nil(t, got)
	})
}
