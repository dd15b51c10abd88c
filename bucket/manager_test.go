package bucket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/bucket/store"
	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/prom"
	st "github.com/AustralianCyberSecurityCentre/azul-dedup.git/settings"
	"github.com/goccy/go-json"
	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func memoryStore(backend store.Backend, ns string) store.BucketStore {
	return store.NewGenerationStore(store.Options{
		Conn:      st.DDStore{Backend: "memory", Root: "mtest"},
		Namespace: ns,
		KeysOnly:  true,
	}, backend)
}

// tevCodec stores the coordinate of a test event, its fields are not visible to json
type tevCodec struct{}

func (tevCodec) Encode(e tev) ([]byte, error) {
	return json.Marshal(map[string]any{"key": e.key, "coord": e.coord})
}

func (tevCodec) Decode(data []byte) (tev, error) {
	var raw struct {
		Key   string `json:"key"`
		Coord int64  `json:"coord"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return tev{}, err
	}
	return tev{key: raw.Key, coord: raw.Coord}, nil
}

func newTestManager(t *testing.T, cfg Config[tev]) *Manager[tev] {
	if cfg.Policy == nil {
		p, err := NewHashPolicy[tev](4)
		require.NoError(t, err)
		cfg.Policy = p
	}
	if cfg.Store == nil {
		cfg.Store = memoryStore(store.NewMemoryBackend(), "w0")
	}
	m, err := NewManager(cfg)
	require.NoError(t, err)
	require.NoError(t, m.Open(ctx))
	t.Cleanup(func() { m.Close() })
	return m
}

func loadAll(t *testing.T, m *Manager[tev], ids ...int64) []LoadResult {
	for _, id := range ids {
		m.RequestLoad(id)
	}
	results, err := m.WaitForLoads(ctx)
	require.NoError(t, err)
	return results
}

func TestManagerLoadFlushEvictReload(t *testing.T) {
	backend := store.NewMemoryBackend()
	m := newTestManager(t, Config[tev]{Store: memoryStore(backend, "w0"), BucketsInMemory: 1, KeysOnly: true})

	require.NoError(t, m.BeginBatch(1))
	b, state := m.Bucket(1)
	require.Nil(t, b)
	require.Equal(t, Unknown, state)
	m.RequestLoad(1)
	m.RequestLoad(1)
	require.Equal(t, 1, m.Outstanding())
	results := loadAll(t, m)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	b, state = m.Bucket(1)
	require.Equal(t, Resident, state)
	require.True(t, b.IsLoaded())
	b.Put("k1", tev{key: "k1"}, 1)
	require.NoError(t, m.EndBatch(1))
	require.NoError(t, m.OnCommit(ctx, 1))
	require.False(t, b.Dirty())
	require.Equal(t, 1, m.Stats().CommittedLastBatch)

	// a second bucket pushes the first out
	require.NoError(t, m.BeginBatch(2))
	loadAll(t, m, 2)
	require.NoError(t, m.EndBatch(2))
	require.Equal(t, Evicted, m.State(1))
	require.Equal(t, 1, m.Stats().Resident)

	// reloading brings the key back from the store
	require.NoError(t, m.BeginBatch(3))
	loadAll(t, m, 1)
	b, state = m.Bucket(1)
	require.Equal(t, Resident, state)
	require.True(t, b.ContainsKey("k1"))
	require.Equal(t, int64(1), b.LastLoadedGeneration())
	require.NoError(t, m.EndBatch(3))
}

func TestManagerLoadBacklogBeyondPoolQueue(t *testing.T) {
	// one worker and a queue of four
	m := newTestManager(t, Config[tev]{LoadWorkers: 1, KeysOnly: true})
	require.NoError(t, m.BeginBatch(1))
	ids := []int64{}
	for id := int64(0); id < 16; id++ {
		ids = append(ids, id)
	}
	results := loadAll(t, m, ids...)
	require.Len(t, results, 16)
	for _, id := range ids {
		require.Equal(t, Resident, m.State(id))
	}
	require.Equal(t, uint64(16), m.Stats().LoadPool.TotalTasks)
	require.Equal(t, 1, m.Stats().LoadPool.MaxWorkers)
	require.Eventually(t, func() bool { return m.Stats().LoadPool.ActiveWorkers == 0 }, time.Second, time.Millisecond)

	require.NoError(t, m.EndBatch(1))
	require.Equal(t, 0.0, testutil.ToFloat64(prom.LoadPoolUtilization.WithLabelValues("bucket-load")))
	require.Equal(t, 0.0, testutil.ToFloat64(prom.LoadPoolQueued.WithLabelValues("bucket-load")))
}

func TestManagerEvictionSkipsDirtyAndTouched(t *testing.T) {
	m := newTestManager(t, Config[tev]{BucketsInMemory: 1, KeysOnly: true})
	require.NoError(t, m.BeginBatch(1))
	loadAll(t, m, 0, 1, 2)
	b, _ := m.Bucket(0)
	b.Put("dirty", tev{}, 1)
	// everything was touched in this batch
	require.NoError(t, m.EndBatch(1))
	require.Equal(t, 3, m.Stats().Resident)

	require.NoError(t, m.BeginBatch(2))
	m.Bucket(2)
	require.NoError(t, m.EndBatch(2))
	// 0 is dirty and 2 was touched, only 1 can go
	require.Equal(t, 2, m.Stats().Resident)
	require.Equal(t, Evicted, m.State(1))
	require.Equal(t, Resident, m.State(0))
	require.Equal(t, Resident, m.State(2))
}

func TestManagerEvictionGrace(t *testing.T) {
	m := newTestManager(t, Config[tev]{BucketsInMemory: 1, EvictionGrace: 1 << 40, KeysOnly: true})
	require.NoError(t, m.BeginBatch(1))
	loadAll(t, m, 0, 1)
	require.NoError(t, m.EndBatch(1))
	require.NoError(t, m.BeginBatch(2))
	require.NoError(t, m.EndBatch(2))
	require.Equal(t, 2, m.Stats().Resident)
}

func TestManagerEvictsBucketsDisplacedFromTheirSlot(t *testing.T) {
	p, err := NewOrderedPolicy[tev](ExpiryConfig{BucketSpan: 10, ExpiryPeriod: 20, NumBuckets: 3}, tevCoord)
	require.NoError(t, err)
	m := newTestManager(t, Config[tev]{Policy: p, KeysOnly: true})
	require.Equal(t, p.Slot(2), p.Slot(5))

	require.NoError(t, m.BeginBatch(1))
	loadAll(t, m, 2, 5, 6)
	require.NoError(t, m.EndBatch(1))
	// window 5 took the slot of window 2, well under the resident ceiling
	require.Equal(t, Evicted, m.State(2))
	require.Equal(t, Resident, m.State(5))
	require.Equal(t, Resident, m.State(6))
	require.Equal(t, int64(1), m.Stats().Evicted)

	// a dirty bucket keeps its place until flushed
	require.NoError(t, m.BeginBatch(2))
	loadAll(t, m, 3)
	b, _ := m.Bucket(3)
	b.Put("late", tev{}, 2)
	loadAll(t, m, 9)
	require.NoError(t, m.EndBatch(2))
	require.Equal(t, Resident, m.State(3))
	require.Equal(t, Evicted, m.State(6))
	require.Equal(t, Resident, m.State(9))
	require.Equal(t, int64(2), m.Stats().Evicted)
}

func TestManagerBatchState(t *testing.T) {
	m := newTestManager(t, Config[tev]{})
	require.NoError(t, m.BeginBatch(1))
	require.True(t, errors.Is(m.BeginBatch(2), ErrBatchState))
	require.True(t, errors.Is(m.EndBatch(2), ErrBatchState))
	require.NoError(t, m.EndBatch(1))
	require.True(t, errors.Is(m.EndBatch(1), ErrBatchState))

	unopened, err := NewManager(Config[tev]{Store: store.NewNoopStore(store.Options{}), Policy: m.Policy()})
	require.NoError(t, err)
	require.True(t, errors.Is(unopened.BeginBatch(1), ErrBatchState))
}

func TestManagerFiltersUnownedKeysOnLoad(t *testing.T) {
	backend := store.NewMemoryBackend()
	seed := memoryStore(backend, "old")
	entries := map[string][]byte{}
	for i := 0; i < 100; i++ {
		entries[fmt.Sprintf("key-%d", i)] = nil
	}
	require.NoError(t, seed.Write(ctx, 0, 1, entries))

	part := Partition{Keys: []int{1}, Mask: 1}
	m := newTestManager(t, Config[tev]{Store: memoryStore(backend, "w1"), Partition: part, KeysOnly: true})
	require.NoError(t, m.BeginBatch(1))
	loadAll(t, m, 0)
	b, _ := m.Bucket(0)
	for k := range entries {
		require.Equal(t, part.OwnsKey(k), b.ContainsKey(k), k)
	}
	require.NoError(t, m.EndBatch(1))
}

func TestManagerStoresValues(t *testing.T) {
	backend := store.NewMemoryBackend()
	opts := store.Options{Conn: st.DDStore{Backend: "memory", Root: "mtest"}, Namespace: "w0"}
	m := newTestManager(t, Config[tev]{Store: store.NewGenerationStore(opts, backend), BucketsInMemory: 1, Codec: tevCodec{}})
	require.NoError(t, m.BeginBatch(1))
	loadAll(t, m, 3)
	b, _ := m.Bucket(3)
	b.Put("k", tev{key: "k", coord: 42}, 1)
	require.NoError(t, m.EndBatch(1))
	require.NoError(t, m.OnCommit(ctx, 1))

	other := newTestManager(t, Config[tev]{Store: store.NewGenerationStore(opts.WithNamespace("w1"), backend), Codec: tevCodec{}})
	require.NoError(t, other.BeginBatch(1))
	loadAll(t, other, 3)
	b, _ = other.Bucket(3)
	v, ok := b.Get("k")
	require.True(t, ok)
	require.Equal(t, int64(42), v.coord)
	require.NoError(t, other.EndBatch(1))
}

func TestManagerLoadFailure(t *testing.T) {
	ctl := gomock.NewController(t)
	s := store.NewMockBucketStore(ctl)
	s.EXPECT().Open(gomock.Any()).Return(nil)
	s.EXPECT().LoadMeta(gomock.Any()).Return(nil, nil)
	s.EXPECT().Rollback(gomock.Any(), int64(-1)).Return(nil)
	s.EXPECT().Read(gomock.Any(), int64(2)).Return(nil, errors.New("disk on fire"))
	s.EXPECT().Close().Return(nil)

	m := newTestManager(t, Config[tev]{Store: s})
	require.NoError(t, m.BeginBatch(1))
	results := loadAll(t, m, 2)
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	require.Equal(t, Unknown, m.State(2))
	require.NoError(t, m.EndBatch(1))
}

func TestManagerFlushFailureRetries(t *testing.T) {
	ctl := gomock.NewController(t)
	s := store.NewMockBucketStore(ctl)
	s.EXPECT().Open(gomock.Any()).Return(nil)
	s.EXPECT().LoadMeta(gomock.Any()).Return(nil, nil)
	s.EXPECT().Rollback(gomock.Any(), int64(-1)).Return(nil)
	s.EXPECT().Read(gomock.Any(), int64(1)).Return(&store.Contents{Entries: map[string][]byte{}, Generation: -1}, nil)
	s.EXPECT().Write(gomock.Any(), int64(1), gomock.Any(), gomock.Any()).Return(errors.New("store unwritable")).Times(3)
	s.EXPECT().Close().Return(nil)

	m := newTestManager(t, Config[tev]{Store: s, MaxFlushRetries: 3, KeysOnly: true})
	require.NoError(t, m.BeginBatch(1))
	loadAll(t, m, 1)
	b, _ := m.Bucket(1)
	b.Put("k", tev{}, 1)
	require.NoError(t, m.EndBatch(1))

	require.NoError(t, m.OnCommit(ctx, 1))
	require.True(t, b.Dirty(), "a failed flush keeps uncommitted data")
	require.Equal(t, int64(-1), m.Stats().LastFlushed)
	require.NoError(t, m.OnCommit(ctx, 2))
	err := m.OnCommit(ctx, 3)
	require.True(t, errors.Is(err, ErrDurabilityLost), "got %v", err)
	require.True(t, b.Dirty())
}

func TestManagerFlushRecoversAfterFailure(t *testing.T) {
	ctl := gomock.NewController(t)
	s := store.NewMockBucketStore(ctl)
	s.EXPECT().Open(gomock.Any()).Return(nil)
	s.EXPECT().LoadMeta(gomock.Any()).Return(nil, nil)
	s.EXPECT().Rollback(gomock.Any(), int64(-1)).Return(nil)
	s.EXPECT().Read(gomock.Any(), int64(1)).Return(&store.Contents{Entries: map[string][]byte{}, Generation: -1}, nil)
	gomock.InOrder(
		s.EXPECT().Write(gomock.Any(), int64(1), int64(1), gomock.Any()).Return(errors.New("blip")),
		s.EXPECT().Write(gomock.Any(), int64(1), int64(2), map[string][]byte{"k": nil}).Return(nil),
		s.EXPECT().SaveMeta(gomock.Any(), gomock.Any()).Return(nil),
	)
	s.EXPECT().Close().Return(nil)

	m := newTestManager(t, Config[tev]{Store: s, KeysOnly: true})
	require.NoError(t, m.BeginBatch(1))
	loadAll(t, m, 1)
	b, _ := m.Bucket(1)
	b.Put("k", tev{}, 1)
	require.NoError(t, m.EndBatch(1))
	require.NoError(t, m.OnCommit(ctx, 1))
	require.NoError(t, m.OnCommit(ctx, 2))
	require.False(t, b.Dirty())
	require.Equal(t, int64(2), m.Stats().LastFlushed)
}

func TestManagerLaggingCommitFlushesOnlyCoveredBatches(t *testing.T) {
	backend := store.NewMemoryBackend()
	m := newTestManager(t, Config[tev]{Store: memoryStore(backend, "w0"), KeysOnly: true})
	require.NoError(t, m.BeginBatch(1))
	loadAll(t, m, 0)
	b, _ := m.Bucket(0)
	b.Put("one", tev{}, 1)
	require.NoError(t, m.EndBatch(1))
	require.NoError(t, m.BeginBatch(2))
	b.Put("two", tev{}, 2)
	require.NoError(t, m.EndBatch(2))

	require.NoError(t, m.OnCommit(ctx, 1))
	require.Equal(t, map[string]tev{"two": {}}, b.Pending(2))
	contents, err := m.Store().Read(ctx, 0)
	require.NoError(t, err)
	require.Contains(t, contents.Entries, "one")
	require.NotContains(t, contents.Entries, "two")
}

func TestManagerDeletesExpiredAfterCheckpoint(t *testing.T) {
	ctl := gomock.NewController(t)
	p, err := NewOrderedPolicy[tev](ExpiryConfig{BucketSpan: 10, ExpiryPeriod: 20}, tevCoord)
	require.NoError(t, err)

	s := store.NewMockBucketStore(ctl)
	s.EXPECT().Open(gomock.Any()).Return(nil)
	s.EXPECT().LoadMeta(gomock.Any()).Return(nil, nil)
	s.EXPECT().Rollback(gomock.Any(), int64(-1)).Return(nil)
	s.EXPECT().Buckets(gomock.Any()).Return([]int64{3, 4, 9}, nil)
	var saved []byte
	gomock.InOrder(
		s.EXPECT().SaveMeta(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, data []byte) error {
			saved = data
			return nil
		}),
		s.EXPECT().Delete(gomock.Any(), int64(3)).Return(nil),
		s.EXPECT().Delete(gomock.Any(), int64(4)).Return(nil),
	)
	s.EXPECT().Close().Return(nil)

	m := newTestManager(t, Config[tev]{Store: s, Policy: p, KeysOnly: true})
	require.NoError(t, m.BeginBatch(1))
	require.Equal(t, int64(9), p.Classify("a", tev{coord: 95}))
	require.NoError(t, m.EndBatch(1))
	// horizon 95, expiry 20: buckets below 7 are gone
	require.NoError(t, m.OnCommit(ctx, 1))
	require.Equal(t, Deleted, m.State(3))
	require.Equal(t, Deleted, m.State(4))
	require.Equal(t, int64(2), m.Stats().Deleted)

	cp := Checkpoint{}
	require.NoError(t, json.Unmarshal(saved, &cp))
	require.Equal(t, int64(95), cp.Policy.Horizon)
	require.Equal(t, int64(1), cp.LastFlushed)
}

func TestManagerDeletionUsesHorizonCapturedAtBatchEnd(t *testing.T) {
	backend := store.NewMemoryBackend()
	p, err := NewOrderedPolicy[tev](ExpiryConfig{BucketSpan: 10, ExpiryPeriod: 20}, tevCoord)
	require.NoError(t, err)
	m := newTestManager(t, Config[tev]{Store: memoryStore(backend, "w0"), Policy: p, KeysOnly: true})

	require.NoError(t, m.BeginBatch(1))
	id := p.Classify("a", tev{coord: 50})
	loadAll(t, m, id)
	b, _ := m.Bucket(id)
	b.Put("a", tev{}, 1)
	require.NoError(t, m.EndBatch(1))

	// batch 2 runs far ahead before batch 1 is committed
	require.NoError(t, m.BeginBatch(2))
	p.Classify("b", tev{coord: 500})
	require.NoError(t, m.EndBatch(2))

	require.NoError(t, m.OnCommit(ctx, 1))
	contents, err := m.Store().Read(ctx, id)
	require.NoError(t, err)
	require.Contains(t, contents.Entries, "a", "only the horizon of batch 1 applies")

	require.NoError(t, m.OnCommit(ctx, 2))
	contents, err = m.Store().Read(ctx, id)
	require.NoError(t, err)
	require.Empty(t, contents.Entries)
	require.Equal(t, Deleted, m.State(id))
}

func TestManagerRestoresCheckpoint(t *testing.T) {
	backend := store.NewMemoryBackend()
	p, err := NewOrderedPolicy[tev](ExpiryConfig{BucketSpan: 10, ExpiryPeriod: 100}, tevCoord)
	require.NoError(t, err)
	m := newTestManager(t, Config[tev]{Store: memoryStore(backend, "w0"), Policy: p, KeysOnly: true})
	require.NoError(t, m.BeginBatch(1))
	p.Classify("a", tev{coord: 5000})
	require.NoError(t, m.EndBatch(1))
	require.NoError(t, m.OnCommit(ctx, 1))

	p2, err := NewOrderedPolicy[tev](ExpiryConfig{BucketSpan: 10, ExpiryPeriod: 100}, tevCoord)
	require.NoError(t, err)
	m2 := newTestManager(t, Config[tev]{Store: memoryStore(backend, "w0"), Policy: p2, KeysOnly: true})
	require.Equal(t, int64(5000), p2.State().Horizon)
	require.Equal(t, int64(1), m2.Stats().LastFlushed)
	require.Equal(t, Expired, p2.Classify("a", tev{coord: 100}))
	// an already flushed commit is a no-op
	require.NoError(t, m2.OnCommit(ctx, 1))
}

// metaFailBackend refuses checkpoint writes while failing is set.
type metaFailBackend struct {
	store.Backend
	failing bool
}

func (b *metaFailBackend) Put(ctx context.Context, name string, data []byte) error {
	if b.failing && strings.Contains(name, "/meta/") {
		return errors.New("meta unwritable")
	}
	return b.Backend.Put(ctx, name, data)
}

func TestManagerRollsBackUncheckpointedGeneration(t *testing.T) {
	for _, whole := range []bool{false, true} {
		t.Run(fmt.Sprintf("persist_entire_bucket=%v", whole), func(t *testing.T) {
			backend := &metaFailBackend{Backend: store.NewMemoryBackend()}
			cfg := Config[tev]{PersistEntireBucket: whole, KeysOnly: true}
			cfg.Store = memoryStore(backend, "w0")
			m := newTestManager(t, cfg)
			require.NoError(t, m.BeginBatch(0))
			loadAll(t, m, 0)
			b, _ := m.Bucket(0)
			b.Put("early", tev{}, 0)
			require.NoError(t, m.EndBatch(0))
			require.NoError(t, m.OnCommit(ctx, 0))

			backend.failing = true
			require.NoError(t, m.BeginBatch(1))
			require.False(t, b.ContainsKey("a"))
			b.Put("a", tev{}, 1)
			require.NoError(t, m.EndBatch(1))
			require.ErrorContains(t, m.OnCommit(ctx, 1), "save checkpoint: meta unwritable")

			// the host restarts and replays batch 1
			backend.failing = false
			cfg.Store = memoryStore(backend, "w0")
			m2 := newTestManager(t, cfg)
			require.Equal(t, int64(0), m2.Stats().LastFlushed)
			require.NoError(t, m2.BeginBatch(1))
			loadAll(t, m2, 0)
			b2, _ := m2.Bucket(0)
			require.True(t, b2.ContainsKey("early"))
			require.False(t, b2.ContainsKey("a"), "batch 1 was never checkpointed")
			b2.Put("a", tev{}, 1)
			require.NoError(t, m2.EndBatch(1))
			require.NoError(t, m2.OnCommit(ctx, 1))

			contents, err := m2.Store().Read(ctx, 0)
			require.NoError(t, err)
			require.Equal(t, int64(1), contents.Generation)
			require.Contains(t, contents.Entries, "a")
			require.Contains(t, contents.Entries, "early")
		})
	}
}

func TestManagerPersistEntireBucket(t *testing.T) {
	backend := store.NewMemoryBackend()
	m := newTestManager(t, Config[tev]{Store: memoryStore(backend, "w0"), PersistEntireBucket: true, KeysOnly: true})
	for batch := int64(1); batch <= 3; batch++ {
		require.NoError(t, m.BeginBatch(batch))
		loadAll(t, m, 0)
		b, _ := m.Bucket(0)
		b.Put(fmt.Sprintf("k%d", batch), tev{}, batch)
		require.NoError(t, m.EndBatch(batch))
		require.NoError(t, m.OnCommit(ctx, batch))
	}
	contents, err := m.Store().Read(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, contents.Units)
	require.Len(t, contents.Entries, 3)
}
