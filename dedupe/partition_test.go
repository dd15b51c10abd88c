package dedupe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/bucket"
	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/bucket/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPartitionsCoverKeySpace(t *testing.T) {
	for n := 1; n <= 9; n++ {
		parts, err := Partitions(n)
		require.NoError(t, err)
		require.Len(t, parts, n)
		mask := parts[0].Mask
		require.GreaterOrEqual(t, mask+1, n)
		require.Less(t, mask, 2*n, "smallest covering mask")
		owners := map[int]int{}
		for i, p := range parts {
			require.Equal(t, mask, p.Mask)
			require.NotEmpty(t, p.Keys)
			require.NoError(t, p.Validate(1024, false))
			for _, k := range p.Keys {
				_, dup := owners[k]
				require.False(t, dup, "class %d owned twice", k)
				owners[k] = i
			}
		}
		require.Len(t, owners, mask+1)
		for class := 0; class <= mask; class++ {
			require.Contains(t, owners, class)
		}
		// every key has exactly one owner
		for i := 0; i < 200; i++ {
			k := fmt.Sprintf("key-%d", i)
			owned := 0
			for _, p := range parts {
				if p.OwnsKey(k) {
					owned++
				}
			}
			require.Equal(t, 1, owned, k)
		}
	}
	_, err := Partitions(0)
	require.True(t, errors.Is(err, bucket.ErrPartitioning))
}

func TestBaseNamespace(t *testing.T) {
	id := uuid.NewString()
	require.Equal(t, "p0", baseNamespace("p0"))
	require.Equal(t, "p0", baseNamespace("p0-"+id))
	require.Equal(t, "p0", baseNamespace("p0-"+id+"-"+uuid.NewString()))
	require.Equal(t, "worker-a", baseNamespace("worker-a"))
}

func hashFactory(t *testing.T, backend store.Backend, n int, out *collector, ordered bool) Factory[ev] {
	return func(ctx context.Context, p bucket.Partition, opts store.Options, initial *bucket.Checkpoint) (*Deduper[ev], error) {
		cfg := testConfig(hashPolicy(t, n), store.NewGenerationStore(opts, backend), out)
		cfg.Partition = p
		cfg.Ordered = ordered
		cfg.Manager.Initial = initial
		d, err := New(ctx, cfg)
		if err == nil {
			t.Cleanup(func() { d.Close() })
		}
		return d, err
	}
}

func TestRepartitionRedistributesWaiting(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryBackend()
	oldParts, err := Partitions(2)
	require.NoError(t, err)

	oldOut := &collector{}
	old := make([]*Deduper[ev], 2)
	gates := make([]*gatedStore, 2)
	for i := range old {
		gates[i] = newGatedStore(memStore(backend, fmt.Sprintf("p%d", i)))
		cfg := testConfig(hashPolicy(t, 8), gates[i], oldOut)
		cfg.Partition = oldParts[i]
		old[i] = newDeduper(t, cfg)
		t.Cleanup(gates[i].releaseAll)
		require.NoError(t, old[i].BeginBatch(1))
	}

	keys := []string{}
	for i := 0; i < 40; i++ {
		k := fmt.Sprintf("w-%d", i)
		keys = append(keys, k)
		for _, d := range old {
			if d.Owns(k) {
				require.NoError(t, d.Process(ev{Key: k}))
			}
		}
	}
	require.Empty(t, oldOut.events, "every load is held")
	require.Equal(t, 40, old[0].Waiting()+old[1].Waiting())

	snaps := make([]*Snapshot[ev], 2)
	for i, d := range old {
		snaps[i], err = d.Snapshot(ctx)
		require.NoError(t, err)
		require.Equal(t, oldParts[i].String(), snaps[i].Partition.String())
		require.Equal(t, d.Waiting(), len(snaps[i].Pending))
	}

	newOut := &collector{}
	workers, err := Repartition(ctx, snaps, 3, hashFactory(t, backend, 8, newOut, false))
	require.NoError(t, err)
	require.Len(t, workers, 3)

	newParts, err := Partitions(3)
	require.NoError(t, err)
	namespaces := map[string]bool{}
	total := 0
	for i, d := range workers {
		require.Equal(t, newParts[i].String(), d.Partition().String())
		ns := d.Manager().Store().Options().Namespace
		require.True(t, strings.HasPrefix(ns, "p0-"), ns)
		namespaces[ns] = true
		total += d.Waiting()
		for _, r := range d.carried {
			require.True(t, d.Owns(r.event.Key), "record %s carried to a worker that does not own it", r.event.Key)
		}
	}
	require.Len(t, namespaces, 3)
	require.Equal(t, 40, total, "every waiting event lands in exactly one worker")
	require.ElementsMatch(t, []string{"p0", "p1"}, workers[0].Manager().Checkpoint(bucket.PolicyState{}).Inherited)
	require.Empty(t, workers[1].Manager().Checkpoint(bucket.PolicyState{}).Inherited)

	for _, d := range workers {
		runBatch(t, d, 2)
		require.Equal(t, 0, d.Waiting())
	}
	require.Equal(t, 40, newOut.count(Unique))
	got := []string{}
	for _, e := range newOut.events {
		got = append(got, e.Key)
	}
	sort.Strings(got)
	sort.Strings(keys)
	require.Equal(t, keys, got)
}

func TestRepartitionOrderedReplaysInSequence(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryBackend()
	keys := keysInBuckets(4, 1, 2)

	oldOut := &collector{}
	gs := newGatedStore(memStore(backend, "p0"))
	cfg := testConfig(hashPolicy(t, 4), gs, oldOut)
	cfg.Ordered = true
	old := newDeduper(t, cfg)
	t.Cleanup(gs.releaseAll)

	require.NoError(t, old.BeginBatch(1))
	inputs := []ev{{Key: keys[0]}, {}, {Key: keys[1]}, {Key: keys[0]}}
	for _, e := range inputs {
		require.NoError(t, old.Process(e))
	}
	require.Empty(t, oldOut.events)
	snap, err := old.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Pending, 4, "resolved but unemitted decisions are carried too")
	for i, pr := range snap.Pending {
		require.Equal(t, int64(i+1), pr.Seq)
	}

	newOut := &collector{}
	workers, err := Repartition(ctx, []*Snapshot[ev]{snap}, 1, hashFactory(t, backend, 4, newOut, true))
	require.NoError(t, err)
	d := workers[0]
	require.NoError(t, d.BeginBatch(2))
	require.NoError(t, d.Process(ev{Key: "after"}))
	require.NoError(t, d.EndBatch(ctx))
	require.Equal(t, append(inputs, ev{Key: "after"}), newOut.events)
	require.Equal(t, []Outcome{Unique, Error, Unique, Duplicate, Unique}, newOut.outcomes)
}

func TestSnapshotRefusesUncommitted(t *testing.T) {
	ctx := context.Background()
	out := &collector{}
	d := newDeduper(t, testConfig(hashPolicy(t, 4), memStore(store.NewMemoryBackend(), "p0"), out))
	runBatch(t, d, 1, ev{Key: "a"})
	_, err := d.Snapshot(ctx)
	require.True(t, errors.Is(err, ErrUncommittedState))
	require.NoError(t, d.OnCommit(ctx, 1))
	snap, err := d.Snapshot(ctx)
	require.NoError(t, err)
	require.Empty(t, snap.Pending)
	require.Equal(t, int64(1), snap.Checkpoint.LastFlushed)
}

func TestRepartitionMergesHorizonAndSweepsOldNamespaces(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryBackend()
	expiry := bucket.ExpiryConfig{BucketSpan: 10, ExpiryPeriod: 20}
	parts, err := Partitions(2)
	require.NoError(t, err)
	newPolicy := func() bucket.Policy[ev] {
		p, err := bucket.NewOrderedPolicy[ev](expiry, evCoord)
		require.NoError(t, err)
		return p
	}
	ownedKey := func(p bucket.Partition) string {
		for i := 0; ; i++ {
			if k := fmt.Sprintf("h-%d", i); p.OwnsKey(k) {
				return k
			}
		}
	}

	out := &collector{}
	snaps := []*Snapshot[ev]{}
	for i, coord := range []int64{100, 150} {
		cfg := testConfig(newPolicy(), memStore(backend, fmt.Sprintf("p%d", i)), out)
		cfg.Partition = parts[i]
		d := newDeduper(t, cfg)
		runBatch(t, d, 1, ev{Key: ownedKey(parts[i]), Coord: coord})
		require.NoError(t, d.OnCommit(ctx, 1))
		snap, err := d.Snapshot(ctx)
		require.NoError(t, err)
		snaps = append(snaps, snap)
	}
	require.Equal(t, []Outcome{Unique, Unique}, out.outcomes)
	require.Equal(t, int64(8), snaps[0].Checkpoint.DeleteFrontier)
	require.Equal(t, int64(13), snaps[1].Checkpoint.DeleteFrontier)

	factory := func(ctx context.Context, p bucket.Partition, opts store.Options, initial *bucket.Checkpoint) (*Deduper[ev], error) {
		cfg := testConfig(newPolicy(), store.NewGenerationStore(opts, backend), out)
		cfg.Partition = p
		cfg.Manager.Initial = initial
		d, err := New(ctx, cfg)
		if err == nil {
			t.Cleanup(func() { d.Close() })
		}
		return d, err
	}
	workers, err := Repartition(ctx, snaps, 1, factory)
	require.NoError(t, err)
	d := workers[0]
	cp := d.Manager().Checkpoint(d.Manager().Policy().State())
	require.Equal(t, int64(150), cp.Policy.Horizon)
	require.Equal(t, int64(8), cp.DeleteFrontier)
	require.Equal(t, int64(15), cp.InheritedUntil)
	require.Equal(t, int64(1), cp.LastFlushed)

	out.reset()
	runBatch(t, d, 2, ev{Key: "late", Coord: 100}, ev{Key: "fresh", Coord: 300})
	require.Equal(t, []Outcome{Expired, Unique}, out.outcomes)
	require.NoError(t, d.OnCommit(ctx, 2))

	reader := memStore(backend, "reader")
	for _, id := range []int64{10, 15} {
		contents, err := reader.Read(ctx, id)
		require.NoError(t, err)
		require.Equal(t, 0, contents.Units, "bucket %d of a retired worker", id)
	}
	contents, err := reader.Read(ctx, 30)
	require.NoError(t, err)
	require.Contains(t, contents.Entries, "fresh")
	require.Empty(t, d.Manager().Checkpoint(bucket.PolicyState{}).Inherited, "retired namespaces fully swept")
}

func TestRepartitionErrors(t *testing.T) {
	ctx := context.Background()
	_, err := Repartition[ev](ctx, nil, 2, nil)
	require.True(t, errors.Is(err, bucket.ErrPartitioning))

	snap := &Snapshot[ev]{Checkpoint: &bucket.Checkpoint{}, Store: store.Options{Namespace: "p0"}}
	_, err = Repartition(ctx, []*Snapshot[ev]{snap}, 0, nil)
	require.True(t, errors.Is(err, bucket.ErrPartitioning))

	backend := store.NewMemoryBackend()
	// 6 hash buckets cannot be split over a mask of width 4
	_, err = Repartition(ctx, []*Snapshot[ev]{snap}, 3, hashFactory(t, backend, 6, &collector{}, false))
	require.True(t, errors.Is(err, bucket.ErrPartitioning))
}
