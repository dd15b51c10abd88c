package dedupe

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"strings"

	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/bucket"
	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/bucket/store"
	"github.com/google/uuid"
)

var ErrUncommittedState = errors.New("deduper holds data that is not durable")

// Partitions splits the hash classes of the smallest covering mask over n workers, class j to worker j mod n.
func Partitions(n int) ([]bucket.Partition, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: %d workers", bucket.ErrPartitioning, n)
	}
	width := 1
	if n > 1 {
		width = 1 << bits.Len(uint(n-1))
	}
	ret := make([]bucket.Partition, n)
	for i := range ret {
		ret[i].Mask = width - 1
	}
	for class := 0; class < width; class++ {
		w := class % n
		ret[w].Keys = append(ret[w].Keys, class)
	}
	return ret, nil
}

// PendingRecord is an event accepted by a worker and not yet emitted.
type PendingRecord[E any] struct {
	Seq   int64
	Event E
}

// Snapshot is everything a retiring worker hands to its successors.
type Snapshot[E any] struct {
	Partition  bucket.Partition
	Store      store.Options
	Checkpoint *bucket.Checkpoint
	// sorted by Seq
	Pending []PendingRecord[E]
}

// Snapshot captures the hand over state. Buckets must have been committed first.
func (d *Deduper[E]) Snapshot(ctx context.Context) (*Snapshot[E], error) {
	if d.manager.Dirty() {
		return nil, ErrUncommittedState
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var pending []*record[E]
	if d.cfg.Ordered {
		pending = append(pending, d.decisions[d.head:]...)
	} else {
		for _, waiters := range d.waiting {
			pending = append(pending, waiters...)
		}
	}
	pending = append(pending, d.carried...)
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })

	snap := &Snapshot[E]{
		Partition:  d.manager.Partition(),
		Store:      d.manager.Store().Options(),
		Checkpoint: d.manager.Checkpoint(d.cfg.Policy.State()),
		Pending:    make([]PendingRecord[E], 0, len(pending)),
	}
	for _, r := range pending {
		snap.Pending = append(snap.Pending, PendingRecord[E]{Seq: r.seq, Event: r.event})
	}
	d.logger.Info().Int("pending", len(snap.Pending)).Msg("snapshot taken for re-shard")
	return snap, nil
}

// Factory builds the deduper of one new worker from its partition, store options and initial checkpoint.
type Factory[E any] func(ctx context.Context, p bucket.Partition, opts store.Options, initial *bucket.Checkpoint) (*Deduper[E], error)

// baseNamespace strips the suffix added by an earlier re-shard.
func baseNamespace(ns string) string {
	i := strings.LastIndex(ns, "-")
	if i < 0 || len(ns)-i-1 != 36 {
		return ns
	}
	if _, err := uuid.Parse(ns[i+1:]); err != nil {
		return ns
	}
	return baseNamespace(ns[:i])
}

/*
Repartition replaces the workers that produced snapshots with n new ones.

Every new worker writes under a fresh namespace. Worker 0 inherits the namespaces of all old workers
and deletes their units as buckets expire. The new horizon is the furthest old horizon, so nothing
a retired worker accepted can become unique again. Pending records go to the worker owning their key
under the new mask and are replayed at that worker's next batch.
*/
func Repartition[E any](ctx context.Context, snapshots []*Snapshot[E], n int, factory Factory[E]) ([]*Deduper[E], error) {
	if len(snapshots) == 0 {
		return nil, fmt.Errorf("%w: no snapshots to re-shard", bucket.ErrPartitioning)
	}
	parts, err := Partitions(n)
	if err != nil {
		return nil, err
	}

	var policy bucket.PolicyState
	frontier := snapshots[0].Checkpoint.DeleteFrontier
	lastFlushed := int64(-1)
	inheritedUntil := int64(-1)
	inherited := []string{}
	seen := map[string]bool{}
	addNamespace := func(ns string) {
		if !seen[ns] {
			seen[ns] = true
			inherited = append(inherited, ns)
		}
	}
	var pending []PendingRecord[E]
	for _, s := range snapshots {
		cp := s.Checkpoint
		policy = policy.Merge(cp.Policy)
		frontier = min(frontier, cp.DeleteFrontier)
		lastFlushed = max(lastFlushed, cp.LastFlushed)
		inheritedUntil = max(inheritedUntil, cp.MaxWritten, cp.InheritedUntil)
		addNamespace(s.Store.Namespace)
		for _, ns := range cp.Inherited {
			addNamespace(ns)
		}
		pending = append(pending, s.Pending...)
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Seq < pending[j].Seq })
	base := baseNamespace(snapshots[0].Store.Namespace)

	ret := make([]*Deduper[E], 0, n)
	closeAll := func() {
		for _, d := range ret {
			_ = d.Close()
		}
	}
	for i, p := range parts {
		initial := &bucket.Checkpoint{
			Policy:         policy,
			LastFlushed:    lastFlushed,
			DeleteFrontier: frontier,
			MaxWritten:     -1,
			InheritedUntil: -1,
			Partition:      p,
		}
		if i == 0 {
			initial.Inherited = inherited
			initial.InheritedUntil = inheritedUntil
		}
		opts := snapshots[0].Store.WithNamespace(base + "-" + uuid.NewString())
		opts.Inherited = nil
		d, err := factory(ctx, p, opts, initial)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("build worker %d of %d: %w", i, n, err)
		}
		ret = append(ret, d)
	}

	maxSeq := int64(0)
	for _, pr := range pending {
		maxSeq = max(maxSeq, pr.Seq)
		owner := 0
		if key, err := ret[0].cfg.Key(pr.Event); err == nil {
			for i, p := range parts {
				if p.OwnsKey(key) {
					owner = i
					break
				}
			}
		}
		d := ret[owner]
		d.carried = append(d.carried, &record[E]{seq: pr.Seq, event: pr.Event})
	}
	for _, d := range ret {
		d.seq = max(d.seq, maxSeq)
	}
	return ret, nil
}
