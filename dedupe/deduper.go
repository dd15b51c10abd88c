package dedupe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/bucket"
	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/bucket/store"
	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/prom"
	st "github.com/AustralianCyberSecurityCentre/azul-dedup.git/settings"
	"github.com/rs/zerolog"
)

var ErrInvariant = errors.New("dedup invariant violated")

// Outcome of one event.
type Outcome int

const (
	Unknown Outcome = iota
	Unique
	Duplicate
	Expired
	Error
)

func (o Outcome) String() string {
	switch o {
	case Unknown:
		return "unknown"
	case Unique:
		return "unique"
	case Duplicate:
		return "duplicate"
	case Expired:
		return "expired"
	case Error:
		return "error"
	}
	return "outcome-" + strconv.Itoa(int(o))
}

// Outputs receive every event exactly once. A nil func discards.
type Outputs[E any] struct {
	Unique    func(E)
	Duplicate func(E)
	Expired   func(E)
	Error     func(E)
}

func (o Outputs[E]) emit(outcome Outcome, e E) {
	var fn func(E)
	switch outcome {
	case Unique:
		fn = o.Unique
	case Duplicate:
		fn = o.Duplicate
	case Expired:
		fn = o.Expired
	case Error:
		fn = o.Error
	}
	if fn != nil {
		fn(e)
	}
}

type Config[E any] struct {
	Key       bucket.KeyFunc[E]
	Policy    bucket.Policy[E]
	Store     store.BucketStore
	Partition bucket.Partition
	// tuning for the bucket manager, its store, policy and partition are taken from above
	Manager bucket.Config[E]
	Outputs Outputs[E]
	// emit outcomes in arrival order
	Ordered bool
	// bytes of antibloom prefilter, 0 disables it
	PrefilterBytes uint64
	Logger         *zerolog.Logger
}

// BatchStats counts the outcomes of one batch.
type BatchStats struct {
	Batch         int64        `json:"batch"`
	Unique        int          `json:"unique"`
	Duplicate     int          `json:"duplicate"`
	Expired       int          `json:"expired"`
	Error         int          `json:"error"`
	PrefilterHits int          `json:"prefilter_hits"`
	Buckets       bucket.Stats `json:"buckets"`
}

func (s *BatchStats) count(o Outcome) {
	switch o {
	case Unique:
		s.Unique++
	case Duplicate:
		s.Duplicate++
	case Expired:
		s.Expired++
	case Error:
		s.Error++
	}
}

type record[E any] struct {
	seq     int64
	event   E
	key     string
	bucket  int64
	outcome Outcome
}

/*
Deduper routes events through the bucket manager and emits each one to exactly one output.

It is driven from a single goroutine: BeginBatch, any number of Process calls, EndBatch and then
OnCommit once the host has made the batch durable upstream.
*/
type Deduper[E any] struct {
	cfg     Config[E]
	manager *bucket.Manager[E]
	logger  zerolog.Logger

	prefilter *Lookup
	waiting   map[int64][]*record[E]
	numWait   int
	// ordered mode only, resolved records before head have been emitted
	decisions []*record[E]
	head      int
	// records handed over by a re-shard, replayed at the next batch
	carried []*record[E]
	seq     int64

	batch     BatchStats
	lastBatch BatchStats
}

// New builds a deduper and opens its bucket manager.
func New[E any](ctx context.Context, cfg Config[E]) (*Deduper[E], error) {
	if cfg.Key == nil {
		return nil, errors.New("deduper needs a key accessor")
	}
	mc := cfg.Manager
	mc.Store = cfg.Store
	mc.Policy = cfg.Policy
	mc.Partition = cfg.Partition
	logger := st.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	if mc.Logger == nil {
		mc.Logger = &logger
	}
	m, err := bucket.NewManager(mc)
	if err != nil {
		return nil, err
	}
	if err := m.Open(ctx); err != nil {
		return nil, err
	}
	d := &Deduper[E]{
		cfg:     cfg,
		manager: m,
		logger:  logger.With().Str("component", "deduper").Str("partition", m.Partition().String()).Logger(),
		waiting: map[int64][]*record[E]{},
	}
	if cfg.PrefilterBytes > 0 {
		d.prefilter = NewLookup(cfg.PrefilterBytes)
	}
	return d, nil
}

func (d *Deduper[E]) Manager() *bucket.Manager[E] { return d.manager }

func (d *Deduper[E]) Partition() bucket.Partition { return d.manager.Partition() }

// Owns reports whether events with this key are routed to this deduper.
func (d *Deduper[E]) Owns(key string) bool { return d.manager.Partition().OwnsKey(key) }

func (d *Deduper[E]) BeginBatch(id int64) error {
	if err := d.manager.BeginBatch(id); err != nil {
		return err
	}
	d.batch = BatchStats{Batch: id}
	if len(d.carried) > 0 {
		carried := d.carried
		d.carried = nil
		d.logger.Info().Int("records", len(carried)).Int64("batch", id).Msg("replaying records carried over from re-shard")
		for _, r := range carried {
			d.classify(r)
		}
	}
	return nil
}

// Process decides an event now or parks it until its bucket is loaded.
func (d *Deduper[E]) Process(e E) error {
	if !d.manager.InBatch() {
		return fmt.Errorf("%w: process outside a batch", bucket.ErrBatchState)
	}
	d.seq++
	d.handleLoads(d.manager.Poll())
	d.classify(&record[E]{seq: d.seq, event: e})
	return nil
}

func (d *Deduper[E]) classify(r *record[E]) {
	if d.cfg.Ordered {
		d.decisions = append(d.decisions, r)
	}
	key, err := d.cfg.Key(r.event)
	if err != nil {
		d.logger.Debug().Err(err).Int64("seq", r.seq).Msg("no dedup key")
		d.resolve(r, Error)
		return
	}
	r.key = key
	if !d.Owns(key) {
		d.logger.Warn().Str("key", key).Msg("event routed to a deduper that does not own its key")
		d.resolve(r, Error)
		return
	}
	r.bucket = d.cfg.Policy.Classify(key, r.event)
	switch r.bucket {
	case bucket.Expired:
		d.resolve(r, Expired)
		return
	case bucket.Invalid:
		d.resolve(r, Error)
		return
	}
	if waiters, ok := d.waiting[r.bucket]; ok {
		d.waiting[r.bucket] = append(waiters, r)
		d.numWait++
		return
	}
	if b, _ := d.manager.Bucket(r.bucket); b != nil {
		d.decide(r, b)
		return
	}
	if d.prefilter != nil && d.prefilter.Check(r.bucket, key) {
		d.batch.PrefilterHits++
		d.resolve(r, Duplicate)
		return
	}
	d.waiting[r.bucket] = []*record[E]{r}
	d.numWait++
	d.manager.RequestLoad(r.bucket)
}

func (d *Deduper[E]) decide(r *record[E], b *bucket.Bucket[E]) {
	if b.ContainsKey(r.key) {
		d.resolve(r, Duplicate)
		return
	}
	b.Put(r.key, r.event, d.manager.CurrentBatch())
	if d.prefilter != nil {
		d.prefilter.Set(r.bucket, r.key)
	}
	d.resolve(r, Unique)
}

func (d *Deduper[E]) resolve(r *record[E], o Outcome) {
	r.outcome = o
	if !d.cfg.Ordered {
		d.emit(r)
		return
	}
	d.drain()
}

// drain emits resolved decisions from the front of the table, stopping at the first unresolved one.
func (d *Deduper[E]) drain() {
	for d.head < len(d.decisions) && d.decisions[d.head].outcome != Unknown {
		d.emit(d.decisions[d.head])
		d.decisions[d.head] = nil
		d.head++
	}
	switch {
	case d.head == len(d.decisions):
		d.decisions = d.decisions[:0]
		d.head = 0
	case d.head > 1024 && d.head*2 > len(d.decisions):
		n := copy(d.decisions, d.decisions[d.head:])
		clear(d.decisions[n:])
		d.decisions = d.decisions[:n]
		d.head = 0
	}
}

func (d *Deduper[E]) emit(r *record[E]) {
	d.batch.count(r.outcome)
	prom.DedupeDecisions.WithLabelValues(r.outcome.String()).Inc()
	d.cfg.Outputs.emit(r.outcome, r.event)
}

// handleLoads drains the waiting list of every finished load in arrival order.
func (d *Deduper[E]) handleLoads(results []bucket.LoadResult) {
	for _, res := range results {
		waiters := d.waiting[res.ID]
		delete(d.waiting, res.ID)
		d.numWait -= len(waiters)
		b, _ := d.manager.Bucket(res.ID)
		if res.Err == nil && b == nil {
			res.Err = fmt.Errorf("bucket %d loaded but not resident", res.ID)
		}
		if res.Err != nil {
			d.logger.Error().Err(res.Err).Int64("bucket", res.ID).Int("waiting", len(waiters)).Msg("bucket load failed, waiting events routed to error")
			for _, r := range waiters {
				d.resolve(r, Error)
			}
			continue
		}
		for _, r := range waiters {
			d.decide(r, b)
		}
	}
	prom.DedupeWaitingEvents.Set(float64(d.numWait))
}

// Waiting is the number of events parked behind a bucket load or carried over from a re-shard.
func (d *Deduper[E]) Waiting() int { return d.numWait + len(d.carried) }

// Unresolved is the number of ordered decisions not yet emitted.
func (d *Deduper[E]) Unresolved() int { return len(d.decisions) - d.head }

// EndBatch blocks until every load has drained and all events of the batch have been emitted.
func (d *Deduper[E]) EndBatch(ctx context.Context) error {
	if !d.manager.InBatch() {
		return fmt.Errorf("%w: end of batch outside a batch", bucket.ErrBatchState)
	}
	start := time.Now()
	results, err := d.manager.WaitForLoads(ctx)
	d.handleLoads(results)
	if err != nil {
		return fmt.Errorf("waiting for bucket loads: %w", err)
	}
	prom.DedupeBatchDuration.Observe(time.Since(start).Seconds())
	if d.numWait > 0 {
		d.logger.Error().Int("waiting", d.numWait).Msg("events still waiting at end of batch")
		return fmt.Errorf("%w: %d events waiting at end of batch %d", ErrInvariant, d.numWait, d.batch.Batch)
	}
	prom.DedupeUnresolvedDecisions.Set(float64(d.Unresolved()))
	if d.cfg.Ordered && d.Unresolved() > 0 {
		d.logger.Error().Int("unresolved", d.Unresolved()).Msg("decisions unresolved at end of batch")
		return fmt.Errorf("%w: %d decisions unresolved at end of batch %d", ErrInvariant, d.Unresolved(), d.batch.Batch)
	}
	if err := d.manager.EndBatch(d.batch.Batch); err != nil {
		return err
	}
	d.batch.Buckets = d.manager.Stats()
	d.lastBatch = d.batch
	d.logger.Debug().
		Int64("batch", d.batch.Batch).
		Int("unique", d.batch.Unique).
		Int("duplicate", d.batch.Duplicate).
		Int("expired", d.batch.Expired).
		Int("error", d.batch.Error).
		Int("resident", d.batch.Buckets.Resident).
		Msg("batch complete")
	return nil
}

// OnCommit makes every batch up to id durable and deletes expired buckets.
func (d *Deduper[E]) OnCommit(ctx context.Context, id int64) error {
	if err := d.manager.OnCommit(ctx, id); err != nil {
		return err
	}
	d.lastBatch.Buckets = d.manager.Stats()
	return nil
}

// Stats of the last completed batch.
func (d *Deduper[E]) Stats() BatchStats { return d.lastBatch }

func (d *Deduper[E]) Close() error { return d.manager.Close() }
