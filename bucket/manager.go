package bucket

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/bucket/store"
	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/prom"
	st "github.com/AustralianCyberSecurityCentre/azul-dedup.git/settings"
	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/workerpool"
	"github.com/goccy/go-json"
	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/rs/zerolog"
)

var (
	ErrDurabilityLost = errors.New("bucket flush failed repeatedly, durability lost")
	ErrBatchState     = errors.New("batch operation out of order")
)

// State of a bucket id within one manager.
type State int

const (
	Unknown State = iota
	Loading
	Resident
	Evicted
	Deleted
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Loading:
		return "loading"
	case Resident:
		return "resident"
	case Evicted:
		return "evicted"
	case Deleted:
		return "deleted"
	}
	return "state-" + strconv.Itoa(int(s))
}

// LoadResult reports a finished load. Err is set when the bucket could not be read.
type LoadResult struct {
	ID   int64
	Keys int
	Err  error
}

// Checkpoint is the record saved with every successful commit.
type Checkpoint struct {
	Policy         PolicyState `json:"policy"`
	LastFlushed    int64       `json:"last_flushed"`
	DeleteFrontier int64       `json:"delete_frontier"`
	MaxWritten     int64       `json:"max_written"`
	Inherited      []string    `json:"inherited,omitempty"`
	// inherited namespaces are swept until the delete frontier passes this bucket id
	InheritedUntil int64     `json:"inherited_until"`
	Partition      Partition `json:"partition"`
	SavedAt        time.Time `json:"saved_at"`
}

type Config[E any] struct {
	Store     store.BucketStore
	Policy    Policy[E]
	Partition Partition
	// Codec encodes stored values, unused when KeysOnly is set
	Codec    Codec[E]
	KeysOnly bool
	// resident bucket ceiling before eviction starts
	BucketsInMemory int
	EvictionGrace   time.Duration
	// write the whole bucket at each commit and compact older generations
	PersistEntireBucket bool
	LoadWorkers         int
	MaxFlushRetries     int
	// expected keys per bucket for the bloom key filter, 0 disables it
	KeyFilterExpected int
	KeyFilterFPP      float64
	// Initial seeds the manager when the store holds no checkpoint for its namespace
	Initial *Checkpoint
	Logger  *zerolog.Logger
}

// ConfigFromSettings fills the tuning fields from the dedup settings.
func ConfigFromSettings[E any](d *st.DDDedup) Config[E] {
	return Config[E]{
		KeysOnly:            d.KeysOnly,
		BucketsInMemory:     d.BucketsInMemory,
		EvictionGrace:       d.EvictionGrace,
		PersistEntireBucket: d.PersistEntireBucket,
		LoadWorkers:         d.LoadWorkers,
		MaxFlushRetries:     d.MaxFlushRetries,
		KeyFilterExpected:   d.KeyFilterExpected,
		KeyFilterFPP:        d.KeyFilterFPP,
	}
}

// Stats describes the manager at the end of a batch.
type Stats struct {
	Resident           int              `json:"resident"`
	Loading            int              `json:"loading"`
	EventsInMemory     int              `json:"events_in_memory"`
	Evicted            int64            `json:"evicted"`
	Deleted            int64            `json:"deleted"`
	CommittedLastBatch int              `json:"committed_last_batch"`
	StartOfBuckets     int64            `json:"start_of_buckets"`
	EndOfBuckets       int64            `json:"end_of_buckets"`
	LastFlushed        int64            `json:"last_flushed"`
	LoadPool           workerpool.Stats `json:"load_pool"`
}

type loadDone[E any] struct {
	id         int64
	entries    map[string]E
	generation int64
	err        error
	duration   time.Duration
}

type captured struct {
	state    PolicyState
	liveFrom int64
}

/*
Manager keeps the buckets of one worker resident, loads missing ones on a worker pool and makes them
durable at commits.

All methods must be called from one goroutine. Load workers hand results back only through the
completion list, which is drained by Poll and WaitForLoads.
*/
type Manager[E any] struct {
	cfg    Config[E]
	store  store.BucketStore
	policy Policy[E]
	logger zerolog.Logger
	pool   *workerpool.WorkerPool

	states   map[int64]State
	resident map[int64]*Bucket[E]
	lru      *simplelru.LRU
	backlog  []int64
	loading  int

	completedMu sync.Mutex
	completed   []loadDone[E]
	signal      chan struct{}

	inBatch      bool
	currentBatch int64
	captures     map[int64]captured

	lastFlushed        int64
	flushFailures      int
	deleteFrontier     int64
	maxWritten         int64
	inherited          []string
	inheritedUntil     int64
	known              map[int64]bool
	evicted            int64
	deleted            int64
	committedLastBatch int
	opened             bool
}

func NewManager[E any](cfg Config[E]) (*Manager[E], error) {
	if cfg.Store == nil {
		return nil, errors.New("bucket manager needs a store")
	}
	if cfg.Policy == nil {
		return nil, errors.New("bucket manager needs a policy")
	}
	if cfg.Partition.Keys == nil {
		cfg.Partition = WholePartition()
	}
	if err := cfg.Partition.Validate(cfg.Policy.NumBuckets(), cfg.Policy.Expiring()); err != nil {
		return nil, err
	}
	if cfg.Codec == nil {
		cfg.Codec = JSONCodec[E]{}
	}
	if cfg.BucketsInMemory <= 0 {
		cfg.BucketsInMemory = 128
	}
	if cfg.LoadWorkers <= 0 {
		cfg.LoadWorkers = 4
	}
	if cfg.MaxFlushRetries <= 0 {
		cfg.MaxFlushRetries = 5
	}
	logger := st.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	lru, err := simplelru.NewLRU(math.MaxInt32, nil)
	if err != nil {
		return nil, err
	}
	return &Manager[E]{
		cfg:            cfg,
		store:          cfg.Store,
		policy:         cfg.Policy,
		logger:         logger.With().Str("component", "bucket_manager").Str("partition", cfg.Partition.String()).Logger(),
		states:         map[int64]State{},
		resident:       map[int64]*Bucket[E]{},
		lru:            lru,
		signal:         make(chan struct{}, 1),
		captures:       map[int64]captured{},
		lastFlushed:    -1,
		maxWritten:     -1,
		inheritedUntil: -1,
		known:          map[int64]bool{},
	}, nil
}

// Open opens the store, restores the checkpoint and starts the load pool.
func (m *Manager[E]) Open(ctx context.Context) error {
	if err := m.store.Open(ctx); err != nil {
		return fmt.Errorf("open bucket store: %w", err)
	}
	raw, err := m.store.LoadMeta(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	var cp *Checkpoint
	if raw != nil {
		cp = &Checkpoint{}
		if err := json.Unmarshal(raw, cp); err != nil {
			return fmt.Errorf("decode checkpoint: %w", err)
		}
	} else if m.cfg.Initial != nil {
		cp = m.cfg.Initial
	}
	if cp != nil {
		m.restore(cp)
	}
	// a crash between flush and checkpoint leaves generations whose batches will be replayed
	if err := m.store.Rollback(ctx, m.lastFlushed); err != nil {
		return fmt.Errorf("roll back to generation %d: %w", m.lastFlushed, err)
	}
	if m.policy.Expiring() {
		// expired buckets may still be waiting for deletion from before the restart
		ids, err := m.store.Buckets(ctx)
		if err != nil {
			return fmt.Errorf("list buckets: %w", err)
		}
		for _, id := range ids {
			if id >= m.deleteFrontier {
				m.known[id] = true
			}
		}
	}
	m.pool = workerpool.New(workerpool.Config{
		Name:       "bucket-load",
		MaxWorkers: m.cfg.LoadWorkers,
		QueueSize:  m.cfg.LoadWorkers * 4,
		Logger:     &m.logger,
	})
	m.opened = true
	m.logger.Info().Int64("last_flushed", m.lastFlushed).Int64("delete_frontier", m.deleteFrontier).Int("known_buckets", len(m.known)).Msg("bucket manager opened")
	return nil
}

func (m *Manager[E]) restore(cp *Checkpoint) {
	m.policy.Restore(cp.Policy)
	m.lastFlushed = cp.LastFlushed
	m.deleteFrontier = cp.DeleteFrontier
	m.maxWritten = cp.MaxWritten
	m.inherited = append([]string(nil), cp.Inherited...)
	m.inheritedUntil = cp.InheritedUntil
	if len(m.inherited) > 0 {
		m.store.Inherit(m.inherited)
	}
	if len(cp.Partition.Keys) > 0 && cp.Partition.String() != m.cfg.Partition.String() {
		m.logger.Warn().Str("checkpoint_partition", cp.Partition.String()).Msg("partition differs from checkpoint")
	}
}

// Close stops the load pool and closes the store. Loads still running are abandoned.
func (m *Manager[E]) Close() error {
	var errs []error
	if m.pool != nil {
		errs = append(errs, m.pool.Stop(10*time.Second))
	}
	errs = append(errs, m.store.Close())
	return errors.Join(errs...)
}

// State of a bucket id.
func (m *Manager[E]) State(id int64) State {
	return m.states[id]
}

// Bucket returns the resident bucket for id, or nil with the current state.
func (m *Manager[E]) Bucket(id int64) (*Bucket[E], State) {
	b, ok := m.resident[id]
	if !ok {
		return nil, m.states[id]
	}
	m.lru.Get(id)
	b.lastTouchedBatch = m.currentBatch
	return b, Resident
}

// RequestLoad starts loading a bucket that is neither resident nor loading.
func (m *Manager[E]) RequestLoad(id int64) {
	switch m.states[id] {
	case Loading, Resident:
		return
	}
	m.states[id] = Loading
	m.loading++
	prom.BucketsLoading.Set(float64(m.loading))
	m.backlog = append(m.backlog, id)
	m.pump()
}

// pump hands queued loads to the pool until its queue is full.
func (m *Manager[E]) pump() {
	for len(m.backlog) > 0 {
		if !m.pool.TrySubmit(m.loadTask(m.backlog[0])) {
			return
		}
		m.backlog = m.backlog[1:]
	}
}

func (m *Manager[E]) loadTask(id int64) workerpool.Task {
	return workerpool.Task{
		ID: "bucket-" + strconv.FormatInt(id, 10),
		Fn: func(ctx context.Context) error {
			return m.load(ctx, id)
		},
	}
}

// reportLoadPool publishes the occupancy of the load pool.
func (m *Manager[E]) reportLoadPool() {
	if m.pool == nil {
		return
	}
	ps := m.pool.Stats()
	prom.LoadPoolUtilization.WithLabelValues(ps.Name).Set(ps.WorkerUtilization())
	prom.LoadPoolQueued.WithLabelValues(ps.Name).Set(float64(ps.QueuedTasks))
}

// load runs on a pool worker and must only touch the completion list.
func (m *Manager[E]) load(ctx context.Context, id int64) error {
	start := time.Now()
	done := loadDone[E]{id: id}
	contents, err := m.store.Read(ctx, id)
	if err == nil {
		done.entries, err = m.decode(contents)
		done.generation = contents.Generation
	}
	done.err = err
	done.duration = time.Since(start)

	m.completedMu.Lock()
	m.completed = append(m.completed, done)
	m.completedMu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
	return err
}

// decode keeps only keys owned by this partition.
func (m *Manager[E]) decode(contents *store.Contents) (map[string]E, error) {
	ret := make(map[string]E, len(contents.Entries))
	for k, raw := range contents.Entries {
		if !m.cfg.Partition.OwnsKey(k) {
			continue
		}
		var e E
		if !m.cfg.KeysOnly && raw != nil {
			var err error
			e, err = m.cfg.Codec.Decode(raw)
			if err != nil {
				return nil, fmt.Errorf("decode value of %q: %w", k, err)
			}
		}
		ret[k] = e
	}
	return ret, nil
}

// Poll installs completed loads without blocking.
func (m *Manager[E]) Poll() []LoadResult {
	if len(m.backlog) > 0 {
		m.pump()
	}
	m.completedMu.Lock()
	if len(m.completed) == 0 {
		m.completedMu.Unlock()
		return nil
	}
	done := m.completed
	m.completed = nil
	m.completedMu.Unlock()

	results := make([]LoadResult, 0, len(done))
	for _, d := range done {
		results = append(results, m.install(d))
	}
	if len(m.backlog) > 0 {
		m.pump()
	}
	m.reportLoadPool()
	return results
}

func (m *Manager[E]) install(d loadDone[E]) LoadResult {
	m.loading--
	prom.BucketsLoading.Set(float64(m.loading))
	prom.BucketLoadDuration.Observe(d.duration.Seconds())
	if d.err != nil {
		prom.BucketLoads.WithLabelValues("error").Inc()
		m.logger.Error().Err(d.err).Int64("bucket", d.id).Msg("bucket load failed")
		m.states[d.id] = Unknown
		return LoadResult{ID: d.id, Err: d.err}
	}
	prom.BucketLoads.WithLabelValues("ok").Inc()
	var filter *KeyFilter
	if m.cfg.KeyFilterExpected > 0 {
		filter = NewKeyFilter(max(m.cfg.KeyFilterExpected, len(d.entries)), m.cfg.KeyFilterFPP)
	}
	b := NewBucket[E](d.id, m.cfg.KeysOnly, filter)
	b.install(d.entries, d.generation, time.Now())
	b.lastTouchedBatch = m.currentBatch
	m.resident[d.id] = b
	m.lru.Add(d.id, nil)
	m.states[d.id] = Resident
	if m.policy.Expiring() {
		m.known[d.id] = true
	}
	prom.BucketsResident.Set(float64(len(m.resident)))
	return LoadResult{ID: d.id, Keys: len(d.entries)}
}

// Outstanding is the number of loads requested and not yet installed.
func (m *Manager[E]) Outstanding() int {
	return m.loading
}

// WaitForLoads blocks until every requested load has been installed.
func (m *Manager[E]) WaitForLoads(ctx context.Context) ([]LoadResult, error) {
	results := m.Poll()
	// the caller is blocked anyway, so the backlog may wait for queue space
	for len(m.backlog) > 0 {
		if err := m.pool.SubmitWithContext(ctx, m.loadTask(m.backlog[0])); err != nil {
			return results, err
		}
		m.backlog = m.backlog[1:]
	}
	for m.loading > 0 {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		case <-m.signal:
		}
		results = append(results, m.Poll()...)
	}
	return results, nil
}

func (m *Manager[E]) BeginBatch(id int64) error {
	if m.inBatch {
		return fmt.Errorf("%w: batch %d begun inside batch %d", ErrBatchState, id, m.currentBatch)
	}
	if !m.opened {
		return fmt.Errorf("%w: manager not open", ErrBatchState)
	}
	m.inBatch = true
	m.currentBatch = id
	return nil
}

// InBatch reports whether a batch has begun and not ended.
func (m *Manager[E]) InBatch() bool { return m.inBatch }

func (m *Manager[E]) CurrentBatch() int64 { return m.currentBatch }

// EndBatch captures the policy state for the batch and evicts down to the resident ceiling.
// Loads must have been drained first.
func (m *Manager[E]) EndBatch(id int64) error {
	if !m.inBatch || id != m.currentBatch {
		return fmt.Errorf("%w: end of batch %d, current %d", ErrBatchState, id, m.currentBatch)
	}
	m.captures[id] = captured{state: m.policy.State(), liveFrom: m.policy.LiveFrom()}
	m.evict(id, time.Now())
	m.reportLoadPool()
	m.inBatch = false
	prom.BucketEventsInMemory.Set(float64(m.eventsInMemory()))
	return nil
}

// evict drops clean buckets displaced from their slot, then least recently used clean buckets,
// never ones touched in this batch or younger than the grace period.
func (m *Manager[E]) evict(batch int64, now time.Time) {
	m.evictDisplaced()
	excess := len(m.resident) - m.cfg.BucketsInMemory
	if excess <= 0 {
		prom.BucketsResident.Set(float64(len(m.resident)))
		return
	}
	for _, k := range m.lru.Keys() {
		if excess <= 0 {
			break
		}
		id := k.(int64)
		b := m.resident[id]
		if b.Dirty() || b.lastTouchedBatch == batch || now.Sub(b.inMemorySince) < m.cfg.EvictionGrace {
			continue
		}
		m.drop(id)
		excess--
	}
	prom.BucketsResident.Set(float64(len(m.resident)))
	if excess > 0 {
		m.logger.Debug().Int("excess", excess).Msg("resident ceiling exceeded, no bucket can be evicted")
	}
}

// evictDisplaced drops clean buckets whose slot is held by a later resident window.
// Waiters are drained by the end of a batch, so this never strands an event.
func (m *Manager[E]) evictDisplaced() {
	latest := make(map[int]int64, len(m.resident))
	for id := range m.resident {
		slot := m.policy.Slot(id)
		if cur, ok := latest[slot]; !ok || id > cur {
			latest[slot] = id
		}
	}
	if len(latest) == len(m.resident) {
		return
	}
	for id, b := range m.resident {
		if latest[m.policy.Slot(id)] == id || b.Dirty() {
			continue
		}
		m.logger.Debug().Int64("bucket", id).Int64("by", latest[m.policy.Slot(id)]).Msg("bucket displaced from its slot")
		m.drop(id)
	}
}

func (m *Manager[E]) drop(id int64) {
	m.lru.Remove(id)
	delete(m.resident, id)
	m.states[id] = Evicted
	m.evicted++
	prom.BucketsEvicted.Inc()
}

func (m *Manager[E]) eventsInMemory() int {
	total := 0
	for _, b := range m.resident {
		total += b.Len()
	}
	return total
}

// Dirty reports whether any resident bucket holds data that is not durable.
func (m *Manager[E]) Dirty() bool {
	for _, b := range m.resident {
		if b.Dirty() {
			return true
		}
	}
	return false
}

func (m *Manager[E]) encode(entries map[string]E) (map[string][]byte, error) {
	ret := make(map[string][]byte, len(entries))
	for k, e := range entries {
		if m.cfg.KeysOnly {
			ret[k] = nil
			continue
		}
		raw, err := m.cfg.Codec.Encode(e)
		if err != nil {
			return nil, fmt.Errorf("encode value of %q: %w", k, err)
		}
		ret[k] = raw
	}
	return ret, nil
}

// flush writes the pending entries of batches up to c as generation c and returns the buckets written.
func (m *Manager[E]) flush(ctx context.Context, c int64) (int, []int64, error) {
	ids := make([]int64, 0, len(m.resident))
	for id, b := range m.resident {
		if b.Dirty() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var errs []error
	committed := 0
	written := []int64{}
	for _, id := range ids {
		b := m.resident[id]
		pending := b.Pending(c)
		if len(pending) == 0 {
			continue
		}
		toWrite := pending
		if m.cfg.PersistEntireBucket {
			toWrite = b.All(c)
		}
		entries, err := m.encode(toWrite)
		if err == nil {
			err = m.store.Write(ctx, id, c, entries)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("bucket %d: %w", id, err))
			continue
		}
		written = append(written, id)
		committed += b.MarkFlushed(c)
		m.maxWritten = max(m.maxWritten, id)
		if m.policy.Expiring() {
			m.known[id] = true
		}
	}
	return committed, written, errors.Join(errs...)
}

// compact drops the generations below c of buckets rewritten whole at commit c.
func (m *Manager[E]) compact(ctx context.Context, ids []int64, c int64) {
	for _, id := range ids {
		if err := m.store.Compact(ctx, id, c); err != nil {
			// the new generation already holds everything
			m.logger.Warn().Err(err).Int64("bucket", id).Msg("compaction failed")
		}
	}
}

// OnCommit makes batches up to c durable, saves the checkpoint and then deletes expired buckets.
func (m *Manager[E]) OnCommit(ctx context.Context, c int64) error {
	if c <= m.lastFlushed {
		m.logger.Debug().Int64("commit", c).Int64("last_flushed", m.lastFlushed).Msg("commit already flushed")
		return nil
	}
	committed, written, err := m.flush(ctx, c)
	m.committedLastBatch = committed
	prom.BucketEventsCommitted.Add(float64(committed))
	if err != nil {
		m.flushFailures++
		prom.BucketFlushFailures.Inc()
		if m.flushFailures >= m.cfg.MaxFlushRetries {
			return fmt.Errorf("%w: %d consecutive failures: %w", ErrDurabilityLost, m.flushFailures, err)
		}
		m.logger.Warn().Err(err).Int64("commit", c).Int("failures", m.flushFailures).Msg("flush failed, will retry at next commit")
		return nil
	}
	m.flushFailures = 0
	m.lastFlushed = c

	capture, ok := m.capturedFor(c)
	if err := m.saveCheckpoint(ctx, capture.state); err != nil {
		return err
	}
	// older generations are only dropped once no rollback can reach below c
	if m.cfg.PersistEntireBucket {
		m.compact(ctx, written, c)
	}
	if ok && m.policy.Expiring() {
		if err := m.deleteBelow(ctx, capture.liveFrom); err != nil {
			return err
		}
	}
	return nil
}

// capturedFor returns the policy capture of the latest batch at or below c and forgets older ones.
func (m *Manager[E]) capturedFor(c int64) (captured, bool) {
	best := int64(math.MinInt64)
	var ret captured
	for id, capture := range m.captures {
		if id > c {
			continue
		}
		if id > best {
			best = id
			ret = capture
		}
		delete(m.captures, id)
	}
	if best == math.MinInt64 {
		return captured{state: m.policy.State()}, false
	}
	return ret, true
}

func (m *Manager[E]) Checkpoint(state PolicyState) *Checkpoint {
	return &Checkpoint{
		Policy:         state,
		LastFlushed:    m.lastFlushed,
		DeleteFrontier: m.deleteFrontier,
		MaxWritten:     m.maxWritten,
		Inherited:      append([]string(nil), m.inherited...),
		InheritedUntil: m.inheritedUntil,
		Partition:      m.cfg.Partition,
		SavedAt:        time.Now().UTC(),
	}
}

func (m *Manager[E]) saveCheckpoint(ctx context.Context, state PolicyState) error {
	raw, err := json.Marshal(m.Checkpoint(state))
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := m.store.SaveMeta(ctx, raw); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// deleteBelow removes known buckets with ids below liveFrom.
func (m *Manager[E]) deleteBelow(ctx context.Context, liveFrom int64) error {
	ids := []int64{}
	for id := range m.known {
		if id < liveFrom {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if m.states[id] == Loading {
			continue
		}
		if b, ok := m.resident[id]; ok && b.Dirty() {
			continue
		}
		if err := m.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete bucket %d: %w", id, err)
		}
		if _, ok := m.resident[id]; ok {
			delete(m.resident, id)
			m.lru.Remove(id)
		}
		delete(m.known, id)
		m.states[id] = Deleted
		m.deleted++
		prom.BucketsDeleted.Inc()
	}
	m.deleteFrontier = max(m.deleteFrontier, liveFrom)
	if len(m.inherited) > 0 && m.deleteFrontier > m.inheritedUntil {
		m.logger.Info().Strs("namespaces", m.inherited).Msg("inherited namespaces fully swept")
		m.inherited = nil
	}
	prom.BucketsResident.Set(float64(len(m.resident)))
	if len(ids) > 0 {
		m.logger.Debug().Int("deleted", len(ids)).Int64("live_from", liveFrom).Msg("deleted expired buckets")
	}
	return nil
}

func (m *Manager[E]) Stats() Stats {
	end := m.maxWritten
	for id := range m.resident {
		end = max(end, id)
	}
	var pool workerpool.Stats
	if m.pool != nil {
		pool = m.pool.Stats()
	}
	return Stats{
		Resident:           len(m.resident),
		Loading:            m.loading,
		EventsInMemory:     m.eventsInMemory(),
		Evicted:            m.evicted,
		Deleted:            m.deleted,
		CommittedLastBatch: m.committedLastBatch,
		StartOfBuckets:     m.policy.LiveFrom(),
		EndOfBuckets:       end,
		LastFlushed:        m.lastFlushed,
		LoadPool:           pool,
	}
}

func (m *Manager[E]) Partition() Partition { return m.cfg.Partition }

func (m *Manager[E]) Policy() Policy[E] { return m.policy }

func (m *Manager[E]) Store() store.BucketStore { return m.store }

func (m *Manager[E]) Config() Config[E] { return m.cfg }
