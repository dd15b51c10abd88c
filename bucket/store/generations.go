package store

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/prom"
	st "github.com/AustralianCyberSecurityCentre/azul-dedup.git/settings"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultFetchLimit = 16
	// listings tried by Read while units vanish under it
	readAttempts = 3
)

/*
GenerationStore lays bucket units out over a Backend.

	<root>/b/<bucket>/g<generation>.<namespace>   one flushed generation
	<root>/b/<bucket>/t.<namespace>               tombstone while a namespace of the bucket is deleted
	<root>/meta/<namespace>                       checkpoint record

Readers ignore every unit of a tombstoned namespace, which makes deletion all or nothing.
*/
type GenerationStore struct {
	opts    Options
	connect func(ctx context.Context) (Backend, error)
	backend Backend
	owned   bool
	logger  zerolog.Logger

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// NewGenerationStore lays out units over an existing backend that the store does not close.
func NewGenerationStore(opts Options, backend Backend) *GenerationStore {
	s := newGenerationStore(opts, nil)
	s.backend = backend
	return s
}

func newGenerationStore(opts Options, connect func(ctx context.Context) (Backend, error)) *GenerationStore {
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = defaultFetchLimit
	}
	return &GenerationStore{
		opts:    opts,
		connect: connect,
		owned:   connect != nil,
		logger:  st.Logger.With().Str("component", "store").Str("namespace", opts.Namespace).Logger(),
		locks:   map[int64]*sync.Mutex{},
	}
}

func (s *GenerationStore) Open(ctx context.Context) error {
	if s.backend != nil {
		return nil
	}
	b, err := s.connect(ctx)
	if err != nil {
		return err
	}
	s.backend = b
	return nil
}

func (s *GenerationStore) Close() error {
	if s.backend == nil || !s.owned {
		return nil
	}
	err := s.backend.Close()
	s.backend = nil
	return err
}

func (s *GenerationStore) Options() Options { return s.opts.Clone() }

func (s *GenerationStore) Inherit(namespaces []string) {
	for _, ns := range namespaces {
		if ns != s.opts.Namespace && !slices.Contains(s.opts.Inherited, ns) {
			s.opts.Inherited = append(s.opts.Inherited, ns)
		}
	}
}

func (s *GenerationStore) bucketPrefix(bucketID int64) string {
	return path.Join(s.opts.Conn.Root, "b", strconv.FormatInt(bucketID, 10)) + "/"
}

func (s *GenerationStore) unitName(bucketID, generation int64, ns string) string {
	return fmt.Sprintf("%sg%019d.%s", s.bucketPrefix(bucketID), generation, ns)
}

func (s *GenerationStore) tombstoneName(bucketID int64, ns string) string {
	return s.bucketPrefix(bucketID) + "t." + ns
}

func (s *GenerationStore) metaName() string {
	return path.Join(s.opts.Conn.Root, "meta", s.opts.Namespace)
}

type unitRef struct {
	name       string
	generation int64
	namespace  string
}

// parseUnit splits the final path element of a unit or tombstone name.
func parseUnit(name string) (ref unitRef, tombstone bool, ok bool) {
	base := path.Base(name)
	if ns, found := strings.CutPrefix(base, "t."); found {
		return unitRef{name: name, namespace: ns}, true, true
	}
	if !strings.HasPrefix(base, "g") {
		return ref, false, false
	}
	genStr, ns, found := strings.Cut(base[1:], ".")
	if !found || ns == "" {
		return ref, false, false
	}
	gen, err := strconv.ParseInt(genStr, 10, 64)
	if err != nil {
		return ref, false, false
	}
	return unitRef{name: name, generation: gen, namespace: ns}, false, true
}

// listUnits returns live units and the set of tombstoned namespaces for a bucket.
func (s *GenerationStore) listUnits(ctx context.Context, bucketID int64) ([]unitRef, map[string]bool, error) {
	names, err := s.backend.List(ctx, s.bucketPrefix(bucketID))
	if err != nil {
		return nil, nil, err
	}
	units := []unitRef{}
	tombstones := map[string]bool{}
	for _, name := range names {
		ref, tomb, ok := parseUnit(name)
		if !ok {
			continue
		}
		if tomb {
			tombstones[ref.namespace] = true
		} else {
			units = append(units, ref)
		}
	}
	return units, tombstones, nil
}

func (s *GenerationStore) lock(bucketID int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[bucketID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[bucketID] = l
	}
	return l
}

func (s *GenerationStore) Write(ctx context.Context, bucketID int64, generation int64, entries map[string][]byte) error {
	var err error
	startTime := time.Now().UnixNano()
	defer func() {
		reportStoreOpMetric(s.backend.Name(), startTime, "write", err)
	}()
	l := s.lock(bucketID)
	l.Lock()
	defer l.Unlock()

	name := s.unitName(bucketID, generation, s.opts.Namespace)
	exists, err := s.backend.Exists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		err = fmt.Errorf("%w", &WriteError{msg: fmt.Sprintf("unit %s already exists", name)})
		return err
	}
	data, err := encodeRecord(newGenerationRecord(bucketID, generation, s.opts.Namespace, s.opts.KeysOnly, entries), s.opts.Conn.Compress)
	if err != nil {
		err = fmt.Errorf("%w", &WriteError{msg: fmt.Sprintf("encode %s: %v", name, err)})
		return err
	}
	err = s.backend.Put(ctx, name, data)
	if err != nil {
		return err
	}
	prom.StoreUploaded.WithLabelValues(s.backend.Name()).Add(float64(len(data)))
	return nil
}

func (s *GenerationStore) Read(ctx context.Context, bucketID int64) (*Contents, error) {
	var err error
	startTime := time.Now().UnixNano()
	defer func() {
		reportStoreOpMetric(s.backend.Name(), startTime, "read", err)
	}()
	var records []*generationRecord
	for attempt := 1; ; attempt++ {
		records, err = s.readUnits(ctx, bucketID)
		var notFound *NotFoundError
		if err == nil || !errors.As(err, &notFound) || attempt >= readAttempts {
			break
		}
		// another worker compacted or deleted a listed unit, its replacement is in a fresh listing
		s.logger.Debug().Err(err).Int64("bucket", bucketID).Int("attempt", attempt).Msg("unit vanished during read, listing again")
	}
	if err != nil {
		return nil, err
	}
	return mergeRecords(records), nil
}

// readUnits fetches every live unit from one listing of the bucket.
func (s *GenerationStore) readUnits(ctx context.Context, bucketID int64) ([]*generationRecord, error) {
	units, tombstones, err := s.listUnits(ctx, bucketID)
	if err != nil {
		return nil, err
	}
	live := units[:0]
	for _, u := range units {
		if !tombstones[u.namespace] {
			live = append(live, u)
		}
	}

	records := make([]*generationRecord, len(live))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, min(len(live), s.opts.FetchLimit)))
	for i, u := range live {
		g.Go(func() error {
			data, err := s.backend.Get(gctx, u.name)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", u.name, err)
			}
			prom.StoreDownloaded.WithLabelValues(s.backend.Name()).Add(float64(len(data)))
			rec, err := decodeRecord(data)
			if err != nil {
				return fmt.Errorf("decode %s: %w", u.name, err)
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// mergeRecords merges in (generation, namespace) order, the first value seen for a key wins.
func mergeRecords(records []*generationRecord) *Contents {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Generation != records[j].Generation {
			return records[i].Generation < records[j].Generation
		}
		return records[i].Namespace < records[j].Namespace
	})
	ret := &Contents{Entries: map[string][]byte{}, Generation: -1, Units: len(records)}
	for _, rec := range records {
		for k, v := range rec.entries() {
			if _, ok := ret.Entries[k]; !ok {
				ret.Entries[k] = v
			}
		}
		ret.Generation = max(ret.Generation, rec.Generation)
	}
	return ret
}

func (s *GenerationStore) Delete(ctx context.Context, bucketID int64) error {
	var err error
	startTime := time.Now().UnixNano()
	defer func() {
		reportStoreOpMetric(s.backend.Name(), startTime, "delete", err)
	}()
	l := s.lock(bucketID)
	l.Lock()
	defer l.Unlock()

	units, tombstones, err := s.listUnits(ctx, bucketID)
	if err != nil {
		return err
	}
	byNamespace := map[string][]unitRef{}
	for _, u := range units {
		byNamespace[u.namespace] = append(byNamespace[u.namespace], u)
	}
	for _, ns := range append([]string{s.opts.Namespace}, s.opts.Inherited...) {
		if len(byNamespace[ns]) == 0 && !tombstones[ns] {
			continue
		}
		if err = s.deleteNamespace(ctx, bucketID, ns, byNamespace[ns]); err != nil {
			return err
		}
	}
	return nil
}

func (s *GenerationStore) deleteNamespace(ctx context.Context, bucketID int64, ns string, units []unitRef) error {
	tomb := s.tombstoneName(bucketID, ns)
	if err := s.backend.Put(ctx, tomb, []byte{}); err != nil {
		return fmt.Errorf("tombstone %s: %w", tomb, err)
	}
	for _, u := range units {
		if err := s.backend.Delete(ctx, u.name); err != nil {
			return fmt.Errorf("delete %s: %w", u.name, err)
		}
	}
	if err := s.backend.Delete(ctx, tomb); err != nil {
		return fmt.Errorf("remove tombstone %s: %w", tomb, err)
	}
	s.logger.Debug().Int64("bucket", bucketID).Str("deleted_namespace", ns).Int("units", len(units)).Msg("deleted bucket units")
	return nil
}

func (s *GenerationStore) Compact(ctx context.Context, bucketID int64, upTo int64) error {
	var err error
	startTime := time.Now().UnixNano()
	defer func() {
		reportStoreOpMetric(s.backend.Name(), startTime, "compact", err)
	}()
	l := s.lock(bucketID)
	l.Lock()
	defer l.Unlock()

	units, _, err := s.listUnits(ctx, bucketID)
	if err != nil {
		return err
	}
	for _, u := range units {
		if u.namespace != s.opts.Namespace || u.generation >= upTo {
			continue
		}
		if err = s.backend.Delete(ctx, u.name); err != nil {
			return err
		}
	}
	return nil
}

func (s *GenerationStore) Rollback(ctx context.Context, after int64) error {
	var err error
	startTime := time.Now().UnixNano()
	defer func() {
		reportStoreOpMetric(s.backend.Name(), startTime, "rollback", err)
	}()
	prefix := path.Join(s.opts.Conn.Root, "b") + "/"
	names, err := s.backend.List(ctx, prefix)
	if err != nil {
		return err
	}
	removed := 0
	for _, name := range names {
		idStr, rest, found := strings.Cut(strings.TrimPrefix(name, prefix), "/")
		if !found {
			continue
		}
		ref, tomb, ok := parseUnit(rest)
		if !ok || tomb || ref.namespace != s.opts.Namespace || ref.generation <= after {
			continue
		}
		id, perr := strconv.ParseInt(idStr, 10, 64)
		if perr != nil {
			continue
		}
		l := s.lock(id)
		l.Lock()
		err = s.backend.Delete(ctx, name)
		l.Unlock()
		if err != nil {
			err = fmt.Errorf("rollback %s: %w", name, err)
			return err
		}
		removed++
	}
	if removed > 0 {
		s.logger.Warn().Int64("after", after).Int("units", removed).Msg("removed generations that were never checkpointed")
	}
	return nil
}

func (s *GenerationStore) Buckets(ctx context.Context) ([]int64, error) {
	prefix := path.Join(s.opts.Conn.Root, "b") + "/"
	names, err := s.backend.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	seen := map[int64]bool{}
	ret := []int64{}
	for _, name := range names {
		idStr, rest, found := strings.Cut(strings.TrimPrefix(name, prefix), "/")
		if !found {
			continue
		}
		if _, tomb, ok := parseUnit(rest); !ok || tomb {
			continue
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		ret = append(ret, id)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret, nil
}

func (s *GenerationStore) SaveMeta(ctx context.Context, data []byte) error {
	var err error
	startTime := time.Now().UnixNano()
	defer func() {
		reportStoreOpMetric(s.backend.Name(), startTime, "save_meta", err)
	}()
	err = s.backend.Put(ctx, s.metaName(), data)
	return err
}

func (s *GenerationStore) LoadMeta(ctx context.Context) ([]byte, error) {
	data, err := s.backend.Get(ctx, s.metaName())
	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return nil, nil
	}
	return data, err
}
