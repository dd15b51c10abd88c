package bucket

import (
	"time"

	"github.com/goccy/go-json"
)

// Codec converts events to and from their stored form.
type Codec[E any] interface {
	Encode(E) ([]byte, error)
	Decode([]byte) (E, error)
}

// JSONCodec stores events as JSON.
type JSONCodec[E any] struct{}

func (JSONCodec[E]) Encode(e E) ([]byte, error) { return json.Marshal(e) }

func (JSONCodec[E]) Decode(data []byte) (E, error) {
	var e E
	err := json.Unmarshal(data, &e)
	return e, err
}

type pendingEntry[E any] struct {
	event E
	batch int64
}

// Bucket holds the keys of one bucket id. Committed keys are durable, uncommitted keys are tagged
// with the batch that produced them until a commit covering that batch has been written.
type Bucket[E any] struct {
	ID                   int64
	committed            map[string]E
	uncommitted          map[string]pendingEntry[E]
	keysOnly             bool
	loaded               bool
	lastLoadedGeneration int64
	inMemorySince        time.Time
	lastTouchedBatch     int64
	filter               *KeyFilter
}

// NewBucket returns an empty placeholder, filter may be nil.
func NewBucket[E any](id int64, keysOnly bool, filter *KeyFilter) *Bucket[E] {
	return &Bucket[E]{
		ID:                   id,
		committed:            map[string]E{},
		uncommitted:          map[string]pendingEntry[E]{},
		keysOnly:             keysOnly,
		lastLoadedGeneration: -1,
		lastTouchedBatch:     -1,
		filter:               filter,
	}
}

// install replaces the committed view with store contents.
func (b *Bucket[E]) install(entries map[string]E, generation int64, now time.Time) {
	b.committed = entries
	if b.filter != nil {
		for k := range entries {
			b.filter.Add(k)
		}
	}
	b.loaded = true
	b.lastLoadedGeneration = generation
	b.inMemorySince = now
}

func (b *Bucket[E]) ContainsKey(k string) bool {
	if b.filter != nil && !b.filter.MayContain(k) {
		return false
	}
	if _, ok := b.uncommitted[k]; ok {
		return true
	}
	_, ok := b.committed[k]
	return ok
}

func (b *Bucket[E]) Get(k string) (E, bool) {
	if p, ok := b.uncommitted[k]; ok {
		return p.event, true
	}
	e, ok := b.committed[k]
	return e, ok
}

// Put adds a key produced by batch. No I/O happens until the batch is committed.
func (b *Bucket[E]) Put(k string, e E, batch int64) {
	b.uncommitted[k] = pendingEntry[E]{event: e, batch: batch}
	if b.filter != nil {
		b.filter.Add(k)
	}
}

// MarkFlushed moves entries of batches up to upTo into the committed view.
func (b *Bucket[E]) MarkFlushed(upTo int64) int {
	moved := 0
	for k, p := range b.uncommitted {
		if p.batch > upTo {
			continue
		}
		if b.keysOnly {
			var zero E
			b.committed[k] = zero
		} else {
			b.committed[k] = p.event
		}
		delete(b.uncommitted, k)
		moved++
	}
	return moved
}

// Pending returns uncommitted entries of batches up to upTo.
func (b *Bucket[E]) Pending(upTo int64) map[string]E {
	ret := map[string]E{}
	for k, p := range b.uncommitted {
		if p.batch <= upTo {
			ret[k] = p.event
		}
	}
	return ret
}

// All returns the committed entries plus the pending entries of batches up to upTo.
func (b *Bucket[E]) All(upTo int64) map[string]E {
	ret := make(map[string]E, len(b.committed)+len(b.uncommitted))
	for k, e := range b.committed {
		ret[k] = e
	}
	for k, e := range b.Pending(upTo) {
		ret[k] = e
	}
	return ret
}

func (b *Bucket[E]) Dirty() bool { return len(b.uncommitted) > 0 }

func (b *Bucket[E]) Len() int { return len(b.committed) + len(b.uncommitted) }

func (b *Bucket[E]) IsLoaded() bool { return b.loaded }

func (b *Bucket[E]) LastLoadedGeneration() int64 { return b.lastLoadedGeneration }

func (b *Bucket[E]) InMemorySince() time.Time { return b.inMemorySince }
