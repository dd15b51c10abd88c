package dedupe

import (
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/prom"
	"github.com/cespare/xxhash/v2"
)

// Lookup is the antibloom prefilter.
type Lookup struct {
	keys     []uint64
	sizeMask uint64
}

// NewLookup returns a Lookup with the specified capacity in bytes.
func NewLookup(size uint64) *Lookup {
	// round up
	size = uint64(math.Pow(2, math.Ceil(math.Log2(float64(size)))))
	if size < 8 {
		size = 8
	}
	// 8 bytes per entry (uint64)
	size = size / 8
	sizeMask := size - 1          // masked val = array index
	slice := make([]uint64, size) // prealloc to trigger any mem issues upfront
	return &Lookup{slice, sizeMask}
}

func lookupHash(bucketID int64, key string) uint64 {
	var prefix [8]byte
	binary.LittleEndian.PutUint64(prefix[:], uint64(bucketID))
	d := xxhash.New()
	_, _ = d.Write(prefix[:])
	_, _ = d.WriteString(key)
	h := d.Sum64()
	if h == 0 {
		// zero marks an empty slot
		h = 1
	}
	return h
}

// Check reports whether (bucket, key) was set and has not been displaced since.
func (l *Lookup) Check(bucketID int64, key string) bool {
	prom.DedupeCacheLookups.Inc()
	h := lookupHash(bucketID, key)
	found := atomic.LoadUint64(&l.keys[h&l.sizeMask]) == h
	if found {
		prom.DedupeCacheHits.Inc()
	}
	return found
}

// Set records (bucket, key) as seen, displacing whatever held its slot.
func (l *Lookup) Set(bucketID int64, key string) {
	h := lookupHash(bucketID, key)
	oldHash := getAndSet(l.keys, h&l.sizeMask, h)
	if oldHash != 0 && oldHash != h {
		prom.CacheCollisions.Inc()
	}
}

// getAndSet will replace a value at specified index and return previous content.
func getAndSet(arr []uint64, index uint64, val uint64) uint64 {
	indexPtr := &arr[index]
	var oldVal uint64
	for {
		oldVal = atomic.LoadUint64(indexPtr)
		if atomic.CompareAndSwapUint64(indexPtr, oldVal, val) {
			break
		}
	}
	return oldVal
}
