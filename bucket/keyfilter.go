package bucket

import (
	"math"

	"github.com/cespare/xxhash/v2"
)

// KeyFilter is a bloom filter over the keys of one bucket. A miss proves the key is absent.
type KeyFilter struct {
	bits      []uint64
	size      uint64
	hashCount uint64
}

// NewKeyFilter sizes a filter for expected keys at the given false positive rate.
func NewKeyFilter(expected int, falsePositiveRate float64) *KeyFilter {
	if expected < 1 {
		expected = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	// m = -(n * ln(p)) / (ln(2)^2)
	size := uint64(-float64(expected) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2))
	size = max(size, 64)
	// k = (m/n) * ln(2)
	hashCount := max(uint64(float64(size)/float64(expected)*math.Ln2), 1)
	return &KeyFilter{
		bits:      make([]uint64, (size+63)/64),
		size:      size,
		hashCount: hashCount,
	}
}

// double hashing: h(i) = h1 + i*h2
func (f *KeyFilter) hashes(key string) (uint64, uint64) {
	h1 := xxhash.Sum64String(key)
	h2 := (h1 >> 33) | (h1 << 31) | 1
	return h1, h2
}

func (f *KeyFilter) Add(key string) {
	h1, h2 := f.hashes(key)
	for i := uint64(0); i < f.hashCount; i++ {
		bit := (h1 + i*h2) % f.size
		f.bits[bit/64] |= 1 << (bit % 64)
	}
}

func (f *KeyFilter) MayContain(key string) bool {
	h1, h2 := f.hashes(key)
	for i := uint64(0); i < f.hashCount; i++ {
		bit := (h1 + i*h2) % f.size
		if f.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}
