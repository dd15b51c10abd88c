package bucket

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
)

var ErrPartitioning = errors.New("invalid partitioning")

// KeyHash is the hash used for bucket placement and partition ownership.
func KeyHash(key string) uint64 {
	return xxhash.Sum64String(key)
}

// Partition is the set of hash classes owned by one worker. A hash h belongs to class h&Mask.
type Partition struct {
	Keys []int `json:"keys"`
	Mask int   `json:"mask"`
}

// WholePartition owns everything.
func WholePartition() Partition {
	return Partition{Keys: []int{0}, Mask: 0}
}

func (p Partition) ownsClass(class int) bool {
	return slices.Contains(p.Keys, class)
}

func (p Partition) OwnsHash(h uint64) bool {
	return p.ownsClass(int(h & uint64(p.Mask)))
}

func (p Partition) OwnsKey(key string) bool {
	return p.OwnsHash(KeyHash(key))
}

// Validate checks the mask is a power of two minus one and that hash bucket slots line up with it.
func (p Partition) Validate(numBuckets int, expiring bool) error {
	if p.Mask < 0 || (p.Mask+1)&p.Mask != 0 {
		return fmt.Errorf("%w: mask %d is not a power of two minus one", ErrPartitioning, p.Mask)
	}
	if len(p.Keys) == 0 {
		return fmt.Errorf("%w: partition owns no keys", ErrPartitioning)
	}
	for _, k := range p.Keys {
		if k < 0 || k > p.Mask {
			return fmt.Errorf("%w: key %d outside mask %d", ErrPartitioning, k, p.Mask)
		}
	}
	if !expiring && numBuckets%(p.Mask+1) != 0 {
		return fmt.Errorf("%w: %d buckets is not a multiple of %d", ErrPartitioning, numBuckets, p.Mask+1)
	}
	return nil
}

func (p Partition) String() string {
	return fmt.Sprintf("%v/%d", p.Keys, p.Mask)
}
