package bucket

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartitionOwnership(t *testing.T) {
	whole := WholePartition()
	halves := []Partition{{Keys: []int{0}, Mask: 1}, {Keys: []int{1}, Mask: 1}}
	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("key-%d", i)
		require.True(t, whole.OwnsKey(k))
		owners := 0
		for _, p := range halves {
			if p.OwnsKey(k) {
				owners++
			}
		}
		require.Equal(t, 1, owners, k)
	}
}

func TestPartitionHashBucketAlignment(t *testing.T) {
	// for the hash policy bucket ownership matches key ownership
	p := Partition{Keys: []int{1, 2}, Mask: 3}
	hp, err := NewHashPolicy[tev](8)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("key-%d", i)
		id := hp.Classify(k, tev{})
		require.Equal(t, p.OwnsKey(k), p.ownsClass(hp.Slot(id)&p.Mask), k)
	}
}

func TestPartitionValidate(t *testing.T) {
	tables := []struct {
		p        Partition
		n        int
		expiring bool
		ok       bool
	}{
		{WholePartition(), 7, false, true},
		{Partition{Keys: []int{0, 1}, Mask: 3}, 8, false, true},
		{Partition{Keys: []int{0, 1}, Mask: 3}, 6, false, false},
		{Partition{Keys: []int{0, 1}, Mask: 3}, 6, true, true},
		{Partition{Keys: []int{0}, Mask: 2}, 8, false, false},
		{Partition{Keys: []int{4}, Mask: 3}, 8, false, false},
		{Partition{Keys: []int{}, Mask: 3}, 8, false, false},
	}
	for _, table := range tables {
		err := table.p.Validate(table.n, table.expiring)
		if table.ok {
			require.NoError(t, err, "%v", table)
		} else {
			require.True(t, errors.Is(err, ErrPartitioning), "%v", table)
		}
	}
}
