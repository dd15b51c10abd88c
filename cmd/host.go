package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/bucket"
	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/bucket/store"
	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/dedupe"
	st "github.com/AustralianCyberSecurityCentre/azul-dedup.git/settings"
	"github.com/tidwall/gjson"
)

// Line is one JSON input line and its position in the input.
type Line struct {
	Num int64  `json:"num"`
	Raw []byte `json:"raw"`
}

func lineKey(d *st.DDDedup) bucket.KeyFunc[Line] {
	return func(l Line) (string, error) {
		r := gjson.GetBytes(l.Raw, d.KeyPath)
		if !r.Exists() || r.Type == gjson.Null {
			return "", fmt.Errorf("line %d has no key at '%s'", l.Num, d.KeyPath)
		}
		return r.String(), nil
	}
}

// lineCoordinate reads the expiry coordinate, tuple times may be strings in time_format or numbers of seconds.
func lineCoordinate(d *st.DDDedup) bucket.CoordinateFunc[Line] {
	return func(l Line) (int64, error) {
		r := gjson.GetBytes(l.Raw, d.ExpiryPath)
		switch r.Type {
		case gjson.Number:
			return r.Int(), nil
		case gjson.String:
			if d.ExpiryType == "tupletime" {
				t, err := time.Parse(d.TimeFormat, r.Str)
				if err != nil {
					return 0, fmt.Errorf("line %d: %w", l.Num, err)
				}
				return t.Unix(), nil
			}
			v, err := strconv.ParseInt(r.Str, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("line %d: %w", l.Num, err)
			}
			return v, nil
		}
		return 0, fmt.Errorf("line %d has no coordinate at '%s'", l.Num, d.ExpiryPath)
	}
}

func policyFromSettings(d *st.DDDedup) (bucket.Policy[Line], error) {
	expiry := bucket.ExpiryConfig{
		BucketSpan:    d.BucketSpan,
		ExpiryPeriod:  d.ExpiryPeriod,
		MaxExpiryJump: d.MaxExpiryJump,
		NumBuckets:    d.NumBuckets,
	}
	if d.ExpiryType == "none" || d.ExpiryType == "" {
		n := d.NumBuckets
		if n == 0 {
			n = 1024
		}
		p, err := bucket.NewHashPolicy[Line](n)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	var p *bucket.ExpiringPolicy[Line]
	var err error
	switch d.ExpiryType {
	case "ordered":
		p, err = bucket.NewOrderedPolicy(expiry, lineCoordinate(d))
	case "tupletime":
		p, err = bucket.NewTupleTimePolicy(expiry, lineCoordinate(d))
	case "systemtime":
		p, err = bucket.NewSystemTimePolicy[Line](expiry)
	case "categorical":
		p, err = bucket.NewCategoricalPolicy(expiry, lineCoordinate(d))
	default:
		return nil, fmt.Errorf("unknown expiry type '%s'", d.ExpiryType)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func partitionFromSettings(d *st.DDDedup) (bucket.Partition, error) {
	parts, err := dedupe.Partitions(d.PartitionCount)
	if err != nil {
		return bucket.Partition{}, err
	}
	if d.PartitionIndex < 0 || d.PartitionIndex >= len(parts) {
		return bucket.Partition{}, fmt.Errorf("%w: partition index %d of %d", bucket.ErrPartitioning, d.PartitionIndex, len(parts))
	}
	return parts[d.PartitionIndex], nil
}

// openStore connects the configured store for commands that work on it directly.
func openStore(ctx context.Context) (store.BucketStore, error) {
	bs, err := store.New(store.OptionsFromSettings(st.Store, st.Dedup))
	if err != nil {
		return nil, err
	}
	if err := bs.Open(ctx); err != nil {
		return nil, err
	}
	return bs, nil
}

func newLineDeduper(ctx context.Context, outputs dedupe.Outputs[Line]) (*dedupe.Deduper[Line], error) {
	policy, err := policyFromSettings(st.Dedup)
	if err != nil {
		return nil, err
	}
	partition, err := partitionFromSettings(st.Dedup)
	if err != nil {
		return nil, err
	}
	bs, err := store.New(store.OptionsFromSettings(st.Store, st.Dedup))
	if err != nil {
		return nil, err
	}
	d, err := dedupe.New(ctx, dedupe.Config[Line]{
		Key:            lineKey(st.Dedup),
		Policy:         policy,
		Store:          bs,
		Partition:      partition,
		Manager:        bucket.ConfigFromSettings[Line](st.Dedup),
		Outputs:        outputs,
		Ordered:        st.Dedup.OrderedOutput,
		PrefilterBytes: uint64(st.Dedup.PrefilterBytes),
	})
	if err != nil {
		_ = bs.Close()
		return nil, err
	}
	return d, nil
}
