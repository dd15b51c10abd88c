/*
Package bucket maps events to buckets and keeps the buckets a worker needs resident in memory.
*/
package bucket

import (
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Sentinel bucket keys returned by Classify.
const (
	Expired int64 = -1
	Invalid int64 = -2
)

// nowFunc is the clock used by the system time policy
var nowFunc = time.Now

// KeyFunc extracts the dedup key of an event.
type KeyFunc[E any] func(E) (string, error)

// CoordinateFunc extracts the expiry coordinate of an event, a sequence number, unix seconds or a category.
type CoordinateFunc[E any] func(E) (int64, error)

// PolicyState is the part of a policy that must survive a restart.
type PolicyState struct {
	Initialised bool  `json:"initialised"`
	Horizon     int64 `json:"horizon"`
}

// Merge keeps the furthest horizon of two states.
func (s PolicyState) Merge(o PolicyState) PolicyState {
	if !s.Initialised {
		return o
	}
	if !o.Initialised {
		return s
	}
	return PolicyState{Initialised: true, Horizon: max(s.Horizon, o.Horizon)}
}

// Policy classifies events into bucket ids or one of the Expired and Invalid sentinels.
type Policy[E any] interface {
	Classify(key string, e E) int64
	// NumBuckets is the number of slots bucket ids are spread over
	NumBuckets() int
	// Slot of a bucket id. A resident bucket whose slot is taken by a later id is evicted at batch end.
	Slot(id int64) int
	Expiring() bool
	// LiveFrom is the smallest bucket id that is not fully expired
	LiveFrom() int64
	State() PolicyState
	Restore(PolicyState)
}

// HashPolicy spreads keys over a fixed number of buckets and never expires anything.
type HashPolicy[E any] struct {
	n int
}

func NewHashPolicy[E any](n int) (*HashPolicy[E], error) {
	if n < 1 {
		return nil, fmt.Errorf("number of buckets must be positive, got %d", n)
	}
	return &HashPolicy[E]{n: n}, nil
}

func (p *HashPolicy[E]) Classify(key string, e E) int64 {
	return int64(xxhash.Sum64String(key) % uint64(p.n))
}

func (p *HashPolicy[E]) NumBuckets() int { return p.n }
func (p *HashPolicy[E]) Slot(id int64) int { return int(id) }
func (p *HashPolicy[E]) Expiring() bool { return false }
func (p *HashPolicy[E]) LiveFrom() int64 { return 0 }
func (p *HashPolicy[E]) State() PolicyState { return PolicyState{} }
func (p *HashPolicy[E]) Restore(PolicyState) {}

// ExpiryConfig configures the expiring policies. Zero NumBuckets derives ceil(expiry/span)+2.
type ExpiryConfig struct {
	BucketSpan    int64
	ExpiryPeriod  int64
	MaxExpiryJump int64 // 0 leaves the horizon advance unbounded
	NumBuckets    int
}

func (c ExpiryConfig) withDefaults() (ExpiryConfig, error) {
	if c.BucketSpan <= 0 {
		return c, fmt.Errorf("bucket span must be positive, got %d", c.BucketSpan)
	}
	if c.ExpiryPeriod < 0 {
		return c, fmt.Errorf("expiry period must not be negative, got %d", c.ExpiryPeriod)
	}
	if c.MaxExpiryJump < 0 {
		return c, fmt.Errorf("max expiry jump must not be negative, got %d", c.MaxExpiryJump)
	}
	if c.NumBuckets == 0 {
		c.NumBuckets = int((c.ExpiryPeriod+c.BucketSpan-1)/c.BucketSpan) + 2
	}
	if c.NumBuckets < 1 {
		return c, fmt.Errorf("number of buckets must be positive, got %d", c.NumBuckets)
	}
	return c, nil
}

/*
ExpiringPolicy tracks a high water coordinate, the horizon.

An event further than the expiry period behind the horizon is expired. Otherwise the horizon moves
up to the event, by at most MaxExpiryJump, and the event lands in bucket floor(coordinate/span).
Bucket ids are logical window indexes, the slot they occupy is id mod NumBuckets. The default
NumBuckets holds every live window in its own slot, so a window sharing a slot with a later one
has expired.
*/
type ExpiringPolicy[E any] struct {
	name  string
	cfg   ExpiryConfig
	coord CoordinateFunc[E]
	state PolicyState
}

var errNegativeCoordinate = errors.New("negative coordinate")

func newExpiringPolicy[E any](name string, cfg ExpiryConfig, coord CoordinateFunc[E]) (*ExpiringPolicy[E], error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("%s policy: %w", name, err)
	}
	if coord == nil {
		return nil, fmt.Errorf("%s policy: no coordinate accessor", name)
	}
	return &ExpiringPolicy[E]{name: name, cfg: cfg, coord: coord}, nil
}

// NewOrderedPolicy expires on a sequence number carried by the event.
func NewOrderedPolicy[E any](cfg ExpiryConfig, coord CoordinateFunc[E]) (*ExpiringPolicy[E], error) {
	return newExpiringPolicy("ordered", cfg, coord)
}

// NewTupleTimePolicy expires on an event time in seconds carried by the event.
func NewTupleTimePolicy[E any](cfg ExpiryConfig, coord CoordinateFunc[E]) (*ExpiringPolicy[E], error) {
	return newExpiringPolicy("tupletime", cfg, coord)
}

// NewSystemTimePolicy expires on the time the event is processed.
func NewSystemTimePolicy[E any](cfg ExpiryConfig) (*ExpiringPolicy[E], error) {
	return newExpiringPolicy("systemtime", cfg, func(E) (int64, error) { return nowFunc().Unix(), nil })
}

// NewCategoricalPolicy expires on a category index, one bucket per category.
// The expiry period counts categories.
func NewCategoricalPolicy[E any](cfg ExpiryConfig, category CoordinateFunc[E]) (*ExpiringPolicy[E], error) {
	cfg.BucketSpan = 1
	return newExpiringPolicy("categorical", cfg, category)
}

func (p *ExpiringPolicy[E]) Classify(key string, e E) int64 {
	c, err := p.coord(e)
	if err == nil && c < 0 {
		err = errNegativeCoordinate
	}
	if err != nil {
		return Invalid
	}
	if !p.state.Initialised {
		p.state = PolicyState{Initialised: true, Horizon: c}
	} else if p.state.Horizon-c > p.cfg.ExpiryPeriod {
		return Expired
	} else if c > p.state.Horizon {
		h := c
		if p.cfg.MaxExpiryJump > 0 {
			h = min(h, p.state.Horizon+p.cfg.MaxExpiryJump)
		}
		p.state.Horizon = h
	}
	return c / p.cfg.BucketSpan
}

func (p *ExpiringPolicy[E]) NumBuckets() int { return p.cfg.NumBuckets }

func (p *ExpiringPolicy[E]) Slot(id int64) int { return int(id % int64(p.cfg.NumBuckets)) }

func (p *ExpiringPolicy[E]) Expiring() bool { return true }

func (p *ExpiringPolicy[E]) LiveFrom() int64 {
	if !p.state.Initialised {
		return 0
	}
	return max(0, floorDiv(p.state.Horizon-p.cfg.ExpiryPeriod, p.cfg.BucketSpan))
}

func (p *ExpiringPolicy[E]) State() PolicyState { return p.state }

func (p *ExpiringPolicy[E]) Restore(s PolicyState) { p.state = s }

func (p *ExpiringPolicy[E]) Name() string { return p.name }

func (p *ExpiringPolicy[E]) Config() ExpiryConfig { return p.cfg }

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
