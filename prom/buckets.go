package prom

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BucketsResident = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dedup_buckets_resident",
		Help: "Buckets fully loaded in memory",
	})
	BucketsLoading = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dedup_buckets_loading",
		Help: "Bucket loads dispatched and not yet complete",
	})
	BucketEventsInMemory = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dedup_bucket_events_in_memory",
		Help: "Keys held by resident buckets, committed and uncommitted",
	})
	BucketLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dedup_bucket_loads_total",
		Help: "The total number of bucket loads, by result",
	}, []string{"result"})
	BucketLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dedup_bucket_load_duration",
		Help:    "Duration of a bucket load including every generation",
		Buckets: []float64{.001, .005, .01, .025, .050, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})
	BucketsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedup_buckets_evicted_total",
		Help: "The total number of buckets dropped from memory",
	})
	BucketsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedup_buckets_deleted_total",
		Help: "The total number of expired buckets deleted from the store",
	})
	BucketFlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedup_bucket_flush_failures_total",
		Help: "The total number of commits whose flush failed and will be retried",
	})
	BucketEventsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedup_bucket_events_committed_total",
		Help: "The total number of keys made durable",
	})
	LoadPoolUtilization = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dedup_load_pool_utilization",
		Help: "Percentage of load pool workers busy reading a bucket",
	}, []string{"pool"})
	LoadPoolQueued = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dedup_load_pool_queued",
		Help: "Bucket loads queued for a free load pool worker",
	}, []string{"pool"})
)
