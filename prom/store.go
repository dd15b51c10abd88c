package prom

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StoreUploaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dedup_store_uploaded_bytes_total",
		Help: "The total number of bytes written to the bucket store",
	}, []string{"backend"})
	StoreDownloaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dedup_store_downloaded_bytes_total",
		Help: "The total number of bytes read from the bucket store",
	}, []string{"backend"})
	CacheLookups = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedup_store_cache_lookups_total",
		Help: "The total number of generation cache lookups performed",
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedup_store_cache_hits_total",
		Help: "The total number of generation cache hits",
	})
	StoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dedup_store_op_duration",
		Help:    "Duration of a bucket store backend operation",
		Buckets: []float64{.005, .01, .025, .050, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"backend", "method", "result"})
)
