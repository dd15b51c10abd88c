package prom

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DedupeDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dedup_decisions_total",
		Help: "The total number of events emitted, by outcome",
	}, []string{"outcome"})
	DedupeWaitingEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dedup_waiting_events",
		Help: "Events waiting for their bucket to load",
	})
	DedupeUnresolvedDecisions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dedup_unresolved_decisions",
		Help: "Ordered output entries held back behind an unresolved decision",
	})
	DedupeBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dedup_end_batch_duration",
		Help:    "Time spent blocked in EndBatch waiting for loads",
		Buckets: []float64{.0001, .001, .01, .1, .5, 1.0, 5.0, 10.0, 30.0},
	})
	DedupeCacheLookups = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedup_prefilter_lookups_total",
		Help: "The total number of prefilter lookups",
	})
	DedupeCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedup_prefilter_hits_total",
		Help: "The total number of prefilter hits",
	})
	CacheCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedup_prefilter_collisions_total",
		Help: "The total number of prefilter slot collisions",
	})
)
