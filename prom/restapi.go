package prom

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RestapiTimes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dedup_restapi_duration",
		Help:    "Time taken to answer status router requests",
		Buckets: []float64{.0001, .001, .01, .1, .5, 1.0, 5.0},
	}, []string{"method", "route"})
	RestapiCodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dedup_restapi_responses_total",
		Help: "The total number of status router responses, by code",
	}, []string{"method", "route", "code"})
)
