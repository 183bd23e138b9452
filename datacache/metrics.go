package datacache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var hitCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "datagate_dataset_cache_hits",
	Help: "Dataset requests served from the local cache",
})

var missCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "datagate_dataset_cache_misses",
	Help: "Dataset requests that refreshed from the object store",
})

var bypassCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "datagate_dataset_cache_bypasses",
	Help: "Dataset requests routed around the cache by a bypass token",
})

var fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "datagate_store_fetch_duration",
	Help:    "Time to fetch a dataset snapshot from the object store",
	Buckets: prometheus.ExponentialBucketsRange(0.001, 10, 15),
})
