package imagecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghibli_image_cache_hits_total",
		Help: "Number of image cache lookups that found an image.",
	}, []string{"cache"})
	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghibli_image_cache_misses_total",
		Help: "Number of image cache lookups that didn't find an image.",
	}, []string{"cache"})
	cacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghibli_image_cache_evictions_total",
		Help: "Number of images evicted to stay within the cache's limits.",
	}, []string{"cache"})
	cacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ghibli_image_cache_entries",
		Help: "Number of cached images.",
	}, []string{"cache"})
	cacheCost = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ghibli_image_cache_cost_bytes",
		Help: "Estimated memory footprint of all cached images.",
	}, []string{"cache"})
)
