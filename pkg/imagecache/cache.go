package imagecache

import (
	"errors"
	"image"
	"strconv"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
)

// BytesPerPixel is the assumed memory footprint of one decoded RGBA pixel.
const BytesPerPixel = 4

type Options struct {
	// Max number of cached images
	MaxEntries int
	// Max sum of the cost of all cached images, in bytes
	MaxCost int64
	// Used for logs and metric labels
	Name string
}

func NewOpts(maxEntries int, maxCost int64, name string) Options {
	return Options{
		MaxEntries: maxEntries,
		MaxCost:    maxCost,
		Name:       name,
	}
}

var DefaultOptions = Options{
	MaxEntries: 100,
	MaxCost:    50 * 1024 * 1024,
	Name:       "images",
}

type entry struct {
	img  image.Image
	cost int64
}

// Cache is an in-memory cache for decoded images, keyed by their source URL.
// It evicts the least recently used images when storing another one would exceed either
// the max number of entries or the max total cost.
// It's safe for concurrent use.
type Cache struct {
	name       string
	maxEntries int
	maxCost    int64
	logger     *zap.Logger

	// lru isn't safe for concurrent use and Get changes the recency list, so a plain mutex guards everything.
	lock      *sync.Mutex
	lru       *simplelru.LRU[string, entry]
	totalCost int64
	hits      uint64
	misses    uint64
	evictions uint64
}

// New creates a new Cache.
func New(opts Options, logger *zap.Logger) (*Cache, error) {
	// Precondition check
	if opts.MaxEntries <= 0 {
		return nil, errors.New("opts.MaxEntries must be greater than 0")
	}
	if opts.MaxCost <= 0 {
		return nil, errors.New("opts.MaxCost must be greater than 0")
	}
	if opts.Name == "" {
		opts.Name = DefaultOptions.Name
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Cache{
		name:       opts.Name,
		maxEntries: opts.MaxEntries,
		maxCost:    opts.MaxCost,
		logger:     logger,
		lock:       &sync.Mutex{},
	}
	// The callback runs for every removal (eviction, Remove and Purge), so the total cost is only maintained here.
	lru, err := simplelru.NewLRU[string, entry](opts.MaxEntries, func(_ string, e entry) {
		c.totalCost -= e.cost
	})
	if err != nil {
		return nil, err
	}
	c.lru = lru
	return c, nil
}

// Cost returns the estimated memory footprint of a decoded image in bytes.
func Cost(img image.Image) int64 {
	if img == nil {
		return 0
	}
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * BytesPerPixel
}

// Get returns the image cached for the given key and marks it as recently used.
// The boolean return value signals if the image was found in the cache.
func (c *Cache) Get(key string) (image.Image, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	e, found := c.lru.Get(key)
	if !found {
		c.misses++
		cacheMisses.WithLabelValues(c.name).Inc()
		return nil, false
	}
	c.hits++
	cacheHits.WithLabelValues(c.name).Inc()
	return e.img, true
}

// Put stores an image under the given key, replacing any image that's already cached for the key.
// Least recently used images are evicted until the new image fits.
// An image whose cost alone exceeds the max total cost isn't stored, Put then returns false
// and the key is no longer cached.
func (c *Cache) Put(key string, img image.Image) bool {
	if img == nil {
		return false
	}
	cost := Cost(img)

	c.lock.Lock()
	defer c.lock.Unlock()
	defer c.updateGauges()

	// Removing first makes sure the old cost is subtracted and the key counts as most recently used afterwards.
	c.lru.Remove(key)

	if cost > c.maxCost {
		c.logger.Warn("Image is bigger than the whole cache, not caching it",
			zap.String("cache", c.name), zap.String("key", key), zap.Int64("cost", cost), zap.Int64("maxCost", c.maxCost))
		return false
	}

	var evicted uint64
	for c.totalCost+cost > c.maxCost {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
		evicted++
	}
	if c.lru.Add(key, entry{img: img, cost: cost}) {
		evicted++
	}
	c.totalCost += cost

	if evicted > 0 {
		c.evictions += evicted
		cacheEvictions.WithLabelValues(c.name).Add(float64(evicted))
		c.logger.Debug("Evicted images", zap.String("cache", c.name), zap.Uint64("count", evicted))
	}
	return true
}

// Remove removes the image cached for the given key. It's a no-op if there's none.
func (c *Cache) Remove(key string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.lru.Remove(key)
	c.updateGauges()
}

// Clear removes all images.
func (c *Cache) Clear() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.lru.Purge()
	c.updateGauges()
}

// Len returns the number of cached images.
func (c *Cache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.lru.Len()
}

// TotalCost returns the sum of the cost of all cached images.
func (c *Cache) TotalCost() int64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.totalCost
}

// Stats is a snapshot of a Cache's counters and usage.
type Stats struct {
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Entries    int
	Cost       int64
	MaxEntries int
	MaxCost    int64
}

func (c *Cache) Stats() Stats {
	c.lock.Lock()
	defer c.lock.Unlock()
	return Stats{
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
		Entries:    c.lru.Len(),
		Cost:       c.totalCost,
		MaxEntries: c.maxEntries,
		MaxCost:    c.maxCost,
	}
}

// LogStats logs the current stats with INFO level.
func (c *Cache) LogStats() {
	stats := c.Stats()
	c.logger.Info("Cache stats",
		zap.String("cache", c.name),
		zap.Uint64("Hits", stats.Hits),
		zap.Uint64("Misses", stats.Misses),
		zap.Uint64("Evictions", stats.Evictions),
		zap.Int("EntriesCount", stats.Entries),
		zap.String("Size", strconv.FormatInt(stats.Cost/1024/1024, 10)+"MB"),
	)
}

// updateGauges must be called with the lock held.
func (c *Cache) updateGauges() {
	cacheEntries.WithLabelValues(c.name).Set(float64(c.lru.Len()))
	cacheCost.WithLabelValues(c.name).Set(float64(c.totalCost))
}
