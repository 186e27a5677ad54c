package openmeteo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/lawn-watering-advisor/internal/domain"
	"github.com/couchcryptid/lawn-watering-advisor/internal/observability"
)

// Fetcher retrieves a precipitation series for a coordinate.
type Fetcher interface {
	FetchRainfall(ctx context.Context, lat, lon float64) (domain.PrecipitationSeries, error)
}

// SeriesCache stores series by key. Implementations must be safe for
// concurrent use.
type SeriesCache interface {
	Get(ctx context.Context, key string) (domain.PrecipitationSeries, bool, error)
	Set(ctx context.Context, key string, series domain.PrecipitationSeries, ttl time.Duration) error
}

// CachedFetcher wraps a Fetcher with a cache keyed by coordinate and day.
// Cache failures are logged and fall through to the inner fetcher.
type CachedFetcher struct {
	inner    Fetcher
	cache    SeriesCache
	ttl      time.Duration
	location *time.Location
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewCachedFetcher creates a cache decorator around a fetcher. Entries expire
// after ttl and never outlive the calendar day in loc.
func NewCachedFetcher(inner Fetcher, cache SeriesCache, ttl time.Duration, loc *time.Location, logger *slog.Logger, metrics *observability.Metrics) *CachedFetcher {
	if loc == nil {
		loc = domain.RegionLocation()
	}
	return &CachedFetcher{inner: inner, cache: cache, ttl: ttl, location: loc, logger: logger, metrics: metrics}
}

func (c *CachedFetcher) FetchRainfall(ctx context.Context, lat, lon float64) (domain.PrecipitationSeries, error) {
	// Four decimals is roughly 10m, well inside one forecast grid cell.
	key := fmt.Sprintf("rain:%s:%.4f,%.4f", domain.Today(c.location).Format(dateLayout), lat, lon)

	series, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("rainfall cache get failed", "key", key, "error", err)
	}
	if ok {
		c.metrics.RainfallCache.WithLabelValues("hit").Inc()
		return series, nil
	}
	c.metrics.RainfallCache.WithLabelValues("miss").Inc()

	series, err = c.inner.FetchRainfall(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	// Short series are not cached so a provider hiccup can be retried.
	if len(series) >= domain.MinSeriesLength {
		if err := c.cache.Set(ctx, key, series, c.ttl); err != nil {
			c.logger.Warn("rainfall cache set failed", "key", key, "error", err)
		}
	}
	return series, nil
}

// MemoryCache is a thread-safe LRU with per-entry expiry.
type MemoryCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key       string
	value     domain.PrecipitationSeries
	expiresAt time.Time
	prev      *entry
	next      *entry
}

// NewMemoryCache creates an LRU holding at most maxEntries series.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &MemoryCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (domain.PrecipitationSeries, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !domain.Now().Before(e.expiresAt) {
		c.remove(e)
		delete(c.entries, key)
		return nil, false, nil
	}
	c.moveToFront(e)
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, series domain.PrecipitationSeries, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = domain.Now().Add(ttl)
	}

	if e, ok := c.entries[key]; ok {
		e.value = series
		e.expiresAt = expiresAt
		c.moveToFront(e)
		return nil
	}

	e := &entry{key: key, value: series, expiresAt: expiresAt}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
	return nil
}

// Len reports the number of cached entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *MemoryCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *MemoryCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *MemoryCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
