package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// DefaultTTL applies when Put is given a non-positive ttl.
const DefaultTTL = 15 * time.Minute

// Stats are the cache counters. They are reset only by Clear.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Errors    int64 `json:"errors"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type options struct {
	name           string
	clock          clockz.Clock
	logger         zerolog.Logger
	defaultTTL     time.Duration
	enabledDefault bool
	copy           any
}

// Option configures a Cache.
type Option func(*options)

// WithName labels the cache in logs and signals.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithClock sets the clock used for expiry.
func WithClock(clock clockz.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithDefaultTTL replaces DefaultTTL for this cache.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(o *options) { o.defaultTTL = ttl }
}

// WithEnabledByDefault sets the global default used by ShouldCache when a
// call carries no explicit flag.
func WithEnabledByDefault(enabled bool) Option {
	return func(o *options) { o.enabledDefault = enabled }
}

// WithCopy makes the cache store a copy of every value it is given and hand
// out a fresh copy on every hit, so callers can modify what they receive.
// fn must match the cache's value type or New fails.
func WithCopy[V any](fn func(V) V) Option {
	return func(o *options) { o.copy = fn }
}

// Cache is a TTL cache over a Store. Every operation holds one mutex, so
// callers never observe a partially applied write.
type Cache[V any] struct {
	name           string
	clock          clockz.Clock
	logger         zerolog.Logger
	defaultTTL     time.Duration
	enabledDefault bool
	clone          func(V) V

	mu    sync.Mutex
	store Store[V]
	stats Stats
}

// New initializes store and returns a cache over it. A nil store means a
// fresh MemoryStore. If the store fails to initialize no cache is returned.
func New[V any](ctx context.Context, store Store[V], opts ...Option) (*Cache[V], error) {
	o := options{
		name:           "responses",
		clock:          clockz.RealClock,
		logger:         zerolog.Nop(),
		defaultTTL:     DefaultTTL,
		enabledDefault: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.defaultTTL <= 0 {
		o.defaultTTL = DefaultTTL
	}
	clone := func(v V) V { return v }
	if o.copy != nil {
		fn, ok := o.copy.(func(V) V)
		if !ok {
			return nil, fmt.Errorf("cache %s: copy function %T does not match value type", o.name, o.copy)
		}
		clone = fn
	}
	if store == nil {
		store = NewMemoryStore[V]()
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("init cache store %s: %w", o.name, err)
	}

	return &Cache[V]{
		name:           o.name,
		clock:          o.clock,
		logger:         o.logger.With().Str("component", "cache").Str("cache", o.name).Logger(),
		defaultTTL:     o.defaultTTL,
		enabledDefault: o.enabledDefault,
		clone:          clone,
		store:          store,
	}, nil
}

// Name returns the cache label.
func (c *Cache[V]) Name() string {
	return c.name
}

// EnabledByDefault is the global default for ShouldCache.
func (c *Cache[V]) EnabledByDefault() bool {
	return c.enabledDefault
}

// Get returns the value stored under key. Expired entries are removed and
// reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	entry, ok, err := c.store.Get(key)
	switch {
	case err != nil:
		c.stats.Errors++
		c.stats.Misses++
		c.mu.Unlock()
		c.fail("get", key, err)
		return zero, false

	case !ok:
		c.stats.Misses++
		c.mu.Unlock()
		capitan.Info(context.Background(), CacheMiss, NameKey.Field(c.name), KeyKey.Field(key))
		return zero, false

	case entry.Expired(c.clock.Now()):
		if err := c.store.Delete(key); err != nil {
			c.stats.Errors++
		}
		c.stats.Evictions++
		c.stats.Misses++
		c.mu.Unlock()
		capitan.Info(context.Background(), CacheEvicted, NameKey.Field(c.name), KeyKey.Field(key), CountKey.Field(1))
		capitan.Info(context.Background(), CacheMiss, NameKey.Field(c.name), KeyKey.Field(key))
		return zero, false
	}

	c.stats.Hits++
	c.mu.Unlock()
	capitan.Info(context.Background(), CacheHit, NameKey.Field(c.name), KeyKey.Field(key))
	return c.clone(entry.Value), true
}

// Put stores value under key until now+ttl. A ttl <= 0 uses the cache
// default. Store failures are counted and logged, never returned.
func (c *Cache[V]) Put(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	err := c.store.Set(key, Entry[V]{Value: c.clone(value), ExpiresAt: c.clock.Now().Add(ttl)})
	if err != nil {
		c.stats.Errors++
	}
	c.mu.Unlock()

	if err != nil {
		c.fail("put", key, err)
		return
	}
	capitan.Info(context.Background(), CacheStored, NameKey.Field(c.name), KeyKey.Field(key))
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	err := c.store.Delete(key)
	if err != nil {
		c.stats.Errors++
	}
	c.mu.Unlock()

	if err != nil {
		c.fail("delete", key, err)
	}
}

// Clear removes every entry and resets the counters.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	err := c.store.Clear()
	c.stats = Stats{}
	if err != nil {
		c.stats.Errors++
	}
	c.mu.Unlock()

	if err != nil {
		c.fail("clear", "", err)
	}
}

// Stats returns a copy of the counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	_ = c.store.Range(func(string, Entry[V]) bool {
		n++
		return true
	})
	return n
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	now := c.clock.Now()
	var expired []string
	err := c.store.Range(func(key string, e Entry[V]) bool {
		if e.Expired(now) {
			expired = append(expired, key)
		}
		return true
	})
	removed := 0
	for _, key := range expired {
		if delErr := c.store.Delete(key); delErr != nil {
			c.stats.Errors++
			continue
		}
		removed++
	}
	c.stats.Evictions += int64(removed)
	if err != nil {
		c.stats.Errors++
	}
	c.mu.Unlock()

	if err != nil {
		c.fail("sweep", "", err)
	}
	if removed > 0 {
		capitan.Info(context.Background(), CacheEvicted, NameKey.Field(c.name), CountKey.Field(removed))
	}
	return removed
}

func (c *Cache[V]) fail(op, key string, err error) {
	capitan.Error(context.Background(), CacheError, NameKey.Field(c.name), KeyKey.Field(key), ErrorKey.Field(err.Error()))
	c.logger.Warn().Err(err).Str("op", op).Str("key", key).Msg("Cache store operation failed")
}
