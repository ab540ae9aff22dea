package cache

import (
	"context"
	"errors"
	"time"
)

type writeConfig struct {
	ttl         time.Duration
	writeBehind *WriteBehind
	meta        Metadata
}

// WriteOption configures a single WithCache call.
type WriteOption func(*writeConfig)

// WithTTL sets the ttl of the stored result.
func WithTTL(ttl time.Duration) WriteOption {
	return func(w *writeConfig) { w.ttl = ttl }
}

// WithWriteBehind additionally submits a stored result to wb.
func WithWriteBehind(wb *WriteBehind, meta Metadata) WriteOption {
	return func(w *writeConfig) {
		w.writeBehind = wb
		w.meta = meta
	}
}

// WithCache returns the cached value for key if there is one; otherwise it
// calls fn and stores a successful result. Errors are never cached. Calls
// that ShouldCache rejects go straight to fn. The boolean reports a hit.
func WithCache[V any](ctx context.Context, c *Cache[V], key string, opts CallOptions, fn func(ctx context.Context) (V, error), wopts ...WriteOption) (V, bool, error) {
	if c == nil || !ShouldCache(opts, c.EnabledByDefault()) {
		v, err := fn(ctx)
		return v, false, err
	}

	if v, ok := c.Get(key); ok {
		return v, true, nil
	}

	v, err := fn(ctx)
	if err != nil {
		return v, false, err
	}

	var w writeConfig
	for _, opt := range wopts {
		opt(&w)
	}
	c.Put(key, v, w.ttl)

	if w.writeBehind != nil {
		if err := w.writeBehind.Submit(Record{Key: key, Value: c.clone(v), Metadata: w.meta}); err != nil && !errors.Is(err, ErrQueueFull) {
			c.logger.Warn().Err(err).Str("cache_key", key).Msg("Write-behind submit failed")
		}
	}
	return v, false, nil
}
