// Package clientcache builds expensive provider clients at most once per
// distinct (provider, configuration) pair, even under concurrent first use.
package clientcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"
)

// Hashable is a configuration that can list the fields affecting the
// constructed client.
type Hashable interface {
	HashFields() map[string]any
}

// Fields adapts a plain map to Hashable.
type Fields map[string]any

// HashFields implements Hashable.
func (f Fields) HashFields() map[string]any { return f }

// Cache maps (provider, config hash) to a constructed client. Published
// entries are immutable and only removed by Clear.
type Cache[C any] struct {
	ready  sync.Map // key -> C
	group  singleflight.Group
	logger zerolog.Logger
}

// New creates an empty cache.
func New[C any](logger zerolog.Logger) *Cache[C] {
	return &Cache[C]{logger: logger.With().Str("component", "clientCache").Logger()}
}

// GetOrCreate returns the client for provider and cfg, calling create if no
// client has been published yet. Concurrent callers for the same key share
// one create call and receive the same client. A failed create is not
// cached; the next caller tries again.
func (c *Cache[C]) GetOrCreate(provider string, cfg Hashable, create func() (C, error)) (C, error) {
	key := provider + ":" + Hash(provider, cfg.HashFields())

	if v, ok := c.ready.Load(key); ok {
		return v.(C), nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		// a previous flight may have published while we queued
		if v, ok := c.ready.Load(key); ok {
			return v, nil
		}
		client, err := create()
		if err != nil {
			return nil, err
		}
		c.ready.Store(key, client)
		c.logger.Debug().Str("provider", provider).Msg("Constructed client")
		return client, nil
	})
	if err != nil {
		var zero C
		return zero, fmt.Errorf("create %s client: %w", provider, err)
	}
	if shared {
		c.logger.Debug().Str("provider", provider).Msg("Joined in-flight client construction")
	}
	return v.(C), nil
}

// Len returns the number of published clients.
func (c *Cache[C]) Len() int {
	n := 0
	c.ready.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Clear drops every published client. In-flight constructions still publish.
func (c *Cache[C]) Clear() {
	c.ready.Clear()
}

// Hash returns a stable digest of fields. Nil and zero values are dropped so
// that an absent field and an explicitly empty one hash identically.
func Hash(provider string, fields map[string]any) string {
	present := lo.OmitBy(fields, func(_ string, v any) bool {
		return v == nil || reflect.ValueOf(v).IsZero()
	})
	keys := lo.Keys(present)
	slices.Sort(keys)

	h := sha256.New()
	h.Write([]byte(provider))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write(encode(present[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Appendf(nil, "%#v", v)
	}
	return b
}
