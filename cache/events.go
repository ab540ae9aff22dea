package cache

import "github.com/zoobzio/capitan"

var (
	CacheHit         = capitan.NewSignal("cache.hit", "Cache hit")
	CacheMiss        = capitan.NewSignal("cache.miss", "Cache miss")
	CacheStored      = capitan.NewSignal("cache.stored", "Response stored in cache")
	CacheEvicted     = capitan.NewSignal("cache.evicted", "Expired entries evicted")
	CacheError       = capitan.NewSignal("cache.error", "Cache store failure")
	WriteBehindDrop  = capitan.NewSignal("cache.writebehind.dropped", "Write-behind job dropped")
	WriteBehindError = capitan.NewSignal("cache.writebehind.failed", "Write-behind job failed")
)

var (
	NameKey  = capitan.NewStringKey("cache")
	KeyKey   = capitan.NewStringKey("cache_key")
	CountKey = capitan.NewIntKey("count")
	ErrorKey = capitan.NewStringKey("error")
)
