// Package cache implements the TTL response cache.
//
// A Cache serializes every operation through one mutex over a pluggable
// Store (MemoryStore by default). Entries expire lazily on Get; Sweep and
// the cron-driven Janitor remove expired entries in bulk but are never
// needed for correctness.
//
// WithCache wraps a call: hits skip the call, successful misses are stored,
// and errors are never cached. ShouldCache decides eligibility: streaming,
// tool-using and structured-output calls are never cached. A WriteBehind
// pool can persist stored results to a durable Sink without blocking the
// caller.
package cache
