package resilience

import (
	"maps"
	"slices"
	"sync"

	"github.com/rs/zerolog"
)

// BreakerSet holds one CircuitBreaker per provider/endpoint pair, created on
// first use and kept for the life of the process.
type BreakerSet struct {
	cfg    BreakerConfig
	opts   []BreakerOption
	logger zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet creates an empty set whose breakers share cfg.
func NewBreakerSet(cfg BreakerConfig, logger zerolog.Logger, opts ...BreakerOption) *BreakerSet {
	return &BreakerSet{
		cfg:      cfg,
		opts:     opts,
		logger:   logger.With().Str("component", "breakers").Logger(),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for provider/endpoint, creating it if needed.
func (s *BreakerSet) Get(provider, endpoint string) *CircuitBreaker {
	name := provider + "/" + endpoint

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[name]; ok {
		return b
	}
	b := NewCircuitBreaker(name, s.cfg, s.opts...)
	s.breakers[name] = b
	s.logger.Debug().Str("breaker", name).Msg("Created circuit breaker")
	return b
}

// Snapshots returns the state of every breaker, ordered by name.
func (s *BreakerSet) Snapshots() []Snapshot {
	s.mu.Lock()
	names := slices.Sorted(maps.Keys(s.breakers))
	breakers := make([]*CircuitBreaker, len(names))
	for i, name := range names {
		breakers[i] = s.breakers[name]
	}
	s.mu.Unlock()

	out := make([]Snapshot, len(breakers))
	for i, b := range breakers {
		out[i] = b.Snapshot()
	}
	return out
}
