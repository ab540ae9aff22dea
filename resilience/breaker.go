package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// State is the state of a CircuitBreaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned without calling the protected function while
// the breaker is open, or while half-open with all trial slots taken.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	HalfOpenMaxCalls int
	// IsFailure decides which errors count against the breaker. By default
	// every error except context cancellation and ErrCircuitOpen does.
	IsFailure func(error) bool
}

// DefaultBreakerConfig returns the defaults: 5 failures, 30s reset, 1 trial call.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

func (c BreakerConfig) normalized() BreakerConfig {
	def := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = def.ResetTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrCircuitOpen)
		}
	}
	return c
}

// Snapshot is a point-in-time copy of a breaker's counters.
type Snapshot struct {
	Name                   string
	State                  State
	FailureCount           int
	LastFailureTime        time.Time
	SuccessCountInHalfOpen int
}

// CircuitBreaker is a three-state failure isolator for one provider/endpoint
// pair. All state changes happen under its mutex.
type CircuitBreaker struct {
	name  string
	cfg   BreakerConfig
	clock clockz.Clock

	mu                sync.Mutex
	state             State
	failures          int
	lastFailure       time.Time
	halfOpenInFlight  int
	halfOpenSuccesses int
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerClock sets the clock used for the reset timeout.
func WithBreakerClock(clock clockz.Clock) BreakerOption {
	return func(b *CircuitBreaker) { b.clock = clock }
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, cfg BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	b := &CircuitBreaker{
		name:  name,
		cfg:   cfg.normalized(),
		clock: clockz.RealClock,
		state: StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the breaker's provider/endpoint label.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// State returns the current state, moving open to half_open if the reset
// timeout has elapsed.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Snapshot returns a copy of the breaker's counters.
func (b *CircuitBreaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return Snapshot{
		Name:                   b.name,
		State:                  b.state,
		FailureCount:           b.failures,
		LastFailureTime:        b.lastFailure,
		SuccessCountInHalfOpen: b.halfOpenSuccesses,
	}
}

// Allow reserves permission for one call. Every nil return must be paired
// with a Record.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()
	switch b.state {
	case StateOpen:
		return b.reject()
	case StateHalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxCalls {
			return b.reject()
		}
		b.halfOpenInFlight++
	}
	return nil
}

// Record reports the outcome of a call admitted by Allow.
func (b *CircuitBreaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := b.cfg.IsFailure(err)
	switch b.state {
	case StateClosed:
		if !failed {
			if err == nil {
				b.failures = 0
			}
			return
		}
		b.failures++
		b.lastFailure = b.clock.Now()
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}

	case StateHalfOpen:
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		switch {
		case failed:
			b.failures++
			b.lastFailure = b.clock.Now()
			b.transition(StateOpen)
		case err == nil:
			b.halfOpenSuccesses++
			b.failures = 0
			b.transition(StateClosed)
		}

	case StateOpen:
		// a straggler admitted before the breaker opened
		if failed {
			b.lastFailure = b.clock.Now()
		}
	}
}

// release frees a slot taken by Allow without reporting an outcome.
func (b *CircuitBreaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}
}

// Execute runs fn if the breaker allows it and records the outcome.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.Record(err)
	return err
}

// Reset forces the breaker closed and clears its counters.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.halfOpenInFlight = 0
	b.transition(StateClosed)
}

// caller holds mu
func (b *CircuitBreaker) maybeHalfOpen() {
	if b.state == StateOpen && b.clock.Now().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
		b.transition(StateHalfOpen)
	}
}

// caller holds mu
func (b *CircuitBreaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateHalfOpen {
		b.halfOpenInFlight = 0
		b.halfOpenSuccesses = 0
	}
	capitan.Info(context.Background(), BreakerStateChanged,
		BreakerKey.Field(b.name),
		FromStateKey.Field(string(from)),
		ToStateKey.Field(string(to)),
		FailuresKey.Field(b.failures),
	)
}

// caller holds mu
func (b *CircuitBreaker) reject() error {
	capitan.Error(context.Background(), BreakerRejected,
		BreakerKey.Field(b.name),
		ToStateKey.Field(string(b.state)),
	)
	return ErrCircuitOpen
}
