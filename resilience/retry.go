package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/aschepis/backscratcher/switchboard/llm"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Retrier executes functions under a RetryPolicy. It is stateless between
// calls and safe for concurrent use.
type Retrier struct {
	logger zerolog.Logger
	clock  clockz.Clock
	sleep  SleepFunc
	random func() float64
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithRetryClock sets the clock backoff sleeps wait on.
func WithRetryClock(clock clockz.Clock) RetrierOption {
	return func(r *Retrier) { r.clock = clock }
}

// WithSleep replaces the sleep between attempts.
func WithSleep(sleep SleepFunc) RetrierOption {
	return func(r *Retrier) { r.sleep = sleep }
}

// WithRandom sets the source of jitter, a function returning values in [0, 1).
func WithRandom(random func() float64) RetrierOption {
	return func(r *Retrier) { r.random = random }
}

// NewRetrier creates a Retrier.
func NewRetrier(logger zerolog.Logger, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		logger: logger.With().Str("component", "retrier").Logger(),
		clock:  clockz.RealClock,
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sleep == nil {
		r.sleep = r.clockSleep
	}
	return r
}

func (r *Retrier) clockSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.clock.After(d):
		return nil
	}
}

// schedule builds the un-jittered delay sequence for policy.
func schedule(policy RetryPolicy) *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(policy.BaseDelay),
		backoff.WithMultiplier(policy.Multiplier),
		backoff.WithMaxInterval(policy.MaxDelay),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
}

// nextDelay returns the wait before the next attempt. A retry-after hint
// carried by err replaces the computed delay.
func (r *Retrier) nextDelay(policy RetryPolicy, b *backoff.ExponentialBackOff, err error) time.Duration {
	delay := min(b.NextBackOff(), policy.MaxDelay)
	if policy.Jitter && delay > 0 {
		delay += time.Duration(r.random() * jitterFraction * float64(delay))
		delay = min(delay, policy.MaxDelay)
	}
	if hint := llm.ExtractRetryAfter(err); hint != nil && *hint > 0 {
		return *hint
	}
	return delay
}

// Do calls fn until it succeeds, the policy rejects the error, attempts run
// out or ctx ends. Context errors and ErrCircuitOpen are never retried,
// whatever the policy's predicate says. On failure the last error from fn
// is returned unchanged; if ctx ends during a backoff sleep the context
// error is returned.
func (r *Retrier) Do(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	policy = policy.normalized()
	b := schedule(policy)

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Debug().Int("attempt", attempt).Msg("Call succeeded after retry")
			}
			return nil
		}

		if attempt >= policy.MaxAttempts || terminal(err) || !policy.Retryable(err) {
			if attempt > 1 {
				capitan.Error(ctx, RetryExhausted, AttemptKey.Field(attempt), ErrorKey.Field(err.Error()))
				r.logger.Warn().Err(err).Int("attempts", attempt).Msg("Retries exhausted")
			}
			return err
		}

		delay := r.nextDelay(policy, b, err)
		capitan.Info(ctx, RetryScheduled,
			AttemptKey.Field(attempt),
			DelayMsKey.Field(int(delay.Milliseconds())),
			ErrorKey.Field(err.Error()),
		)
		r.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", policy.MaxAttempts).
			Dur("delay", delay).
			Msg("Call failed, retrying")

		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
}

// Do is Retrier.Do for functions that return a value.
func Do[T any](ctx context.Context, r *Retrier, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, policy, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
