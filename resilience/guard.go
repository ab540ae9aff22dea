package resilience

import (
	"context"

	"github.com/aschepis/backscratcher/switchboard/pipeline"
)

// Guard runs fn under the retry policy as one breaker call: the breaker is
// asked once up front and sees only the final outcome, so a call that
// exhausts its attempts adds one to the failure count. If another caller
// trips the breaker between attempts the loop ends with ErrCircuitOpen.
// breaker may be nil.
func Guard(ctx context.Context, breaker *CircuitBreaker, r *Retrier, policy RetryPolicy, fn func(ctx context.Context) error) error {
	if breaker == nil {
		return r.Do(ctx, policy, fn)
	}
	if err := breaker.Allow(); err != nil {
		return err
	}
	err := r.Do(ctx, policy, attemptUnlessOpen(breaker, fn))
	breaker.Record(err)
	return err
}

func attemptUnlessOpen(breaker *CircuitBreaker, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if breaker.State() == StateOpen {
			return ErrCircuitOpen
		}
		return fn(ctx)
	}
}

// GuardValue is Guard for functions that return a value.
func GuardValue[T any](ctx context.Context, breaker *CircuitBreaker, r *Retrier, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Guard(ctx, breaker, r, policy, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

type retryPlug struct {
	inner   pipeline.Plug
	retrier *Retrier
	policy  RetryPolicy
	breaker *CircuitBreaker
}

// RetryPlug wraps inner so that a returned error re-runs it under policy and
// breaker (which may be nil). inner must be safe to call more than once for
// the same request.
func RetryPlug(inner pipeline.Plug, r *Retrier, policy RetryPolicy, breaker *CircuitBreaker) pipeline.Plug {
	return &retryPlug{inner: inner, retrier: r, policy: policy, breaker: breaker}
}

func (p *retryPlug) Name() string {
	return "retry:" + p.inner.Name()
}

func (p *retryPlug) Init(opts pipeline.Opts) (pipeline.Opts, error) {
	return p.inner.Init(opts)
}

func (p *retryPlug) Call(ctx context.Context, req *pipeline.Request, opts pipeline.Opts) (*pipeline.Request, error) {
	out, err := GuardValue(ctx, p.breaker, p.retrier, p.policy, func(ctx context.Context) (*pipeline.Request, error) {
		return p.inner.Call(ctx, req, opts)
	})
	if err != nil {
		return req, err
	}
	return out, nil
}
