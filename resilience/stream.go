package resilience

import (
	"context"
	"sync"

	"github.com/aschepis/backscratcher/switchboard/llm"
)

// GuardStream opens a stream under the retry policy and breaker. Unlike
// Guard, the breaker slot stays taken until the stream ends: a failure while
// consuming counts against the breaker, and the Done element or a clean end
// counts as success. Closing the stream early releases the slot without an
// outcome. breaker may be nil.
func GuardStream(ctx context.Context, breaker *CircuitBreaker, r *Retrier, policy RetryPolicy, open func(ctx context.Context) (llm.Stream, error)) (llm.Stream, error) {
	if breaker == nil {
		return Do(ctx, r, policy, open)
	}
	if err := breaker.Allow(); err != nil {
		return nil, err
	}

	var src llm.Stream
	err := r.Do(ctx, policy, attemptUnlessOpen(breaker, func(ctx context.Context) error {
		s, err := open(ctx)
		if err != nil {
			return err
		}
		src = s
		return nil
	}))
	if err != nil {
		breaker.Record(err)
		return nil, err
	}
	return &guardedStream{Stream: src, breaker: breaker}, nil
}

type guardedStream struct {
	llm.Stream
	breaker *CircuitBreaker
	once    sync.Once
}

func (s *guardedStream) Next() bool {
	if !s.Stream.Next() {
		err := s.Stream.Err()
		s.once.Do(func() { s.breaker.Record(err) })
		return false
	}
	if event := s.Stream.Event(); event != nil && event.Done {
		s.once.Do(func() { s.breaker.Record(nil) })
	}
	return true
}

func (s *guardedStream) Close() error {
	s.once.Do(s.breaker.release)
	return s.Stream.Close()
}
