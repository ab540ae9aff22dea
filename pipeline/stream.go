package pipeline

import (
	"context"
	"iter"
	"time"

	"github.com/aschepis/backscratcher/switchboard/llm"
	"github.com/zoobzio/capitan"
)

// Stream executes p like Run but stops as soon as a plug has started a
// stream. It returns the stream, or a *Failure carrying the request when no
// stream was started or a plug failed.
func (e *Engine) Stream(ctx context.Context, req *Request, p Pipeline) (*EventStream, error) {
	req = e.execute(ctx, req, p, true)

	if req.Streaming() {
		return &EventStream{
			ctx:     ctx,
			req:     req,
			src:     req.Stream(),
			started: e.clock.Now(),
			now:     e.clock.Now,
		}, nil
	}

	if handle := req.Stream(); handle != nil {
		if err := handle.Close(); err != nil {
			e.logger.Debug().Err(err).Str("request_id", req.ID).Msg("Failed to close abandoned stream")
		}
	}

	if req.State != StateError {
		req.record(ErrorRecord{
			Reason:    ReasonNoStreamStarted,
			Message:   ErrNoStreamStarted.Error(),
			Err:       ErrNoStreamStarted,
			Timestamp: e.clock.Now(),
		})
		e.logger.Warn().
			Str("request_id", req.ID).
			Str("provider", req.Provider).
			Msg("Pipeline finished without starting a stream")
	}
	return nil, &Failure{Request: req}
}

// EventStream passes events from the underlying stream through unchanged,
// counting them and emitting instrumentation. It can be consumed once.
type EventStream struct {
	ctx     context.Context
	req     *Request
	src     llm.Stream
	current *llm.StreamEvent
	err     error
	count   int
	done    bool
	closed  bool

	started time.Time
	now     func() time.Time
}

// Next advances to the next event. It returns false once the stream is
// exhausted, failed, closed, or the context is done.
func (s *EventStream) Next() bool {
	if s.done || s.closed {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		s.done = true
		return false
	}
	if !s.src.Next() {
		s.err = s.src.Err()
		s.done = true
		return false
	}

	s.current = s.src.Event()
	s.count++
	capitan.Info(s.ctx, StreamChunk, append(requestFields(s.req), ChunkIndexKey.Field(s.count))...)

	if s.current != nil && s.current.Done {
		capitan.Info(s.ctx, StreamCompleted, append(requestFields(s.req),
			ChunkCountKey.Field(s.count),
			DurationMsKey.Field(int(s.now().Sub(s.started).Milliseconds())),
		)...)
	}
	return true
}

// Event returns the current event.
func (s *EventStream) Event() *llm.StreamEvent {
	return s.current
}

// Err returns the error that ended the stream, if any.
func (s *EventStream) Err() error {
	return s.err
}

// Count returns the number of events delivered so far.
func (s *EventStream) Count() int {
	return s.count
}

// Request returns the request that produced the stream.
func (s *EventStream) Request() *Request {
	return s.req
}

// Close closes the underlying stream. It is safe to call more than once.
func (s *EventStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.src.Close()
}

// All returns an iterator over the remaining events. A terminal error is
// yielded as the last pair with a nil event. The stream is closed when the
// iteration ends.
func (s *EventStream) All() iter.Seq2[*llm.StreamEvent, error] {
	return func(yield func(*llm.StreamEvent, error) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.current, nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}
