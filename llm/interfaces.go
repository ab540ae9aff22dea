package llm

import (
	"context"

	"github.com/rs/zerolog"
)

// Client provides a provider-neutral interface for making LLM API calls.
// Implementations handle provider-specific translation internally.
type Client interface {
	// Synchronous sends a request and returns a complete response.
	Synchronous(ctx context.Context, req *Request) (*Response, error)

	// Stream sends a request and returns a stream of events.
	Stream(ctx context.Context, req *Request) (Stream, error)
}

// Stream is a pull-based sequence of events from a streaming call.
type Stream interface {
	// Next advances to the next event. It returns false when the stream is
	// exhausted or failed.
	Next() bool

	// Event returns the current event. Only valid after Next returned true.
	Event() *StreamEvent

	// Err returns the error that ended the stream, if any.
	Err() error

	// Close releases the underlying connection.
	Close() error
}

// Factory constructs a client for a resolved configuration.
type Factory func(cfg ClientConfig, logger zerolog.Logger) (Client, error)

// ClientFunc adapts a pair of functions into a Client.
type ClientFunc struct {
	SynchronousFunc func(ctx context.Context, req *Request) (*Response, error)
	StreamFunc      func(ctx context.Context, req *Request) (Stream, error)
}

// Synchronous implements Client.
func (f ClientFunc) Synchronous(ctx context.Context, req *Request) (*Response, error) {
	if f.SynchronousFunc == nil {
		return nil, &Error{Type: ErrorTypeInvalidRequest, Message: "synchronous calls not supported"}
	}
	return f.SynchronousFunc(ctx, req)
}

// Stream implements Client.
func (f ClientFunc) Stream(ctx context.Context, req *Request) (Stream, error) {
	if f.StreamFunc == nil {
		return nil, &Error{Type: ErrorTypeInvalidRequest, Message: "streaming not supported"}
	}
	return f.StreamFunc(ctx, req)
}

// SliceStream is a Stream over a fixed list of events. It is useful for
// replaying recorded streams and in tests.
type SliceStream struct {
	events  []*StreamEvent
	current int
	err     error
	closed  bool
}

// NewSliceStream returns a stream yielding events in order, then err (which may be nil).
func NewSliceStream(events []*StreamEvent, err error) *SliceStream {
	return &SliceStream{events: events, current: -1, err: err}
}

// Next implements Stream.
func (s *SliceStream) Next() bool {
	if s.closed {
		return false
	}
	if s.current+1 >= len(s.events) {
		s.current = len(s.events)
		return false
	}
	s.current++
	return true
}

// Event implements Stream.
func (s *SliceStream) Event() *StreamEvent {
	if s.current < 0 || s.current >= len(s.events) {
		return nil
	}
	return s.events[s.current]
}

// Err implements Stream.
func (s *SliceStream) Err() error {
	if s.current >= len(s.events) {
		return s.err
	}
	return nil
}

// Close implements Stream.
func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SliceStream) Closed() bool {
	return s.closed
}
