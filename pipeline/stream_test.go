package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/switchboard/llm"
	"github.com/rs/zerolog"
	"github.com/zoobzio/capitan"
)

func testEvents() []*llm.StreamEvent {
	return []*llm.StreamEvent{
		{Type: llm.StreamEventTypeStart},
		{Type: llm.StreamEventTypeContentDelta, Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeText, Text: "Hel"}},
		{Type: llm.StreamEventTypeContentDelta, Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeText, Text: "lo"}},
		{Type: llm.StreamEventTypeStop, Done: true},
	}
}

func streamer(src llm.Stream) Plug {
	return Func("streamer", func(_ context.Context, req *Request) (*Request, error) {
		return req.StartStream(src), nil
	})
}

func TestStreamShortCircuitsAfterStreamStarts(t *testing.T) {
	var calls []string
	src := llm.NewSliceStream(testEvents(), nil)
	p := MustNew(Use(recorder("before", &calls)), Use(streamer(src)), Use(recorder("after", &calls)))

	s, err := NewEngine(zerolog.Nop()).Stream(context.Background(), newTestRequest(), p)
	if err != nil {
		t.Fatalf("Expected stream, got %v", err)
	}
	defer s.Close()

	if len(calls) != 1 || calls[0] != "before" {
		t.Errorf("Expected only 'before' to run, got %v", calls)
	}
	if s.Request().State != StateStreaming {
		t.Errorf("Expected streaming state, got %s", s.Request().State)
	}
}

func TestStreamPassesEventsThrough(t *testing.T) {
	events := testEvents()
	s, err := NewEngine(zerolog.Nop()).Stream(context.Background(), newTestRequest(),
		MustNew(Use(streamer(llm.NewSliceStream(events, nil)))))
	if err != nil {
		t.Fatalf("Expected stream, got %v", err)
	}

	var got []*llm.StreamEvent
	for s.Next() {
		got = append(got, s.Event())
	}
	if s.Err() != nil {
		t.Fatalf("Unexpected stream error: %v", s.Err())
	}
	if len(got) != len(events) {
		t.Fatalf("Expected %d events, got %d", len(events), len(got))
	}
	for i := range events {
		if got[i] != events[i] {
			t.Errorf("Event %d was altered or reordered", i)
		}
	}
	if s.Count() != len(events) {
		t.Errorf("Expected count %d, got %d", len(events), s.Count())
	}
	// not restartable
	if s.Next() {
		t.Error("Expected exhausted stream to stay exhausted")
	}
}

func TestStreamNoStreamStarted(t *testing.T) {
	var calls []string
	p := MustNew(Use(recorder("a", &calls)), Use(recorder("b", &calls)))

	s, err := NewEngine(zerolog.Nop()).Stream(context.Background(), newTestRequest(), p)
	if s != nil {
		t.Fatal("Expected no stream")
	}
	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("Expected *Failure, got %T", err)
	}
	if !errors.Is(err, ErrNoStreamStarted) {
		t.Errorf("Expected ErrNoStreamStarted, got %v", err)
	}
	req := failure.Request
	if req.State != StateError || !req.Halted {
		t.Errorf("Expected error/halted, got state=%s halted=%v", req.State, req.Halted)
	}
	if last := req.LastError(); last == nil || last.Reason != ReasonNoStreamStarted {
		t.Errorf("Expected no_stream_started record, got %+v", last)
	}
	if len(calls) != 2 {
		t.Errorf("Expected every plug to run, got %v", calls)
	}
}

func TestStreamKeepsExistingError(t *testing.T) {
	cause := errors.New("bad credentials")
	failing := Func("auth", func(_ context.Context, req *Request) (*Request, error) { return req, cause })

	_, err := NewEngine(zerolog.Nop()).Stream(context.Background(), newTestRequest(), MustNew(Use(failing)))

	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("Expected *Failure, got %v", err)
	}
	if len(failure.Request.Errors) != 1 {
		t.Errorf("Expected only the plug error, got %d records", len(failure.Request.Errors))
	}
	if !errors.Is(err, cause) {
		t.Errorf("Expected cause to be preserved, got %v", err)
	}
}

func TestStreamClosesHandleOnFailure(t *testing.T) {
	src := llm.NewSliceStream(testEvents(), nil)
	half := Func("half", func(_ context.Context, req *Request) (*Request, error) {
		req.StartStream(src)
		return req, errors.New("lost the connection")
	})

	_, err := NewEngine(zerolog.Nop()).Stream(context.Background(), newTestRequest(), MustNew(Use(half)))

	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("Expected *Failure, got %v", err)
	}
	if !src.Closed() {
		t.Error("Expected the stored stream to be closed")
	}
}

func TestStreamStateWithoutHandleIsNotStarted(t *testing.T) {
	liar := Func("liar", func(_ context.Context, req *Request) (*Request, error) {
		req.State = StateStreaming
		return req, nil
	})

	_, err := NewEngine(zerolog.Nop()).Stream(context.Background(), newTestRequest(), MustNew(Use(liar)))
	if !errors.Is(err, ErrNoStreamStarted) {
		t.Errorf("Expected ErrNoStreamStarted, got %v", err)
	}
}

func TestStreamSurfacesSourceError(t *testing.T) {
	cause := errors.New("connection reset")
	src := llm.NewSliceStream(testEvents()[:2], cause)

	s, err := NewEngine(zerolog.Nop()).Stream(context.Background(), newTestRequest(), MustNew(Use(streamer(src))))
	if err != nil {
		t.Fatalf("Expected stream, got %v", err)
	}

	var n int
	var last error
	for ev, err := range s.All() {
		if err != nil {
			last = err
			break
		}
		if ev == nil {
			t.Fatal("Unexpected nil event")
		}
		n++
	}
	if n != 2 {
		t.Errorf("Expected 2 events, got %d", n)
	}
	if !errors.Is(last, cause) {
		t.Errorf("Expected source error, got %v", last)
	}
	if !src.Closed() {
		t.Error("Expected All to close the source stream")
	}
}

func TestStreamStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, err := NewEngine(zerolog.Nop()).Stream(ctx, newTestRequest(),
		MustNew(Use(streamer(llm.NewSliceStream(testEvents(), nil)))))
	if err != nil {
		t.Fatalf("Expected stream, got %v", err)
	}

	if !s.Next() {
		t.Fatal("Expected first event")
	}
	cancel()
	if s.Next() {
		t.Error("Expected Next to stop after cancellation")
	}
	if !errors.Is(s.Err(), context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", s.Err())
	}
}

func TestStreamEmitsCompletionWithCount(t *testing.T) {
	req := newTestRequest()
	counts := make(chan int, 1)
	listener := capitan.Hook(StreamCompleted, func(_ context.Context, e *capitan.Event) {
		id, _ := RequestIDKey.From(e)
		if id != req.ID {
			return
		}
		n, _ := ChunkCountKey.From(e)
		counts <- n
	})
	defer listener.Close()

	s, err := NewEngine(zerolog.Nop()).Stream(context.Background(), req,
		MustNew(Use(streamer(llm.NewSliceStream(testEvents(), nil)))))
	if err != nil {
		t.Fatalf("Expected stream, got %v", err)
	}
	for s.Next() {
	}

	select {
	case n := <-counts:
		if n != 4 {
			t.Errorf("Expected chunk count 4, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for stream completed signal")
	}
}
