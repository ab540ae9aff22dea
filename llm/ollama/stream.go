package ollama

import (
	"context"

	"github.com/aschepis/backscratcher/switchboard/llm"
	"github.com/ollama/ollama/api"
)

// stream bridges Ollama's callback API to the pull-based llm.Stream. A
// goroutine runs Chat and feeds translated events through a channel.
type stream struct {
	events  chan *llm.StreamEvent
	errc    chan error
	cancel  context.CancelFunc
	pending *llm.StreamEvent
	current *llm.StreamEvent
	err     error
	done    bool
}

// startStream returns once the server has answered with a first chunk, so
// connection and status failures surface as an error here rather than from
// Err after the first Next.
func startStream(ctx context.Context, client *api.Client, req *api.ChatRequest) (*stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &stream{
		events: make(chan *llm.StreamEvent, 16),
		errc:   make(chan error, 1),
		cancel: cancel,
	}
	go s.run(ctx, client, req)

	select {
	case event, ok := <-s.events:
		if !ok {
			cancel()
			select {
			case err := <-s.errc:
				return nil, err
			default:
			}
			s.done = true
			return s, nil
		}
		s.pending = event
		return s, nil
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

func (s *stream) run(ctx context.Context, client *api.Client, req *api.ChatRequest) {
	defer close(s.events)

	send := func(event *llm.StreamEvent) error {
		select {
		case s.events <- event:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	started := false
	toolIndex := 0
	err := client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if !started {
			started = true
			if err := send(&llm.StreamEvent{Type: llm.StreamEventTypeStart}); err != nil {
				return err
			}
		}
		if resp.Message.Content != "" {
			if err := send(&llm.StreamEvent{
				Type:  llm.StreamEventTypeContentDelta,
				Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeText, Text: resp.Message.Content},
			}); err != nil {
				return err
			}
		}
		for _, call := range resp.Message.ToolCalls {
			if err := send(&llm.StreamEvent{
				Type:  llm.StreamEventTypeContentBlock,
				Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeToolUse, ToolUse: FromOllamaToolCall(call, toolIndex)},
			}); err != nil {
				return err
			}
			toolIndex++
		}
		if resp.Done {
			usage := &llm.Usage{InputTokens: int64(resp.PromptEvalCount), OutputTokens: int64(resp.EvalCount)}
			if err := send(&llm.StreamEvent{Type: llm.StreamEventTypeMessageDelta, Usage: usage}); err != nil {
				return err
			}
			return send(&llm.StreamEvent{Type: llm.StreamEventTypeStop, Usage: usage, FinishReason: resp.DoneReason, Done: true})
		}
		return nil
	})
	if err != nil {
		s.errc <- convertError(err)
	}
}

// Next implements llm.Stream.
func (s *stream) Next() bool {
	if s.done {
		return false
	}
	if s.pending != nil {
		s.current, s.pending = s.pending, nil
		return true
	}
	event, ok := <-s.events
	if !ok {
		s.done = true
		select {
		case s.err = <-s.errc:
		default:
		}
		return false
	}
	s.current = event
	return true
}

// Event implements llm.Stream.
func (s *stream) Event() *llm.StreamEvent {
	return s.current
}

// Err implements llm.Stream.
func (s *stream) Err() error {
	return s.err
}

// Close implements llm.Stream.
func (s *stream) Close() error {
	s.done = true
	s.cancel()
	return nil
}
