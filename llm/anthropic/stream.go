package anthropic

import (
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/aschepis/backscratcher/switchboard/llm"
)

// stream converts Anthropic server-sent events into llm stream events. It is
// pull-based: each Next reads SSE events until one translates into output.
type stream struct {
	sse     *ssestream.Stream[anthropic.MessageStreamEventUnion]
	pending []*llm.StreamEvent
	current *llm.StreamEvent
	err     error
	done    bool

	toolCall   *llm.ToolUseBlock
	toolInput  strings.Builder
	usage      *llm.Usage
	stopReason string
}

func newStream(sse *ssestream.Stream[anthropic.MessageStreamEventUnion]) *stream {
	return &stream{
		sse:     sse,
		pending: []*llm.StreamEvent{{Type: llm.StreamEventTypeStart}},
	}
}

// Next implements llm.Stream.
func (s *stream) Next() bool {
	for len(s.pending) == 0 {
		if s.done || s.err != nil {
			return false
		}
		if !s.sse.Next() {
			if err := s.sse.Err(); err != nil {
				s.err = convertError(err)
				return false
			}
			// ended without message_stop
			s.finish()
			continue
		}
		s.translate(s.sse.Current())
	}
	s.current, s.pending = s.pending[0], s.pending[1:]
	return true
}

func (s *stream) translate(event anthropic.MessageStreamEventUnion) {
	switch evt := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if block, ok := evt.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
			s.toolCall = &llm.ToolUseBlock{ID: block.ID, Name: block.Name, Input: map[string]any{}}
			s.toolInput.Reset()
			s.emit(&llm.StreamEvent{
				Type:  llm.StreamEventTypeContentBlock,
				Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeToolUse, ToolUse: s.toolCall},
			})
		}

	case anthropic.ContentBlockDeltaEvent:
		switch d := evt.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if d.Text != "" {
				s.emit(&llm.StreamEvent{
					Type:  llm.StreamEventTypeContentDelta,
					Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeText, Text: d.Text},
				})
			}
		case anthropic.InputJSONDelta:
			if s.toolCall != nil && d.PartialJSON != "" {
				s.toolInput.WriteString(d.PartialJSON)
				s.emit(&llm.StreamEvent{
					Type:  llm.StreamEventTypeContentDelta,
					Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeToolInput, ToolInput: d.PartialJSON},
				})
			}
		}

	case anthropic.ContentBlockStopEvent:
		s.closeToolCall()

	case anthropic.MessageDeltaEvent:
		s.usage = &llm.Usage{
			InputTokens:              evt.Usage.InputTokens,
			OutputTokens:             evt.Usage.OutputTokens,
			CacheCreationInputTokens: evt.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     evt.Usage.CacheReadInputTokens,
		}
		s.stopReason = string(evt.Delta.StopReason)
		s.emit(&llm.StreamEvent{Type: llm.StreamEventTypeMessageDelta, Usage: s.usage})

	case anthropic.MessageStopEvent:
		s.finish()
	}
}

func (s *stream) closeToolCall() {
	if s.toolCall == nil {
		return
	}
	s.toolCall.Input = decodeInput([]byte(s.toolInput.String()))
	s.toolInput.Reset()
	s.toolCall = nil
}

func (s *stream) finish() {
	s.closeToolCall()
	s.emit(&llm.StreamEvent{
		Type:         llm.StreamEventTypeStop,
		Usage:        s.usage,
		FinishReason: s.stopReason,
		Done:         true,
	})
	s.done = true
}

func (s *stream) emit(event *llm.StreamEvent) {
	s.pending = append(s.pending, event)
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
	s.pending = nil
	return s.sse.Close()
}
