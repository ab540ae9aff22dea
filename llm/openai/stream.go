package openai

import (
	"errors"
	"io"
	"strings"

	"github.com/aschepis/backscratcher/switchboard/llm"
	openai "github.com/sashabaranov/go-openai"
)

// stream converts chat completion chunks into llm stream events.
type stream struct {
	recv    *openai.ChatCompletionStream
	pending []*llm.StreamEvent
	current *llm.StreamEvent
	err     error
	done    bool

	toolCall  *llm.ToolUseBlock
	toolInput strings.Builder
	usage     *llm.Usage
	finish    string
}

func newStream(recv *openai.ChatCompletionStream) *stream {
	return &stream{
		recv:    recv,
		pending: []*llm.StreamEvent{{Type: llm.StreamEventTypeStart}},
	}
}

// Next implements llm.Stream.
func (s *stream) Next() bool {
	for len(s.pending) == 0 {
		if s.done || s.err != nil {
			return false
		}
		chunk, err := s.recv.Recv()
		if errors.Is(err, io.EOF) {
			s.stop()
			continue
		}
		if err != nil {
			s.err = convertError(err)
			return false
		}
		s.translate(chunk)
	}
	s.current, s.pending = s.pending[0], s.pending[1:]
	return true
}

func (s *stream) translate(chunk openai.ChatCompletionStreamResponse) {
	if chunk.Usage != nil {
		s.usage = &llm.Usage{
			InputTokens:  int64(chunk.Usage.PromptTokens),
			OutputTokens: int64(chunk.Usage.CompletionTokens),
		}
	}
	if len(chunk.Choices) == 0 {
		return
	}

	choice := chunk.Choices[0]
	if choice.Delta.Content != "" {
		s.emit(&llm.StreamEvent{
			Type:  llm.StreamEventTypeContentDelta,
			Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeText, Text: choice.Delta.Content},
		})
	}

	for _, delta := range choice.Delta.ToolCalls {
		if delta.ID != "" && (s.toolCall == nil || s.toolCall.ID != delta.ID) {
			s.closeToolCall()
			s.toolCall = &llm.ToolUseBlock{ID: delta.ID, Name: delta.Function.Name, Input: map[string]any{}}
			s.emit(&llm.StreamEvent{
				Type:  llm.StreamEventTypeContentBlock,
				Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeToolUse, ToolUse: s.toolCall},
			})
		}
		if delta.Function.Arguments != "" && s.toolCall != nil {
			s.toolInput.WriteString(delta.Function.Arguments)
			s.emit(&llm.StreamEvent{
				Type:  llm.StreamEventTypeContentDelta,
				Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeToolInput, ToolInput: delta.Function.Arguments},
			})
		}
	}

	if choice.FinishReason != "" {
		s.closeToolCall()
		s.finish = stopReason(choice.FinishReason)
	}
}

func (s *stream) closeToolCall() {
	if s.toolCall == nil {
		return
	}
	s.toolCall.Input = decodeArguments(s.toolInput.String())
	s.toolInput.Reset()
	s.toolCall = nil
}

func (s *stream) stop() {
	s.closeToolCall()
	if s.usage != nil {
		s.emit(&llm.StreamEvent{Type: llm.StreamEventTypeMessageDelta, Usage: s.usage})
	}
	s.emit(&llm.StreamEvent{Type: llm.StreamEventTypeStop, Usage: s.usage, FinishReason: s.finish, Done: true})
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
	return s.recv.Close()
}
