package llm

import (
	"strings"
)

// MessageRole represents the role of a message in a conversation.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is a single provider-neutral conversation turn.
type Message struct {
	Role    MessageRole    `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one piece of a message: text, a tool use, or a tool result.
type ContentBlock struct {
	Type       ContentBlockType `json:"type"`
	Text       string           `json:"text,omitempty"`
	ToolUse    *ToolUseBlock    `json:"tool_use,omitempty"`
	ToolResult *ToolResultBlock `json:"tool_result,omitempty"`
}

// ContentBlockType represents the type of content block.
type ContentBlockType string

const (
	ContentBlockTypeText       ContentBlockType = "text"
	ContentBlockTypeToolUse    ContentBlockType = "tool_use"
	ContentBlockTypeToolResult ContentBlockType = "tool_result"
)

// ToolUseBlock is a tool invocation requested by the assistant.
type ToolUseBlock struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

// ToolResultBlock carries the result of a tool invocation back to the model.
type ToolResultBlock struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Schema      ToolSchema `json:"schema"`
}

// ToolSchema is the JSON schema of a tool's input.
type ToolSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
}

// Request is the provider-agnostic payload of a chat call.
type Request struct {
	Model       string     `json:"model,omitempty"`
	Messages    []Message  `json:"messages"`
	System      string     `json:"system,omitempty"`
	Tools       []ToolSpec `json:"tools,omitempty"`
	MaxTokens   int64      `json:"max_tokens,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
}

// Response is a complete, decoded model reply.
type Response struct {
	Model      string         `json:"model,omitempty"`
	Content    []ContentBlock `json:"content"`
	Usage      *Usage         `json:"usage,omitempty"`
	StopReason string         `json:"stop_reason,omitempty"`
}

// Clone returns a deep copy of r.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := *r
	if r.Usage != nil {
		usage := *r.Usage
		out.Usage = &usage
	}
	out.Content = cloneBlocks(r.Content)
	return &out
}

func cloneBlocks(blocks []ContentBlock) []ContentBlock {
	if blocks == nil {
		return nil
	}
	out := make([]ContentBlock, len(blocks))
	for i, block := range blocks {
		out[i] = block
		if block.ToolUse != nil {
			use := *block.ToolUse
			use.Input = cloneMap(use.Input)
			out[i].ToolUse = &use
		}
		if block.ToolResult != nil {
			result := *block.ToolResult
			out[i].ToolResult = &result
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the containers produced by decoding JSON tool input.
func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Text concatenates the text blocks of the response.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range r.Content {
		if block.Type == ContentBlockTypeText {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// ToolUses returns the tool invocations contained in the response.
func (r *Response) ToolUses() []ToolUseBlock {
	if r == nil {
		return nil
	}
	var uses []ToolUseBlock
	for _, block := range r.Content {
		if block.Type == ContentBlockTypeToolUse && block.ToolUse != nil {
			uses = append(uses, *block.ToolUse)
		}
	}
	return uses
}

// Usage reports token consumption.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
}

// StreamDelta is the incremental payload of a stream event.
type StreamDelta struct {
	Type      StreamDeltaType `json:"type"`
	Text      string          `json:"text,omitempty"`
	ToolUse   *ToolUseBlock   `json:"tool_use,omitempty"`
	ToolInput string          `json:"tool_input,omitempty"`
}

// StreamDeltaType represents the type of streaming delta.
type StreamDeltaType string

const (
	StreamDeltaTypeText      StreamDeltaType = "text"
	StreamDeltaTypeToolUse   StreamDeltaType = "tool_use"
	StreamDeltaTypeToolInput StreamDeltaType = "tool_input"
)

// StreamEvent is one element of a streaming response. Done marks the final
// element of the stream.
type StreamEvent struct {
	Type         StreamEventType `json:"type"`
	Delta        *StreamDelta    `json:"delta,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Done         bool            `json:"done,omitempty"`
}

// StreamEventType represents the type of streaming event.
type StreamEventType string

const (
	StreamEventTypeStart        StreamEventType = "start"
	StreamEventTypeContentBlock StreamEventType = "content_block"
	StreamEventTypeContentDelta StreamEventType = "content_delta"
	StreamEventTypeMessageDelta StreamEventType = "message_delta"
	StreamEventTypeStop         StreamEventType = "stop"
)

// NewTextMessage creates a message with a single text block.
func NewTextMessage(role MessageRole, text string) Message {
	return Message{
		Role:    role,
		Content: []ContentBlock{{Type: ContentBlockTypeText, Text: text}},
	}
}

// NewToolUseMessage creates an assistant message with tool use blocks.
func NewToolUseMessage(toolUses []ToolUseBlock) Message {
	content := make([]ContentBlock, len(toolUses))
	for i := range toolUses {
		content[i] = ContentBlock{Type: ContentBlockTypeToolUse, ToolUse: &toolUses[i]}
	}
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolResultMessage creates a user message with tool result blocks.
func NewToolResultMessage(toolResults []ToolResultBlock) Message {
	content := make([]ContentBlock, len(toolResults))
	for i := range toolResults {
		content[i] = ContentBlock{Type: ContentBlockTypeToolResult, ToolResult: &toolResults[i]}
	}
	return Message{Role: RoleUser, Content: content}
}

// HasTools reports whether the request offers tools to the model or carries
// tool traffic in its history.
func (r *Request) HasTools() bool {
	if len(r.Tools) > 0 {
		return true
	}
	for _, m := range r.Messages {
		for _, block := range m.Content {
			if block.Type != ContentBlockTypeText {
				return true
			}
		}
	}
	return false
}

// Text returns the concatenated text of a message.
func (m Message) Text() string {
	var b strings.Builder
	for _, block := range m.Content {
		if block.Type == ContentBlockTypeText {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}
