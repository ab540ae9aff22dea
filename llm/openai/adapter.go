package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aschepis/backscratcher/switchboard/llm"
	openai "github.com/sashabaranov/go-openai"
	"github.com/samber/lo"
)

var roles = map[llm.MessageRole]string{
	llm.RoleUser:      openai.ChatMessageRoleUser,
	llm.RoleAssistant: openai.ChatMessageRoleAssistant,
	llm.RoleSystem:    openai.ChatMessageRoleSystem,
}

// ToOpenAIMessages converts llm messages to chat messages. Tool results become
// separate tool-role messages, as the chat completions API requires.
func ToOpenAIMessages(msgs []llm.Message) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		var text []string
		var calls []openai.ToolCall
		for _, block := range msg.Content {
			switch block.Type {
			case llm.ContentBlockTypeText:
				text = append(text, block.Text)
			case llm.ContentBlockTypeToolUse:
				if block.ToolUse == nil {
					continue
				}
				args, err := json.Marshal(block.ToolUse.Input)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal tool input: %w", err)
				}
				calls = append(calls, openai.ToolCall{
					ID:       block.ToolUse.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: block.ToolUse.Name, Arguments: string(args)},
				})
			case llm.ContentBlockTypeToolResult:
				if block.ToolResult != nil {
					result = append(result, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    block.ToolResult.Content,
						ToolCallID: block.ToolResult.ID,
					})
				}
			}
		}
		if len(text) == 0 && len(calls) == 0 {
			continue
		}
		result = append(result, openai.ChatCompletionMessage{
			Role:      lo.ValueOr(roles, msg.Role, openai.ChatMessageRoleUser),
			Content:   strings.Join(text, "\n"),
			ToolCalls: calls,
		})
	}
	return result, nil
}

// ToOpenAITools converts tool specs to function definitions.
func ToOpenAITools(specs []llm.ToolSpec) []openai.Tool {
	return lo.Map(specs, func(spec llm.ToolSpec, _ int) openai.Tool {
		parameters := map[string]any{
			"type":       lo.CoalesceOrEmpty(spec.Schema.Type, "object"),
			"properties": lo.CoalesceMapOrEmpty(spec.Schema.Properties),
		}
		if len(spec.Schema.Required) > 0 {
			parameters["required"] = spec.Schema.Required
		}
		return openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  parameters,
			},
		}
	})
}

// FromOpenAIToolCall converts a tool call into a ToolUseBlock.
func FromOpenAIToolCall(call openai.ToolCall) *llm.ToolUseBlock {
	return &llm.ToolUseBlock{
		ID:    call.ID,
		Name:  call.Function.Name,
		Input: decodeArguments(call.Function.Arguments),
	}
}

func decodeArguments(raw string) map[string]any {
	input := make(map[string]any)
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			return make(map[string]any)
		}
	}
	return input
}

func stopReason(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonLength:
		return "max_tokens"
	case openai.FinishReasonToolCalls:
		return "tool_calls"
	default:
		return "stop"
	}
}
