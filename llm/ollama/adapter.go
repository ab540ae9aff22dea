package ollama

import (
	"fmt"

	"github.com/aschepis/backscratcher/switchboard/llm"
	"github.com/ollama/ollama/api"
	"github.com/samber/lo"
)

// ToOllamaMessages converts llm messages to Ollama chat messages. Tool results
// become tool-role messages.
func ToOllamaMessages(msgs []llm.Message) []api.Message {
	result := make([]api.Message, 0, len(msgs))
	for _, msg := range msgs {
		out := api.Message{Role: string(msg.Role)}
		for _, block := range msg.Content {
			switch block.Type {
			case llm.ContentBlockTypeText:
				out.Content += block.Text
			case llm.ContentBlockTypeToolUse:
				if block.ToolUse != nil {
					args := make(api.ToolCallFunctionArguments)
					for k, v := range block.ToolUse.Input {
						args[k] = v
					}
					out.ToolCalls = append(out.ToolCalls, api.ToolCall{
						Function: api.ToolCallFunction{Name: block.ToolUse.Name, Arguments: args},
					})
				}
			case llm.ContentBlockTypeToolResult:
				if block.ToolResult != nil {
					result = append(result, api.Message{Role: "tool", Content: block.ToolResult.Content})
				}
			}
		}
		if out.Content != "" || len(out.ToolCalls) > 0 {
			result = append(result, out)
		}
	}
	return result
}

// ToOllamaTools converts tool specs to Ollama tools. Only the property type is
// carried over; Ollama ignores the rest of the schema.
func ToOllamaTools(specs []llm.ToolSpec) []api.Tool {
	return lo.Map(specs, func(spec llm.ToolSpec, _ int) api.Tool {
		properties := make(map[string]api.ToolProperty, len(spec.Schema.Properties))
		for name, raw := range spec.Schema.Properties {
			prop := api.ToolProperty{Type: []string{"string"}}
			if schema, ok := raw.(map[string]any); ok {
				if t, ok := schema["type"].(string); ok {
					prop.Type = []string{t}
				}
				if d, ok := schema["description"].(string); ok {
					prop.Description = d
				}
			}
			properties[name] = prop
		}
		return api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       lo.CoalesceOrEmpty(spec.Schema.Type, "object"),
					Properties: properties,
					Required:   spec.Schema.Required,
				},
			},
		}
	})
}

// FromOllamaToolCall converts a tool call. Ollama assigns no call ids, so one
// is derived from the tool name and position.
func FromOllamaToolCall(call api.ToolCall, index int) *llm.ToolUseBlock {
	input := make(map[string]any, len(call.Function.Arguments))
	for k, v := range call.Function.Arguments {
		input[k] = v
	}
	return &llm.ToolUseBlock{
		ID:    fmt.Sprintf("tool_%s_%d", call.Function.Name, index),
		Name:  call.Function.Name,
		Input: input,
	}
}
