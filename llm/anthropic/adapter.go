package anthropic

import (
	"encoding/json"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/aschepis/backscratcher/switchboard/llm"
	"github.com/samber/lo"
)

// ToMessageParam converts an llm.Message to an Anthropic MessageParam.
func ToMessageParam(msg llm.Message) anthropic.MessageParam {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
	for _, block := range msg.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			blocks = append(blocks, anthropic.NewTextBlock(block.Text))
		case llm.ContentBlockTypeToolUse:
			if block.ToolUse != nil {
				blocks = append(blocks, anthropic.NewToolUseBlock(block.ToolUse.ID, block.ToolUse.Input, block.ToolUse.Name))
			}
		case llm.ContentBlockTypeToolResult:
			if block.ToolResult != nil {
				blocks = append(blocks, anthropic.NewToolResultBlock(block.ToolResult.ID, block.ToolResult.Content, block.ToolResult.IsError))
			}
		}
	}

	if msg.Role == llm.RoleAssistant {
		return anthropic.NewAssistantMessage(blocks...)
	}
	return anthropic.NewUserMessage(blocks...)
}

// ToMessageParams converts llm messages. System messages are dropped; the
// system prompt travels separately.
func ToMessageParams(msgs []llm.Message) []anthropic.MessageParam {
	return lo.FilterMap(msgs, func(msg llm.Message, _ int) (anthropic.MessageParam, bool) {
		if msg.Role == llm.RoleSystem {
			return anthropic.MessageParam{}, false
		}
		return ToMessageParam(msg), true
	})
}

// ToToolUnionParams converts tool specs to Anthropic tool params.
func ToToolUnionParams(specs []llm.ToolSpec) []anthropic.ToolUnionParam {
	return lo.Map(specs, func(spec llm.ToolSpec, _ int) anthropic.ToolUnionParam {
		return anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        spec.Name,
			Description: anthropic.String(spec.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: spec.Schema.Properties,
				Required:   spec.Schema.Required,
			},
		}}
	})
}

// toParams builds the SDK request for req.
func toParams(req *llm.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  ToMessageParams(req.Messages),
		Tools:     ToToolUnionParams(req.Tools),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params
}

// decodeInput turns a raw tool input into a map, tolerating malformed JSON.
func decodeInput(raw json.RawMessage) map[string]any {
	input := make(map[string]any)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &input); err != nil {
			return make(map[string]any)
		}
	}
	return input
}

func fromMessage(message *anthropic.Message) *llm.Response {
	content := make([]llm.ContentBlock, 0, len(message.Content))
	for _, union := range message.Content {
		switch block := union.AsAny().(type) {
		case anthropic.TextBlock:
			content = append(content, llm.ContentBlock{Type: llm.ContentBlockTypeText, Text: block.Text})
		case anthropic.ToolUseBlock:
			content = append(content, llm.ContentBlock{
				Type:    llm.ContentBlockTypeToolUse,
				ToolUse: &llm.ToolUseBlock{ID: block.ID, Name: block.Name, Input: decodeInput(block.Input)},
			})
		}
	}
	return &llm.Response{
		Model:   string(message.Model),
		Content: content,
		Usage: &llm.Usage{
			InputTokens:              message.Usage.InputTokens,
			OutputTokens:             message.Usage.OutputTokens,
			CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
		},
		StopReason: string(message.StopReason),
	}
}
