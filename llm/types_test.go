package llm

import (
	"encoding/json"
	"testing"
)

func TestNewTextMessage(t *testing.T) {
	msg := NewTextMessage(RoleUser, "Hello, world!")
	if msg.Role != RoleUser {
		t.Errorf("Expected role %v, got %v", RoleUser, msg.Role)
	}
	if len(msg.Content) != 1 {
		t.Fatalf("Expected 1 content block, got %d", len(msg.Content))
	}
	if msg.Text() != "Hello, world!" {
		t.Errorf("Expected text 'Hello, world!', got %q", msg.Text())
	}
}

func TestNewToolUseMessage(t *testing.T) {
	msg := NewToolUseMessage([]ToolUseBlock{
		{ID: "tool-1", Name: "lookup", Input: map[string]any{"q": "weather"}},
		{ID: "tool-2", Name: "lookup", Input: map[string]any{"q": "time"}},
	})
	if msg.Role != RoleAssistant {
		t.Errorf("Expected role %v, got %v", RoleAssistant, msg.Role)
	}
	if len(msg.Content) != 2 {
		t.Fatalf("Expected 2 content blocks, got %d", len(msg.Content))
	}
	// each block must point at its own tool use
	if msg.Content[0].ToolUse.ID != "tool-1" || msg.Content[1].ToolUse.ID != "tool-2" {
		t.Errorf("Unexpected tool ids %q, %q", msg.Content[0].ToolUse.ID, msg.Content[1].ToolUse.ID)
	}
}

func TestNewToolResultMessage(t *testing.T) {
	msg := NewToolResultMessage([]ToolResultBlock{{ID: "tool-1", Content: `{"ok":true}`}})
	if msg.Role != RoleUser {
		t.Errorf("Expected role %v, got %v", RoleUser, msg.Role)
	}
	if msg.Content[0].ToolResult == nil {
		t.Fatal("Expected ToolResult to be set")
	}
	if msg.Content[0].ToolResult.ID != "tool-1" {
		t.Errorf("Expected tool ID 'tool-1', got %q", msg.Content[0].ToolResult.ID)
	}
}

func TestRequestHasTools(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want bool
	}{
		{"plain", Request{Messages: []Message{NewTextMessage(RoleUser, "hi")}}, false},
		{"tool specs", Request{Tools: []ToolSpec{{Name: "calc"}}}, true},
		{"tool history", Request{Messages: []Message{NewToolResultMessage([]ToolResultBlock{{ID: "x"}})}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.HasTools(); got != tt.want {
				t.Errorf("HasTools() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResponseText(t *testing.T) {
	resp := &Response{Content: []ContentBlock{
		{Type: ContentBlockTypeText, Text: "Hello, "},
		{Type: ContentBlockTypeToolUse, ToolUse: &ToolUseBlock{ID: "t", Name: "n"}},
		{Type: ContentBlockTypeText, Text: "world"},
	}}
	if resp.Text() != "Hello, world" {
		t.Errorf("Expected 'Hello, world', got %q", resp.Text())
	}
	if len(resp.ToolUses()) != 1 {
		t.Errorf("Expected 1 tool use, got %d", len(resp.ToolUses()))
	}

	var nilResp *Response
	if nilResp.Text() != "" {
		t.Error("Expected empty text for nil response")
	}
}

func TestRequestJSONIsStable(t *testing.T) {
	temp := 0.2
	req := Request{
		Model:       "m",
		Messages:    []Message{NewTextMessage(RoleUser, "hi")},
		Temperature: &temp,
	}
	a, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	b, _ := json.Marshal(req)
	if string(a) != string(b) {
		t.Errorf("Expected identical encodings, got %s and %s", a, b)
	}
}
