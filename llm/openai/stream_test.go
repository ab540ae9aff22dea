package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aschepis/backscratcher/switchboard/llm"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

func chunks(lines ...string) string {
	var b strings.Builder
	for _, line := range lines {
		fmt.Fprintf(&b, "data: %s\n\n", line)
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func newTestClient(t *testing.T, status int, body string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if status == http.StatusOK {
			w.Header().Set("Content-Type", "text/event-stream")
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(llm.ClientConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1", Model: "gpt-test"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func ping() *llm.Request {
	return &llm.Request{Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "ping")}}
}

func TestStreamTranslation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantTypes  []llm.StreamEventType
		wantText   string
		wantFinish string
		wantUsage  bool
	}{
		{
			name: "text with usage",
			body: chunks(
				`{"id":"c1","choices":[{"index":0,"delta":{"role":"assistant","content":"po"}}]}`,
				`{"id":"c1","choices":[{"index":0,"delta":{"content":"ng"},"finish_reason":"stop"}]}`,
				`{"id":"c1","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
			),
			wantTypes: []llm.StreamEventType{
				llm.StreamEventTypeStart,
				llm.StreamEventTypeContentDelta,
				llm.StreamEventTypeContentDelta,
				llm.StreamEventTypeMessageDelta,
				llm.StreamEventTypeStop,
			},
			wantText:   "pong",
			wantFinish: stopReason(openai.FinishReasonStop),
			wantUsage:  true,
		},
		{
			name: "no usage chunk",
			body: chunks(`{"id":"c1","choices":[{"index":0,"delta":{"content":"hi"}}]}`),
			wantTypes: []llm.StreamEventType{
				llm.StreamEventTypeStart,
				llm.StreamEventTypeContentDelta,
				llm.StreamEventTypeStop,
			},
			wantText: "hi",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := newTestClient(t, http.StatusOK, tt.body).Stream(context.Background(), ping())
			if err != nil {
				t.Fatalf("Stream failed: %v", err)
			}
			defer s.Close()

			var types []llm.StreamEventType
			var text string
			var last *llm.StreamEvent
			for s.Next() {
				last = s.Event()
				types = append(types, last.Type)
				if last.Delta != nil {
					text += last.Delta.Text
				}
			}
			if err := s.Err(); err != nil {
				t.Fatalf("Stream failed: %v", err)
			}

			if fmt.Sprint(types) != fmt.Sprint(tt.wantTypes) {
				t.Fatalf("Expected events %v, got %v", tt.wantTypes, types)
			}
			if text != tt.wantText {
				t.Errorf("Expected text %q, got %q", tt.wantText, text)
			}
			if !last.Done || last.FinishReason != tt.wantFinish {
				t.Errorf("Unexpected final event %+v", last)
			}
			if (last.Usage != nil) != tt.wantUsage {
				t.Errorf("Expected usage=%v, got %+v", tt.wantUsage, last.Usage)
			}
		})
	}
}

func TestStreamToolCallArguments(t *testing.T) {
	body := chunks(
		`{"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"lookup","arguments":""}}]}}]}`,
		`{"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"q\":"}}]}}]}`,
		`{"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]},"finish_reason":"tool_calls"}]}`,
	)
	s, err := newTestClient(t, http.StatusOK, body).Stream(context.Background(), ping())
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer s.Close()

	var use *llm.ToolUseBlock
	for s.Next() {
		if e := s.Event(); e.Type == llm.StreamEventTypeContentBlock {
			use = e.Delta.ToolUse
		}
	}
	if err := s.Err(); err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if use == nil || use.ID != "call_1" || use.Name != "lookup" {
		t.Fatalf("Unexpected tool use %+v", use)
	}
	if use.Input["q"] != "go" {
		t.Errorf("Expected the streamed arguments to be decoded, got %v", use.Input)
	}
}

func TestStreamOpenErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantType  llm.ErrorType
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, llm.ErrorTypeRateLimit, true},
		{"unavailable", http.StatusServiceUnavailable, llm.ErrorTypeProvider, true},
		{"unauthorized", http.StatusUnauthorized, llm.ErrorTypeAuthentication, false},
		{"bad request", http.StatusBadRequest, llm.ErrorTypeInvalidRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"error":{"message":"nope","type":"server_error"}}`
			_, err := newTestClient(t, tt.status, body).Stream(context.Background(), ping())

			var llmErr *llm.Error
			if !errors.As(err, &llmErr) {
				t.Fatalf("Expected *llm.Error, got %v", err)
			}
			if llmErr.Type != tt.wantType || llmErr.Retryable != tt.retryable {
				t.Errorf("Expected %s retryable=%v, got %s retryable=%v", tt.wantType, tt.retryable, llmErr.Type, llmErr.Retryable)
			}
			if llmErr.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, llmErr.StatusCode)
			}
		})
	}
}

func TestConvertError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  llm.ErrorType
		retryable bool
	}{
		{"api error", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}, llm.ErrorTypeRateLimit, true},
		{"request error", &openai.RequestError{HTTPStatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")}, llm.ErrorTypeProvider, true},
		{"unclassified", errors.New("boom"), llm.ErrorTypeProvider, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var llmErr *llm.Error
			if !errors.As(convertError(tt.err), &llmErr) {
				t.Fatal("Expected *llm.Error")
			}
			if llmErr.Type != tt.wantType || llmErr.Retryable != tt.retryable {
				t.Errorf("Expected %s retryable=%v, got %s retryable=%v", tt.wantType, tt.retryable, llmErr.Type, llmErr.Retryable)
			}
		})
	}
}
