package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aschepis/backscratcher/switchboard/llm"
	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, host string) *Client {
	t.Helper()
	client, err := NewClient(llm.ClientConfig{Host: host, Model: "llama3.2"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func ndjsonServer(t *testing.T, status int, lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(strings.Join(lines, "\n") + "\n"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func ping() *llm.Request {
	return &llm.Request{Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "ping")}}
}

func TestStreamTranslation(t *testing.T) {
	srv := ndjsonServer(t, http.StatusOK,
		`{"model":"llama3.2","message":{"role":"assistant","content":"po"},"done":false}`,
		`{"model":"llama3.2","message":{"role":"assistant","content":"ng"},"done":false}`,
		`{"model":"llama3.2","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":3,"eval_count":2}`,
	)

	s, err := newTestClient(t, srv.URL).Stream(context.Background(), ping())
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

	want := []llm.StreamEventType{
		llm.StreamEventTypeStart,
		llm.StreamEventTypeContentDelta,
		llm.StreamEventTypeContentDelta,
		llm.StreamEventTypeMessageDelta,
		llm.StreamEventTypeStop,
	}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Fatalf("Expected events %v, got %v", want, types)
	}
	if text != "pong" {
		t.Errorf("Expected pong, got %q", text)
	}
	if !last.Done || last.FinishReason != "stop" {
		t.Errorf("Unexpected final event %+v", last)
	}
	if last.Usage == nil || last.Usage.InputTokens != 3 || last.Usage.OutputTokens != 2 {
		t.Errorf("Unexpected usage %+v", last.Usage)
	}
}

func TestStreamOpenErrors(t *testing.T) {
	tests := []struct {
		name      string
		host      func(t *testing.T) string
		wantType  llm.ErrorType
		retryable bool
	}{
		{
			name:      "connection refused",
			host:      func(*testing.T) string { return "http://127.0.0.1:1" },
			wantType:  llm.ErrorTypeNetwork,
			retryable: true,
		},
		{
			name: "server error",
			host: func(t *testing.T) string {
				return ndjsonServer(t, http.StatusInternalServerError, `{"error":"model crashed"}`).URL
			},
			wantType:  llm.ErrorTypeProvider,
			retryable: true,
		},
		{
			name: "unknown model",
			host: func(t *testing.T) string {
				return ndjsonServer(t, http.StatusNotFound, `{"error":"model not found"}`).URL
			},
			wantType:  llm.ErrorTypeInvalidRequest,
			retryable: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := newTestClient(t, tt.host(t)).Stream(context.Background(), ping())
			if err == nil {
				s.Close()
				t.Fatal("Expected the failure to surface when the stream is opened")
			}
			var llmErr *llm.Error
			if !errors.As(err, &llmErr) {
				t.Fatalf("Expected *llm.Error, got %v", err)
			}
			if llmErr.Type != tt.wantType || llmErr.Retryable != tt.retryable {
				t.Errorf("Expected %s retryable=%v, got %s retryable=%v (%v)", tt.wantType, tt.retryable, llmErr.Type, llmErr.Retryable, err)
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
		{"status", api.StatusError{StatusCode: http.StatusServiceUnavailable, ErrorMessage: "busy"}, llm.ErrorTypeProvider, true},
		{"too many requests", api.StatusError{StatusCode: http.StatusTooManyRequests}, llm.ErrorTypeRateLimit, true},
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
	if err := convertError(context.Canceled); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled unchanged, got %v", err)
	}
}
