package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/aschepis/backscratcher/switchboard/llm"
	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
)

// Client implements llm.Client against an Ollama server.
type Client struct {
	client *api.Client
	model  string // used when the request names none
	logger zerolog.Logger
}

// NewClient creates a Client from a resolved configuration.
func NewClient(cfg llm.ClientConfig, logger zerolog.Logger) (*Client, error) {
	var client *api.Client
	if cfg.Host != "" {
		baseURL, err := parseHost(cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("invalid host: %w", err)
		}
		client = api.NewClient(baseURL, &http.Client{Timeout: cfg.Timeout})
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
	}

	return &Client{
		client: client,
		model:  cfg.Model,
		logger: logger.With().Str("provider", llm.ProviderOllama).Logger(),
	}, nil
}

// Factory adapts NewClient to llm.Factory.
func Factory(cfg llm.ClientConfig, logger zerolog.Logger) (llm.Client, error) {
	return NewClient(cfg, logger)
}

func parseHost(host string) (*url.URL, error) {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

func (c *Client) buildRequest(req *llm.Request, stream bool) (*api.ChatRequest, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	msgs := ToOllamaMessages(req.Messages)
	if req.System != "" {
		msgs = append([]api.Message{{Role: "system", Content: req.System}}, msgs...)
	}

	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   &stream,
		Options:  make(map[string]any),
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = ToOllamaTools(req.Tools)
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Options["temperature"] = *req.Temperature
	}
	return chatReq, nil
}

// Synchronous implements llm.Client.
func (c *Client) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	chatReq, err := c.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	var chatResp api.ChatResponse
	err = c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		chatResp = resp
		return nil
	})
	if err != nil {
		return nil, convertError(err)
	}

	content := make([]llm.ContentBlock, 0, 1+len(chatResp.Message.ToolCalls))
	if chatResp.Message.Content != "" {
		content = append(content, llm.ContentBlock{Type: llm.ContentBlockTypeText, Text: chatResp.Message.Content})
	}
	for i, call := range chatResp.Message.ToolCalls {
		content = append(content, llm.ContentBlock{Type: llm.ContentBlockTypeToolUse, ToolUse: FromOllamaToolCall(call, i)})
	}

	return &llm.Response{
		Model:   chatResp.Model,
		Content: content,
		Usage: &llm.Usage{
			InputTokens:  int64(chatResp.PromptEvalCount),
			OutputTokens: int64(chatResp.EvalCount),
		},
		StopReason: chatResp.DoneReason,
	}, nil
}

// Stream implements llm.Client.
func (c *Client) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	chatReq, err := c.buildRequest(req, true)
	if err != nil {
		return nil, err
	}
	s, err := startStream(ctx, c.client, chatReq)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// convertError maps Ollama client errors onto llm.Error. Connection failures
// are common when the local server is restarting, so they are retryable.
func convertError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		e := llm.FromStatus(statusErr.StatusCode, nil, err)
		if statusErr.ErrorMessage != "" {
			e.Message = "ollama: " + statusErr.ErrorMessage
		}
		return e
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &llm.Error{Type: llm.ErrorTypeTimeout, Message: "ollama request timed out", Retryable: true, ProviderErr: err}
		}
		return llm.NewNetworkError("ollama network error", err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return llm.NewNetworkError("ollama connection failed", err)
	}
	return llm.NewProviderError("ollama chat request failed", err)
}
