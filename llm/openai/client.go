package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/aschepis/backscratcher/switchboard/llm"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// Client implements llm.Client for OpenAI-compatible chat completion APIs.
type Client struct {
	client *openai.Client
	model  string // used when the request names none
	logger zerolog.Logger
}

// NewClient creates a Client from a resolved configuration.
func NewClient(cfg llm.ClientConfig, logger zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.Organization != "" {
		config.OrgID = cfg.Organization
	}
	if cfg.Timeout > 0 {
		config.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  cfg.Model,
		logger: logger.With().Str("provider", llm.ProviderOpenAI).Logger(),
	}, nil
}

// Factory adapts NewClient to llm.Factory.
func Factory(cfg llm.ClientConfig, logger zerolog.Logger) (llm.Client, error) {
	return NewClient(cfg, logger)
}

func (c *Client) buildRequest(req *llm.Request) (openai.ChatCompletionRequest, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	if model == "" {
		return openai.ChatCompletionRequest{}, fmt.Errorf("model is required")
	}

	msgs, err := ToOpenAIMessages(req.Messages)
	if err != nil {
		return openai.ChatCompletionRequest{}, fmt.Errorf("failed to convert messages: %w", err)
	}
	if req.System != "" {
		msgs = append([]openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: req.System}}, msgs...)
	}

	chatReq := openai.ChatCompletionRequest{Model: model, Messages: msgs}
	if len(req.Tools) > 0 {
		chatReq.Tools = ToOpenAITools(req.Tools)
		chatReq.ToolChoice = "auto"
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	return chatReq, nil
}

// Synchronous implements llm.Client.
func (c *Client) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	chatReq, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	chatResp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, convertError(err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, llm.NewProviderError("no choices in response", nil)
	}

	choice := chatResp.Choices[0]
	content := make([]llm.ContentBlock, 0, 1+len(choice.Message.ToolCalls))
	if choice.Message.Content != "" {
		content = append(content, llm.ContentBlock{Type: llm.ContentBlockTypeText, Text: choice.Message.Content})
	}
	for _, call := range choice.Message.ToolCalls {
		content = append(content, llm.ContentBlock{Type: llm.ContentBlockTypeToolUse, ToolUse: FromOpenAIToolCall(call)})
	}

	return &llm.Response{
		Model:   chatResp.Model,
		Content: content,
		Usage: &llm.Usage{
			InputTokens:  int64(chatResp.Usage.PromptTokens),
			OutputTokens: int64(chatResp.Usage.CompletionTokens),
		},
		StopReason: stopReason(choice.FinishReason),
	}, nil
}

// Stream implements llm.Client.
func (c *Client) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	chatReq, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}
	chatReq.Stream = true
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, convertError(err)
	}
	return newStream(stream), nil
}

// convertError maps go-openai errors onto llm.Error.
func convertError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		e := llm.FromStatus(apiErr.HTTPStatusCode, nil, err)
		e.Message = fmt.Sprintf("openai: %s", apiErr.Message)
		return e
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		e := llm.FromStatus(reqErr.HTTPStatusCode, nil, err)
		e.Message = "openai request failed"
		return e
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &llm.Error{Type: llm.ErrorTypeTimeout, Message: "openai request timed out", Retryable: true, ProviderErr: err}
		}
		return llm.NewNetworkError("openai network error", err)
	}
	return llm.NewProviderError("openai API error", err)
}
