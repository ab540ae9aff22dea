package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aschepis/backscratcher/switchboard/llm"
	"github.com/rs/zerolog"
)

// Client implements llm.Client for Anthropic's Messages API.
type Client struct {
	client *anthropic.Client
	logger zerolog.Logger
}

// NewClient creates a Client from a resolved configuration. SDK-level retries
// are disabled; retrying is owned by the resilience layer.
func NewClient(cfg llm.ClientConfig, logger zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	client := anthropic.NewClient(opts...)
	return &Client{
		client: &client,
		logger: logger.With().Str("provider", llm.ProviderAnthropic).Logger(),
	}, nil
}

// Factory adapts NewClient to llm.Factory.
func Factory(cfg llm.ClientConfig, logger zerolog.Logger) (llm.Client, error) {
	return NewClient(cfg, logger)
}

// Synchronous implements llm.Client.
func (c *Client) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	message, err := c.client.Messages.New(ctx, toParams(req))
	if err != nil {
		return nil, convertError(err)
	}

	resp := fromMessage(message)
	if u := resp.Usage; u.CacheCreationInputTokens > 0 || u.CacheReadInputTokens > 0 {
		c.logger.Debug().
			Int64("input_tokens", u.InputTokens).
			Int64("cache_creation_tokens", u.CacheCreationInputTokens).
			Int64("cache_read_tokens", u.CacheReadInputTokens).
			Msg("Prompt cache stats")
	}
	return resp, nil
}

// Stream implements llm.Client.
func (c *Client) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	stream := c.client.Messages.NewStreaming(ctx, toParams(req))
	if err := stream.Err(); err != nil {
		return nil, convertError(err)
	}
	return newStream(stream), nil
}

// convertError maps SDK errors onto llm.Error.
func convertError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		var retryAfter *time.Duration
		if apiErr.Response != nil {
			retryAfter = llm.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"), time.Now())
		}
		return llm.FromStatus(apiErr.StatusCode, retryAfter, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &llm.Error{Type: llm.ErrorTypeTimeout, Message: "anthropic request timed out", Retryable: true, ProviderErr: err}
		}
		return llm.NewNetworkError("anthropic network error", err)
	}

	return &llm.Error{Type: llm.ErrorTypeUnknown, Message: "anthropic request failed", ProviderErr: err}
}
