package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"

	"dario.cat/mergo"
	"github.com/aschepis/backscratcher/switchboard/llm"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMultiplier  = 2.0

	// jitterFraction bounds the random amount added to a delay.
	jitterFraction = 0.25
)

// RetryPolicy controls a single retried invocation.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
	Retryable   func(error) bool
}

// With returns p with every non-zero field of override applied. Because
// zero values are skipped, With cannot switch Jitter off.
func (p RetryPolicy) With(override RetryPolicy) RetryPolicy {
	merged := p
	if err := mergo.Merge(&merged, override, mergo.WithOverride); err != nil {
		return p
	}
	return merged
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier <= 0 {
		p.Multiplier = DefaultMultiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Retryable == nil {
		p.Retryable = DefaultRetryable
	}
	return p
}

// DefaultPolicy is used for providers without a dedicated policy.
func DefaultPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Multiplier:  DefaultMultiplier,
		Jitter:      true,
		Retryable:   DefaultRetryable,
	}
}

// PolicyFor returns the default policy for a provider.
func PolicyFor(provider string) RetryPolicy {
	p := DefaultPolicy()
	switch provider {
	case llm.ProviderAnthropic:
		p.MaxDelay = 60 * time.Second
		p.Retryable = AnthropicRetryable
	case llm.ProviderOpenAI:
		p.MaxDelay = 60 * time.Second
		p.Retryable = OpenAIRetryable
	case llm.ProviderOllama:
		p.MaxAttempts = 2
		p.BaseDelay = 500 * time.Millisecond
		p.MaxDelay = 10 * time.Second
		p.Retryable = OllamaRetryable
	}
	return p
}

// never retried, whatever the predicate says
func terminal(err error) bool {
	return err == nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrCircuitOpen)
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var llmErr *llm.Error
	return errors.As(err, &llmErr) && llmErr.Type == llm.ErrorTypeTimeout
}

func isNetwork(err error) bool {
	var llmErr *llm.Error
	if errors.As(err, &llmErr) && llmErr.Type == llm.ErrorTypeNetwork {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// DefaultRetryable retries errors classified as retryable by the provider
// client, and network timeouts.
func DefaultRetryable(err error) bool {
	if terminal(err) {
		return false
	}
	return llm.IsRetryableError(err) || isTimeout(err)
}

// AnthropicRetryable retries overloaded (529) and rate limited responses,
// server errors and network failures. Other 4xx responses are final.
func AnthropicRetryable(err error) bool {
	if terminal(err) {
		return false
	}
	if llm.IsOverloadedError(err) || llm.IsRateLimitError(err) {
		return true
	}
	switch status := llm.StatusCode(err); {
	case status == llm.StatusOverloaded, status >= http.StatusInternalServerError:
		return true
	case status >= http.StatusBadRequest:
		return status == http.StatusRequestTimeout
	}
	return isTimeout(err) || isNetwork(err)
}

// OpenAIRetryable retries 429, 5xx and timeouts.
func OpenAIRetryable(err error) bool {
	if terminal(err) {
		return false
	}
	if llm.IsRateLimitError(err) {
		return true
	}
	switch status := llm.StatusCode(err); {
	case status >= http.StatusInternalServerError:
		return true
	case status >= http.StatusBadRequest:
		return status == http.StatusRequestTimeout
	}
	return isTimeout(err)
}

// OllamaRetryable retries refused or reset connections to the local
// server, 5xx and timeouts.
func OllamaRetryable(err error) bool {
	if terminal(err) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	switch status := llm.StatusCode(err); {
	case status >= http.StatusInternalServerError:
		return true
	case status >= http.StatusBadRequest:
		return false
	}
	return isTimeout(err) || isNetwork(err)
}
