package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/aschepis/backscratcher/switchboard/cache"
	"github.com/aschepis/backscratcher/switchboard/llm"
	"github.com/aschepis/backscratcher/switchboard/pipeline"
	"github.com/aschepis/backscratcher/switchboard/resilience"
)

// Assign keys set by the dispatch plugs.
const (
	AssignClientConfig = "client_config"
	AssignClient       = "client"
)

// ErrInvalidRequest is the cause of validation failures.
var ErrInvalidRequest = errors.New("invalid request")

const summaryLength = 120

func (rt *Runtime) buildPipelines(provider string) error {
	validate := pipeline.With(&validatePlug{registry: rt.registry}, pipeline.Opts{
		optMaxTokens: rt.cfg.MaxTokens,
	})
	limit := pipeline.Use(pipeline.Func("ratelimit", rt.rateLimit))
	client := pipeline.Use(pipeline.Func("client", rt.resolveClient))

	chat, err := pipeline.New(validate, limit, client, pipeline.Use(pipeline.Func("chat", rt.callChat)))
	if err != nil {
		return fmt.Errorf("build %s chat pipeline: %w", provider, err)
	}
	stream, err := pipeline.New(validate, limit, client, pipeline.Use(pipeline.Func("stream", rt.callStream)))
	if err != nil {
		return fmt.Errorf("build %s stream pipeline: %w", provider, err)
	}

	rt.chat.Register(provider, chat)
	rt.streams.Register(provider, stream)
	return nil
}

const optMaxTokens = "max_tokens"

// validatePlug rejects unusable payloads and fills in the provider defaults.
type validatePlug struct {
	registry *llm.ProviderRegistry
}

func (p *validatePlug) Name() string { return "validate" }

func (p *validatePlug) Init(opts pipeline.Opts) (pipeline.Opts, error) {
	out := pipeline.Opts{optMaxTokens: int64(1024)}
	if v, ok := opts[optMaxTokens]; ok {
		n, ok := v.(int64)
		if !ok || n < 0 {
			return nil, fmt.Errorf("%s must be a non-negative int64, got %v", optMaxTokens, v)
		}
		if n > 0 {
			out[optMaxTokens] = n
		}
	}
	return out, nil
}

func (p *validatePlug) Call(_ context.Context, req *pipeline.Request, opts pipeline.Opts) (*pipeline.Request, error) {
	if len(req.Payload.Messages) == 0 {
		return req, fmt.Errorf("%w: no messages", ErrInvalidRequest)
	}
	if t := req.Payload.Temperature; t != nil && (*t < 0 || *t > 2) {
		return req, fmt.Errorf("%w: temperature %v out of range", ErrInvalidRequest, *t)
	}

	cfg, err := p.registry.Resolve(req.Provider, req.Payload.Model)
	if err != nil {
		return req, fmt.Errorf("resolve %s: %w", req.Provider, err)
	}
	cfg.Streaming = req.Options.Stream

	if req.Payload.Model == "" {
		req.Payload.Model = cfg.Model
	}
	if req.Payload.MaxTokens <= 0 {
		req.Payload.MaxTokens = opts[optMaxTokens].(int64)
	}
	return req.Assign(AssignClientConfig, cfg), nil
}

func (rt *Runtime) rateLimit(ctx context.Context, req *pipeline.Request) (*pipeline.Request, error) {
	limiter, ok := rt.limiters[req.Provider]
	if !ok {
		return req, nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return req, fmt.Errorf("rate limit: %w", err)
	}
	return req, nil
}

func (rt *Runtime) resolveClient(_ context.Context, req *pipeline.Request) (*pipeline.Request, error) {
	cfg, ok := req.Assigns[AssignClientConfig].(llm.ClientConfig)
	if !ok {
		return req, errors.New("client config not resolved")
	}
	factory, ok := rt.factories[req.Provider]
	if !ok {
		return req, fmt.Errorf("no client factory for provider %q", req.Provider)
	}

	client, err := rt.clients.GetOrCreate(req.Provider, cfg, func() (llm.Client, error) {
		return factory(cfg, rt.logger)
	})
	if err != nil {
		return req, err
	}
	return req.Assign(AssignClient, client), nil
}

func (rt *Runtime) guards(provider string) (*resilience.CircuitBreaker, resilience.RetryPolicy) {
	policy, ok := rt.policies[provider]
	if !ok {
		policy = resilience.PolicyFor(provider)
	}
	return rt.breakers.Get(provider, endpointFor(provider)), policy
}

func (rt *Runtime) callChat(ctx context.Context, req *pipeline.Request) (*pipeline.Request, error) {
	client, ok := req.Assigns[AssignClient].(llm.Client)
	if !ok {
		return req, errors.New("client not resolved")
	}
	breaker, policy := rt.guards(req.Provider)

	key, err := cache.Key(req.Provider, req.Payload, req.Options.Params, nil)
	if err != nil {
		return req, fmt.Errorf("cache key: %w", err)
	}
	req.Assign(pipeline.AssignCacheKey, key)

	payload := req.Payload
	resp, hit, err := cache.WithCache(ctx, rt.cache, key, callOptions(req),
		func(ctx context.Context) (*llm.Response, error) {
			return resilience.GuardValue(ctx, breaker, rt.retrier, policy, func(ctx context.Context) (*llm.Response, error) {
				return client.Synchronous(ctx, &payload)
			})
		},
		rt.writeOptions(req)...,
	)
	if err != nil {
		return req, err
	}
	req.Assign(pipeline.AssignCacheHit, hit)
	return req.Complete(resp), nil
}

func (rt *Runtime) callStream(ctx context.Context, req *pipeline.Request) (*pipeline.Request, error) {
	client, ok := req.Assigns[AssignClient].(llm.Client)
	if !ok {
		return req, errors.New("client not resolved")
	}
	breaker, policy := rt.guards(req.Provider)

	payload := req.Payload
	stream, err := resilience.GuardStream(ctx, breaker, rt.retrier, policy, func(ctx context.Context) (llm.Stream, error) {
		return client.Stream(ctx, &payload)
	})
	if err != nil {
		return req, err
	}
	return req.StartStream(stream), nil
}

func callOptions(req *pipeline.Request) cache.CallOptions {
	return cache.CallOptions{
		Stream:           req.Options.Stream,
		Tools:            req.Payload.HasTools(),
		StructuredOutput: req.Options.StructuredOutput,
		Cache:            req.Options.Cache,
		NoCache:          req.Options.NoCache,
	}
}

func (rt *Runtime) writeOptions(req *pipeline.Request) []cache.WriteOption {
	opts := []cache.WriteOption{cache.WithTTL(req.Options.CacheTTL)}
	if rt.writeBehind != nil {
		opts = append(opts, cache.WithWriteBehind(rt.writeBehind, cache.Metadata{
			Provider:       req.Provider,
			Endpoint:       endpointFor(req.Provider),
			RequestSummary: summarize(req.Payload),
			CapturedAt:     rt.clock.Now(),
		}))
	}
	return opts
}

// summarize returns the start of the last message's text.
func summarize(payload llm.Request) string {
	if len(payload.Messages) == 0 {
		return ""
	}
	text := []rune(payload.Messages[len(payload.Messages)-1].Text())
	if len(text) > summaryLength {
		return string(text[:summaryLength]) + "…"
	}
	return string(text)
}
