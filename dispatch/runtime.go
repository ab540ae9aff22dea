package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/aschepis/backscratcher/switchboard/cache"
	"github.com/aschepis/backscratcher/switchboard/clientcache"
	"github.com/aschepis/backscratcher/switchboard/config"
	"github.com/aschepis/backscratcher/switchboard/llm"
	"github.com/aschepis/backscratcher/switchboard/llm/anthropic"
	"github.com/aschepis/backscratcher/switchboard/llm/ollama"
	"github.com/aschepis/backscratcher/switchboard/llm/openai"
	"github.com/aschepis/backscratcher/switchboard/pipeline"
	"github.com/aschepis/backscratcher/switchboard/recorder"
	"github.com/aschepis/backscratcher/switchboard/resilience"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/zoobzio/clockz"
	"golang.org/x/time/rate"
)

// ErrProviderDisabled is returned for providers missing from llm_providers.
var ErrProviderDisabled = errors.New("provider not enabled")

const shutdownTimeout = 5 * time.Second

// endpoints name the breaker of each provider's chat endpoint.
var endpoints = map[string]string{
	llm.ProviderAnthropic: "messages",
	llm.ProviderOpenAI:    "chat/completions",
	llm.ProviderOllama:    "api/chat",
}

func endpointFor(provider string) string {
	return lo.ValueOr(endpoints, provider, "chat")
}

type settings struct {
	factories   map[string]llm.Factory
	clock       clockz.Clock
	retrierOpts []resilience.RetrierOption
	store       cache.Store[*llm.Response]
}

// Option configures a Runtime.
type Option func(*settings)

// WithClientFactory replaces (or adds) the client factory of provider.
func WithClientFactory(provider string, factory llm.Factory) Option {
	return func(s *settings) { s.factories[provider] = factory }
}

// WithClock sets the clock shared by the engine, the cache and the breakers.
func WithClock(clock clockz.Clock) Option {
	return func(s *settings) { s.clock = clock }
}

// WithRetrierOptions passes options to the retrier.
func WithRetrierOptions(opts ...resilience.RetrierOption) Option {
	return func(s *settings) { s.retrierOpts = append(s.retrierOpts, opts...) }
}

// WithCacheStore sets the response cache backend.
func WithCacheStore(store cache.Store[*llm.Response]) Option {
	return func(s *settings) { s.store = store }
}

// Runtime executes chat requests through per-provider pipelines. It is safe
// for concurrent use.
type Runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
	clock  clockz.Clock

	registry  *llm.ProviderRegistry
	factories map[string]llm.Factory
	clients   *clientcache.Cache[llm.Client]
	engine    *pipeline.Engine

	cache       *cache.Cache[*llm.Response]
	recorder    *recorder.Recorder
	writeBehind *cache.WriteBehind
	janitor     *cache.Janitor

	retrier  *resilience.Retrier
	breakers *resilience.BreakerSet
	policies map[string]resilience.RetryPolicy
	limiters map[string]*rate.Limiter

	chat    *pipeline.Registry
	streams *pipeline.Registry

	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// New builds a runtime from cfg. A nil cfg means config.Default(). Close
// releases the background workers and the recorder.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	s := settings{
		factories: map[string]llm.Factory{
			llm.ProviderAnthropic: anthropic.Factory,
			llm.ProviderOpenAI:    openai.Factory,
			llm.ProviderOllama:    ollama.Factory,
		},
		clock: clockz.RealClock,
	}
	for _, opt := range opts {
		opt(&s)
	}

	rt := &Runtime{
		cfg:       cfg,
		logger:    logger.With().Str("component", "dispatch").Logger(),
		clock:     s.clock,
		registry:  llm.NewProviderRegistry(cfg, cfg.LLMProviders),
		factories: s.factories,
		clients:   clientcache.New[llm.Client](logger),
		engine:    pipeline.NewEngine(logger, pipeline.WithClock(s.clock)),
		retrier:   resilience.NewRetrier(logger, s.retrierOpts...),
		breakers: resilience.NewBreakerSet(resilience.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			ResetTimeout:     cfg.Breaker.ResetTimeout,
			HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
		}, logger, resilience.WithBreakerClock(s.clock)),
		policies: make(map[string]resilience.RetryPolicy),
		limiters: make(map[string]*rate.Limiter),
		chat:     pipeline.NewRegistry(),
		streams:  pipeline.NewRegistry(),
	}

	responses, err := cache.New(ctx, s.store,
		cache.WithName("responses"),
		cache.WithClock(s.clock),
		cache.WithLogger(logger),
		cache.WithDefaultTTL(cfg.Cache.TTL),
		cache.WithEnabledByDefault(!cfg.Cache.Disabled),
		cache.WithCopy((*llm.Response).Clone),
	)
	if err != nil {
		return nil, err
	}
	rt.cache = responses

	for provider, limit := range cfg.RateLimits {
		if limit.RequestsPerSecond <= 0 {
			continue
		}
		rt.limiters[provider] = rate.NewLimiter(rate.Limit(limit.RequestsPerSecond), max(limit.Burst, 1))
	}

	for provider := range rt.factories {
		rt.policies[provider] = policyFor(provider, cfg.Retry[provider])
		if err := rt.buildPipelines(provider); err != nil {
			return nil, err
		}
	}

	if err := rt.startBackground(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}

	rt.logger.Info().
		Strs("providers", rt.registry.EnabledProviders()).
		Bool("cache", !cfg.Cache.Disabled).
		Bool("recorder", rt.recorder != nil).
		Msg("Runtime ready")
	return rt, nil
}

func policyFor(provider string, override config.RetryConfig) resilience.RetryPolicy {
	p := resilience.PolicyFor(provider).With(resilience.RetryPolicy{
		MaxAttempts: override.MaxAttempts,
		BaseDelay:   override.BaseDelay,
		MaxDelay:    override.MaxDelay,
		Multiplier:  override.Multiplier,
	})
	if override.NoJitter {
		p.Jitter = false
	}
	return p
}

func (rt *Runtime) startBackground(ctx context.Context) error {
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rt.cancel = cancel

	if path := rt.cfg.Cache.RecorderPath; path != "" {
		rec, err := recorder.Open(ctx, path, rt.logger)
		if err != nil {
			return err
		}
		rt.recorder = rec
		rt.writeBehind = cache.NewWriteBehind(rec, rt.logger,
			cache.WithWorkers(rt.cfg.Cache.WriteBehind.Workers),
			cache.WithQueueSize(rt.cfg.Cache.WriteBehind.QueueSize),
		)
		if err := rt.writeBehind.Start(bg); err != nil {
			return fmt.Errorf("start write-behind: %w", err)
		}
	}

	janitor, err := cache.NewJanitor(rt.cache, rt.cfg.Cache.SweepSchedule, rt.logger)
	if err != nil {
		return fmt.Errorf("cache sweep schedule: %w", err)
	}
	rt.janitor = janitor
	rt.janitor.Start()
	return nil
}

// Chat runs provider's chat pipeline and returns the response together with
// the finished request. On failure the error is a *pipeline.Failure whose
// cause is the last recorded error.
func (rt *Runtime) Chat(ctx context.Context, provider string, payload llm.Request, opts pipeline.Options) (*llm.Response, *pipeline.Request, error) {
	p, err := rt.lookup(rt.chat, provider)
	if err != nil {
		return nil, nil, err
	}

	opts.Stream = false
	req := rt.engine.Run(ctx, pipeline.NewRequest(provider, payload, opts), p)
	if err := req.Err(); err != nil {
		return nil, req, err
	}
	if req.Result == nil {
		return nil, req, fmt.Errorf("%s pipeline completed without a result", provider)
	}
	return req.Result, req, nil
}

// StreamChat runs provider's streaming pipeline. The caller must Close the
// returned stream.
func (rt *Runtime) StreamChat(ctx context.Context, provider string, payload llm.Request, opts pipeline.Options) (*pipeline.EventStream, error) {
	p, err := rt.lookup(rt.streams, provider)
	if err != nil {
		return nil, err
	}

	opts.Stream = true
	return rt.engine.Stream(ctx, pipeline.NewRequest(provider, payload, opts), p)
}

func (rt *Runtime) lookup(table *pipeline.Registry, provider string) (pipeline.Pipeline, error) {
	if !rt.registry.IsProviderEnabled(provider) {
		return pipeline.Pipeline{}, fmt.Errorf("%w: %s", ErrProviderDisabled, provider)
	}
	return table.Lookup(provider)
}

// DefaultProvider returns the first enabled provider that can be resolved.
func (rt *Runtime) DefaultProvider() (string, error) {
	cfg, err := rt.registry.Select(nil)
	if err != nil {
		return "", err
	}
	return cfg.Provider, nil
}

// Providers returns the providers with a registered pipeline.
func (rt *Runtime) Providers() []string {
	providers := rt.chat.Providers()
	slices.Sort(providers)
	return providers
}

// CacheStats returns the response cache counters.
func (rt *Runtime) CacheStats() cache.Stats {
	return rt.cache.Stats()
}

// WriteBehindStats returns the recorder pool counters, or zero values when
// recording is off.
func (rt *Runtime) WriteBehindStats() cache.WriteBehindStats {
	if rt.writeBehind == nil {
		return cache.WriteBehindStats{}
	}
	return rt.writeBehind.Stats()
}

// Breakers returns a snapshot of every breaker created so far.
func (rt *Runtime) Breakers() []resilience.Snapshot {
	return rt.breakers.Snapshots()
}

// Recorder returns the durable recorder, or nil when recording is off.
func (rt *Runtime) Recorder() *recorder.Recorder {
	return rt.recorder
}

// Close stops the sweeper, drains the write-behind queue and closes the
// recorder. It is safe to call more than once.
func (rt *Runtime) Close() error {
	rt.closeOnce.Do(func() {
		var errs []error
		if rt.janitor != nil {
			select {
			case <-rt.janitor.Stop().Done():
			case <-time.After(shutdownTimeout):
				errs = append(errs, errors.New("cache sweeper did not stop in time"))
			}
		}
		if rt.writeBehind != nil {
			if err := rt.writeBehind.Stop(shutdownTimeout); err != nil {
				errs = append(errs, fmt.Errorf("stop write-behind: %w", err))
			}
		}
		if rt.cancel != nil {
			rt.cancel()
		}
		if rt.recorder != nil {
			if err := rt.recorder.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		rt.clients.Clear()
		rt.closeErr = errors.Join(errs...)
	})
	return rt.closeErr
}
