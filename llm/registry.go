package llm

import (
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
)

// Configuration fields understood by the registry.
const (
	FieldAPIKey       = "api_key"
	FieldBaseURL      = "base_url"
	FieldHost         = "host"
	FieldModel        = "model"
	FieldOrganization = "organization"
	FieldTimeout      = "timeout"
)

const (
	defaultAnthropicModel = "claude-haiku-4-5"
	defaultOllamaHost     = "http://localhost:11434"
)

// ConfigSource resolves a single configuration value for a provider. An empty
// string means the value is not set.
type ConfigSource interface {
	Get(provider, field string) string
}

// MapSource is a ConfigSource backed by nested maps: provider -> field -> value.
type MapSource map[string]map[string]string

// Get implements ConfigSource.
func (m MapSource) Get(provider, field string) string {
	return m[provider][field]
}

// envVars maps provider fields onto the environment variables the providers'
// own tooling uses.
var envVars = map[string]map[string]string{
	ProviderAnthropic: {FieldAPIKey: "ANTHROPIC_API_KEY", FieldBaseURL: "ANTHROPIC_BASE_URL"},
	ProviderOpenAI: {
		FieldAPIKey:       "OPENAI_API_KEY",
		FieldBaseURL:      "OPENAI_BASE_URL",
		FieldOrganization: "OPENAI_ORG_ID",
		FieldModel:        "OPENAI_MODEL",
	},
	ProviderOllama: {FieldHost: "OLLAMA_HOST", FieldModel: "OLLAMA_MODEL"},
}

// EnvSource reads provider configuration from the environment.
type EnvSource struct{}

// Get implements ConfigSource.
func (EnvSource) Get(provider, field string) string {
	name, ok := envVars[provider][field]
	if !ok {
		return ""
	}
	return os.Getenv(name)
}

// ClientConfig is everything needed to construct a client for one provider.
type ClientConfig struct {
	Provider     string
	Name         string // display label only
	Model        string
	APIKey       string
	BaseURL      string
	Organization string
	Host         string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	BreakerLimit int
	BreakerReset time.Duration
	Streaming    bool
}

// HashFields returns the fields that affect the constructed client. Name is
// excluded; zero values are left for the hasher to drop.
func (c ClientConfig) HashFields() map[string]any {
	return map[string]any{
		"model":         c.Model,
		"api_key":       c.APIKey,
		"base_url":      c.BaseURL,
		"organization":  c.Organization,
		"host":          c.Host,
		"timeout":       c.Timeout,
		"max_retries":   c.MaxRetries,
		"retry_delay":   c.RetryDelay,
		"breaker_limit": c.BreakerLimit,
		"breaker_reset": c.BreakerReset,
		"streaming":     c.Streaming,
	}
}

// Preference is a single provider/model choice in a fallback list.
type Preference struct {
	Provider string
	Model    string
}

// ProviderRegistry manages provider selection and configuration resolution.
// Client construction and caching is handled by the caller.
type ProviderRegistry struct {
	mu      sync.RWMutex
	enabled map[string]bool
	source  ConfigSource
}

// NewProviderRegistry creates a registry over source. Values missing from
// source fall back to the environment.
func NewProviderRegistry(source ConfigSource, enabledProviders []string) *ProviderRegistry {
	if source == nil {
		source = MapSource{}
	}
	return &ProviderRegistry{
		enabled: lo.SliceToMap(enabledProviders, func(p string) (string, bool) { return p, true }),
		source:  source,
	}
}

// Get resolves provider.field from the config source, then the environment.
func (r *ProviderRegistry) Get(provider, field string) string {
	if v := r.source.Get(provider, field); v != "" {
		return v
	}
	return EnvSource{}.Get(provider, field)
}

// IsProviderEnabled checks if a provider is in the enabled providers list.
func (r *ProviderRegistry) IsProviderEnabled(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[provider]
}

// Enable adds a provider to the enabled set.
func (r *ProviderRegistry) Enable(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled[provider] = true
}

// EnabledProviders returns the enabled providers in sorted order.
func (r *ProviderRegistry) EnabledProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := lo.Keys(r.enabled)
	slices.Sort(providers)
	return providers
}

// IsProviderConfigured checks if a provider has the credentials it needs.
func (r *ProviderRegistry) IsProviderConfigured(provider string) bool {
	switch provider {
	case ProviderAnthropic, ProviderOpenAI:
		return r.Get(provider, FieldAPIKey) != ""
	case ProviderOllama:
		// no credentials; host has a default
		return true
	default:
		return false
	}
}

// Resolve builds the ClientConfig for provider. modelOverride wins over the
// configured default model.
func (r *ProviderRegistry) Resolve(provider, modelOverride string) (ClientConfig, error) {
	cfg := ClientConfig{
		Provider: provider,
		Model:    lo.CoalesceOrEmpty(modelOverride, r.Get(provider, FieldModel)),
		BaseURL:  r.Get(provider, FieldBaseURL),
	}
	if raw := r.Get(provider, FieldTimeout); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("%s: invalid timeout %q: %w", provider, raw, err)
		}
		cfg.Timeout = d
	}

	switch provider {
	case ProviderAnthropic:
		cfg.APIKey = r.Get(provider, FieldAPIKey)
		if cfg.APIKey == "" {
			return ClientConfig{}, fmt.Errorf("anthropic API key not configured")
		}
		cfg.Model = lo.CoalesceOrEmpty(cfg.Model, defaultAnthropicModel)

	case ProviderOllama:
		cfg.Host = lo.CoalesceOrEmpty(r.Get(provider, FieldHost), defaultOllamaHost)
		if cfg.Model == "" {
			return ClientConfig{}, fmt.Errorf("ollama model not specified and no default configured")
		}

	case ProviderOpenAI:
		cfg.APIKey = r.Get(provider, FieldAPIKey)
		if cfg.APIKey == "" {
			return ClientConfig{}, fmt.Errorf("openai API key not configured")
		}
		cfg.Organization = r.Get(provider, FieldOrganization)

	default:
		return ClientConfig{}, fmt.Errorf("unknown provider: %s", provider)
	}

	return cfg, nil
}

// Select returns the config of the first preference that is enabled and
// resolvable. With no preferences, the first enabled provider (sorted) is used
// with its default model.
func (r *ProviderRegistry) Select(prefs []Preference) (ClientConfig, error) {
	if len(prefs) == 0 {
		enabled := r.EnabledProviders()
		if len(enabled) == 0 {
			return ClientConfig{}, fmt.Errorf("no providers enabled")
		}
		return r.Resolve(enabled[0], "")
	}

	attempted := make([]string, 0, len(prefs))
	for _, pref := range prefs {
		attempted = append(attempted, pref.Provider)
		if !r.IsProviderEnabled(pref.Provider) || !r.IsProviderConfigured(pref.Provider) {
			continue
		}
		cfg, err := r.Resolve(pref.Provider, pref.Model)
		if err != nil {
			continue
		}
		return cfg, nil
	}
	return ClientConfig{}, fmt.Errorf("no available provider from preferences %v (enabled: %v)", attempted, r.EnabledProviders())
}
