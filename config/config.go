package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// RetryConfig overrides the retry policy of one provider. Zero fields keep
// the provider's built-in policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
	BaseDelay   time.Duration `yaml:"base_delay,omitempty"`
	MaxDelay    time.Duration `yaml:"max_delay,omitempty"`
	Multiplier  float64       `yaml:"multiplier,omitempty"`
	NoJitter    bool          `yaml:"no_jitter,omitempty"` // jitter is on unless disabled
}

// BreakerConfig configures every circuit breaker in the runtime. A call
// counts once toward FailureThreshold however many retry attempts it made.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold,omitempty"`
	ResetTimeout     time.Duration `yaml:"reset_timeout,omitempty"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls,omitempty"`
}

// WriteBehindConfig sizes the asynchronous recorder pool.
type WriteBehindConfig struct {
	Workers   int `yaml:"workers,omitempty"`
	QueueSize int `yaml:"queue_size,omitempty"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Disabled      bool              `yaml:"disabled,omitempty"`       // caching is on by default
	TTL           time.Duration     `yaml:"ttl,omitempty"`            // default entry lifetime
	SweepSchedule string            `yaml:"sweep_schedule,omitempty"` // cron spec or duration, e.g. "@every 1m"
	RecorderPath  string            `yaml:"recorder_path,omitempty"`  // sqlite file; empty disables recording
	WriteBehind   WriteBehindConfig `yaml:"write_behind,omitempty"`
}

// RateLimitConfig throttles calls to one provider. A zero rate disables the limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"` // e.g. ":9090"; empty disables the endpoint
}

// Config is the runtime configuration.
type Config struct {
	// LLM provider configurations
	Anthropic ProviderConfig `yaml:"anthropic,omitempty"`
	Ollama    ProviderConfig `yaml:"ollama,omitempty"`
	OpenAI    ProviderConfig `yaml:"openai,omitempty"`

	LLMProviders []string `yaml:"llm_providers,omitempty"`
	MaxTokens    int64    `yaml:"max_tokens,omitempty"`

	Retry      map[string]RetryConfig     `yaml:"retry,omitempty"`
	Breaker    BreakerConfig              `yaml:"breaker,omitempty"`
	Cache      CacheConfig                `yaml:"cache,omitempty"`
	RateLimits map[string]RateLimitConfig `yaml:"rate_limits,omitempty"`
	Metrics    MetricsConfig              `yaml:"metrics,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		LLMProviders: []string{"anthropic"},
		Ollama: ProviderConfig{
			Host:    "http://localhost:11434",
			Timeout: 60 * time.Second,
		},
		MaxTokens: 1024,
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			HalfOpenMaxCalls: 1,
		},
		Cache: CacheConfig{
			TTL:           15 * time.Minute,
			SweepSchedule: "@every 1m",
			WriteBehind: WriteBehindConfig{
				Workers:   2,
				QueueSize: 256,
			},
		},
		Retry:      make(map[string]RetryConfig),
		RateLimits: make(map[string]RateLimitConfig),
	}
}

// GetConfigPath returns the default config file path.
// Can be overridden via SWITCHBOARD_CONFIG environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("SWITCHBOARD_CONFIG"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.switchboard/config.yaml"
	}
	return filepath.Join(homeDir, ".switchboard", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Load reads the config file at path and merges it over the defaults. A
// missing file is not an error. Environment variables win over both.
func Load(path string) (*Config, error) {
	cfg := Default()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		data, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}

		var userConfig Config
		if err := yaml.Unmarshal(data, &userConfig); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}

		if err := mergo.Merge(cfg, userConfig, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
	}

	if cfg.Retry == nil {
		cfg.Retry = make(map[string]RetryConfig)
	}
	if cfg.RateLimits == nil {
		cfg.RateLimits = make(map[string]RateLimitConfig)
	}
	cfg.Cache.RecorderPath = expandPath(cfg.Cache.RecorderPath)

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the runtime cannot use.
func (c *Config) Validate() error {
	for _, p := range c.LLMProviders {
		if c.provider(p) == nil {
			return fmt.Errorf("llm_providers: unknown provider %q", p)
		}
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}
	for name, limit := range c.RateLimits {
		if limit.RequestsPerSecond < 0 || limit.Burst < 0 {
			return fmt.Errorf("rate_limits.%s: values must not be negative", name)
		}
	}
	return nil
}

// Save writes cfg to path as YAML.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	// Ensure directory exists
	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// the file holds api keys
	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
