package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, overrides := range envOverrides {
		for _, o := range overrides {
			t.Setenv(o.env, "")
		}
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearProviderEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.LLMProviders) != 1 || cfg.LLMProviders[0] != "anthropic" {
		t.Errorf("Expected default providers [anthropic], got %v", cfg.LLMProviders)
	}
	if cfg.Cache.TTL != 15*time.Minute {
		t.Errorf("Expected default ttl 15m, got %v", cfg.Cache.TTL)
	}
	if cfg.Breaker.FailureThreshold != 5 || cfg.Breaker.ResetTimeout != 30*time.Second {
		t.Errorf("Unexpected breaker defaults: %+v", cfg.Breaker)
	}
	if cfg.Ollama.Host != "http://localhost:11434" {
		t.Errorf("Expected default ollama host, got %q", cfg.Ollama.Host)
	}
	if cfg.Retry == nil || cfg.RateLimits == nil {
		t.Error("Expected maps to be initialized")
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	clearProviderEnv(t)

	path := writeConfig(t, `
llm_providers: [openai, ollama]
openai:
  api_key: file-key
  model: gpt-4o-mini
ollama:
  model: llama3.2
cache:
  ttl: 5m
  write_behind:
    workers: 4
retry:
  openai:
    max_attempts: 5
    base_delay: 250ms
rate_limits:
  openai:
    requests_per_second: 2.5
    burst: 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.LLMProviders) != 2 || cfg.LLMProviders[0] != "openai" {
		t.Errorf("Expected providers from file, got %v", cfg.LLMProviders)
	}
	if cfg.OpenAI.APIKey != "file-key" || cfg.OpenAI.Model != "gpt-4o-mini" {
		t.Errorf("Unexpected openai config: %+v", cfg.OpenAI)
	}
	// partially specified sections keep their defaults
	if cfg.Ollama.Host != "http://localhost:11434" || cfg.Ollama.Model != "llama3.2" {
		t.Errorf("Unexpected ollama config: %+v", cfg.Ollama)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("Expected ttl 5m, got %v", cfg.Cache.TTL)
	}
	if cfg.Cache.SweepSchedule != "@every 1m" {
		t.Errorf("Expected default sweep schedule, got %q", cfg.Cache.SweepSchedule)
	}
	if cfg.Cache.WriteBehind.Workers != 4 || cfg.Cache.WriteBehind.QueueSize != 256 {
		t.Errorf("Unexpected write-behind config: %+v", cfg.Cache.WriteBehind)
	}
	if r := cfg.Retry["openai"]; r.MaxAttempts != 5 || r.BaseDelay != 250*time.Millisecond {
		t.Errorf("Unexpected retry override: %+v", r)
	}
	if l := cfg.RateLimits["openai"]; l.RequestsPerSecond != 2.5 || l.Burst != 3 {
		t.Errorf("Unexpected rate limit: %+v", l)
	}
}

func TestLoadEnvironmentWins(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("OLLAMA_HOST", "http://ollama:11434")

	path := writeConfig(t, "openai:\n  api_key: file-key\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.OpenAI.APIKey != "env-key" {
		t.Errorf("Expected env api key, got %q", cfg.OpenAI.APIKey)
	}
	if cfg.Ollama.Host != "http://ollama:11434" {
		t.Errorf("Expected env ollama host, got %q", cfg.Ollama.Host)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	clearProviderEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"unknown provider", "llm_providers: [bogus]\n"},
		{"negative rate", "rate_limits:\n  openai:\n    requests_per_second: -1\n"},
		{"bad yaml", "cache: [\n"},
		{"bad duration", "cache:\n  ttl: forever\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestGet(t *testing.T) {
	cfg := Default()
	cfg.Anthropic.APIKey = "k"
	cfg.OpenAI.Organization = "org"

	tests := []struct {
		provider, field, want string
	}{
		{"anthropic", "api_key", "k"},
		{"openai", "organization", "org"},
		{"ollama", "host", "http://localhost:11434"},
		{"ollama", "timeout", "1m0s"},
		{"anthropic", "timeout", ""},
		{"anthropic", "unknown", ""},
		{"bogus", "api_key", ""},
	}
	for _, tt := range tests {
		if got := cfg.Get(tt.provider, tt.field); got != tt.want {
			t.Errorf("Get(%q, %q) = %q, want %q", tt.provider, tt.field, got, tt.want)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearProviderEnv(t)

	cfg := Default()
	cfg.LLMProviders = []string{"ollama"}
	cfg.Ollama.Model = "mistral"
	cfg.Cache.Disabled = true
	cfg.Metrics.Addr = ":9090"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Ollama.Model != "mistral" || !loaded.Cache.Disabled || loaded.Metrics.Addr != ":9090" {
		t.Errorf("Round trip lost values: %+v", loaded)
	}
	if loaded.Ollama.Timeout != time.Minute {
		t.Errorf("Expected timeout to survive, got %v", loaded.Ollama.Timeout)
	}
}

func TestGetConfigPathEnvOverride(t *testing.T) {
	t.Setenv("SWITCHBOARD_CONFIG", "/etc/switchboard.yaml")
	if got := GetConfigPath(); got != "/etc/switchboard.yaml" {
		t.Errorf("Expected env path, got %q", got)
	}
}
